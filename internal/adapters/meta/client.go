package meta

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// AdDetails is the subset of Graph API ad fields the enrichment worker needs.
type AdDetails struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Campaign struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"campaign"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Client is a thin Graph API client used to enrich ad attribution.
type Client struct {
	http  *resty.Client
	token string
}

// NewClient builds a client against the given Graph API base URL. An empty
// token yields a nil client; callers treat that as enrichment disabled.
func NewClient(baseURL, token string) *Client {
	if token == "" {
		return nil
	}
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)
	return &Client{http: http, token: token}
}

// GetAdDetails fetches the ad name and campaign name for an ad id.
func (c *Client) GetAdDetails(adID string) (*AdDetails, error) {
	var details AdDetails
	var apiErr apiError

	resp, err := c.http.R().
		SetQueryParam("fields", "id,name,campaign{id,name}").
		SetQueryParam("access_token", c.token).
		SetResult(&details).
		SetError(&apiErr).
		Get("/" + adID)
	if err != nil {
		return nil, fmt.Errorf("graph api request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("graph api returned %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}
	return &details, nil
}
