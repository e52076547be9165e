package services

import (
	"net/url"

	"whatrack/internal/webhook"
)

// Attribution is the set of tracking fields derivable from one inbound
// message's referral metadata.
type Attribution struct {
	UtmSource        string
	UtmMedium        string
	UtmCampaign      string
	UtmContent       string
	UtmTerm          string
	MetaAdID         string
	MetaAdSourceType string
	MetaAdPlacement  string
	Fbclid           string
	Gclid            string
	CtwaClid         string
}

// ExtractAttribution derives attribution fields from a referral. UTM
// parameters and click ids are read from the source URL's query string; ad
// identity comes from the referral itself. Returns nil when the message
// carries no referral.
func ExtractAttribution(ref *webhook.Referral) *Attribution {
	if ref == nil {
		return nil
	}

	attr := &Attribution{
		MetaAdID:         ref.SourceID,
		MetaAdSourceType: ref.SourceType,
		MetaAdPlacement:  ref.AdPlacement,
		CtwaClid:         ref.CtwaClid,
	}

	if ref.SourceURL != "" {
		if u, err := url.Parse(ref.SourceURL); err == nil {
			q := u.Query()
			attr.UtmSource = q.Get("utm_source")
			attr.UtmMedium = q.Get("utm_medium")
			attr.UtmCampaign = q.Get("utm_campaign")
			attr.UtmContent = q.Get("utm_content")
			attr.UtmTerm = q.Get("utm_term")
			attr.Fbclid = q.Get("fbclid")
			attr.Gclid = q.Get("gclid")
		}
	}

	return attr
}

// HasAdID reports whether the extracted attribution identifies an ad.
func (a *Attribution) HasAdID() bool {
	return a != nil && a.MetaAdID != ""
}
