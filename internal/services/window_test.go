package services

import (
	"testing"
	"time"

	"whatrack/internal/models"
)

func TestTicketWindowNewContact(t *testing.T) {
	eventTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	expiresAt, origin := TicketWindow(eventTime, false)
	if expiresAt == nil {
		t.Fatal("expected a window for a new contact, got nil")
	}
	want := eventTime.Add(24 * time.Hour)
	if !expiresAt.Equal(want) {
		t.Errorf("window expires at %v, want %v", *expiresAt, want)
	}
	if origin != models.TicketOriginNewContact {
		t.Errorf("origin = %q, want %q", origin, models.TicketOriginNewContact)
	}
}

func TestTicketWindowHistoryLead(t *testing.T) {
	expiresAt, origin := TicketWindow(time.Now().UTC(), true)
	if expiresAt != nil {
		t.Errorf("history-derived lead got a window expiring at %v, want nil", *expiresAt)
	}
	if origin != models.TicketOriginHistoryLead {
		t.Errorf("origin = %q, want %q", origin, models.TicketOriginHistoryLead)
	}
}

func TestIsTicketExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name           string
		createdAt      time.Time
		expirationDays int
		want           bool
	}{
		{"fresh ticket", now.Add(-1 * time.Hour), 30, false},
		{"exactly at the boundary", now.Add(-30 * 24 * time.Hour), 30, false},
		{"one day past", now.Add(-31 * 24 * time.Hour), 30, true},
		{"custom short window", now.Add(-8 * 24 * time.Hour), 7, true},
		{"zero disables expiry", now.Add(-400 * 24 * time.Hour), 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTicketExpired(tc.createdAt, now, tc.expirationDays); got != tc.want {
				t.Errorf("IsTicketExpired = %v, want %v", got, tc.want)
			}
		})
	}
}
