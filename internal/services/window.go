package services

import (
	"time"

	"whatrack/internal/models"
)

// messageWindow is the reply window granted to a ticket on inbound activity.
const messageWindow = 24 * time.Hour

// TicketWindow decides the expiration window and origin for a new ticket.
// Leads first seen through a history import never get an inactivity window.
func TicketWindow(eventTime time.Time, wasHistoryLead bool) (*time.Time, models.TicketOrigin) {
	if wasHistoryLead {
		return nil, models.TicketOriginHistoryLead
	}
	expires := eventTime.Add(messageWindow)
	return &expires, models.TicketOriginNewContact
}

// RenewedWindow returns the window end for an open ticket touched by a new
// inbound message.
func RenewedWindow(eventTime time.Time) time.Time {
	return eventTime.Add(messageWindow)
}

// IsTicketExpired reports whether an open ticket has outlived the
// organization's expiration window at the given event time.
func IsTicketExpired(ticketCreatedAt, eventTime time.Time, expirationDays int) bool {
	if expirationDays <= 0 {
		return false
	}
	age := eventTime.Sub(ticketCreatedAt)
	return age > time.Duration(expirationDays)*24*time.Hour
}
