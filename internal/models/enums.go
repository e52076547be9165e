package models

// LeadSource records which ingestion path first created a lead.
// It is set exactly once at creation and never overwritten afterwards.
type LeadSource string

const (
	LeadSourceLiveMessage     LeadSource = "live_message"
	LeadSourceOutboundMessage LeadSource = "outbound_message"
	LeadSourceHistorySync     LeadSource = "history_sync"
	LeadSourceStateSync       LeadSource = "state_sync"
)

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
)

// TicketClosedReasonExpired marks tickets closed by the expiry check.
const TicketClosedReasonExpired = "expired_attribution"

// TicketSource records what kind of event created a ticket.
type TicketSource string

const (
	TicketSourceIncomingMessage TicketSource = "incoming_message"
)

// TicketOrigin distinguishes tickets opened for brand-new contacts from
// tickets opened for leads that were first seen through a history import.
type TicketOrigin string

const (
	TicketOriginNewContact  TicketOrigin = "new_contact"
	TicketOriginHistoryLead TicketOrigin = "history_lead"
)

// MessageDirection indicates whether the business received or sent the message.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "INBOUND"
	DirectionOutbound MessageDirection = "OUTBOUND"
)

// MessageSource distinguishes live webhook messages from history imports.
type MessageSource string

const (
	MessageSourceLive    MessageSource = "live"
	MessageSourceHistory MessageSource = "history"
)

// EnrichmentStatus is the state of the attribution enrichment side channel.
type EnrichmentStatus string

const (
	EnrichmentPending   EnrichmentStatus = "PENDING"
	EnrichmentCompleted EnrichmentStatus = "COMPLETED"
	EnrichmentFailed    EnrichmentStatus = "FAILED"
)

// ConnectionStatus is the lifecycle state of a provider account connection.
type ConnectionStatus string

const (
	ConnectionActive   ConnectionStatus = "active"
	ConnectionInactive ConnectionStatus = "inactive"
)

// OnboardingStatus tracks the short-lived onboarding session.
type OnboardingStatus string

const (
	OnboardingPending   OnboardingStatus = "pending"
	OnboardingCompleted OnboardingStatus = "completed"
	OnboardingExpired   OnboardingStatus = "expired"
)

// HistorySyncStatus is the rollup state of the bulk history import for a connection.
type HistorySyncStatus string

const (
	HistorySyncPendingConsent HistorySyncStatus = "pending_consent"
	HistorySyncPendingHistory HistorySyncStatus = "pending_history"
	HistorySyncSyncing        HistorySyncStatus = "syncing"
	HistorySyncCompleted      HistorySyncStatus = "completed"
)

// HistorySyncLogStatus is the state of a single imported chunk.
type HistorySyncLogStatus string

const (
	HistoryChunkProcessing HistorySyncLogStatus = "processing"
	HistoryChunkCompleted  HistorySyncLogStatus = "completed"
)

// AuditAction names the connection lifecycle events written to the audit log.
type AuditAction string

const (
	AuditConnectionAdded      AuditAction = "connection_added"
	AuditConnectionRemoved    AuditAction = "connection_removed"
	AuditConnectionReinstated AuditAction = "connection_reinstated"
)
