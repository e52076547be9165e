package models

import (
	"time"

	"gorm.io/datatypes"
)

// Lead is a contact identity tracked per organization, keyed by the
// provider-assigned contact id (wa_id).
type Lead struct {
	ID             uint       `gorm:"primaryKey"`
	OrganizationID string     `gorm:"uniqueIndex:idx_leads_org_wa;comment:Organization owning this lead"`
	WaID           string     `gorm:"uniqueIndex:idx_leads_org_wa;comment:Provider-assigned contact id"`
	Phone          string     `gorm:"index;comment:Contact phone number"`
	Name           string     `gorm:"comment:Display name from the contact profile"`
	Source         LeadSource `gorm:"comment:Ingestion path that created the lead; set once, never updated"`
	IsActive       bool       `gorm:"default:true"`
	DeletedAt      *time.Time `gorm:"comment:Soft-delete timestamp set by directory delete events"`
	LastSyncedAt   *time.Time `gorm:"comment:Last directory sync touching this lead"`
	LastMessageAt  *time.Time `gorm:"comment:Timestamp of the most recent message"`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
}

// LeadUpdateFields is the set of columns a post-creation upsert may touch.
// Source is deliberately absent from this struct: it is written once when the
// lead is created and no handler may overwrite it afterwards.
type LeadUpdateFields struct {
	Phone         string
	Name          string
	LastSyncedAt  *time.Time
	LastMessageAt *time.Time
	Reactivate    bool // Clear soft-delete state if the lead was deactivated
}

// Conversation pairs a lead with a specific provider connection.
type Conversation struct {
	ID                     uint      `gorm:"primaryKey"`
	LeadID                 uint      `gorm:"uniqueIndex:idx_conversations_lead_conn"`
	ConnectionID           uint      `gorm:"uniqueIndex:idx_conversations_lead_conn"`
	ProviderConversationID string    `gorm:"index;comment:Conversation id assigned by the provider, if supplied"`
	MessageCount           int64     `gorm:"default:0"`
	CreatedAt              time.Time `gorm:"autoCreateTime"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime"`
}

// Ticket is the unit of work bound to a conversation. Application logic keeps
// at most one open ticket per conversation at any time.
type Ticket struct {
	ID              uint         `gorm:"primaryKey"`
	ConversationID  uint         `gorm:"index"`
	StageID         string       `gorm:"comment:Pipeline stage assigned at creation"`
	Status          TicketStatus `gorm:"index;default:open"`
	ClosedReason    *string
	WindowExpiresAt *time.Time `gorm:"comment:End of the inactivity window; null for history-derived leads"`
	WindowOpen      bool       `gorm:"default:true"`
	Source          TicketSource
	OriginatedFrom  TicketOrigin
	MessageCount    int64        `gorm:"default:0"`
	CreatedAt       time.Time    `gorm:"autoCreateTime"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime"`
}

// Message is an immutable event record keyed by the provider message id
// (wamid), which doubles as the idempotency key for webhook redelivery.
type Message struct {
	ID             uint             `gorm:"primaryKey"`
	Wamid          string           `gorm:"uniqueIndex;comment:Provider message id; global idempotency key"`
	LeadID         uint             `gorm:"index"`
	ConversationID uint             `gorm:"index"`
	TicketID       *uint            `gorm:"index;comment:Null for history-imported messages"`
	Direction      MessageDirection
	Type           string
	Body           string `gorm:"type:text"`
	Status         string
	Timestamp      time.Time
	Source         MessageSource
	RawPayload     datatypes.JSON `gorm:"comment:Raw provider payload for the message"`
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime"`
}

// TicketTracking holds last-touch attribution fields for a ticket.
type TicketTracking struct {
	ID               uint   `gorm:"primaryKey"`
	TicketID         uint   `gorm:"uniqueIndex"`
	UtmSource        string
	UtmMedium        string
	UtmCampaign      string
	UtmContent       string
	UtmTerm          string
	MetaAdID         string `gorm:"index"`
	MetaAdSourceType string
	MetaAdPlacement  string
	MetaAdName       string `gorm:"comment:Filled by the enrichment worker"`
	MetaCampaignName string `gorm:"comment:Filled by the enrichment worker"`
	Fbclid           string
	Gclid            string
	CtwaClid         string
	EnrichmentStatus EnrichmentStatus `gorm:"default:PENDING"`
	EnrichmentError  *string
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// MetaAttributionHistory records each ad-id transition on a tracking row so
// last-touch overwrites never lose the older attribution.
type MetaAttributionHistory struct {
	ID               uint      `gorm:"primaryKey"`
	TicketTrackingID uint      `gorm:"index"`
	OldAdID          string
	NewAdID          string
	CreatedAt        time.Time `gorm:"autoCreateTime"`
}

// MetaConnection represents a provider-side account link per organization.
// It also carries the rollup state of the bulk history import.
type MetaConnection struct {
	ID                     uint              `gorm:"primaryKey"`
	OrganizationID         string            `gorm:"uniqueIndex:idx_connections_org_waba"`
	WabaID                 string            `gorm:"uniqueIndex:idx_connections_org_waba;comment:Provider business account id"`
	PhoneNumberID          string            `gorm:"uniqueIndex;comment:Provider phone number id used to route webhooks"`
	OwnerBusinessID        string            `gorm:"index;comment:Owner business id, the only identity signal in coexistence mode"`
	Status                 ConnectionStatus  `gorm:"default:active"`
	DefaultStageID         string            `gorm:"comment:Stage assigned to new tickets; empty falls back to the configured default"`
	TicketExpirationDays   int               `gorm:"default:0;comment:Per-connection expiry override; 0 uses the configured default"`
	ConnectedAt            time.Time
	DisconnectedAt         *time.Time
	LastWebhookAt          *time.Time
	HistorySyncStatus      HistorySyncStatus `gorm:"default:pending_consent"`
	HistorySyncProgress    int               `gorm:"default:0"`
	HistorySyncPhase       string
	HistorySyncChunkOrder  int
	HistorySyncStartedAt   *time.Time
	HistorySyncCompletedAt *time.Time
	CreatedAt              time.Time `gorm:"autoCreateTime"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime"`
}

// Onboarding holds a short-lived tracking code correlating an onboarding flow
// initiation with its asynchronous completion webhook.
type Onboarding struct {
	ID             uint   `gorm:"primaryKey"`
	TrackingCode   string `gorm:"uniqueIndex"`
	OrganizationID string `gorm:"index"`
	WabaID         string
	PhoneNumberID  string
	ExpiresAt      time.Time
	Status         OnboardingStatus `gorm:"default:pending"`
	CompletedAt    *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// HistorySyncLog records cumulative import progress, one row per
// (connection, phase, chunk).
type HistorySyncLog struct {
	ID           uint   `gorm:"primaryKey"`
	ConnectionID uint   `gorm:"uniqueIndex:idx_history_sync_chunk"`
	Phase        string `gorm:"uniqueIndex:idx_history_sync_chunk"`
	ChunkOrder   int    `gorm:"uniqueIndex:idx_history_sync_chunk"`
	Progress     int
	ThreadCount  int
	MessageCount int
	Status       HistorySyncLogStatus `gorm:"default:processing"`
	CompletedAt  *time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// AuditLog records structured connection lifecycle events.
type AuditLog struct {
	ID             uint        `gorm:"primaryKey"`
	OrganizationID string      `gorm:"index"`
	Action         AuditAction `gorm:"index"`
	EntityType     string
	EntityID       uint
	Detail         datatypes.JSON
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// WebhookLog persists every webhook delivery for replay and debugging.
type WebhookLog struct {
	ID           uint   `gorm:"primaryKey"`
	EventType    string `gorm:"index"`
	RawBody      datatypes.JSON
	Processed    bool `gorm:"default:false"`
	ProcessError string
	ReceivedAt   time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// All returns every model for migration.
func All() []interface{} {
	return []interface{}{
		&Lead{},
		&Conversation{},
		&Ticket{},
		&Message{},
		&TicketTracking{},
		&MetaAttributionHistory{},
		&MetaConnection{},
		&Onboarding{},
		&HistorySyncLog{},
		&AuditLog{},
		&WebhookLog{},
	}
}
