package webhook

import (
	"strconv"
	"time"
)

// Payload is the top-level shape of a Meta Cloud API webhook delivery.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one business-account entry inside a delivery.
type Entry struct {
	ID      string   `json:"id"` // WABA id
	Changes []Change `json:"changes"`
}

// Change wraps the field discriminator and its value.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the union of fields the supported change types use.
type Value struct {
	// account_update
	Event    string    `json:"event,omitempty"`
	WabaInfo *WabaInfo `json:"waba_info,omitempty"`

	// messages / statuses
	MessagingProduct string    `json:"messaging_product,omitempty"`
	Metadata         *Metadata `json:"metadata,omitempty"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	MessageEchoes    []Message `json:"message_echoes,omitempty"`
	ConversationID   string    `json:"conversation_id,omitempty"`

	// history
	History []HistoryChunk `json:"history,omitempty"`

	// smb_app_state_sync
	StateSync []StateSyncItem `json:"state_sync,omitempty"`
}

// WabaInfo identifies the account on account_update events.
type WabaInfo struct {
	WabaID          string `json:"waba_id"`
	OwnerBusinessID string `json:"owner_business_id,omitempty"`
	PhoneNumberID   string `json:"phone_number_id,omitempty"`
	TrackingCode    string `json:"tracking_code,omitempty"`
}

// Metadata identifies the receiving phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number,omitempty"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender profile attached to message events.
type Contact struct {
	WaID    string  `json:"wa_id"`
	Profile Profile `json:"profile"`
}

// Profile carries the contact display name.
type Profile struct {
	Name string `json:"name"`
}

// Message is a single live or historical message entry.
type Message struct {
	ID        string    `json:"id"` // wamid
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"` // set on echoes
	Timestamp string    `json:"timestamp"`    // unix seconds
	Type      string    `json:"type"`
	Text      *Text     `json:"text,omitempty"`
	Referral  *Referral `json:"referral,omitempty"`
}

// Text is the body of a text message.
type Text struct {
	Body string `json:"body"`
}

// Referral carries the ad-click metadata attached to click-to-WhatsApp messages.
type Referral struct {
	SourceURL    string `json:"source_url,omitempty"`
	SourceID     string `json:"source_id,omitempty"` // ad id
	SourceType   string `json:"source_type,omitempty"`
	Headline     string `json:"headline,omitempty"`
	Body         string `json:"body,omitempty"`
	MediaType    string `json:"media_type,omitempty"`
	CtwaClid     string `json:"ctwa_clid,omitempty"`
	AdPlacement  string `json:"ad_placement,omitempty"`
}

// HistoryChunk is one resumable unit of the bulk history import.
type HistoryChunk struct {
	Metadata HistoryMetadata `json:"metadata"`
	Threads  []HistoryThread `json:"threads"`
}

// HistoryMetadata identifies a chunk and the cumulative progress it represents.
type HistoryMetadata struct {
	Phase      string `json:"phase"`
	ChunkOrder int    `json:"chunk_order"`
	Progress   int    `json:"progress"`
}

// HistoryThread is a historical conversation with one contact.
type HistoryThread struct {
	ID       string    `json:"id"` // contact wa_id
	Contact  *Contact  `json:"contact,omitempty"`
	Messages []Message `json:"messages"`
}

// StateSyncItem is one entry of a contact-directory snapshot.
type StateSyncItem struct {
	Type     string            `json:"type"`
	Action   string            `json:"action"`
	Contact  *StateSyncContact `json:"contact,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StateSyncContact is the directory representation of a contact.
type StateSyncContact struct {
	WaID        string `json:"wa_id"`
	PhoneNumber string `json:"phone_number,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
}

// ParseTimestamp converts the provider's unix-seconds string into a time.
// A missing or malformed timestamp falls back to now.
func ParseTimestamp(ts string) time.Time {
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

// ContactName returns the profile name for a wa_id from the contacts list.
func (v *Value) ContactName(waID string) string {
	for _, c := range v.Contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	return ""
}
