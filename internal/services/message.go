package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"whatrack/internal/connection"
	"whatrack/internal/models"
	"whatrack/internal/realtime"
	"whatrack/internal/webhook"
)

// MessageNotification is the payload published to the real-time fan-out for
// every persisted live message.
type MessageNotification struct {
	OrganizationID string    `json:"organizationId"`
	LeadID         uint      `json:"leadId"`
	ConversationID uint      `json:"conversationId"`
	TicketID       uint      `json:"ticketId"`
	MessageID      uint      `json:"messageId"`
	Wamid          string    `json:"wamid"`
	Direction      string    `json:"direction"`
	Type           string    `json:"type"`
	Body           string    `json:"body,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// MessageService turns live message events into Lead/Conversation/Ticket/
// Message state, with last-touch attribution tracking.
type MessageService struct {
	db                    *gorm.DB
	connections           *connection.Store
	publisher             realtime.Publisher
	enricher              *Enricher
	defaultStageID        string
	defaultExpirationDays int
}

// NewMessageService creates a MessageService.
func NewMessageService(db *gorm.DB, connections *connection.Store, publisher realtime.Publisher, enricher *Enricher, defaultStageID string, defaultExpirationDays int) (*MessageService, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance (gorm.DB) cannot be nil for message service")
	}
	if connections == nil {
		return nil, fmt.Errorf("connection store cannot be nil for message service")
	}
	if publisher == nil {
		return nil, fmt.Errorf("realtime publisher cannot be nil for message service")
	}
	return &MessageService{
		db:                    db,
		connections:           connections,
		publisher:             publisher,
		enricher:              enricher,
		defaultStageID:        defaultStageID,
		defaultExpirationDays: defaultExpirationDays,
	}, nil
}

// txResult carries what one committed message transaction produced for the
// post-commit side channels.
type txResult struct {
	notification *realtime.Notification
	enrichmentID uint
}

// ProcessMessages handles one "messages" change: inbound entries plus echo
// entries for messages the business sent from the provider app. Entries are
// processed sequentially, each in its own transaction; one entry failing does
// not abort the batch. Only structural errors (no phone number id, unknown
// connection) propagate.
func (s *MessageService) ProcessMessages(value *webhook.Value) error {
	if value == nil || value.Metadata == nil || value.Metadata.PhoneNumberID == "" {
		return ErrMissingPhoneNumberID
	}

	conn, err := s.connections.GetByPhoneNumberID(value.Metadata.PhoneNumberID)
	if err != nil {
		if connection.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, value.Metadata.PhoneNumberID)
		}
		return fmt.Errorf("connection lookup failed: %w", err)
	}

	var results []txResult
	process := func(msg webhook.Message, echo bool) {
		result, err := s.processMessage(conn, value, msg, echo)
		if err != nil {
			log.Error().Err(err).
				Str("wamid", msg.ID).
				Bool("echo", echo).
				Uint("connectionID", conn.ID).
				Msg("Failed to process message, continuing with batch")
			return
		}
		if result != nil {
			results = append(results, *result)
		}
	}

	for _, msg := range value.Messages {
		process(msg, false)
	}
	for _, msg := range value.MessageEchoes {
		process(msg, true)
	}

	if err := touchLastWebhookAt(s.db, conn.ID, time.Now().UTC()); err != nil {
		log.Error().Err(err).Uint("connectionID", conn.ID).Msg("Failed to update lastWebhookAt")
	}

	// Post-commit side effects: never block or fail the webhook response.
	var notifications []realtime.Notification
	for _, r := range results {
		if r.notification != nil {
			notifications = append(notifications, *r.notification)
		}
		if r.enrichmentID != 0 && s.enricher.Enabled() {
			go s.enricher.Enrich(r.enrichmentID)
		}
	}
	realtime.Dispatch(s.publisher, notifications)

	return nil
}

// processMessage runs the full per-entry algorithm inside one transaction.
// A nil result with nil error means the entry was skipped (duplicate wamid).
func (s *MessageService) processMessage(conn *models.MetaConnection, value *webhook.Value, msg webhook.Message, echo bool) (*txResult, error) {
	waID := msg.From
	if echo {
		waID = msg.To
	}
	if waID == "" {
		return nil, fmt.Errorf("message %s has no contact id", msg.ID)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("message entry has no id")
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message %s has no type", msg.ID)
	}

	eventTime := webhook.ParseTimestamp(msg.Timestamp)

	var result *txResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Idempotency gate: redelivery of a known wamid is a no-op.
		var existing models.Message
		err := tx.Where("wamid = ?", msg.ID).First(&existing).Error
		if err == nil {
			log.Debug().Str("wamid", msg.ID).Msg("Message already processed, skipping")
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		source := models.LeadSourceLiveMessage
		if echo {
			source = models.LeadSourceOutboundMessage
		}
		lead, wasHistoryLead, _, err := findOrCreateLead(tx, conn.OrganizationID, waID, waID, source, models.LeadUpdateFields{
			Name:          value.ContactName(waID),
			LastMessageAt: &eventTime,
		})
		if err != nil {
			return err
		}

		conv, err := findOrCreateConversation(tx, lead.ID, conn.ID, value.ConversationID)
		if err != nil {
			return err
		}

		ticket, err := s.resolveTicket(tx, conn, conv.ID, eventTime, echo, wasHistoryLead)
		if err != nil {
			return err
		}

		rawPayload, _ := json.Marshal(msg)
		direction := models.DirectionInbound
		if echo {
			direction = models.DirectionOutbound
		}
		body := ""
		if msg.Text != nil {
			body = msg.Text.Body
		}
		record := models.Message{
			Wamid:          msg.ID,
			LeadID:         lead.ID,
			ConversationID: conv.ID,
			TicketID:       &ticket.ID,
			Direction:      direction,
			Type:           msg.Type,
			Body:           body,
			Status:         "received",
			Timestamp:      eventTime,
			Source:         models.MessageSourceLive,
			RawPayload:     rawPayload,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).
			Update("message_count", gorm.Expr("message_count + 1")).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Ticket{}).Where("id = ?", ticket.ID).
			Update("message_count", gorm.Expr("message_count + 1")).Error; err != nil {
			return err
		}

		var enrichmentID uint
		if !echo {
			enrichmentID, err = s.updateAttribution(tx, ticket.ID, msg.Referral)
			if err != nil {
				return err
			}
		}

		result = &txResult{
			notification: &realtime.Notification{
				Channel: "messages",
				Payload: MessageNotification{
					OrganizationID: conn.OrganizationID,
					LeadID:         lead.ID,
					ConversationID: conv.ID,
					TicketID:       ticket.ID,
					MessageID:      record.ID,
					Wamid:          record.Wamid,
					Direction:      string(direction),
					Type:           record.Type,
					Body:           body,
					Timestamp:      eventTime,
				},
			},
			enrichmentID: enrichmentID,
		}
		return nil
	})
	if err != nil {
		// Two deliveries racing on the same wamid: the loser's insert hits the
		// uniqueness constraint. That means already processed, not a failure.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Debug().Str("wamid", msg.ID).Msg("Concurrent delivery lost the insert race, already processed")
			return nil, nil
		}
		return nil, err
	}
	return result, nil
}

// resolveTicket finds the open ticket for a conversation, expiring a stale
// one, creating a replacement when none remains open, or renewing the window
// on inbound activity.
func (s *MessageService) resolveTicket(tx *gorm.DB, conn *models.MetaConnection, conversationID uint, eventTime time.Time, echo, wasHistoryLead bool) (*models.Ticket, error) {
	expirationDays := conn.TicketExpirationDays
	if expirationDays <= 0 {
		expirationDays = s.defaultExpirationDays
	}

	var ticket models.Ticket
	err := tx.Where("conversation_id = ? AND status = ?", conversationID, models.TicketStatusOpen).
		Order("created_at DESC").
		First(&ticket).Error
	hasOpen := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// Echo events never expire a stale ticket.
	if hasOpen && !echo && IsTicketExpired(ticket.CreatedAt, eventTime, expirationDays) {
		reason := models.TicketClosedReasonExpired
		err := tx.Model(&ticket).Updates(map[string]interface{}{
			"status":        models.TicketStatusClosed,
			"closed_reason": &reason,
			"window_open":   false,
		}).Error
		if err != nil {
			return nil, err
		}
		log.Info().
			Uint("ticketID", ticket.ID).
			Uint("conversationID", conversationID).
			Int("expirationDays", expirationDays).
			Msg("Ticket expired, closing before opening a new one")
		hasOpen = false
	}

	if !hasOpen {
		windowExpiresAt, origin := TicketWindow(eventTime, wasHistoryLead)
		stageID := conn.DefaultStageID
		if stageID == "" {
			stageID = s.defaultStageID
		}
		ticket = models.Ticket{
			ConversationID:  conversationID,
			StageID:         stageID,
			Status:          models.TicketStatusOpen,
			WindowExpiresAt: windowExpiresAt,
			WindowOpen:      true,
			Source:          models.TicketSourceIncomingMessage,
			OriginatedFrom:  origin,
		}
		if err := tx.Create(&ticket).Error; err != nil {
			return nil, err
		}
		return &ticket, nil
	}

	if !echo {
		renewed := RenewedWindow(eventTime)
		err := tx.Model(&ticket).Updates(map[string]interface{}{
			"window_expires_at": &renewed,
			"window_open":       true,
		}).Error
		if err != nil {
			return nil, err
		}
		ticket.WindowExpiresAt = &renewed
		ticket.WindowOpen = true
	}
	return &ticket, nil
}

// updateAttribution applies last-touch semantics to the ticket's tracking
// row. Returns the tracking id when the row is (re)set to PENDING with an ad
// id, so the caller can trigger enrichment after commit.
func (s *MessageService) updateAttribution(tx *gorm.DB, ticketID uint, ref *webhook.Referral) (uint, error) {
	attr := ExtractAttribution(ref)
	if attr == nil {
		return 0, nil
	}

	var tracking models.TicketTracking
	err := tx.Where("ticket_id = ?", ticketID).First(&tracking).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		tracking = models.TicketTracking{
			TicketID:         ticketID,
			UtmSource:        attr.UtmSource,
			UtmMedium:        attr.UtmMedium,
			UtmCampaign:      attr.UtmCampaign,
			UtmContent:       attr.UtmContent,
			UtmTerm:          attr.UtmTerm,
			MetaAdID:         attr.MetaAdID,
			MetaAdSourceType: attr.MetaAdSourceType,
			MetaAdPlacement:  attr.MetaAdPlacement,
			Fbclid:           attr.Fbclid,
			Gclid:            attr.Gclid,
			CtwaClid:         attr.CtwaClid,
			EnrichmentStatus: models.EnrichmentPending,
		}
		if err := tx.Create(&tracking).Error; err != nil {
			return 0, err
		}
		if attr.HasAdID() {
			return tracking.ID, nil
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	changes := map[string]interface{}{}
	mergeField := func(column, current, incoming string) string {
		if incoming != "" && incoming != current {
			changes[column] = incoming
			return incoming
		}
		return current
	}
	mergeField("utm_source", tracking.UtmSource, attr.UtmSource)
	mergeField("utm_medium", tracking.UtmMedium, attr.UtmMedium)
	mergeField("utm_campaign", tracking.UtmCampaign, attr.UtmCampaign)
	mergeField("utm_content", tracking.UtmContent, attr.UtmContent)
	mergeField("utm_term", tracking.UtmTerm, attr.UtmTerm)
	mergeField("fbclid", tracking.Fbclid, attr.Fbclid)
	mergeField("gclid", tracking.Gclid, attr.Gclid)
	mergeField("ctwa_clid", tracking.CtwaClid, attr.CtwaClid)
	mergeField("meta_ad_placement", tracking.MetaAdPlacement, attr.MetaAdPlacement)
	mergeField("meta_ad_source_type", tracking.MetaAdSourceType, attr.MetaAdSourceType)

	var enrichmentID uint
	if attr.HasAdID() && attr.MetaAdID != tracking.MetaAdID {
		// Last touch wins: record the transition, overwrite the ad id, and
		// reset enrichment so the new ad gets resolved.
		history := models.MetaAttributionHistory{
			TicketTrackingID: tracking.ID,
			OldAdID:          tracking.MetaAdID,
			NewAdID:          attr.MetaAdID,
		}
		if err := tx.Create(&history).Error; err != nil {
			return 0, err
		}
		changes["meta_ad_id"] = attr.MetaAdID
		changes["meta_ad_name"] = ""
		changes["meta_campaign_name"] = ""
		changes["enrichment_status"] = models.EnrichmentPending
		changes["enrichment_error"] = nil
		enrichmentID = tracking.ID
		log.Info().
			Uint("trackingID", tracking.ID).
			Str("oldAdID", tracking.MetaAdID).
			Str("newAdID", attr.MetaAdID).
			Msg("Attribution updated with last-touch ad id")
	}

	if len(changes) > 0 {
		if err := tx.Model(&tracking).Updates(changes).Error; err != nil {
			return 0, err
		}
	}
	return enrichmentID, nil
}
