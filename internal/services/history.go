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
	"whatrack/internal/webhook"
)

// HistoryService bulk-imports historical threads. Imported messages never
// get a ticket; history describes the past, not work to be done.
type HistoryService struct {
	db          *gorm.DB
	connections *connection.Store
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(db *gorm.DB, connections *connection.Store) (*HistoryService, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance (gorm.DB) cannot be nil for history service")
	}
	if connections == nil {
		return nil, fmt.Errorf("connection store cannot be nil for history service")
	}
	return &HistoryService{db: db, connections: connections}, nil
}

// ProcessHistory imports the chunks of one "history" change. Per-thread and
// per-message failures are logged and skipped; only an unresolvable
// connection is fatal.
func (s *HistoryService) ProcessHistory(value *webhook.Value) error {
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

	for _, chunk := range value.History {
		if err := s.processChunk(conn, chunk); err != nil {
			log.Error().Err(err).
				Str("phase", chunk.Metadata.Phase).
				Int("chunkOrder", chunk.Metadata.ChunkOrder).
				Uint("connectionID", conn.ID).
				Msg("Failed to process history chunk, continuing")
		}
	}

	if err := touchLastWebhookAt(s.db, conn.ID, time.Now().UTC()); err != nil {
		log.Error().Err(err).Uint("connectionID", conn.ID).Msg("Failed to update lastWebhookAt")
	}
	return nil
}

func (s *HistoryService) processChunk(conn *models.MetaConnection, chunk webhook.HistoryChunk) error {
	syncLog, err := s.upsertSyncLog(conn.ID, chunk)
	if err != nil {
		return err
	}

	messageCount := 0
	for _, thread := range chunk.Threads {
		count, err := s.processThread(conn, thread)
		if err != nil {
			log.Error().Err(err).
				Str("threadID", thread.ID).
				Uint("connectionID", conn.ID).
				Msg("Failed to import history thread, continuing")
			continue
		}
		messageCount += count
	}

	now := time.Now().UTC()
	err = s.db.Model(syncLog).Updates(map[string]interface{}{
		"status":        models.HistoryChunkCompleted,
		"thread_count":  len(chunk.Threads),
		"message_count": messageCount,
		"completed_at":  &now,
	}).Error
	if err != nil {
		return err
	}

	return s.updateConnectionProgress(conn, chunk.Metadata, now)
}

// upsertSyncLog finds or creates the progress row for one (phase, chunk).
// Redelivered chunks reuse the existing row.
func (s *HistoryService) upsertSyncLog(connectionID uint, chunk webhook.HistoryChunk) (*models.HistorySyncLog, error) {
	var syncLog models.HistorySyncLog
	err := s.db.Where("connection_id = ? AND phase = ? AND chunk_order = ?",
		connectionID, chunk.Metadata.Phase, chunk.Metadata.ChunkOrder).
		First(&syncLog).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		syncLog = models.HistorySyncLog{
			ConnectionID: connectionID,
			Phase:        chunk.Metadata.Phase,
			ChunkOrder:   chunk.Metadata.ChunkOrder,
			Progress:     chunk.Metadata.Progress,
			Status:       models.HistoryChunkProcessing,
		}
		if createErr := s.db.Create(&syncLog).Error; createErr != nil {
			return nil, createErr
		}
		return &syncLog, nil
	}
	if err != nil {
		return nil, err
	}
	return &syncLog, nil
}

// processThread imports one contact's historical conversation inside a
// transaction and returns how many messages it touched.
func (s *HistoryService) processThread(conn *models.MetaConnection, thread webhook.HistoryThread) (int, error) {
	if thread.ID == "" {
		return 0, fmt.Errorf("history thread has no contact id")
	}

	name := ""
	if thread.Contact != nil {
		name = thread.Contact.Profile.Name
	}

	imported := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		lead, _, _, err := findOrCreateLead(tx, conn.OrganizationID, thread.ID, thread.ID, models.LeadSourceHistorySync, models.LeadUpdateFields{
			Name: name,
		})
		if err != nil {
			return err
		}

		conv, err := findOrCreateConversation(tx, lead.ID, conn.ID, "")
		if err != nil {
			return err
		}

		for _, msg := range thread.Messages {
			if err := s.upsertHistoryMessage(tx, lead.ID, conv.ID, thread.ID, msg); err != nil {
				log.Error().Err(err).
					Str("wamid", msg.ID).
					Str("threadID", thread.ID).
					Msg("Failed to import history message, continuing")
				continue
			}
			imported++
		}
		return nil
	})
	return imported, err
}

// upsertHistoryMessage writes one historical message. The wamid stays the
// idempotency key: existing rows get an update-only upsert, and ticket id is
// explicitly null either way.
func (s *HistoryService) upsertHistoryMessage(tx *gorm.DB, leadID, conversationID uint, threadID string, msg webhook.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("history message has no id")
	}

	direction := models.DirectionInbound
	if msg.From != threadID {
		direction = models.DirectionOutbound
	}
	body := ""
	if msg.Text != nil {
		body = msg.Text.Body
	}
	eventTime := webhook.ParseTimestamp(msg.Timestamp)

	var existing models.Message
	err := tx.Where("wamid = ?", msg.ID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rawPayload, _ := json.Marshal(msg)
		record := models.Message{
			Wamid:          msg.ID,
			LeadID:         leadID,
			ConversationID: conversationID,
			TicketID:       nil,
			Direction:      direction,
			Type:           msg.Type,
			Body:           body,
			Status:         "imported",
			Timestamp:      eventTime,
			Source:         models.MessageSourceHistory,
			RawPayload:     rawPayload,
		}
		return tx.Create(&record).Error
	}
	if err != nil {
		return err
	}

	return tx.Model(&existing).Updates(map[string]interface{}{
		"body":      body,
		"type":      msg.Type,
		"timestamp": eventTime,
	}).Error
}

// updateConnectionProgress rolls the chunk's cumulative progress up onto the
// connection, flipping the sync status to completed at 100%.
func (s *HistoryService) updateConnectionProgress(conn *models.MetaConnection, meta webhook.HistoryMetadata, now time.Time) error {
	changes := map[string]interface{}{
		"history_sync_progress":    meta.Progress,
		"history_sync_phase":       meta.Phase,
		"history_sync_chunk_order": meta.ChunkOrder,
	}
	if meta.Progress >= 100 {
		changes["history_sync_status"] = models.HistorySyncCompleted
		changes["history_sync_completed_at"] = &now
		log.Info().
			Uint("connectionID", conn.ID).
			Str("phase", meta.Phase).
			Msg("History import completed")
	} else {
		changes["history_sync_status"] = models.HistorySyncSyncing
		if conn.HistorySyncStartedAt == nil {
			changes["history_sync_started_at"] = &now
		}
	}

	if err := s.db.Model(&models.MetaConnection{}).Where("id = ?", conn.ID).Updates(changes).Error; err != nil {
		return err
	}
	s.connections.Invalidate(conn.PhoneNumberID)
	return nil
}
