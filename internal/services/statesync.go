package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"whatrack/internal/connection"
	"whatrack/internal/models"
	"whatrack/internal/webhook"
)

// StateSyncService reconciles contact-directory snapshots into leads. It
// never creates conversations or tickets.
type StateSyncService struct {
	db          *gorm.DB
	connections *connection.Store
}

// NewStateSyncService creates a StateSyncService.
func NewStateSyncService(db *gorm.DB, connections *connection.Store) (*StateSyncService, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance (gorm.DB) cannot be nil for state sync service")
	}
	if connections == nil {
		return nil, fmt.Errorf("connection store cannot be nil for state sync service")
	}
	return &StateSyncService{db: db, connections: connections}, nil
}

// ProcessStateSync handles one "smb_app_state_sync" change. Per-item errors
// are logged and skipped. The first snapshot also moves the connection's
// history sync from pending_consent to pending_history.
func (s *StateSyncService) ProcessStateSync(value *webhook.Value) error {
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

	for _, item := range value.StateSync {
		if item.Type != "contact" {
			log.Debug().Str("type", item.Type).Msg("Skipping non-contact state sync item")
			continue
		}
		if err := s.processContact(conn, item); err != nil {
			log.Error().Err(err).
				Str("action", item.Action).
				Uint("connectionID", conn.ID).
				Msg("Failed to process state sync contact, continuing")
		}
	}

	now := time.Now().UTC()
	if err := touchLastWebhookAt(s.db, conn.ID, now); err != nil {
		log.Error().Err(err).Uint("connectionID", conn.ID).Msg("Failed to update lastWebhookAt")
	}

	// Receiving a directory snapshot means the user granted consent; arm the
	// history import exactly once, gated on the prior state.
	if conn.HistorySyncStatus == models.HistorySyncPendingConsent {
		err := s.db.Model(&models.MetaConnection{}).
			Where("id = ? AND history_sync_status = ?", conn.ID, models.HistorySyncPendingConsent).
			Updates(map[string]interface{}{
				"history_sync_status":     models.HistorySyncPendingHistory,
				"history_sync_started_at": &now,
			}).Error
		if err != nil {
			log.Error().Err(err).Uint("connectionID", conn.ID).Msg("Failed to transition history sync status")
		} else {
			s.connections.Invalidate(conn.PhoneNumberID)
			log.Info().Uint("connectionID", conn.ID).Msg("History sync now pending history delivery")
		}
	}

	return nil
}

func (s *StateSyncService) processContact(conn *models.MetaConnection, item webhook.StateSyncItem) error {
	if item.Contact == nil || (item.Contact.WaID == "" && item.Contact.PhoneNumber == "") {
		return fmt.Errorf("state sync contact item has no identity")
	}
	contact := item.Contact
	waID := contact.WaID
	if waID == "" {
		waID = contact.PhoneNumber
	}

	switch item.Action {
	case "add", "update":
		name := contact.FullName
		if name == "" {
			name = contact.FirstName
		}
		now := time.Now().UTC()
		return s.db.Transaction(func(tx *gorm.DB) error {
			_, _, created, err := findOrCreateLead(tx, conn.OrganizationID, waID, contact.PhoneNumber, models.LeadSourceStateSync, models.LeadUpdateFields{
				Phone:        contact.PhoneNumber,
				Name:         name,
				LastSyncedAt: &now,
				Reactivate:   true,
			})
			if err != nil {
				return err
			}
			if created {
				log.Debug().Str("waID", waID).Uint("connectionID", conn.ID).Msg("Lead created from directory sync")
			}
			return nil
		})

	case "delete":
		// Match on phone only when the item carries one, otherwise leads
		// stored without a phone would all match the empty string.
		query := s.db.Where("organization_id = ? AND wa_id = ?", conn.OrganizationID, waID)
		if contact.PhoneNumber != "" {
			query = s.db.Where("organization_id = ? AND (wa_id = ? OR phone = ?)",
				conn.OrganizationID, waID, contact.PhoneNumber)
		}
		var lead models.Lead
		err := query.First(&lead).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Deleting a contact we never tracked is an expected no-op.
			log.Debug().Str("waID", waID).Msg("Delete for unknown contact, ignoring")
			return nil
		}
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		return s.db.Model(&lead).Updates(map[string]interface{}{
			"is_active":  false,
			"deleted_at": &now,
		}).Error

	default:
		log.Debug().Str("action", item.Action).Msg("Unknown state sync action, ignoring")
		return nil
	}
}
