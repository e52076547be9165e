package audit

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"whatrack/internal/models"
)

// Recorder writes connection lifecycle events to the audit log. Recording is
// best effort: failures are logged and never propagated to the caller.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder creates a Recorder.
func NewRecorder(db *gorm.DB) (*Recorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance (gorm.DB) cannot be nil for audit recorder")
	}
	return &Recorder{db: db}, nil
}

// Record persists one audit entry and mirrors it to the structured log.
func (r *Recorder) Record(organizationID string, action models.AuditAction, entityType string, entityID uint, detail map[string]interface{}) {
	var detailJSON datatypes.JSON
	if detail != nil {
		data, err := json.Marshal(detail)
		if err != nil {
			log.Error().Err(err).Str("action", string(action)).Msg("Failed to marshal audit detail")
		} else {
			detailJSON = data
		}
	}

	entry := models.AuditLog{
		OrganizationID: organizationID,
		Action:         action,
		EntityType:     entityType,
		EntityID:       entityID,
		Detail:         detailJSON,
	}
	if err := r.db.Create(&entry).Error; err != nil {
		log.Error().Err(err).Str("action", string(action)).Msg("Failed to persist audit log entry")
	}

	log.Info().
		Str("organizationID", organizationID).
		Str("action", string(action)).
		Str("entityType", entityType).
		Uint("entityID", entityID).
		Msg("Audit event recorded")
}
