package services

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"whatrack/internal/adapters/meta"
	"whatrack/internal/models"
)

// AdLookup fetches ad details from the provider's management API.
type AdLookup interface {
	GetAdDetails(adID string) (*meta.AdDetails, error)
}

// Enricher resolves ad names for pending tracking rows. It runs outside the
// webhook transaction and is entirely best effort: rows it cannot enrich stay
// PENDING (no client) or move to FAILED with the error recorded.
type Enricher struct {
	db     *gorm.DB
	client AdLookup
}

// NewEnricher creates an Enricher. A nil client disables enrichment.
func NewEnricher(db *gorm.DB, client AdLookup) (*Enricher, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance (gorm.DB) cannot be nil for enricher")
	}
	return &Enricher{db: db, client: client}, nil
}

// Enabled reports whether the enricher has a provider client to call.
func (e *Enricher) Enabled() bool {
	return e != nil && e.client != nil
}

// Enrich fills ad and campaign names for one tracking row.
func (e *Enricher) Enrich(trackingID uint) {
	if !e.Enabled() {
		return
	}

	var tracking models.TicketTracking
	if err := e.db.First(&tracking, trackingID).Error; err != nil {
		log.Error().Err(err).Uint("trackingID", trackingID).Msg("Enrichment: tracking row not found")
		return
	}
	if tracking.MetaAdID == "" || tracking.EnrichmentStatus != models.EnrichmentPending {
		return
	}

	details, err := e.client.GetAdDetails(tracking.MetaAdID)
	if err != nil {
		msg := err.Error()
		updateErr := e.db.Model(&tracking).Updates(map[string]interface{}{
			"enrichment_status": models.EnrichmentFailed,
			"enrichment_error":  &msg,
		}).Error
		if updateErr != nil {
			log.Error().Err(updateErr).Uint("trackingID", trackingID).Msg("Enrichment: failed to record error state")
		}
		log.Warn().Err(err).Str("adID", tracking.MetaAdID).Uint("trackingID", trackingID).Msg("Enrichment lookup failed")
		return
	}

	err = e.db.Model(&tracking).Updates(map[string]interface{}{
		"meta_ad_name":       details.Name,
		"meta_campaign_name": details.Campaign.Name,
		"enrichment_status":  models.EnrichmentCompleted,
		"enrichment_error":   nil,
	}).Error
	if err != nil {
		log.Error().Err(err).Uint("trackingID", trackingID).Msg("Enrichment: failed to persist ad details")
		return
	}

	log.Info().
		Str("adID", tracking.MetaAdID).
		Str("adName", details.Name).
		Uint("trackingID", trackingID).
		Msg("Attribution enriched with ad details")
}
