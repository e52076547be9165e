package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"whatrack/internal/audit"
	"whatrack/internal/connection"
	"whatrack/internal/models"
	"whatrack/internal/webhook"
)

// Account update events emitted by the provider's partner lifecycle.
const (
	EventPartnerAdded      = "PARTNER_ADDED"
	EventPartnerRemoved    = "PARTNER_REMOVED"
	EventPartnerReinstated = "PARTNER_REINSTATED"
)

// OnboardingService manages the add/remove/reinstate lifecycle of a provider
// account connection. Identity is resolved via the short-lived tracking code
// when present, or degraded to an owner-business-id match in coexistence mode.
type OnboardingService struct {
	db          *gorm.DB
	connections *connection.Store
	audit       *audit.Recorder
}

// NewOnboardingService creates an OnboardingService.
func NewOnboardingService(db *gorm.DB, connections *connection.Store, auditRec *audit.Recorder) (*OnboardingService, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance (gorm.DB) cannot be nil for onboarding service")
	}
	if connections == nil {
		return nil, fmt.Errorf("connection store cannot be nil for onboarding service")
	}
	if auditRec == nil {
		return nil, fmt.Errorf("audit recorder cannot be nil for onboarding service")
	}
	return &OnboardingService{db: db, connections: connections, audit: auditRec}, nil
}

// HandleAccountUpdate processes one partner lifecycle event. A missing
// tracking code is the only fatal condition; every other unmatched state
// degrades to logging.
func (s *OnboardingService) HandleAccountUpdate(event string, value *webhook.Value) error {
	if value == nil || value.WabaInfo == nil {
		log.Warn().Str("event", event).Msg("Account update without waba_info, ignoring")
		return nil
	}
	info := value.WabaInfo

	if info.TrackingCode != "" {
		return s.handleWithTrackingCode(event, info)
	}
	if info.OwnerBusinessID != "" {
		return s.handleByOwnerBusiness(event, info)
	}

	// Phantom: neither identity signal matches anything we track. An
	// orphaned-WABA claim flow would start here; for now we only log.
	log.Warn().
		Str("event", event).
		Str("wabaID", info.WabaID).
		Msg("Account update carries no tracking code or owner business id, no action taken")
	return nil
}

func (s *OnboardingService) handleWithTrackingCode(event string, info *webhook.WabaInfo) error {
	ob, err := s.connections.GetOnboardingByTrackingCode(info.TrackingCode)
	if err != nil {
		if connection.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrTrackingCodeNotFound, info.TrackingCode)
		}
		return fmt.Errorf("onboarding lookup failed: %w", err)
	}

	now := time.Now().UTC()
	if ob.Status == models.OnboardingPending && ob.ExpiresAt.Before(now) {
		// The user finished the embedded signup after the code lapsed. An
		// expected race, not an error.
		err := s.db.Model(&models.Onboarding{}).Where("id = ?", ob.ID).
			Update("status", models.OnboardingExpired).Error
		if err != nil {
			log.Error().Err(err).Uint("onboardingID", ob.ID).Msg("Failed to mark onboarding expired")
		}
		s.connections.InvalidateTrackingCode(info.TrackingCode)
		log.Warn().
			Str("trackingCode", info.TrackingCode).
			Str("organizationID", ob.OrganizationID).
			Msg("Tracking code expired, account update dropped")
		return nil
	}

	switch event {
	case EventPartnerAdded:
		return s.activateConnection(ob, info, now)
	case EventPartnerRemoved:
		return s.deactivateConnection(ob.OrganizationID, info, now)
	case EventPartnerReinstated:
		return s.reinstateConnection(ob.OrganizationID, info, now)
	default:
		log.Warn().Str("event", event).Msg("Unknown account update event, ignoring")
		return nil
	}
}

// activateConnection upserts the connection to active and completes the
// onboarding session.
func (s *OnboardingService) activateConnection(ob *models.Onboarding, info *webhook.WabaInfo, now time.Time) error {
	var conn models.MetaConnection
	err := s.db.Where("organization_id = ? AND waba_id = ?", ob.OrganizationID, info.WabaID).First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		conn = models.MetaConnection{
			OrganizationID:  ob.OrganizationID,
			WabaID:          info.WabaID,
			PhoneNumberID:   info.PhoneNumberID,
			OwnerBusinessID: info.OwnerBusinessID,
			Status:          models.ConnectionActive,
			ConnectedAt:     now,
		}
		if createErr := s.db.Create(&conn).Error; createErr != nil {
			return createErr
		}
	} else if err != nil {
		return err
	} else {
		changes := map[string]interface{}{
			"status":            models.ConnectionActive,
			"connected_at":      now,
			"disconnected_at":   nil,
			"owner_business_id": info.OwnerBusinessID,
		}
		if info.PhoneNumberID != "" {
			changes["phone_number_id"] = info.PhoneNumberID
		}
		if err := s.db.Model(&conn).Updates(changes).Error; err != nil {
			return err
		}
		conn.Status = models.ConnectionActive
		conn.PhoneNumberID = info.PhoneNumberID
	}
	s.connections.Cache(&conn)

	err = s.db.Model(&models.Onboarding{}).Where("id = ?", ob.ID).Updates(map[string]interface{}{
		"status":          models.OnboardingCompleted,
		"completed_at":    &now,
		"waba_id":         info.WabaID,
		"phone_number_id": info.PhoneNumberID,
	}).Error
	if err != nil {
		log.Error().Err(err).Uint("onboardingID", ob.ID).Msg("Failed to complete onboarding record")
	}
	s.connections.InvalidateTrackingCode(ob.TrackingCode)

	s.audit.Record(ob.OrganizationID, models.AuditConnectionAdded, "connection", conn.ID, map[string]interface{}{
		"wabaId":        info.WabaID,
		"phoneNumberId": info.PhoneNumberID,
	})
	log.Info().
		Str("organizationID", ob.OrganizationID).
		Str("wabaID", info.WabaID).
		Uint("connectionID", conn.ID).
		Msg("Connection activated")
	return nil
}

// deactivateConnection sets the matched connection inactive with a disconnect
// timestamp.
func (s *OnboardingService) deactivateConnection(organizationID string, info *webhook.WabaInfo, now time.Time) error {
	var conn models.MetaConnection
	err := s.db.Where("organization_id = ? AND waba_id = ?", organizationID, info.WabaID).First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn().
			Str("organizationID", organizationID).
			Str("wabaID", info.WabaID).
			Msg("Partner removed for unknown connection, no action taken")
		return nil
	}
	if err != nil {
		return err
	}
	return s.applyRemoval(&conn, now)
}

func (s *OnboardingService) applyRemoval(conn *models.MetaConnection, now time.Time) error {
	connectedFor := now.Sub(conn.ConnectedAt)
	err := s.db.Model(conn).Updates(map[string]interface{}{
		"status":          models.ConnectionInactive,
		"disconnected_at": &now,
	}).Error
	if err != nil {
		return err
	}
	s.connections.Invalidate(conn.PhoneNumberID)

	s.audit.Record(conn.OrganizationID, models.AuditConnectionRemoved, "connection", conn.ID, map[string]interface{}{
		"wabaId":           conn.WabaID,
		"connectedSeconds": int64(connectedFor.Seconds()),
	})
	log.Info().
		Str("organizationID", conn.OrganizationID).
		Uint("connectionID", conn.ID).
		Dur("connectedFor", connectedFor).
		Msg("Connection deactivated")
	return nil
}

// reinstateConnection flips a removed connection back to active.
func (s *OnboardingService) reinstateConnection(organizationID string, info *webhook.WabaInfo, now time.Time) error {
	var conn models.MetaConnection
	err := s.db.Where("organization_id = ? AND waba_id = ?", organizationID, info.WabaID).First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn().
			Str("organizationID", organizationID).
			Str("wabaID", info.WabaID).
			Msg("Partner reinstated for unknown connection, no action taken")
		return nil
	}
	if err != nil {
		return err
	}
	return s.applyReinstate(&conn, now)
}

func (s *OnboardingService) applyReinstate(conn *models.MetaConnection, now time.Time) error {
	err := s.db.Model(conn).Updates(map[string]interface{}{
		"status":          models.ConnectionActive,
		"connected_at":    now,
		"disconnected_at": nil,
	}).Error
	if err != nil {
		return err
	}
	conn.Status = models.ConnectionActive
	s.connections.Cache(conn)

	s.audit.Record(conn.OrganizationID, models.AuditConnectionReinstated, "connection", conn.ID, map[string]interface{}{
		"wabaId": conn.WabaID,
	})
	log.Info().
		Str("organizationID", conn.OrganizationID).
		Uint("connectionID", conn.ID).
		Msg("Connection reinstated")
	return nil
}

// handleByOwnerBusiness is the coexistence-mode path: no tracking code, only
// an owner business id. It operates strictly on existing connections and
// never creates one.
func (s *OnboardingService) handleByOwnerBusiness(event string, info *webhook.WabaInfo) error {
	conns, err := s.connections.GetByOwnerBusinessID(info.OwnerBusinessID)
	if err != nil {
		return fmt.Errorf("owner business lookup failed: %w", err)
	}
	if len(conns) == 0 {
		log.Warn().
			Str("event", event).
			Str("ownerBusinessID", info.OwnerBusinessID).
			Msg("Account update matched no connection by owner business id, no action taken")
		return nil
	}
	if len(conns) > 1 {
		ids := make([]uint, len(conns))
		for i, c := range conns {
			ids[i] = c.ID
		}
		log.Error().
			Str("event", event).
			Str("ownerBusinessID", info.OwnerBusinessID).
			Uints("connectionIDs", ids).
			Msg("Owner business id matches multiple connections, refusing to guess")
		return nil
	}
	conn := conns[0]
	now := time.Now().UTC()

	switch event {
	case EventPartnerAdded, EventPartnerReinstated:
		return s.applyReinstate(&conn, now)
	case EventPartnerRemoved:
		return s.applyRemoval(&conn, now)
	default:
		log.Warn().Str("event", event).Msg("Unknown account update event, ignoring")
		return nil
	}
}
