package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"whatrack/internal/models"
)

const (
	phoneNumberKeyPrefix  = "pn:"
	trackingCodeKeyPrefix = "tc:"
)

// Store is a read-through store for connections and onboarding sessions:
// lookups hit the in-memory cache first and fall back to the database,
// mutations write through and invalidate.
type Store struct {
	db    *gorm.DB
	cache *cache.Cache
}

// NewStore creates a Store with a 30 minute default TTL.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance (gorm.DB) cannot be nil for connection store")
	}
	return &Store{
		db:    db,
		cache: cache.New(30*time.Minute, 10*time.Minute),
	}, nil
}

// GetByPhoneNumberID resolves a connection by the provider phone number id.
// Returns gorm.ErrRecordNotFound when no connection is configured for it.
func (s *Store) GetByPhoneNumberID(phoneNumberID string) (*models.MetaConnection, error) {
	key := phoneNumberKeyPrefix + phoneNumberID
	if cached, found := s.cache.Get(key); found {
		conn := cached.(models.MetaConnection)
		return &conn, nil
	}

	var conn models.MetaConnection
	if err := s.db.Where("phone_number_id = ?", phoneNumberID).First(&conn).Error; err != nil {
		return nil, err
	}

	s.cache.Set(key, conn, cache.DefaultExpiration)
	log.Debug().Str("phoneNumberID", phoneNumberID).Msg("Connection cached after DB lookup")
	return &conn, nil
}

// GetOnboardingByTrackingCode resolves an onboarding session by tracking code,
// cache first. Completed or expired sessions are still returned; the caller
// decides what their status means.
func (s *Store) GetOnboardingByTrackingCode(trackingCode string) (*models.Onboarding, error) {
	key := trackingCodeKeyPrefix + trackingCode
	if cached, found := s.cache.Get(key); found {
		ob := cached.(models.Onboarding)
		return &ob, nil
	}

	var ob models.Onboarding
	if err := s.db.Where("tracking_code = ?", trackingCode).First(&ob).Error; err != nil {
		return nil, err
	}

	s.cache.Set(key, ob, cache.DefaultExpiration)
	return &ob, nil
}

// GetByOwnerBusinessID lists the connections sharing an owner business id.
// Coexistence-mode webhooks carry no tracking code, so this may match more
// than one connection; the caller must handle that ambiguity.
func (s *Store) GetByOwnerBusinessID(ownerBusinessID string) ([]models.MetaConnection, error) {
	var conns []models.MetaConnection
	if err := s.db.Where("owner_business_id = ?", ownerBusinessID).Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// Cache stores a connection under its phone number id.
func (s *Store) Cache(conn *models.MetaConnection) {
	if conn == nil || conn.PhoneNumberID == "" {
		return
	}
	s.cache.Set(phoneNumberKeyPrefix+conn.PhoneNumberID, *conn, cache.DefaultExpiration)
}

// Invalidate drops the cache entry for a phone number id.
func (s *Store) Invalidate(phoneNumberID string) {
	s.cache.Delete(phoneNumberKeyPrefix + phoneNumberID)
}

// InvalidateTrackingCode drops the cache entry for a tracking code.
func (s *Store) InvalidateTrackingCode(trackingCode string) {
	s.cache.Delete(trackingCodeKeyPrefix + trackingCode)
}

// IsNotFound reports whether err is the store's not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
