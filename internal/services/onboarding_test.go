package services

import (
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"whatrack/internal/models"
	"whatrack/internal/webhook"
)

func newTestOnboardingService(t *testing.T, db *gorm.DB) *OnboardingService {
	t.Helper()
	svc, err := NewOnboardingService(db, setupStore(t, db), setupAudit(t, db))
	if err != nil {
		t.Fatalf("failed to create onboarding service: %v", err)
	}
	return svc
}

func seedOnboarding(t *testing.T, db *gorm.DB, code string, expiresAt time.Time) *models.Onboarding {
	t.Helper()
	ob := &models.Onboarding{
		TrackingCode:   code,
		OrganizationID: "org-1",
		ExpiresAt:      expiresAt,
		Status:         models.OnboardingPending,
	}
	if err := db.Create(ob).Error; err != nil {
		t.Fatalf("failed to seed onboarding: %v", err)
	}
	return ob
}

func accountUpdate(trackingCode, wabaID, phoneNumberID, ownerBusinessID string) *webhook.Value {
	return &webhook.Value{
		WabaInfo: &webhook.WabaInfo{
			WabaID:          wabaID,
			PhoneNumberID:   phoneNumberID,
			OwnerBusinessID: ownerBusinessID,
			TrackingCode:    trackingCode,
		},
	}
}

func TestHandleAccountUpdatePartnerAdded(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestOnboardingService(t, db)
	ob := seedOnboarding(t, db, "code-1", time.Now().UTC().Add(1*time.Hour))

	value := accountUpdate("code-1", "waba-new", "phone-new", "biz-1")
	if err := svc.HandleAccountUpdate(EventPartnerAdded, value); err != nil {
		t.Fatalf("HandleAccountUpdate failed: %v", err)
	}

	var conn models.MetaConnection
	if err := db.Where("waba_id = ?", "waba-new").First(&conn).Error; err != nil {
		t.Fatalf("connection not created: %v", err)
	}
	if conn.Status != models.ConnectionActive {
		t.Errorf("connection status = %q, want active", conn.Status)
	}
	if conn.OrganizationID != "org-1" {
		t.Errorf("organization = %q, want org-1", conn.OrganizationID)
	}
	if conn.PhoneNumberID != "phone-new" {
		t.Errorf("phone number id = %q, want phone-new", conn.PhoneNumberID)
	}

	var completed models.Onboarding
	if err := db.First(&completed, ob.ID).Error; err != nil {
		t.Fatalf("onboarding lookup failed: %v", err)
	}
	if completed.Status != models.OnboardingCompleted {
		t.Errorf("onboarding status = %q, want completed", completed.Status)
	}
	if completed.CompletedAt == nil {
		t.Error("completedAt not set")
	}

	var auditEntry models.AuditLog
	if err := db.Where("action = ?", models.AuditConnectionAdded).First(&auditEntry).Error; err != nil {
		t.Errorf("audit entry for connection_added missing: %v", err)
	}
}

func TestHandleAccountUpdateRemoveAndReinstate(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestOnboardingService(t, db)
	seedOnboarding(t, db, "code-2", time.Now().UTC().Add(1*time.Hour))

	value := accountUpdate("code-2", "waba-2", "phone-2", "")
	if err := svc.HandleAccountUpdate(EventPartnerAdded, value); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := svc.HandleAccountUpdate(EventPartnerRemoved, value); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	var conn models.MetaConnection
	if err := db.Where("waba_id = ?", "waba-2").First(&conn).Error; err != nil {
		t.Fatalf("connection lookup failed: %v", err)
	}
	if conn.Status != models.ConnectionInactive {
		t.Errorf("connection status = %q after removal, want inactive", conn.Status)
	}
	if conn.DisconnectedAt == nil {
		t.Error("disconnectedAt not set on removal")
	}

	if err := svc.HandleAccountUpdate(EventPartnerReinstated, value); err != nil {
		t.Fatalf("reinstate failed: %v", err)
	}
	conn = models.MetaConnection{}
	if err := db.Where("waba_id = ?", "waba-2").First(&conn).Error; err != nil {
		t.Fatalf("connection lookup failed: %v", err)
	}
	if conn.Status != models.ConnectionActive {
		t.Errorf("connection status = %q after reinstate, want active", conn.Status)
	}
	if conn.DisconnectedAt != nil {
		t.Error("disconnectedAt not cleared on reinstate")
	}

	if n := countRows(t, db, &models.AuditLog{}); n != 3 {
		t.Errorf("audit entries = %d, want 3 (add, remove, reinstate)", n)
	}
}

func TestHandleAccountUpdateExpiredTrackingCode(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestOnboardingService(t, db)
	ob := seedOnboarding(t, db, "code-old", time.Now().UTC().Add(-1*time.Hour))

	value := accountUpdate("code-old", "waba-3", "phone-3", "")
	if err := svc.HandleAccountUpdate(EventPartnerAdded, value); err != nil {
		t.Fatalf("expired code must not be an error, got: %v", err)
	}

	var expired models.Onboarding
	if err := db.First(&expired, ob.ID).Error; err != nil {
		t.Fatalf("onboarding lookup failed: %v", err)
	}
	if expired.Status != models.OnboardingExpired {
		t.Errorf("onboarding status = %q, want expired", expired.Status)
	}
	if n := countRows(t, db, &models.MetaConnection{}); n != 0 {
		t.Errorf("connection count = %d, expired code must not create one", n)
	}
}

func TestHandleAccountUpdateUnknownTrackingCodeIsFatal(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestOnboardingService(t, db)

	value := accountUpdate("code-missing", "waba-4", "", "")
	err := svc.HandleAccountUpdate(EventPartnerAdded, value)
	if !errors.Is(err, ErrTrackingCodeNotFound) {
		t.Errorf("unknown tracking code error = %v, want ErrTrackingCodeNotFound", err)
	}
}

func TestHandleAccountUpdateOwnerBusinessPath(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestOnboardingService(t, db)

	conn := models.MetaConnection{
		OrganizationID:  "org-1",
		WabaID:          "waba-5",
		PhoneNumberID:   "phone-5",
		OwnerBusinessID: "biz-5",
		Status:          models.ConnectionActive,
		ConnectedAt:     time.Now().UTC(),
	}
	if err := db.Create(&conn).Error; err != nil {
		t.Fatalf("failed to seed connection: %v", err)
	}

	value := accountUpdate("", "waba-5", "", "biz-5")
	if err := svc.HandleAccountUpdate(EventPartnerRemoved, value); err != nil {
		t.Fatalf("coexistence removal failed: %v", err)
	}

	var updated models.MetaConnection
	if err := db.First(&updated, conn.ID).Error; err != nil {
		t.Fatalf("connection lookup failed: %v", err)
	}
	if updated.Status != models.ConnectionInactive {
		t.Errorf("connection status = %q, want inactive", updated.Status)
	}
	if n := countRows(t, db, &models.MetaConnection{}); n != 1 {
		t.Errorf("connection count = %d, coexistence path must never create connections", n)
	}
}

func TestHandleAccountUpdateAmbiguousOwnerBusiness(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestOnboardingService(t, db)

	for i, waba := range []string{"waba-6a", "waba-6b"} {
		conn := models.MetaConnection{
			OrganizationID:  "org-1",
			WabaID:          waba,
			PhoneNumberID:   waba + "-phone",
			OwnerBusinessID: "biz-6",
			Status:          models.ConnectionActive,
			ConnectedAt:     time.Now().UTC(),
		}
		if err := db.Create(&conn).Error; err != nil {
			t.Fatalf("failed to seed connection %d: %v", i, err)
		}
	}

	value := accountUpdate("", "waba-6a", "", "biz-6")
	if err := svc.HandleAccountUpdate(EventPartnerRemoved, value); err != nil {
		t.Fatalf("ambiguous match must degrade to logging, got: %v", err)
	}

	var conns []models.MetaConnection
	if err := db.Find(&conns).Error; err != nil {
		t.Fatalf("connection lookup failed: %v", err)
	}
	for _, c := range conns {
		if c.Status != models.ConnectionActive {
			t.Errorf("connection %s mutated on ambiguous match", c.WabaID)
		}
	}
}

func TestHandleAccountUpdatePhantom(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestOnboardingService(t, db)

	value := &webhook.Value{WabaInfo: &webhook.WabaInfo{WabaID: "waba-ghost"}}
	if err := svc.HandleAccountUpdate(EventPartnerAdded, value); err != nil {
		t.Fatalf("phantom update must be a no-op, got: %v", err)
	}
	if n := countRows(t, db, &models.MetaConnection{}); n != 0 {
		t.Errorf("connection count = %d, want 0", n)
	}
}
