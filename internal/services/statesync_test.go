package services

import (
	"testing"
	"time"

	"whatrack/internal/models"
	"whatrack/internal/webhook"
)

func stateSyncValue(items ...webhook.StateSyncItem) *webhook.Value {
	return &webhook.Value{
		Metadata:  &webhook.Metadata{PhoneNumberID: "phone-1"},
		StateSync: items,
	}
}

func contactItem(action, waID, name string) webhook.StateSyncItem {
	return webhook.StateSyncItem{
		Type:   "contact",
		Action: action,
		Contact: &webhook.StateSyncContact{
			WaID:        waID,
			PhoneNumber: waID,
			FullName:    name,
		},
	}
}

func TestProcessStateSyncAddAndDelete(t *testing.T) {
	db := setupTestDB(t)
	setupTestConnection(t, db)
	svc, err := NewStateSyncService(db, setupStore(t, db))
	if err != nil {
		t.Fatalf("failed to create state sync service: %v", err)
	}

	if err := svc.ProcessStateSync(stateSyncValue(contactItem("add", "5511777770001", "Joana"))); err != nil {
		t.Fatalf("ProcessStateSync failed: %v", err)
	}

	var lead models.Lead
	if err := db.First(&lead).Error; err != nil {
		t.Fatalf("lead not created: %v", err)
	}
	if lead.Source != models.LeadSourceStateSync {
		t.Errorf("lead source = %q, want %q", lead.Source, models.LeadSourceStateSync)
	}
	if lead.Name != "Joana" {
		t.Errorf("lead name = %q, want Joana", lead.Name)
	}
	if lead.LastSyncedAt == nil {
		t.Error("lastSyncedAt not set on add")
	}
	if n := countRows(t, db, &models.Ticket{}); n != 0 {
		t.Errorf("ticket count = %d, state sync must never create tickets", n)
	}

	if err := svc.ProcessStateSync(stateSyncValue(contactItem("delete", "5511777770001", ""))); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := db.First(&lead, lead.ID).Error; err != nil {
		t.Fatalf("lead lookup failed: %v", err)
	}
	if lead.IsActive {
		t.Error("lead still active after delete")
	}
	if lead.DeletedAt == nil {
		t.Error("deletedAt not set after delete")
	}
}

func TestProcessStateSyncReactivatesSoftDeletedLead(t *testing.T) {
	db := setupTestDB(t)
	setupTestConnection(t, db)
	svc, err := NewStateSyncService(db, setupStore(t, db))
	if err != nil {
		t.Fatalf("failed to create state sync service: %v", err)
	}

	seed := models.Lead{
		OrganizationID: "org-1",
		WaID:           "5511777770002",
		Phone:          "5511777770002",
		Source:         models.LeadSourceLiveMessage,
		IsActive:       true,
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("failed to seed lead: %v", err)
	}
	deletedAt := time.Now().UTC().Add(-24 * time.Hour)
	if err := db.Model(&seed).Updates(map[string]interface{}{
		"is_active":  false,
		"deleted_at": &deletedAt,
	}).Error; err != nil {
		t.Fatalf("failed to soft-delete seed lead: %v", err)
	}

	if err := svc.ProcessStateSync(stateSyncValue(contactItem("update", "5511777770002", "Karla"))); err != nil {
		t.Fatalf("ProcessStateSync failed: %v", err)
	}

	var lead models.Lead
	if err := db.First(&lead, seed.ID).Error; err != nil {
		t.Fatalf("lead lookup failed: %v", err)
	}
	if !lead.IsActive {
		t.Error("lead not reactivated by update")
	}
	if lead.DeletedAt != nil {
		t.Error("deletedAt not cleared on reactivation")
	}
	if lead.Source != models.LeadSourceLiveMessage {
		t.Errorf("lead source changed to %q, must stay %q", lead.Source, models.LeadSourceLiveMessage)
	}
}

func TestProcessStateSyncDeleteWithoutPhoneTargetsOnlyThatContact(t *testing.T) {
	db := setupTestDB(t)
	setupTestConnection(t, db)
	svc, err := NewStateSyncService(db, setupStore(t, db))
	if err != nil {
		t.Fatalf("failed to create state sync service: %v", err)
	}

	// Directory items without a phone number create leads with an empty
	// phone column; a later delete carrying only a wa_id must not match
	// them all.
	add := func(waID string) webhook.StateSyncItem {
		return webhook.StateSyncItem{
			Type:    "contact",
			Action:  "add",
			Contact: &webhook.StateSyncContact{WaID: waID},
		}
	}
	if err := svc.ProcessStateSync(stateSyncValue(add("contact-a"), add("contact-b"))); err != nil {
		t.Fatalf("ProcessStateSync failed: %v", err)
	}

	del := webhook.StateSyncItem{
		Type:    "contact",
		Action:  "delete",
		Contact: &webhook.StateSyncContact{WaID: "contact-b"},
	}
	if err := svc.ProcessStateSync(stateSyncValue(del)); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	var a, b models.Lead
	if err := db.Where("wa_id = ?", "contact-a").First(&a).Error; err != nil {
		t.Fatalf("lead a lookup failed: %v", err)
	}
	if err := db.Where("wa_id = ?", "contact-b").First(&b).Error; err != nil {
		t.Fatalf("lead b lookup failed: %v", err)
	}
	if !a.IsActive || a.DeletedAt != nil {
		t.Error("delete addressed to contact-b deactivated contact-a")
	}
	if b.IsActive || b.DeletedAt == nil {
		t.Error("delete did not deactivate contact-b")
	}
}

func TestProcessStateSyncDeleteUnknownContactIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	setupTestConnection(t, db)
	svc, err := NewStateSyncService(db, setupStore(t, db))
	if err != nil {
		t.Fatalf("failed to create state sync service: %v", err)
	}

	if err := svc.ProcessStateSync(stateSyncValue(contactItem("delete", "5511777779999", ""))); err != nil {
		t.Fatalf("delete of unknown contact must be a no-op, got: %v", err)
	}
	if n := countRows(t, db, &models.Lead{}); n != 0 {
		t.Errorf("lead count = %d, want 0", n)
	}
}

func TestProcessStateSyncSkipsNonContactItems(t *testing.T) {
	db := setupTestDB(t)
	setupTestConnection(t, db)
	svc, err := NewStateSyncService(db, setupStore(t, db))
	if err != nil {
		t.Fatalf("failed to create state sync service: %v", err)
	}

	items := []webhook.StateSyncItem{
		{Type: "label", Action: "add"},
		contactItem("add", "5511777770003", "Lia"),
	}
	if err := svc.ProcessStateSync(stateSyncValue(items...)); err != nil {
		t.Fatalf("ProcessStateSync failed: %v", err)
	}
	if n := countRows(t, db, &models.Lead{}); n != 1 {
		t.Errorf("lead count = %d, want 1 (non-contact item skipped)", n)
	}
}

func TestProcessStateSyncArmsHistorySyncOnce(t *testing.T) {
	db := setupTestDB(t)
	conn := setupTestConnection(t, db)
	svc, err := NewStateSyncService(db, setupStore(t, db))
	if err != nil {
		t.Fatalf("failed to create state sync service: %v", err)
	}

	if err := svc.ProcessStateSync(stateSyncValue(contactItem("add", "5511777770004", "Mia"))); err != nil {
		t.Fatalf("ProcessStateSync failed: %v", err)
	}

	var updated models.MetaConnection
	if err := db.First(&updated, conn.ID).Error; err != nil {
		t.Fatalf("connection lookup failed: %v", err)
	}
	if updated.HistorySyncStatus != models.HistorySyncPendingHistory {
		t.Errorf("history sync status = %q, want pending_history after first snapshot", updated.HistorySyncStatus)
	}
	firstStartedAt := updated.HistorySyncStartedAt
	if firstStartedAt == nil {
		t.Fatal("history sync started at not set")
	}

	// A later snapshot must not re-trigger the transition.
	if err := db.Model(&updated).Update("history_sync_status", models.HistorySyncCompleted).Error; err != nil {
		t.Fatalf("failed to update connection: %v", err)
	}
	if err := svc.ProcessStateSync(stateSyncValue(contactItem("update", "5511777770004", "Mia"))); err != nil {
		t.Fatalf("second snapshot failed: %v", err)
	}
	if err := db.First(&updated, conn.ID).Error; err != nil {
		t.Fatalf("connection lookup failed: %v", err)
	}
	if updated.HistorySyncStatus != models.HistorySyncCompleted {
		t.Errorf("history sync status = %q, transition must be gated on pending_consent", updated.HistorySyncStatus)
	}
}
