package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"whatrack/internal/audit"
	"whatrack/internal/connection"
	"whatrack/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func setupTestConnection(t *testing.T, db *gorm.DB) *models.MetaConnection {
	t.Helper()
	conn := &models.MetaConnection{
		OrganizationID: "org-1",
		WabaID:         "waba-1",
		PhoneNumberID:  "phone-1",
		Status:         models.ConnectionActive,
		ConnectedAt:    time.Now().UTC(),
	}
	if err := db.Create(conn).Error; err != nil {
		t.Fatalf("failed to seed connection: %v", err)
	}
	return conn
}

func setupStore(t *testing.T, db *gorm.DB) *connection.Store {
	t.Helper()
	store, err := connection.NewStore(db)
	if err != nil {
		t.Fatalf("failed to create connection store: %v", err)
	}
	return store
}

func setupAudit(t *testing.T, db *gorm.DB) *audit.Recorder {
	t.Helper()
	rec, err := audit.NewRecorder(db)
	if err != nil {
		t.Fatalf("failed to create audit recorder: %v", err)
	}
	return rec
}

// fakePublisher records published notifications for assertions.
type fakePublisher struct {
	mu        sync.Mutex
	published []publishedEvent
}

type publishedEvent struct {
	channel string
	payload interface{}
}

func (f *fakePublisher) Publish(channel string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedEvent{channel: channel, payload: payload})
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// waitForPublished polls until at least n notifications arrived or the
// deadline passes. Dispatch runs on separate goroutines.
func (f *fakePublisher) waitForPublished(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.count() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d published notifications, got %d", n, f.count())
}

func newTestMessageService(t *testing.T, db *gorm.DB, pub *fakePublisher) *MessageService {
	t.Helper()
	svc, err := NewMessageService(db, setupStore(t, db), pub, nil, "new", 30)
	if err != nil {
		t.Fatalf("failed to create message service: %v", err)
	}
	return svc
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return n
}
