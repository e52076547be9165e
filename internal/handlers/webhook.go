package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"whatrack/internal/models"
	"whatrack/internal/webhook"
)

// WebhookHandler exposes the provider-facing webhook endpoints.
type WebhookHandler struct {
	db          *gorm.DB
	processor   *webhook.Processor
	verifyToken string
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(db *gorm.DB, processor *webhook.Processor, verifyToken string) (*WebhookHandler, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance (gorm.DB) cannot be nil for webhook handler")
	}
	if processor == nil {
		return nil, fmt.Errorf("webhook processor cannot be nil for webhook handler")
	}
	return &WebhookHandler{db: db, processor: processor, verifyToken: verifyToken}, nil
}

// Verify answers the provider's subscription handshake: echo hub.challenge
// when the verify token matches.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken && h.verifyToken != "" {
		log.Info().Msg("Webhook subscription verified")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}

	log.Warn().Str("mode", mode).Msg("Webhook verification rejected")
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// Receive ingests one webhook delivery. Every delivery is logged to the
// database before processing; a fatal handler error answers 500 so the
// provider redelivers.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read webhook body")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	var payload webhook.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error().Err(err).Msg("Failed to decode webhook payload")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	eventType, accountEvent, _ := webhook.Classify(&payload)
	logged := eventType
	if accountEvent != "" {
		logged = webhook.EventType(accountEvent)
	}

	entry := models.WebhookLog{
		EventType:  string(logged),
		RawBody:    body,
		ReceivedAt: time.Now().UTC(),
	}
	if err := h.db.Create(&entry).Error; err != nil {
		log.Error().Err(err).Msg("Failed to persist webhook log entry")
	}

	log.Info().Str("eventType", string(logged)).Msg("Webhook received")

	if err := h.processor.Process(&payload); err != nil {
		log.Error().Err(err).Str("eventType", string(logged)).Msg("Webhook processing failed")
		if entry.ID != 0 {
			updateErr := h.db.Model(&entry).Update("process_error", err.Error()).Error
			if updateErr != nil {
				log.Error().Err(updateErr).Msg("Failed to record webhook processing error")
			}
		}
		// 500 tells the provider to redeliver (at-least-once contract).
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if entry.ID != 0 {
		if err := h.db.Model(&entry).Update("processed", true).Error; err != nil {
			log.Error().Err(err).Msg("Failed to mark webhook log entry processed")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Health reports process liveness, including database reachability.
func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		log.Error().Err(err).Msg("Health check failed, database unreachable")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
