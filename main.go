package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"whatrack/config"
	"whatrack/internal/adapters/meta"
	"whatrack/internal/audit"
	"whatrack/internal/connection"
	"whatrack/internal/db"
	"whatrack/internal/handlers"
	"whatrack/internal/models"
	"whatrack/internal/realtime"
	"whatrack/internal/services"
	"whatrack/internal/webhook"
	"whatrack/pkg/logger"
)

func main() {
	logger.InitLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	database, err := db.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := db.MigrateDB(database, models.All()...); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	connStore, err := connection.NewStore(database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create connection store")
	}

	publisher := realtime.NewAMQPPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueuePrefix)
	defer publisher.Close()

	auditRec, err := audit.NewRecorder(database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create audit recorder")
	}

	graphClient := meta.NewClient(cfg.MetaGraphBaseURL, cfg.MetaGraphToken)
	if graphClient == nil {
		log.Info().Msg("META_GRAPH_TOKEN not set, attribution enrichment disabled")
	}
	enricher, err := services.NewEnricher(database, graphClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create enricher")
	}

	messageSvc, err := services.NewMessageService(database, connStore, publisher, enricher, cfg.DefaultTicketStageID, cfg.TicketExpirationDays)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create message service")
	}
	historySvc, err := services.NewHistoryService(database, connStore)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create history service")
	}
	stateSyncSvc, err := services.NewStateSyncService(database, connStore)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create state sync service")
	}
	onboardingSvc, err := services.NewOnboardingService(database, connStore, auditRec)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create onboarding service")
	}

	processor, err := webhook.NewProcessor(webhook.Handlers{
		Messages:      messageSvc.ProcessMessages,
		History:       historySvc.ProcessHistory,
		StateSync:     stateSyncSvc.ProcessStateSync,
		AccountUpdate: onboardingSvc.HandleAccountUpdate,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create webhook processor")
	}

	webhookHandler, err := handlers.NewWebhookHandler(database, processor, cfg.VerifyToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create webhook handler")
	}

	router := mux.NewRouter()
	chain := alice.New(requestLogger, recoverer)
	router.Handle(cfg.WebhookPath, chain.ThenFunc(webhookHandler.Verify)).Methods(http.MethodGet)
	router.Handle(cfg.WebhookPath, chain.ThenFunc(webhookHandler.Receive)).Methods(http.MethodPost)
	router.Handle("/health", chain.ThenFunc(webhookHandler.Health)).Methods(http.MethodGet)

	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	addr := ":" + port
	log.Info().Str("addr", addr).Str("webhookPath", cfg.WebhookPath).Msg("Starting webhook server")
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

// requestLogger logs each request with latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	})
}

// recoverer answers 500 on handler panics so a single bad payload cannot
// take the process down.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Recovered from handler panic")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
