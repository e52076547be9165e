package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port                  string
	DatabaseURL           string
	VerifyToken           string // Token expected on the Meta webhook verification handshake
	WebhookPath           string // Path for incoming Meta webhooks
	RabbitMQURL           string
	RabbitMQQueuePrefix   string
	MetaGraphBaseURL      string
	MetaGraphToken        string
	TicketExpirationDays  int // Default ticket expiration window in days (per-connection override wins)
	DefaultTicketStageID  string
	LogLevel              string
	LogFormat             string
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present; environment variables take precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Port:                 os.Getenv("PORT"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		VerifyToken:          os.Getenv("VERIFY_TOKEN"),
		WebhookPath:          os.Getenv("WEBHOOK_PATH"),
		RabbitMQURL:          os.Getenv("RABBITMQ_URL"),
		RabbitMQQueuePrefix:  os.Getenv("RABBITMQ_QUEUE_PREFIX"),
		MetaGraphBaseURL:     os.Getenv("META_GRAPH_BASE_URL"),
		MetaGraphToken:       os.Getenv("META_GRAPH_TOKEN"),
		DefaultTicketStageID: os.Getenv("DEFAULT_TICKET_STAGE_ID"),
		LogLevel:             os.Getenv("LOG_LEVEL"),
		LogFormat:            os.Getenv("LOG_FORMAT"),
	}

	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhooks/meta" // Default path
		log.Info().Str("path", cfg.WebhookPath).Msg("WEBHOOK_PATH not set, using default")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "whatrack.db"
		log.Info().Str("database_url", cfg.DatabaseURL).Msg("DATABASE_URL not set, using default")
	}
	if cfg.RabbitMQQueuePrefix == "" {
		cfg.RabbitMQQueuePrefix = "whatrack"
	}
	if cfg.MetaGraphBaseURL == "" {
		cfg.MetaGraphBaseURL = "https://graph.facebook.com/v21.0"
	}
	if cfg.DefaultTicketStageID == "" {
		cfg.DefaultTicketStageID = "new"
	}

	cfg.TicketExpirationDays = 30
	if v := os.Getenv("TICKET_EXPIRATION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			log.Warn().Str("value", v).Msg("Invalid TICKET_EXPIRATION_DAYS, using default of 30")
		} else {
			cfg.TicketExpirationDays = days
		}
	}

	return cfg, nil
}
