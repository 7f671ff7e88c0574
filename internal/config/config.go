package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice agent bridge
type Config struct {
	// Server configuration (health, readiness, metrics)
	Port string `envconfig:"PORT" default:"8080"`

	// CRM API configuration
	CRMBaseURL      string `envconfig:"CRM_BASE_URL" default:"https://crm.tripandevent.com/api"`
	CRMEmail        string `envconfig:"CRM_EMAIL" required:"true"`
	CRMPassword     string `envconfig:"CRM_PASSWORD" required:"true"`
	CRMTimeout      int    `envconfig:"CRM_TIMEOUT" default:"10"`       // Per-request timeout in seconds
	CRMLoginTimeout int    `envconfig:"CRM_LOGIN_TIMEOUT" default:"20"` // Login may hit a cold-starting server

	// Avatar (lip-sync) service configuration
	AvatarAPIBase string `envconfig:"AVATAR_API_BASE" default:"https://api.liveavatar.com"`
	AvatarAPIKey  string `envconfig:"AVATAR_API_KEY" required:"true"`
	AvatarID      string `envconfig:"AVATAR_ID" default:"7299c55d-1f45-482d-915c-e5efdc9dd266"`

	// Real-time room configuration (avatar joins the room to publish video)
	RoomServerURL string `envconfig:"ROOM_SERVER_URL" default:""`
	RoomAPIKey    string `envconfig:"ROOM_API_KEY" default:""`
	RoomAPISecret string `envconfig:"ROOM_API_SECRET" default:""`

	// Audio tap configuration
	AvatarSampleRate int `envconfig:"AVATAR_SAMPLE_RATE" default:"24000"` // Avatar expects 24kHz mono PCM
	AudioQueueSize   int `envconfig:"AUDIO_QUEUE_SIZE" default:"500"`     // Queued buffers before dropping

	// Keep-alive intervals in seconds
	ChannelKeepAliveInterval int `envconfig:"CHANNEL_KEEP_ALIVE_INTERVAL" default:"60"`
	RestKeepAliveInterval    int `envconfig:"REST_KEEP_ALIVE_INTERVAL" default:"30"`

	// Warmup login retry configuration
	WarmupMaxAttempts    int `envconfig:"WARMUP_MAX_ATTEMPTS" default:"3"`
	WarmupInitialBackoff int `envconfig:"WARMUP_INITIAL_BACKOFF" default:"500"` // Initial backoff in milliseconds

	// Feature flags
	EnablePackageSearch bool `envconfig:"ENABLE_PACKAGE_SEARCH" default:"true"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Validate required fields
	if cfg.CRMEmail == "" || cfg.CRMPassword == "" {
		return nil, fmt.Errorf("CRM_EMAIL and CRM_PASSWORD are required")
	}
	if cfg.AvatarAPIKey == "" {
		return nil, fmt.Errorf("AVATAR_API_KEY is required")
	}

	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
