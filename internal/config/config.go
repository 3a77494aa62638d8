// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Twitter     TwitterConfig
	Gemini      GeminiConfig
	Geo         GeoConfig
	Stream      StreamConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration for the persistent geocode
// cache tier. Disabled means the resolver runs with the in-memory tier only.
type DatabaseConfig struct {
	Enabled      bool
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// NATSConfig holds event bus configuration. Disabled means cluster events
// are served to direct subscribers only.
type NATSConfig struct {
	Enabled        bool
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// TwitterConfig holds record source configuration
type TwitterConfig struct {
	BearerToken  string
	PollInterval time.Duration
	PageSize     int
}

// GeminiConfig holds LLM inference configuration. An empty APIKey selects
// the deterministic keyword-table inferrers instead.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeoConfig holds geocoding configuration
type GeoConfig struct {
	NominatimURL string
	UserAgent    string
	MinInterval  time.Duration
	CacheSize    int
}

// StreamConfig holds stream processing configuration
type StreamConfig struct {
	QueueCap          int
	HeartbeatInterval time.Duration
	MemberCap         int
	EnrichTimeout     time.Duration
	EventsSubject     string
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout: getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			// Zero keeps long-lived SSE and websocket subscribers alive.
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 0),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Enabled:      getEnvAsBool("DB_ENABLED", false),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "pulsemap"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			Enabled:        getEnvAsBool("NATS_ENABLED", false),
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Twitter: TwitterConfig{
			BearerToken:  getEnv("TWITTER_BEARER_TOKEN", ""),
			PollInterval: getEnvAsDuration("TWITTER_POLL_INTERVAL", 2*time.Minute),
			PageSize:     getEnvAsInt("TWITTER_PAGE_SIZE", 100),
		},
		Gemini: GeminiConfig{
			APIKey: getEnv("GEMINI_API_KEY", ""),
			Model:  getEnv("GEMINI_MODEL", "gemini-flash-latest"),
		},
		Geo: GeoConfig{
			NominatimURL: getEnv("GEO_NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
			UserAgent:    getEnv("GEO_USER_AGENT", "pulsemap/1.0"),
			MinInterval:  getEnvAsDuration("GEO_MIN_INTERVAL", 1100*time.Millisecond),
			CacheSize:    getEnvAsInt("GEO_CACHE_SIZE", 1000),
		},
		Stream: StreamConfig{
			QueueCap:          getEnvAsInt("STREAM_QUEUE_CAP", 64),
			HeartbeatInterval: getEnvAsDuration("STREAM_HEARTBEAT_INTERVAL", 15*time.Second),
			MemberCap:         getEnvAsInt("STREAM_MEMBER_CAP", 50),
			EnrichTimeout:     getEnvAsDuration("STREAM_ENRICH_TIMEOUT", 10*time.Second),
			EventsSubject:     getEnv("STREAM_EVENTS_SUBJECT", "stream"),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	if config.Twitter.BearerToken == "" {
		return fmt.Errorf("twitter bearer token must be set")
	}
	if config.Geo.MinInterval <= 0 {
		return fmt.Errorf("geocoding interval must be positive")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
