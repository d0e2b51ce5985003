package config

import (
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN renders the lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// Config is the portal-consent service configuration, env-driven.
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled bool
	Database  DatabaseConfig
	Redis     struct {
		Enabled  bool
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}
	// Gateway points at the remote portal backend. When BaseURL is empty
	// the service runs against its own repositories instead.
	Gateway struct {
		BaseURL     string
		MaxAttempts int
	}
	Consent ConsentConfig
	MQTT    MQTTConfig
}

// ConsentConfig carries the engine knobs.
type ConsentConfig struct {
	MainStudyID          string
	StockAgreementMarker string
	DefaultAgreementURL  string
	ActorID              string
	CacheTTL             time.Duration
}

// MQTTConfig configures the consent event publisher (disabled by default).
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	// Default to true for local dev: when the DB is unavailable the
	// service falls back to in-memory repositories.
	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "portal")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Enabled = getEnv("REDIS_ENABLED", "false") == "true"
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Gateway.BaseURL = getEnv("PORTAL_GATEWAY_URL", "")
	cfg.Gateway.MaxAttempts = parseInt(getEnv("PORTAL_GATEWAY_MAX_ATTEMPTS", "3"), 3)

	cfg.Consent.MainStudyID = getEnv("CONSENT_MAIN_STUDY_ID", "0")
	cfg.Consent.StockAgreementMarker = getEnv("CONSENT_STOCK_AGREEMENT_MARKER", "standard-consent")
	cfg.Consent.DefaultAgreementURL = getEnv("CONSENT_DEFAULT_AGREEMENT_URL", "")
	cfg.Consent.ActorID = getEnv("CONSENT_ACTOR_ID", "portal-consent")
	cfg.Consent.CacheTTL = time.Duration(parseInt(getEnv("CONSENT_CACHE_TTL_SECONDS", "300"), 300)) * time.Second

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "portal-consent")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "portal/consent-events")

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
