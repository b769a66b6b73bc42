package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers accepted by GOSLASH_STORE.
const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// ServerConfig holds settings for the hub process.
type ServerConfig struct {
	ListenAddr      string   `env:"GOSLASH_LISTEN_ADDR" envDefault:":9000"`
	HTTPAddr        string   `env:"GOSLASH_HTTP_ADDR" envDefault:":9080"`
	AllowedOrigins  []string `env:"GOSLASH_ALLOWED_ORIGINS" envSeparator:","`
	Store           string   `env:"GOSLASH_STORE" envDefault:"sqlite"`
	Database        DatabaseConfig
	Mongo           MongoConfig
	Redis           RedisConfig
	JWT             JWTConfig
	Hub             HubConfig
	Log             LogConfig
	ReadTimeout     time.Duration `env:"GOSLASH_READ_TIMEOUT" envDefault:"2m"`
	WriteTimeout    time.Duration `env:"GOSLASH_WRITE_TIMEOUT" envDefault:"15s"`
	MaxFrameBytes   int           `env:"GOSLASH_MAX_FRAME_BYTES" envDefault:"1048576"`
	ShutdownTimeout time.Duration `env:"GOSLASH_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// ClientConfig holds settings for the terminal client.
type ClientConfig struct {
	ServerAddr    string `env:"GOSLASH_SERVER_ADDR" envDefault:"localhost:9000"`
	CommandPrefix string `env:"GOSLASH_COMMAND_PREFIX" envDefault:"/"`
}

// DatabaseConfig captures SQLite storage configuration.
type DatabaseConfig struct {
	Path string `env:"GOSLASH_DB_PATH" envDefault:"goslash.db"`
}

// MongoConfig captures document storage configuration.
type MongoConfig struct {
	URI      string `env:"GOSLASH_MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"GOSLASH_MONGO_DATABASE" envDefault:"goslash"`
}

// RedisConfig enables the presence mirror when Addr is set.
type RedisConfig struct {
	Addr     string        `env:"GOSLASH_REDIS_ADDR"`
	Password string        `env:"GOSLASH_REDIS_PASSWORD"`
	DB       int           `env:"GOSLASH_REDIS_DB" envDefault:"0"`
	TTL      time.Duration `env:"GOSLASH_REDIS_PRESENCE_TTL" envDefault:"24h"`
}

// JWTConfig defines token issuance parameters.
type JWTConfig struct {
	Secret     string        `env:"GOSLASH_JWT_SECRET" envDefault:"replace-me"`
	Issuer     string        `env:"GOSLASH_JWT_ISSUER" envDefault:"goslash"`
	Expiration time.Duration `env:"GOSLASH_JWT_EXPIRATION" envDefault:"24h"`
}

// HubConfig tunes the fan-out engine.
type HubConfig struct {
	TypingTimeout    time.Duration `env:"GOSLASH_TYPING_TIMEOUT" envDefault:"3s"`
	PresenceInterval time.Duration `env:"GOSLASH_PRESENCE_INTERVAL" envDefault:"30s"`
	SendBuffer       int           `env:"GOSLASH_SEND_BUFFER" envDefault:"64"`
	HistoryLimit     int           `env:"GOSLASH_HISTORY_LIMIT" envDefault:"50"`
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Level  string `env:"GOSLASH_LOG_LEVEL" envDefault:"info"`
	Format string `env:"GOSLASH_LOG_FORMAT" envDefault:"json"`
}

// DefaultHubConfig returns the timings the hub uses when none are configured.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		TypingTimeout:    3 * time.Second,
		PresenceInterval: 30 * time.Second,
		SendBuffer:       64,
		HistoryLimit:     50,
	}
}

// LoadServerConfig builds the server configuration from environment variables with sensible defaults.
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.Store {
	case StoreSQLite, StoreMongo, StoreMemory:
	default:
		return cfg, fmt.Errorf("unsupported store %q", cfg.Store)
	}
	return cfg, nil
}

// LoadClientConfig builds the client configuration from environment variables.
func LoadClientConfig() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "/"
	}
	return cfg, nil
}

// Prefix returns the first rune of the configured command prefix.
func (c ClientConfig) Prefix() rune {
	for _, r := range c.CommandPrefix {
		return r
	}
	return '/'
}
