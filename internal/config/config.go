package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by the server. Each one overrides the
// corresponding config file field.
const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvMongoURI      = "MONGODB_URI"
	EnvDatabaseURL   = "DATABASE_URL"
	EnvSessionSecret = "SESSION_SECRET"
	EnvGroqAPIKey    = "GROQ_API_KEY"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvSMTPAddr      = "SMTP_ADDR"
)

// defaultSessionExpiry is used when the config omits or invalidates expiry.
const defaultSessionExpiry = 7 * 24 * time.Hour

// AuthConfig holds session and verification settings.
type AuthConfig struct {
	SessionSecret       string        `yaml:"session-secret"`
	SessionExpiry       time.Duration `yaml:"session-expiry"`
	RequireVerification bool          `yaml:"require-verification"`
	PurgeUserData       bool          `yaml:"purge-user-data"`
}

// LLMConfig holds upstream completion API settings.
type LLMConfig struct {
	APIKey  string `yaml:"api-key"`
	BaseURL string `yaml:"base-url"`
}

// RedisConfig holds optional Redis settings for rate limiting.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// EmailConfig holds OTP mail delivery settings.
type EmailConfig struct {
	SMTPAddr string `yaml:"smtp-addr"`
	From     string `yaml:"from"`
}

// Config is the resolved server configuration.
type Config struct {
	Port int `yaml:"port"`

	// Backend selection inputs, probed in order: Mongo, relational, memory.
	MongoURI    string `yaml:"mongo-uri"`
	DatabaseDSN string `yaml:"database-dsn"`

	Auth      AuthConfig  `yaml:"auth"`
	LLM       LLMConfig   `yaml:"llm"`
	Redis     RedisConfig `yaml:"redis"`
	RateLimit int         `yaml:"rate-limit"`
	Email     EmailConfig `yaml:"email"`
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the YAML config file, applies env overrides, and fills defaults.
// A missing config file is not an error; env-only configuration is supported.
func Load(configPath string) (Config, error) {
	var cfg Config

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	} else if !os.IsNotExist(errRead) {
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if uri := strings.TrimSpace(os.Getenv(EnvMongoURI)); uri != "" {
		cfg.MongoURI = uri
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvDatabaseURL)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvSessionSecret)); secret != "" {
		cfg.Auth.SessionSecret = secret
	}
	if key := strings.TrimSpace(os.Getenv(EnvGroqAPIKey)); key != "" {
		cfg.LLM.APIKey = key
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.Redis.Addr = addr
	}
	if addr := strings.TrimSpace(os.Getenv(EnvSMTPAddr)); addr != "" {
		cfg.Email.SMTPAddr = addr
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = 5000
	}
	if cfg.Auth.SessionExpiry <= 0 {
		cfg.Auth.SessionExpiry = defaultSessionExpiry
	}
	if cfg.RateLimit < 0 {
		cfg.RateLimit = 0
	}
	if cfg.Redis.DB < 0 {
		cfg.Redis.DB = 0
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "parley:rl"
	}
}

// ParsePort parses a port value from a string, used by flag handling.
func ParsePort(raw string) (int, error) {
	port, errParse := strconv.Atoi(strings.TrimSpace(raw))
	if errParse != nil {
		return 0, fmt.Errorf("invalid port: %q", raw)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port: %d", port)
	}
	return port, nil
}
