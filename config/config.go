package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Port        int    `toml:"port"`
	BodyLimitMB int    `toml:"body_limit_mb"`
	DefaultLang string `toml:"default_lang"`
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

type SessionConfig struct {
	TTL              duration `toml:"ttl"`               // Session token lifetime
	VerificationTTL  duration `toml:"verification_ttl"`  // 2FA code lifetime
	PasswordResetTTL duration `toml:"password_reset_ttl"`
	CacheTTL         duration `toml:"cache_ttl"` // Token->user resolution cache
}

type LiveConfig struct {
	QueueSize int      `toml:"queue_size"` // Outbound events buffered per connection
	KeepAlive duration `toml:"keepalive"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console or json
}

type MailConfig struct {
	Enabled            bool   `toml:"enabled"`
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	User               string `toml:"user"`
	Password           string `toml:"password"`
	SenderAddress      string `toml:"sender_address"`
	SenderName         string `toml:"sender_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	RetryCount         int    `toml:"retry_count"`
	RetryBackoffMs     int    `toml:"retry_backoff_ms"`
}

type VerifyConfig struct {
	Enabled    bool     `toml:"enabled"`
	BaseURL    string   `toml:"base_url"`
	AccountSID string   `toml:"account_sid"`
	AuthToken  string   `toml:"auth_token"`
	ServiceSID string   `toml:"service_sid"`
	Timeout    duration `toml:"timeout"`
}

type AuditConfig struct {
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type RateLimitConfig struct {
	Requests int      `toml:"requests"`
	Window   duration `toml:"window"`
}

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Session   SessionConfig   `toml:"session"`
	Live      LiveConfig      `toml:"live"`
	Log       LogConfig       `toml:"log"`
	Mail      MailConfig      `toml:"mail"`
	Verify    VerifyConfig    `toml:"verify"`
	Audit     AuditConfig     `toml:"audit"`
	Metrics   MetricsConfig   `toml:"metrics"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
}

// duration lets TOML carry values like "30s" or "720h"
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file overrides a value
func Default() *Config {
	var config Config

	config.Server.Port = 8000
	config.Server.BodyLimitMB = 10
	config.Server.DefaultLang = "en"

	config.Storage.DataDir = "./data"

	config.Session.TTL.Duration = 30 * 24 * time.Hour
	config.Session.VerificationTTL.Duration = 10 * time.Minute
	config.Session.PasswordResetTTL.Duration = time.Hour
	config.Session.CacheTTL.Duration = time.Minute

	config.Live.QueueSize = 16
	config.Live.KeepAlive.Duration = 30 * time.Second

	config.Log.Level = "info"
	config.Log.Format = "console"

	config.Mail.Port = 587
	config.Mail.SenderAddress = "noreply@gotmail.local"
	config.Mail.SenderName = "GotMail"
	config.Mail.RetryCount = 3
	config.Mail.RetryBackoffMs = 100

	config.Verify.BaseURL = "https://verify.twilio.com/v2"
	config.Verify.Timeout.Duration = 10 * time.Second

	config.Audit.KafkaTopic = "gotmail-audit"

	config.Metrics.Enabled = true
	config.Metrics.Path = "/metrics"

	config.RateLimit.Requests = 100
	config.RateLimit.Window.Duration = time.Minute

	return &config
}

// LoadConfig reads the TOML file at filepath over the defaults and applies
// GOTMAIL_* environment overrides. A missing file is not an error.
func LoadConfig(filepath string) (*Config, error) {
	config := Default()

	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if filepath != "" {
		if _, err := toml.DecodeFile(filepath, config); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to decode %s: %w", filepath, err)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = envInt("GOTMAIL_PORT", c.Server.Port)
	c.Storage.DataDir = envString("GOTMAIL_DATA_DIR", c.Storage.DataDir)
	c.Log.Level = envString("GOTMAIL_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("GOTMAIL_LOG_FORMAT", c.Log.Format)

	c.Mail.Host = envString("GOTMAIL_MAIL_HOST", c.Mail.Host)
	c.Mail.User = envString("GOTMAIL_MAIL_USER", c.Mail.User)
	c.Mail.Password = envString("GOTMAIL_MAIL_PASSWORD", c.Mail.Password)

	c.Verify.AccountSID = envString("TWILIO_ACCOUNT_SID", c.Verify.AccountSID)
	c.Verify.AuthToken = envString("TWILIO_AUTH_TOKEN", c.Verify.AuthToken)
	c.Verify.ServiceSID = envString("TWILIO_VERIFY_SERVICE_SID", c.Verify.ServiceSID)

	if brokers := envString("GOTMAIL_KAFKA_BROKERS", ""); brokers != "" {
		c.Audit.KafkaBrokers = strings.Split(brokers, ",")
	}
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir is required")
	}
	if c.Live.QueueSize <= 0 {
		return fmt.Errorf("live queue_size must be positive")
	}
	if c.Session.TTL.Duration <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if c.Mail.Enabled && c.Mail.Host == "" {
		return fmt.Errorf("mail host is required when mail is enabled")
	}
	if c.Verify.Enabled && (c.Verify.AccountSID == "" || c.Verify.AuthToken == "" || c.Verify.ServiceSID == "") {
		return fmt.Errorf("verify credentials are required when verification is enabled")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window.Duration <= 0 {
		return fmt.Errorf("ratelimit requests and window must be positive")
	}
	return nil
}

func envString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
