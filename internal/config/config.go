// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// chat transport, the record store, issuance timeouts, the ops HTTP server,
// logging, rate limiting and observability.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/tbourn/go-access-bot/internal/sysutil"
)

// Store drivers.
const (
	DriverSheets = "sheets"
	DriverSQLite = "sqlite"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          `env:"ENABLE_HSTS" envDefault:"false"`
	HSTSMaxAge time.Duration `env:"HSTS_MAX_AGE" envDefault:"4320h"`
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"go-access-bot"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1.0"` // [0..1]
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Driver             string `env:"STORE_DRIVER" envDefault:"sheets"` // sheets|sqlite
	SpreadsheetID      string `env:"SPREADSHEET_ID"`
	ServiceAccountJSON string `env:"GOOGLE_SERVICE_ACCOUNT_JSON"` // JSON document or path to one
	SQLitePath         string `env:"SQLITE_PATH" envDefault:"sheet.db"`

	SheetName        string `env:"SHEET_NAME" envDefault:"КУРС"`
	EmailColumn      string `env:"EMAIL_COLUMN_NAME" envDefault:"Email"`
	CodeColumn       string `env:"CODE_COLUMN_NAME" envDefault:"AccessCode"`
	TelegramIDColumn string `env:"TELEGRAM_ID_COLUMN_NAME" envDefault:"TelegramID"`

	Timeout    time.Duration `env:"STORE_TIMEOUT" envDefault:"10s"` // whole read-modify-write
	GateWait   time.Duration `env:"GATE_WAIT" envDefault:"30s"`
	ColumnsTTL time.Duration `env:"COLUMNS_TTL" envDefault:"1m"`
}

// BotConfig configures the chat side.
type BotConfig struct {
	Token          string `env:"BOT_TOKEN"`
	WebhookURL     string `env:"WEBHOOK_URL"` // empty → long polling
	WebhookSecret  string `env:"WEBHOOK_SECRET"`
	AdminChatID    int64  `env:"ADMIN_CHAT_ID" envDefault:"0"` // 0 disables operator features
	SupportContact string `env:"SUPPORT_CONTACT"`
	DeepLinkParam  string `env:"DEEP_LINK_PARAM" envDefault:"course_access"`
	LessonsURL     string `env:"LESSONS_URL"`
	AccessPassword string `env:"ACCESS_PASSWORD"`
	MessagesFile   string `env:"MESSAGES_FILE"`

	MaxConcurrentEvents int           `env:"MAX_CONCURRENT_EVENTS" envDefault:"64"`
	UpdateDedupTTL      time.Duration `env:"UPDATE_DEDUP_TTL" envDefault:"10m"`
	NotifyQueue         int           `env:"NOTIFY_QUEUE" envDefault:"64"`

	// Per-subscriber token bucket.
	RateRPS   float64 `env:"RATE_RPS" envDefault:"0.5"`
	RateBurst int     `env:"RATE_BURST" envDefault:"5"`
}

// Config holds all configuration values for the application.
type Config struct {
	// Ops HTTP server
	Port              string        `env:"PORT" envDefault:"8080"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"20s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"MAX_HEADER_BYTES" envDefault:"1048576"`
	GinMode           string        `env:"GIN_MODE" envDefault:"release"` // debug|release|test

	// Logging / Docs
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"` // debug|info|warn|error|fatal|panic
	LogPretty      bool   `env:"LOG_PRETTY" envDefault:"false"`
	SwaggerEnabled bool   `env:"SWAGGER_ENABLED" envDefault:"false"`

	Bot   BotConfig
	Store StoreConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// Load reads the full configuration needed to run the bot: everything
// LoadStore checks plus the chat transport settings.
func Load() (Config, error) {
	cfg, err := LoadStore()
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.validateBot()
}

// LoadStore reads configuration for commands that only touch the record
// store (diagnostics, imports). Bot settings are parsed but not required.
func LoadStore() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(false): parseBool,
		},
	}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	return cfg, cfg.validate()
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	c.GinMode = strings.ToLower(strings.TrimSpace(c.GinMode))
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.CORS.AllowedOrigins = compact(c.CORS.AllowedOrigins)
	c.Bot.DeepLinkParam = strings.TrimSpace(c.Bot.DeepLinkParam)
}

func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if c.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}

	switch c.Store.Driver {
	case DriverSheets:
		if strings.TrimSpace(c.Store.SpreadsheetID) == "" {
			return errors.New("SPREADSHEET_ID is required for the sheets driver")
		}
		if strings.TrimSpace(c.Store.ServiceAccountJSON) == "" {
			return errors.New("GOOGLE_SERVICE_ACCOUNT_JSON is required for the sheets driver")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return errors.New("SQLITE_PATH must not be empty")
		}
	default:
		return errors.New("STORE_DRIVER must be one of: sheets, sqlite")
	}
	if strings.TrimSpace(c.Store.SheetName) == "" {
		return errors.New("SHEET_NAME must not be empty")
	}
	if strings.TrimSpace(c.Store.EmailColumn) == "" || strings.TrimSpace(c.Store.CodeColumn) == "" {
		return errors.New("EMAIL_COLUMN_NAME and CODE_COLUMN_NAME must not be empty")
	}
	if c.Store.Timeout <= 0 || c.Store.GateWait <= 0 {
		return errors.New("STORE_TIMEOUT and GATE_WAIT must be > 0")
	}
	if c.Store.ColumnsTTL < 0 {
		return errors.New("COLUMNS_TTL must be >= 0")
	}

	if c.Bot.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if c.Bot.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if c.Bot.MaxConcurrentEvents < 1 {
		return errors.New("MAX_CONCURRENT_EVENTS must be >= 1")
	}
	if c.Bot.NotifyQueue < 1 {
		return errors.New("NOTIFY_QUEUE must be >= 1")
	}
	if c.Bot.UpdateDedupTTL <= 0 {
		return errors.New("UPDATE_DEDUP_TTL must be > 0")
	}
	if c.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

func (c *Config) validateBot() error {
	if strings.TrimSpace(c.Bot.Token) == "" {
		return errors.New("BOT_TOKEN is required")
	}
	if strings.TrimSpace(c.Bot.LessonsURL) == "" {
		return errors.New("LESSONS_URL is required")
	}
	if u, err := url.Parse(c.Bot.LessonsURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("LESSONS_URL must be an absolute URL")
	}
	if strings.TrimSpace(c.Bot.AccessPassword) == "" {
		return errors.New("ACCESS_PASSWORD is required")
	}
	if c.Bot.WebhookURL != "" {
		if u, err := url.Parse(c.Bot.WebhookURL); err != nil || u.Scheme != "https" || u.Host == "" {
			return errors.New("WEBHOOK_URL must be an absolute https URL")
		}
		if strings.TrimSpace(c.Bot.WebhookSecret) == "" {
			return errors.New("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
		}
	}
	return nil
}

// ServiceAccount returns the Google service account document. The setting
// holds either the JSON itself or a path to a file containing it.
func (s StoreConfig) ServiceAccount() ([]byte, error) {
	v := strings.TrimSpace(s.ServiceAccountJSON)
	if v == "" {
		return nil, errors.New("GOOGLE_SERVICE_ACCOUNT_JSON is empty")
	}
	if strings.HasPrefix(v, "{") {
		return []byte(v), nil
	}
	b, err := os.ReadFile(v)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return b, nil
}

// Webhook reports whether updates arrive by webhook instead of polling.
func (b BotConfig) Webhook() bool { return b.WebhookURL != "" }

// ---- helpers ----

func parseBool(v string) (any, error) {
	switch {
	case sysutil.IsTruthy(v):
		return true, nil
	case sysutil.IsFalsy(v), strings.TrimSpace(v) == "":
		return false, nil
	}
	return nil, fmt.Errorf("invalid boolean %q", v)
}

func compact(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, p := range in {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
