package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"prenotazioni/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App              AppConfig             `yaml:"app"`
	Telegram         TelegramConfig        `yaml:"telegram"`
	Database         DatabaseConfig        `yaml:"database"`
	Redis            RedisConfig           `yaml:"redis"`
	Backup           BackupConfig          `yaml:"backup"`
	Monitoring       MonitoringConfig      `yaml:"monitoring"`
	Logging          LoggingConfig         `yaml:"logging"`
	API              APIConfig             `yaml:"api"`
	Kafka            KafkaConfig           `yaml:"kafka"`
	Booking          BookingConfig         `yaml:"booking"`
	Invoice          InvoiceConfig         `yaml:"invoice"`
	Cleaning         CleaningConfig        `yaml:"cleaning"`
	Notifications    NotificationsConfig   `yaml:"notifications"`
	Properties       []PropertySeed        `yaml:"properties"`
	CleaningServices []CleaningServiceSeed `yaml:"cleaning_services"`
}

type BookingConfig struct {
	DateLayout        string   `yaml:"date_layout"`
	Timezone          string   `yaml:"timezone"`
	SessionTTLMinutes int      `yaml:"session_ttl_minutes"`
	IntentPhrases     []string `yaml:"intent_phrases"`
	AssistantTimeout  int      `yaml:"assistant_timeout_seconds"`
	RateLimitMessages int      `yaml:"rate_limit_messages"`
	RateLimitWindow   int      `yaml:"rate_limit_window"`
}

// SessionTTL returns the idle timeout of a booking dialogue.
func (b BookingConfig) SessionTTL() time.Duration {
	return time.Duration(b.SessionTTLMinutes) * time.Minute
}

// Location resolves the configured timezone, falling back to UTC.
func (b BookingConfig) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type InvoiceConfig struct {
	// nil means DefaultTaxRatePercent; an explicit 0 is a tax-exempt deployment
	TaxRatePercent  *float64 `yaml:"tax_rate_percent"`
	YearScoped      bool     `yaml:"year_scoped"`
	AutoGenerate    bool     `yaml:"auto_generate"`
	RenderTimeoutMS int      `yaml:"render_timeout_ms"`
	IssuerName      string   `yaml:"issuer_name"`
	IssuerAddress   string   `yaml:"issuer_address"`
	IssuerVATID     string   `yaml:"issuer_vat_id"`
}

// TaxRate returns the configured rate as a percentage.
func (i InvoiceConfig) TaxRate() float64 {
	if i.TaxRatePercent == nil {
		return models.DefaultTaxRatePercent
	}
	return *i.TaxRatePercent
}

// RenderTimeout bounds a single document rendering.
func (i InvoiceConfig) RenderTimeout() time.Duration {
	return time.Duration(i.RenderTimeoutMS) * time.Millisecond
}

type CleaningConfig struct {
	DelayHours   int `yaml:"delay_hours"`
	UpcomingDays int `yaml:"upcoming_days"`
}

// Delay is the gap between a checkout and the cleaning it triggers.
func (c CleaningConfig) Delay() time.Duration {
	return time.Duration(c.DelayHours) * time.Hour
}

type NotificationsConfig struct {
	OperatorChatIDs []int64 `yaml:"operator_chat_ids"`
	MaxRetries      int     `yaml:"max_retries"`
	InitialDelayMS  int     `yaml:"initial_delay_ms"`
	MaxDelayMS      int     `yaml:"max_delay_ms"`
	PollIntervalMS  int     `yaml:"poll_interval_ms"`
	DispatchTimeout int     `yaml:"dispatch_timeout_seconds"`
}

type PropertySeed struct {
	Name            string   `yaml:"name"`
	Type            string   `yaml:"type"`
	Address         string   `yaml:"address"`
	City            string   `yaml:"city"`
	Bedrooms        int      `yaml:"bedrooms"`
	Bathrooms       int      `yaml:"bathrooms"`
	MaxGuests       int      `yaml:"max_guests"`
	BasePrice       float64  `yaml:"base_price"`
	CleaningFee     float64  `yaml:"cleaning_fee"`
	Amenities       []string `yaml:"amenities"`
	CleaningService string   `yaml:"cleaning_service"`
	Status          string   `yaml:"status"`
}

type CleaningServiceSeed struct {
	Name       string `yaml:"name"`
	Phone      string `yaml:"phone"`
	Email      string `yaml:"email"`
	SMSEnabled bool   `yaml:"sms_enabled"`
	Default    bool   `yaml:"default"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env è opzionale
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" || c.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		return errors.New("telegram bot token is required")
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if rate := c.Invoice.TaxRate(); rate < 0 || rate >= 100 {
		return fmt.Errorf("invoice.tax_rate_percent must be in [0,100), got %v", rate)
	}

	if c.Cleaning.DelayHours < models.MinCleaningDelayHours || c.Cleaning.DelayHours > models.MaxCleaningDelayHours {
		return fmt.Errorf("cleaning.delay_hours must be between %d and %d, got %d",
			models.MinCleaningDelayHours, models.MaxCleaningDelayHours, c.Cleaning.DelayHours)
	}

	if c.Booking.Timezone != "" {
		if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
			return fmt.Errorf("invalid booking.timezone: %w", err)
		}
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("kafka.brokers and kafka.topic are required when kafka is enabled")
	}

	if err := ValidateCleaningServices(c.CleaningServices); err != nil {
		return err
	}

	return ValidateProperties(c.Properties, c.CleaningServices)
}

func ValidateCleaningServices(services []CleaningServiceSeed) error {
	names := make(map[string]bool)
	defaults := 0
	for _, s := range services {
		key := strings.ToLower(strings.TrimSpace(s.Name))
		if key == "" {
			return errors.New("cleaning service with empty name")
		}
		if names[key] {
			return fmt.Errorf("duplicate cleaning service name: %s", s.Name)
		}
		names[key] = true
		if s.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("only one default cleaning service allowed, found %d", defaults)
	}
	return nil
}

func ValidateProperties(properties []PropertySeed, services []CleaningServiceSeed) error {
	known := make(map[string]bool, len(services))
	for _, s := range services {
		known[strings.ToLower(strings.TrimSpace(s.Name))] = true
	}

	names := make(map[string]bool)
	for _, p := range properties {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if key == "" {
			return errors.New("property with empty name")
		}
		if names[key] {
			return fmt.Errorf("duplicate property name: %s", p.Name)
		}
		names[key] = true

		if p.MaxGuests <= 0 {
			return fmt.Errorf("property '%s' must allow at least one guest", p.Name)
		}
		if p.BasePrice < 0 || p.CleaningFee < 0 {
			return fmt.Errorf("property '%s' has negative prices", p.Name)
		}
		if p.Status != "" && !models.PropertyStatus(p.Status).Valid() {
			return fmt.Errorf("property '%s' has invalid status %q", p.Name, p.Status)
		}
		if p.CleaningService != "" && !known[strings.ToLower(strings.TrimSpace(p.CleaningService))] {
			return fmt.Errorf("property '%s' references unknown cleaning service '%s'", p.Name, p.CleaningService)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Booking.DateLayout == "" {
		c.Booking.DateLayout = models.DefaultDateLayout
	}
	if c.Booking.SessionTTLMinutes == 0 {
		c.Booking.SessionTTLMinutes = models.DefaultSessionTTLMinutes
	}
	if len(c.Booking.IntentPhrases) == 0 {
		c.Booking.IntentPhrases = models.DefaultIntentPhrases()
	}
	if c.Booking.AssistantTimeout == 0 {
		c.Booking.AssistantTimeout = models.DefaultAssistantTimeoutSeconds
	}
	if c.Booking.RateLimitMessages == 0 {
		c.Booking.RateLimitMessages = models.RateLimitMessages
	}
	if c.Booking.RateLimitWindow == 0 {
		c.Booking.RateLimitWindow = models.RateLimitWindow
	}

	if c.Invoice.TaxRatePercent == nil {
		rate := models.DefaultTaxRatePercent
		c.Invoice.TaxRatePercent = &rate
	}
	if c.Invoice.RenderTimeoutMS == 0 {
		c.Invoice.RenderTimeoutMS = models.DefaultRenderTimeoutMS
	}

	if c.Cleaning.DelayHours == 0 {
		c.Cleaning.DelayHours = models.DefaultCleaningDelayHours
	}
	if c.Cleaning.UpcomingDays == 0 {
		c.Cleaning.UpcomingDays = models.DefaultUpcomingCleaningDays
	}

	if c.Notifications.MaxRetries == 0 {
		c.Notifications.MaxRetries = 5
	}
	if c.Notifications.InitialDelayMS == 0 {
		c.Notifications.InitialDelayMS = 2000
	}
	if c.Notifications.MaxDelayMS == 0 {
		c.Notifications.MaxDelayMS = 60000
	}
	if c.Notifications.PollIntervalMS == 0 {
		c.Notifications.PollIntervalMS = 5000
	}
	if c.Notifications.DispatchTimeout == 0 {
		c.Notifications.DispatchTimeout = 10
	}

	if c.Backup.Enabled && c.Backup.IntervalHours == 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.Enabled && c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "prenotazioni.events"
	}
}
