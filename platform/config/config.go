// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetPublicBaseURL() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// TwilioConfig provides settings for the Twilio telephony gateway.
type TwilioConfig interface {
	GetTwilioAccountSID() string
	GetTwilioAuthToken() string
	GetTwilioNumber() string
	GetBusinessNumber() string
	GetCallTimeout() time.Duration
	IsTwilioEnabled() bool
}

// CaptchaConfig provides settings for reCAPTCHA verification.
type CaptchaConfig interface {
	GetRecaptchaSecret() string
	GetRecaptchaVerifyURL() string
	IsCaptchaEnabled() bool
}

// RateLimitConfig provides settings for the abuse rate limiter.
type RateLimitConfig interface {
	GetRedisURL() string
	GetRateLimitPerMinute() int
	GetRateLimitPerHour() int
	GetRateLimitPerDay() int
}

// HoursConfig provides the business-hours window settings.
type HoursConfig interface {
	GetBusinessHoursStart() string
	GetBusinessHoursEnd() string
	GetBusinessTimezone() string
	GetBusinessWeekdaysOnly() bool
}

// SchedulerConfig provides settings for the asynq task scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetCallExpiry() time.Duration
}

// NotificationConfig provides settings for business email notifications.
type NotificationConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetBusinessEmail() string
	IsEmailEnabled() bool
}

// =============================================================================
// Config struct
// =============================================================================

// Config holds all application configuration loaded from the environment.
type Config struct {
	Env                  string
	HTTPAddr             string
	PublicBaseURL        string
	DatabaseURL          string
	CORSAllowAll         bool
	CORSOrigins          []string
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioNumber         string
	BusinessNumber       string
	CallTimeout          time.Duration
	RecaptchaSecret      string
	RecaptchaVerifyURL   string
	RedisURL             string
	RateLimitPerMinute   int
	RateLimitPerHour     int
	RateLimitPerDay      int
	BusinessHoursStart   string
	BusinessHoursEnd     string
	BusinessTimezone     string
	BusinessWeekdaysOnly bool
	AsynqQueueName       string
	AsynqConcurrency     int
	CallExpiry           time.Duration
	SMTPHost             string
	SMTPPort             int
	SMTPUsername         string
	SMTPPassword         string
	EmailFromName        string
	EmailFromAddress     string
	BusinessEmail        string
	EmailEnabled         bool
}

// Interface implementations.

func (c *Config) GetDatabaseURL() string        { return c.DatabaseURL }
func (c *Config) GetHTTPAddr() string           { return c.HTTPAddr }
func (c *Config) GetPublicBaseURL() string      { return c.PublicBaseURL }
func (c *Config) GetCORSAllowAll() bool         { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string      { return c.CORSOrigins }
func (c *Config) GetTwilioAccountSID() string   { return c.TwilioAccountSID }
func (c *Config) GetTwilioAuthToken() string    { return c.TwilioAuthToken }
func (c *Config) GetTwilioNumber() string       { return c.TwilioNumber }
func (c *Config) GetBusinessNumber() string     { return c.BusinessNumber }
func (c *Config) GetCallTimeout() time.Duration { return c.CallTimeout }
func (c *Config) IsTwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioNumber != "" && c.BusinessNumber != ""
}
func (c *Config) GetRecaptchaSecret() string    { return c.RecaptchaSecret }
func (c *Config) GetRecaptchaVerifyURL() string { return c.RecaptchaVerifyURL }
func (c *Config) IsCaptchaEnabled() bool        { return c.RecaptchaSecret != "" }
func (c *Config) GetRedisURL() string           { return c.RedisURL }
func (c *Config) GetRateLimitPerMinute() int    { return c.RateLimitPerMinute }
func (c *Config) GetRateLimitPerHour() int      { return c.RateLimitPerHour }
func (c *Config) GetRateLimitPerDay() int       { return c.RateLimitPerDay }
func (c *Config) GetBusinessHoursStart() string { return c.BusinessHoursStart }
func (c *Config) GetBusinessHoursEnd() string   { return c.BusinessHoursEnd }
func (c *Config) GetBusinessTimezone() string   { return c.BusinessTimezone }
func (c *Config) GetBusinessWeekdaysOnly() bool { return c.BusinessWeekdaysOnly }
func (c *Config) GetAsynqQueueName() string     { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int      { return c.AsynqConcurrency }
func (c *Config) GetCallExpiry() time.Duration  { return c.CallExpiry }
func (c *Config) GetSMTPHost() string           { return c.SMTPHost }
func (c *Config) GetSMTPPort() int              { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string       { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string       { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string      { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string   { return c.EmailFromAddress }
func (c *Config) GetBusinessEmail() string      { return c.BusinessEmail }
func (c *Config) IsEmailEnabled() bool {
	return c.EmailEnabled && c.SMTPHost != "" && c.BusinessEmail != ""
}

// Load reads configuration from the environment (and .env when present).
// Malformed numeric or duration values are a startup error, never silently
// coerced: a zero call timeout or expiry would change provider behavior.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	callTimeout, err := envDuration("CALL_TIMEOUT", "20s")
	if err != nil {
		return nil, err
	}
	callExpiry, err := envDuration("CALL_EXPIRY", "15m")
	if err != nil {
		return nil, err
	}
	rateLimitPerMinute, err := envInt("RATE_LIMIT_PER_MINUTE", "5")
	if err != nil {
		return nil, err
	}
	rateLimitPerHour, err := envInt("RATE_LIMIT_PER_HOUR", "50")
	if err != nil {
		return nil, err
	}
	rateLimitPerDay, err := envInt("RATE_LIMIT_PER_DAY", "200")
	if err != nil {
		return nil, err
	}
	asynqConcurrency, err := envInt("ASYNQ_CONCURRENCY", "10")
	if err != nil {
		return nil, err
	}
	smtpPort, err := envInt("SMTP_PORT", "587")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		PublicBaseURL:        strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		CORSAllowAll:         corsAllowAll,
		CORSOrigins:          corsOrigins,
		TwilioAccountSID:     getEnv("TWILIO_SID", ""),
		TwilioAuthToken:      getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioNumber:         getEnv("TWILIO_NUMBER", ""),
		BusinessNumber:       getEnv("BUSINESS_NUMBER", ""),
		CallTimeout:          callTimeout,
		RecaptchaSecret:      getEnv("RECAPTCHA_SECRET", ""),
		RecaptchaVerifyURL:   getEnv("RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
		RedisURL:             getEnv("REDIS_URL", ""),
		RateLimitPerMinute:   rateLimitPerMinute,
		RateLimitPerHour:     rateLimitPerHour,
		RateLimitPerDay:      rateLimitPerDay,
		BusinessHoursStart:   getEnv("BUSINESS_HOURS_START", "09:00"),
		BusinessHoursEnd:     getEnv("BUSINESS_HOURS_END", "17:00"),
		BusinessTimezone:     getEnv("BUSINESS_TIMEZONE", "America/New_York"),
		BusinessWeekdaysOnly: strings.EqualFold(getEnv("BUSINESS_WEEKDAYS_ONLY", "true"), "true"),
		AsynqQueueName:       getEnv("ASYNQ_QUEUE", "callbacks"),
		AsynqConcurrency:     asynqConcurrency,
		CallExpiry:           callExpiry,
		SMTPHost:             getEnv("SMTP_HOST", ""),
		SMTPPort:             smtpPort,
		SMTPUsername:         getEnv("SMTP_USERNAME", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		EmailFromName:        getEnv("EMAIL_FROM_NAME", "Callback Service"),
		EmailFromAddress:     getEnv("EMAIL_FROM_ADDRESS", ""),
		BusinessEmail:        getEnv("BUSINESS_EMAIL", ""),
		EmailEnabled:         strings.EqualFold(getEnv("EMAIL_ENABLED", "false"), "true"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.EmailEnabled && cfg.SMTPHost == "" {
		return nil, fmt.Errorf("SMTP_HOST is required when EMAIL_ENABLED is true")
	}
	if cfg.EmailEnabled && cfg.BusinessEmail == "" {
		return nil, fmt.Errorf("BUSINESS_EMAIL is required when EMAIL_ENABLED is true")
	}
	if cfg.RateLimitPerMinute < 1 || cfg.RateLimitPerHour < 1 || cfg.RateLimitPerDay < 1 {
		return nil, fmt.Errorf("rate limit windows must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func containsWildcard(values []string) bool {
	for _, v := range values {
		if v == "*" {
			return true
		}
	}
	return false
}

func envDuration(key, fallback string) (time.Duration, error) {
	value := getEnv(key, fallback)
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}

func envInt(key, fallback string) (int, error) {
	value := getEnv(key, fallback)
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	return n, nil
}
