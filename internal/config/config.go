package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port             string
	Env              string
	LogLevel         string
	DatabaseURL      string
	AuditDatabaseURL string
	AutoMigrate      bool

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Notification delivery: stub, sendgrid, ses or sqs
	NotifyProvider             string
	NotifyQueueURL             string
	SendGridAPIKey             string
	NotifyFromEmail            string
	NotifyFromName             string
	SESConfigurationSet        string
	ScheduledNotificationTable string
	NotificationMaxAttempts    int

	HistoricalPatternsBucket string
	// Key prefix; each location is read from <prefix>/<location>.json
	HistoricalPatternsKey string

	GoogleCalendarCredentialsFile string
	StaffEmails                   string
	WorkflowConfigFile            string
	ApproverJWTSecret             string
	AdminJWTSecret                string

	// HTTP surface
	CORSAllowedOrigins string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Booking policy
	MaxAdvanceBookingDays    int
	AllowSameDayBooking      bool
	CancellationMinimumHours int
	AlternativeCount         int
	PracticeTimezone         string

	AvailabilityCacheTTL      time.Duration
	EscalationSweepInterval   time.Duration
	NotificationSweepInterval time.Duration
	RunSweepsInProcess        bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		AuditDatabaseURL: getEnv("AUDIT_DATABASE_URL", ""),
		AutoMigrate:      getEnvAsBool("AUTO_MIGRATE", false),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		NotifyProvider:             strings.ToLower(strings.TrimSpace(getEnv("NOTIFY_PROVIDER", "stub"))),
		NotifyQueueURL:             getEnv("NOTIFY_QUEUE_URL", ""),
		SendGridAPIKey:             getEnv("SENDGRID_API_KEY", ""),
		NotifyFromEmail:            getEnv("NOTIFY_FROM_EMAIL", "scheduling@practice.local"),
		NotifyFromName:             getEnv("NOTIFY_FROM_NAME", "Practice Scheduling"),
		SESConfigurationSet:        getEnv("SES_CONFIGURATION_SET", ""),
		ScheduledNotificationTable: getEnv("SCHEDULED_NOTIFICATIONS_TABLE", ""),
		NotificationMaxAttempts:    getEnvAsInt("NOTIFICATION_MAX_ATTEMPTS", 3),

		HistoricalPatternsBucket: getEnv("HISTORICAL_PATTERNS_BUCKET", ""),
		HistoricalPatternsKey:    getEnv("HISTORICAL_PATTERNS_KEY", "analytics/popularity"),

		GoogleCalendarCredentialsFile: getEnv("GOOGLE_CALENDAR_CREDENTIALS_FILE", ""),
		StaffEmails:                   getEnv("STAFF_EMAILS", ""),
		WorkflowConfigFile:            getEnv("WORKFLOW_CONFIG_FILE", ""),
		ApproverJWTSecret:             getEnv("APPROVER_JWT_SECRET", ""),
		AdminJWTSecret:                getEnv("ADMIN_JWT_SECRET", ""),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		RateLimitRPS:       getEnvAsFloat("API_RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvAsInt("API_RATE_LIMIT_BURST", 40),

		MaxAdvanceBookingDays:    getEnvAsInt("MAX_ADVANCE_BOOKING_DAYS", 90),
		AllowSameDayBooking:      getEnvAsBool("ALLOW_SAME_DAY_BOOKING", false),
		CancellationMinimumHours: getEnvAsInt("CANCELLATION_MINIMUM_HOURS", 24),
		AlternativeCount:         getEnvAsInt("ALTERNATIVE_SLOT_COUNT", 5),
		PracticeTimezone:         getEnv("PRACTICE_TIMEZONE", "America/New_York"),

		AvailabilityCacheTTL:      getEnvAsDuration("AVAILABILITY_CACHE_TTL", 5*time.Minute),
		EscalationSweepInterval:   getEnvAsDuration("ESCALATION_SWEEP_INTERVAL", 5*time.Minute),
		NotificationSweepInterval: getEnvAsDuration("NOTIFICATION_SWEEP_INTERVAL", time.Minute),
		RunSweepsInProcess:        getEnvAsBool("RUN_SWEEPS_IN_PROCESS", true),
	}
}

// Location loads the practice time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.PracticeTimezone)
	if err != nil {
		return nil, fmt.Errorf("config: invalid PRACTICE_TIMEZONE %q: %w", c.PracticeTimezone, err)
	}
	return loc, nil
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
