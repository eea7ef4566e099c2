// Package config loads runtime configuration from the environment (optionally
// seeded from a .env file) and the plan catalog from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Supabase     SupabaseConfig
	Stripe       StripeConfig
	Resend       ResendConfig
	Payouts      PayoutsConfig
	Appointments AppointmentsConfig
	Jobs         JobsConfig
	Logging      LoggingConfig
	RateLimit    RateLimitConfig
	PlansFile    string `env:"PLANS_FILE"`
}

type ServerConfig struct {
	Host            string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port            int           `env:"PORT,default=8080"`
	PublicURL       string        `env:"PUBLIC_APP_URL,default=http://localhost:5173"`
	CORSOrigins     string        `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

type DatabaseConfig struct {
	DSN             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
	AutoMigrate     bool          `env:"DATABASE_AUTO_MIGRATE,default=false"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

type SupabaseConfig struct {
	URL            string `env:"SUPABASE_URL"`
	ServiceRoleKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	JWTSecret      string `env:"SUPABASE_JWT_SECRET"`
	DocumentBucket string `env:"SUPABASE_DOCUMENT_BUCKET,default=beneficiary-documents"`
}

type StripeConfig struct {
	SecretKey      string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret  string `env:"STRIPE_WEBHOOK_SECRET"`
	Currency       string `env:"STRIPE_CURRENCY,default=eur"`
	AccountCountry string `env:"STRIPE_ACCOUNT_COUNTRY,default=FR"`
}

type ResendConfig struct {
	APIKey string `env:"RESEND_API_KEY"`
	From   string `env:"RESEND_FROM,default=FL²M <noreply@fl2m.fr>"`
}

type PayoutsConfig struct {
	Schedule    string        `env:"PAYOUTS_SCHEDULE,default=@every 15m"`
	BatchSize   int           `env:"PAYOUTS_BATCH_SIZE,default=50"`
	Hold        time.Duration `env:"PAYOUTS_HOLD,default=48h"`
	StaleWindow time.Duration `env:"PAYOUTS_STALE_WINDOW,default=30m"`
}

type AppointmentsConfig struct {
	AutoValidateAfter time.Duration `env:"APPOINTMENTS_AUTO_VALIDATE_AFTER,default=168h"`
	MinLeadTime       time.Duration `env:"APPOINTMENTS_MIN_LEAD_TIME,default=1h"`
}

type JobsConfig struct {
	Enabled          bool   `env:"JOBS_ENABLED,default=true"`
	Timezone         string `env:"JOBS_TIMEZONE,default=Europe/Paris"`
	ContractSchedule string `env:"CONTRACTS_SCHEDULE,default=5 0 * * *"`
	ValidateSchedule string `env:"AUTO_VALIDATE_SCHEDULE,default=@hourly"`
	InviteSchedule   string `env:"INVITATIONS_EXPIRE_SCHEDULE,default=@hourly"`
}

type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info"`
	Format     string `env:"LOG_FORMAT,default=json"`
	Output     string `env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `env:"LOG_FILE_PREFIX,default=fl2m"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `env:"RATE_LIMIT_RPS,default=10"`
	Burst             int `env:"RATE_LIMIT_BURST,default=20"`
}

// Load reads an optional .env file and decodes the environment.
func Load() (*Config, error) {
	if path := os.Getenv("ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", path, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings required by the HTTP server.
func (c *Config) Validate() error {
	var missing []string
	if c.Database.DSN == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Supabase.JWTSecret == "" {
		missing = append(missing, "SUPABASE_JWT_SECRET")
	}
	if c.Stripe.SecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.Stripe.WebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Payouts.BatchSize <= 0 {
		return fmt.Errorf("PAYOUTS_BATCH_SIZE must be positive")
	}
	return nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Origins splits the comma separated CORS origin list.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Location resolves the job timezone, falling back to UTC.
func (j JobsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(j.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
