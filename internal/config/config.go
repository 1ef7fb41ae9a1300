package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const defaultJWTSecret = "dev-secret-change-in-production"

type Config struct {
	Env         string `validate:"oneof=development test production"`
	Port        int    `validate:"min=1,max=65535"`
	DBDSN       string `validate:"required"`
	JWTSecret   string `validate:"required,min=16"`
	TokenTTL    time.Duration
	CORSOrigins []string
	BaseURL     string `validate:"required,url"`
	LogLevel    string `validate:"oneof=debug info warn error"`
	LogFormat   string `validate:"oneof=console json"`

	Currency                   string `validate:"len=3"`
	TaxRate                    decimal.Decimal
	ShippingFlatCents          int64 `validate:"min=0"`
	FreeShippingThresholdCents int64 `validate:"min=0"`
	OrderExpiry                time.Duration

	Stripe StripeConfig
	PayPal PayPalConfig
	SMTP   SMTPConfig

	RateLimitRPS   float64 `validate:"gt=0"`
	RateLimitBurst int     `validate:"min=1"`

	OutboxInterval    time.Duration
	ReconcileInterval time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

func (s StripeConfig) Enabled() bool { return s.SecretKey != "" }

type PayPalConfig struct {
	ClientID  string
	Secret    string
	WebhookID string
	BaseURL   string `validate:"omitempty,url"`
}

func (p PayPalConfig) Enabled() bool { return p.ClientID != "" && p.Secret != "" }

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string `validate:"omitempty,email"`
	StoreInbox string `validate:"omitempty,email"`
}

func (s SMTPConfig) Enabled() bool { return s.Host != "" }

// Load reads .env (if present) and the environment. Values already present in
// the environment win over .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	taxRate, err := decimal.NewFromString(getenv("TAX_RATE", "0"))
	if err != nil {
		return nil, fmt.Errorf("TAX_RATE: %w", err)
	}

	cfg := &Config{
		Env:         getenv("ENV", "development"),
		Port:        getint("PORT", 8080),
		DBDSN:       getenv("DB_DSN", "./data/aurum.db"),
		JWTSecret:   getenv("JWT_SECRET", defaultJWTSecret),
		TokenTTL:    getduration("TOKEN_TTL", 7*24*time.Hour),
		CORSOrigins: corsOrigins(os.Getenv("CORS_ORIGINS")),
		BaseURL:     strings.TrimRight(getenv("BASE_URL", "http://localhost:3000"), "/"),
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(getenv("LOG_FORMAT", "console")),

		Currency:                   strings.ToUpper(getenv("CURRENCY", "USD")),
		TaxRate:                    taxRate,
		ShippingFlatCents:          int64(getint("SHIPPING_FLAT_CENTS", 1500)),
		FreeShippingThresholdCents: int64(getint("FREE_SHIPPING_THRESHOLD_CENTS", 20000)),
		OrderExpiry:                getduration("ORDER_EXPIRY", 30*time.Minute),

		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},
		PayPal: PayPalConfig{
			ClientID:  os.Getenv("PAYPAL_CLIENT_ID"),
			Secret:    os.Getenv("PAYPAL_CLIENT_SECRET"),
			WebhookID: os.Getenv("PAYPAL_WEBHOOK_ID"),
			BaseURL:   getenv("PAYPAL_API_BASE", "https://api-m.sandbox.paypal.com"),
		},
		SMTP: SMTPConfig{
			Host:       os.Getenv("SMTP_HOST"),
			Port:       getint("SMTP_PORT", 587),
			Username:   os.Getenv("SMTP_USER"),
			Password:   os.Getenv("SMTP_PASSWORD"),
			From:       os.Getenv("MAIL_FROM"),
			StoreInbox: os.Getenv("STORE_INBOX"),
		},

		RateLimitRPS:   getfloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getint("RATE_LIMIT_BURST", 20),

		OutboxInterval:    getduration("OUTBOX_INTERVAL", 10*time.Second),
		ReconcileInterval: getduration("RECONCILE_INTERVAL", time.Minute),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and production-only rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Env == "production" && c.JWTSecret == defaultJWTSecret {
		return errors.New("invalid config: JWT_SECRET must be set in production")
	}
	if c.TaxRate.IsNegative() {
		return errors.New("invalid config: TAX_RATE must not be negative")
	}
	return nil
}

func corsOrigins(raw string) []string {
	defaults := []string{
		"http://localhost:3000",
		"http://127.0.0.1:3000",
		"http://localhost:5173",
		"http://127.0.0.1:5173",
	}
	if raw == "" {
		return defaults
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			origins = append(origins, s)
		}
	}
	if len(origins) == 0 {
		return defaults
	}
	return origins
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getfloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
