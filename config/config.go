package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"toybox-api/database"
	"toybox-api/services/email"
)

const (
	AuthProviderLocal  = "local"
	AuthProviderHosted = "hosted"
)

type Config struct {
	Database database.DatabaseConfig
	Razorpay RazorpayConfig
	SMTP     email.SMTPConfig
	Server   ServerConfig
	Session  SessionConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Pricing  PricingConfig
	Admin    AdminConfig
	Catalog  CatalogConfig
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Environment   string
}

type ServerConfig struct {
	Port string
}

type SessionConfig struct {
	Secret string
	Domain string
	MaxAge int
}

type RedisConfig struct {
	URL               string
	WorkerConcurrency int
}

type AuthConfig struct {
	Provider     string
	JWTSecret    string
	JWTIssuer    string
	HostedSecret string
	HostedIssuer string
}

type PricingConfig struct {
	IncludeDeposit bool
	Currency       string
}

type AdminConfig struct {
	InternalSecret string
	AlertEmail     string
}

type CatalogConfig struct {
	LegacyToysFile string
	LowStockLevel  int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg := &Config{
		Database: database.DatabaseConfig{
			Host:     os.Getenv("DB_HOST"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			DBName:   os.Getenv("DB_NAME"),
		},
		Razorpay: RazorpayConfig{
			KeyID:         os.Getenv("RAZORPAY_KEY_ID"),
			KeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
			WebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
			Environment:   getEnv("RAZORPAY_ENVIRONMENT", "test"),
		},
		SMTP: email.SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnv("SMTP_PORT", "587"),
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     getEnv("SMTP_FROM", "no-reply@toybox.in"),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Session: SessionConfig{
			Secret: os.Getenv("SESSION_SECRET"),
			Domain: os.Getenv("SESSION_DOMAIN"),
			MaxAge: getEnvInt("SESSION_MAX_AGE", 86400*7),
		},
		Redis: RedisConfig{
			URL:               getEnv("REDIS_URL", "redis://localhost:6379/0"),
			WorkerConcurrency: clamp(getEnvInt("WORKER_CONCURRENCY", 2), 2, 8),
		},
		Auth: AuthConfig{
			JWTSecret:    os.Getenv("JWT_SECRET"),
			JWTIssuer:    getEnv("JWT_ISSUER", "toybox-api"),
			HostedSecret: os.Getenv("HOSTED_AUTH_SECRET"),
			HostedIssuer: os.Getenv("HOSTED_AUTH_ISSUER"),
		},
		Pricing: PricingConfig{
			IncludeDeposit: getEnvBool("PRICING_DEPOSIT_IN_TOTAL", false),
			Currency:       getEnv("PRICING_CURRENCY", "INR"),
		},
		Admin: AdminConfig{
			InternalSecret: os.Getenv("INTERNAL_API_SECRET"),
			AlertEmail:     os.Getenv("ADMIN_ALERT_EMAIL"),
		},
		Catalog: CatalogConfig{
			LegacyToysFile: getEnv("LEGACY_TOYS_FILE", "data/toys.json"),
			LowStockLevel:  getEnvInt("LOW_STOCK_LEVEL", 3),
		},
	}

	cfg.Auth.Provider = ResolveAuthProvider(os.Getenv("AUTH_PROVIDER"), cfg.Auth.HostedSecret)

	if cfg.Session.Secret == "" {
		log.Printf("Warning: SESSION_SECRET not set, plan selection cookies will not survive a restart")
	}
	if cfg.Auth.Provider == AuthProviderLocal && cfg.Auth.JWTSecret == "" {
		log.Printf("Warning: JWT_SECRET not set for local auth provider")
	}

	log.Printf("Config loaded: port=%s auth=%s currency=%s deposit_in_total=%t workers=%d",
		cfg.Server.Port, cfg.Auth.Provider, cfg.Pricing.Currency, cfg.Pricing.IncludeDeposit, cfg.Redis.WorkerConcurrency)

	return cfg
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Auth.Provider == AuthProviderHosted {
		if c.Auth.HostedSecret == "" {
			return errors.New("HOSTED_AUTH_SECRET is required for the hosted auth provider")
		}
		if c.Auth.HostedIssuer == "" {
			return errors.New("HOSTED_AUTH_ISSUER is required for the hosted auth provider")
		}
	}
	return nil
}

// ResolveAuthProvider picks the identity provider once at startup. An explicit
// AUTH_PROVIDER wins; otherwise the hosted provider is used only when its secret is set.
func ResolveAuthProvider(explicit, hostedSecret string) string {
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case AuthProviderLocal:
		return AuthProviderLocal
	case AuthProviderHosted:
		return AuthProviderHosted
	case "":
	default:
		log.Printf("Warning: unknown AUTH_PROVIDER %q, falling back to detection", explicit)
	}
	if hostedSecret != "" {
		return AuthProviderHosted
	}
	return AuthProviderLocal
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using default %t", key, v, fallback)
		return fallback
	}
	return b
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
