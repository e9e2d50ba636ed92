package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config defines the runtime configuration of the service.
type Config struct {
	Addr        string
	LogLevel    string
	LogFile     string
	UploadDir   string
	CORSOrigins []string

	Database    Database
	RedisAddr   string
	JWT         JWT
	OIDC        OIDC
	AI          AI
	Marketplace Marketplace
}

// Database holds the Postgres connection parameters.
type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN renders the gorm/pgx connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s password=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.Password, d.SSLMode)
}

// JWT configures the session token manager.
type JWT struct {
	SigningKey string
	TTL        time.Duration
}

// OIDC configures the optional single-sign-on provider. Enabled only when all
// three of ProviderURL, ClientID and ClientSecret are set.
type OIDC struct {
	ProviderURL  string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Enabled reports whether OIDC sign-in should be wired up.
func (o OIDC) Enabled() bool {
	return o.ProviderURL != "" && o.ClientID != "" && o.ClientSecret != ""
}

// AI configures the vision identification backend.
type AI struct {
	Endpoint string
	APIKey   string
	Model    string
}

// Marketplace configures the commerce API account connection. ClientID and
// ClientSecret are optional: when either is absent the marketplace client is
// not constructed and pricing falls back to identification only.
type Marketplace struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	RedirectURL  string
	Scopes       []string
}

// Load reads configuration values from the environment. A .env file in the
// working directory is merged in first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:        getEnv("LISTEN_ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     os.Getenv("LOG_FILE"),
		UploadDir:   getEnv("UPLOAD_DIR", "uploads"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		Database: Database{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     os.Getenv("DB_NAME"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		RedisAddr: os.Getenv("REDIS_ADDR"),
		JWT: JWT{
			SigningKey: os.Getenv("JWT_SIGNING_KEY"),
			TTL:        getDuration("JWT_TTL", 24*time.Hour),
		},
		OIDC: OIDC{
			ProviderURL:  os.Getenv("OIDC_PROVIDER_URL"),
			ClientID:     os.Getenv("OIDC_CLIENT_ID"),
			ClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("OIDC_REDIRECT_URL"),
		},
		AI: AI{
			Endpoint: getEnv("AI_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
			APIKey:   os.Getenv("AI_API_KEY"),
			Model:    getEnv("AI_MODEL", "gpt-4o-mini"),
		},
		Marketplace: Marketplace{
			ClientID:     os.Getenv("MARKETPLACE_CLIENT_ID"),
			ClientSecret: os.Getenv("MARKETPLACE_CLIENT_SECRET"),
			AuthURL:      getEnv("MARKETPLACE_AUTH_URL", "https://auth.ebay.com/oauth2/authorize"),
			TokenURL:     getEnv("MARKETPLACE_TOKEN_URL", "https://api.ebay.com/identity/v1/oauth2/token"),
			APIBaseURL:   getEnv("MARKETPLACE_API_URL", "https://api.ebay.com"),
			RedirectURL:  os.Getenv("MARKETPLACE_REDIRECT_URL"),
			Scopes:       splitList(getEnv("MARKETPLACE_SCOPES", "https://api.ebay.com/oauth/api_scope")),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	if c.Database.User == "" {
		missing = append(missing, "DB_USER")
	}
	if c.Database.Name == "" {
		missing = append(missing, "DB_NAME")
	}
	if c.JWT.SigningKey == "" {
		missing = append(missing, "JWT_SIGNING_KEY")
	}
	if c.AI.APIKey == "" {
		missing = append(missing, "AI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.JWT.TTL <= 0 {
		return fmt.Errorf("JWT_TTL must be greater than zero")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
