package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	AuthProviderNhost    = "nhost"
	AuthProviderSupabase = "supabase"

	BackendHasura   = "hasura"
	BackendPostgres = "postgres"

	SyncModePull = "pull"
	SyncModePush = "push"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config centraliza la configuración del cliente y del servidor web.
type Config struct {
	HTTPPort     string `env:"HTTP_PORT" envDefault:"8080"`
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"false"`

	AuthProvider    string `env:"AUTH_PROVIDER" envDefault:"nhost"`
	NhostSubdomain  string `env:"NHOST_SUBDOMAIN"`
	NhostRegion     string `env:"NHOST_REGION"`
	NhostAuthURL    string `env:"NHOST_AUTH_URL"`
	SupabaseURL     string `env:"SUPABASE_URL"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY"`

	GraphQLURL   string `env:"GRAPHQL_URL"`
	GraphQLWSURL string `env:"GRAPHQL_WS_URL"`

	Backend     string `env:"BACKEND" envDefault:"hasura"`
	DatabaseURL string `env:"DATABASE_URL"`

	SyncMode             string        `env:"SYNC_MODE" envDefault:"pull"`
	MessagesPollInterval time.Duration `env:"MESSAGES_POLL_INTERVAL" envDefault:"3s"`
	ChatsPollInterval    time.Duration `env:"CHATS_POLL_INTERVAL" envDefault:"5s"`
	RequestTimeout       time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	SignInRateLimit  int           `env:"SIGNIN_RATE_LIMIT" envDefault:"5"`
	SignInRateWindow time.Duration `env:"SIGNIN_RATE_WINDOW" envDefault:"10m"`

	BotWebhookURL     string        `env:"BOT_WEBHOOK_URL"`
	BotWebhookTimeout time.Duration `env:"BOT_WEBHOOK_TIMEOUT" envDefault:"60s"`

	ActionSecret       string `env:"ACTION_SECRET"`
	HasuraJWTSecret    string `env:"HASURA_JWT_SECRET"`
	HasuraAdminSecret  string `env:"HASURA_ADMIN_SECRET"`
	ActionPersistReply bool   `env:"ACTION_PERSIST_REPLY" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.AuthProvider = strings.ToLower(strings.TrimSpace(c.AuthProvider))
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.SyncMode = strings.ToLower(strings.TrimSpace(c.SyncMode))
}

// Validate rechaza combinaciones que no pueden funcionar.
func (c *Config) Validate() error {
	switch c.AuthProvider {
	case AuthProviderNhost:
		if c.NhostAuthURL == "" && (c.NhostSubdomain == "" || c.NhostRegion == "") {
			return fmt.Errorf("%w: nhost requires NHOST_SUBDOMAIN and NHOST_REGION or NHOST_AUTH_URL", ErrInvalidConfig)
		}
	case AuthProviderSupabase:
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			return fmt.Errorf("%w: supabase requires SUPABASE_URL and SUPABASE_ANON_KEY", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown AUTH_PROVIDER %q", ErrInvalidConfig, c.AuthProvider)
	}

	switch c.Backend {
	case BackendHasura:
		if c.GraphQLURL == "" && (c.NhostSubdomain == "" || c.NhostRegion == "") {
			return fmt.Errorf("%w: hasura backend requires GRAPHQL_URL or NHOST_SUBDOMAIN/NHOST_REGION", ErrInvalidConfig)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: postgres backend requires DATABASE_URL", ErrInvalidConfig)
		}
		if c.SyncMode == SyncModePush {
			return fmt.Errorf("%w: push mode requires the hasura backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown BACKEND %q", ErrInvalidConfig, c.Backend)
	}

	if c.SyncMode != SyncModePull && c.SyncMode != SyncModePush {
		return fmt.Errorf("%w: unknown SYNC_MODE %q", ErrInvalidConfig, c.SyncMode)
	}
	if c.MessagesPollInterval <= 0 || c.ChatsPollInterval <= 0 {
		return fmt.Errorf("%w: poll intervals must be positive", ErrInvalidConfig)
	}
	return nil
}

// GraphQLEndpoint devuelve la URL HTTP de Hasura, derivada de Nhost si no se configuró.
func (c *Config) GraphQLEndpoint() string {
	if c.GraphQLURL != "" {
		return c.GraphQLURL
	}
	return fmt.Sprintf("https://%s.%s.nhost.run/v1/graphql", c.NhostSubdomain, c.NhostRegion)
}

// GraphQLWSEndpoint devuelve la URL websocket para suscripciones.
func (c *Config) GraphQLWSEndpoint() string {
	if c.GraphQLWSURL != "" {
		return c.GraphQLWSURL
	}
	u := c.GraphQLEndpoint()
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// AuthEndpoint devuelve la URL base del proveedor de identidad.
func (c *Config) AuthEndpoint() string {
	if c.AuthProvider == AuthProviderSupabase {
		return strings.TrimRight(c.SupabaseURL, "/")
	}
	if c.NhostAuthURL != "" {
		return strings.TrimRight(c.NhostAuthURL, "/")
	}
	return fmt.Sprintf("https://%s.auth.%s.nhost.run/v1", c.NhostSubdomain, c.NhostRegion)
}
