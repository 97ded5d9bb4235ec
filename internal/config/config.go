package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v10"
)

const (
	RemoteBackendPostgres  = "postgres"
	RemoteBackendFirestore = "firestore"
	RemoteBackendNone      = "none"

	LocalBackendMemory = "memory"
	LocalBackendFile   = "file"
	LocalBackendSQLite = "sqlite"
	LocalBackendRedis  = "redis"
)

// DefaultApologyMessage es el texto que se muestra cuando falla una completion.
const DefaultApologyMessage = "⚠️ Maaf, terjadi kesalahan saat menghubungi Featherine AI."

// Config centraliza la configuración del servicio.
// LLMAPIKey es opcional al arrancar: su ausencia se reporta en cada envio.
type Config struct {
	HTTPPort       string  `env:"HTTP_PORT" envDefault:"8080"`
	LLMAPIKey      string  `env:"LLM_API_KEY"`
	LLMBaseURL     string  `env:"LLM_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	LLMModel       string  `env:"LLM_MODEL" envDefault:"llama3-8b-8192"`
	LLMTemperature float64 `env:"LLM_TEMPERATURE" envDefault:"0.7"`
	ApologyMessage string  `env:"APOLOGY_MESSAGE"`

	RemoteBackend    string `env:"REMOTE_BACKEND" envDefault:"postgres"`
	DatabaseURL      string `env:"DATABASE_URL"`
	FirestoreProject string `env:"FIRESTORE_PROJECT"`

	LocalBackend string `env:"LOCAL_BACKEND" envDefault:"file"`
	LocalDir     string `env:"LOCAL_DIR" envDefault:"./data/local"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"./data/local.db"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret            string `env:"JWT_SECRET"`
	JWTAccessTTLMinutes  int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"15"`
	JWTRefreshTTLMinutes int    `env:"JWT_REFRESH_TTL_MINUTES" envDefault:"43200"`
	GoogleClientID       string `env:"GOOGLE_CLIENT_ID"`

	SubmitRatePerMinute int `env:"SUBMIT_RATE_PER_MINUTE" envDefault:"20"`

	// Limites de estado por dispositivo en memoria.
	WorkspaceIdleMinutes int `env:"WORKSPACE_IDLE_MINUTES" envDefault:"120"`
	MaxWorkspaces        int `env:"MAX_WORKSPACES" envDefault:"10000"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadLocalConfig es LoadConfig para clientes que solo usan historial local.
func LoadLocalConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	cfg.RemoteBackend = RemoteBackendNone
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate revisa combinaciones de backends; no exige la API key del LLM.
func (c *Config) Validate() error {
	c.RemoteBackend = strings.ToLower(strings.TrimSpace(c.RemoteBackend))
	c.LocalBackend = strings.ToLower(strings.TrimSpace(c.LocalBackend))

	switch c.RemoteBackend {
	case RemoteBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for remote backend %q", c.RemoteBackend)
		}
	case RemoteBackendFirestore:
		if c.FirestoreProject == "" {
			return fmt.Errorf("config: FIRESTORE_PROJECT is required for remote backend %q", c.RemoteBackend)
		}
	case RemoteBackendNone:
	default:
		return fmt.Errorf("config: unknown REMOTE_BACKEND %q", c.RemoteBackend)
	}

	switch c.LocalBackend {
	case LocalBackendMemory, LocalBackendFile, LocalBackendSQLite:
	case LocalBackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config: REDIS_ADDR is required for local backend %q", c.LocalBackend)
		}
	default:
		return fmt.Errorf("config: unknown LOCAL_BACKEND %q", c.LocalBackend)
	}
	return nil
}

// Apology devuelve el mensaje de disculpa configurado o el de fabrica.
func (c *Config) Apology() string {
	if strings.TrimSpace(c.ApologyMessage) == "" {
		return DefaultApologyMessage
	}
	return c.ApologyMessage
}
