// Package config loads server settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gravity.com/gravity-chat/internal/store"
)

const (
	StoreDynamoDB = "dynamodb"
	StoreSQLite   = "sqlite"

	LLMProviderMCP    = "mcp"
	LLMProviderGemini = "gemini"

	LogLevelInfo  = "INFO"
	LogLevelDebug = "DEBUG"
)

type Config struct {
	HTTPPort string `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	JWTSecret     string        `mapstructure:"JWT_SECRET"`
	JWTTTL        time.Duration `mapstructure:"JWT_TTL"`
	ResetTokenTTL time.Duration `mapstructure:"RESET_TOKEN_TTL"`

	// FrontendURL is a comma-separated list of allowed CORS origins; the
	// first one is where reset links and SSO redirects point.
	FrontendURL string `mapstructure:"FRONTEND_URL"`

	StoreBackend     string `mapstructure:"STORE_BACKEND"`
	DatabaseURL      string `mapstructure:"DATABASE_URL"`
	AWSRegion        string `mapstructure:"AWS_REGION"`
	DynamoDBEndpoint string `mapstructure:"DYNAMODB_ENDPOINT"`
	TableUsers       string `mapstructure:"TABLE_USERS"`
	TableChats       string `mapstructure:"TABLE_CHATS"`
	TableMessages    string `mapstructure:"TABLE_MESSAGES"`
	TableSSOConfig   string `mapstructure:"TABLE_SSO_CONFIG"`
	TableSecrets     string `mapstructure:"TABLE_SECRETS"`

	LLMProvider     string        `mapstructure:"LLM_PROVIDER"`
	MCPHost         string        `mapstructure:"MCP_HOST"`
	LLMTimeout      time.Duration `mapstructure:"LLM_TIMEOUT"`
	GeminiAPIKey    string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel     string        `mapstructure:"GEMINI_MODEL"`
	DefaultModel    string        `mapstructure:"DEFAULT_MODEL"`
	LLMHistoryLimit int           `mapstructure:"LLM_HISTORY_LIMIT"`

	SAMLEntityID          string        `mapstructure:"SAML_SP_ENTITY_ID"`
	SAMLCallbackURL       string        `mapstructure:"SAML_CALLBACK_URL"`
	SAMLEntryPointRewrite string        `mapstructure:"SAML_ENTRYPOINT_REWRITE"`
	MetadataFetchTimeout  time.Duration `mapstructure:"METADATA_FETCH_TIMEOUT"`

	// StaticDir holds the built SPA; empty disables frontend hosting.
	StaticDir string `mapstructure:"STATIC_DIR"`

	AdminEmail    string `mapstructure:"ADMIN_EMAIL"`
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "3000")
	v.SetDefault("LOG_LEVEL", LogLevelInfo)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_TTL", "1h")
	v.SetDefault("RESET_TOKEN_TTL", "15m")
	v.SetDefault("FRONTEND_URL", "http://localhost:4200,https://localhost")

	tables := store.DefaultTables()
	v.SetDefault("STORE_BACKEND", StoreDynamoDB)
	v.SetDefault("DATABASE_URL", "gravity_chat.db")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("DYNAMODB_ENDPOINT", "")
	v.SetDefault("TABLE_USERS", tables.Users)
	v.SetDefault("TABLE_CHATS", tables.Chats)
	v.SetDefault("TABLE_MESSAGES", tables.Messages)
	v.SetDefault("TABLE_SSO_CONFIG", tables.SSOConfig)
	v.SetDefault("TABLE_SECRETS", tables.Secrets)

	v.SetDefault("LLM_PROVIDER", LLMProviderMCP)
	v.SetDefault("MCP_HOST", "http://mcp-server:8000")
	v.SetDefault("LLM_TIMEOUT", "120s")
	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash-latest")
	v.SetDefault("DEFAULT_MODEL", "llama3")
	v.SetDefault("LLM_HISTORY_LIMIT", 10)

	v.SetDefault("SAML_SP_ENTITY_ID", "gravity-chat")
	v.SetDefault("SAML_CALLBACK_URL", "http://localhost:3000/auth/sso/callback")
	v.SetDefault("SAML_ENTRYPOINT_REWRITE", "keycloak:8080=localhost:8080")
	v.SetDefault("METADATA_FETCH_TIMEOUT", "15s")

	v.SetDefault("STATIC_DIR", "")
	v.SetDefault("ADMIN_EMAIL", "admin@example.com")
	v.SetDefault("ADMIN_PASSWORD", "admin")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.LogLevel = strings.ToUpper(strings.TrimSpace(cfg.LogLevel))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET environment variable is required")
	}
	if c.JWTTTL <= 0 || c.ResetTokenTTL <= 0 {
		return errors.New("config: JWT_TTL and RESET_TOKEN_TTL must be positive")
	}

	switch c.LogLevel {
	case LogLevelInfo, LogLevelDebug:
	default:
		return fmt.Errorf("config: unknown LOG_LEVEL %q", c.LogLevel)
	}

	switch c.StoreBackend {
	case StoreDynamoDB, StoreSQLite:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.LLMProvider {
	case LLMProviderMCP:
		if c.MCPHost == "" {
			return errors.New("config: MCP_HOST must be set")
		}
	case LLMProviderGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("config: GEMINI_API_KEY environment variable is required for the gemini provider")
		}
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q", c.LLMProvider)
	}

	if c.LLMHistoryLimit < 0 {
		return errors.New("config: LLM_HISTORY_LIMIT must not be negative")
	}
	if len(c.AllowedOrigins()) == 0 {
		return errors.New("config: FRONTEND_URL must name at least one origin")
	}
	return nil
}

// Debug reports whether per-request debug logging is on.
func (c *Config) Debug() bool {
	return c.LogLevel == LogLevelDebug
}

// AllowedOrigins splits FrontendURL into its origins.
func (c *Config) AllowedOrigins() []string {
	parts := strings.Split(c.FrontendURL, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimRight(strings.TrimSpace(p), "/"); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FrontendBaseURL is the origin used in links sent back to the browser.
func (c *Config) FrontendBaseURL() string {
	origins := c.AllowedOrigins()
	if len(origins) == 0 {
		return ""
	}
	return origins[0]
}

func (c *Config) Tables() store.Tables {
	return store.Tables{
		Users:     c.TableUsers,
		Chats:     c.TableChats,
		Messages:  c.TableMessages,
		SSOConfig: c.TableSSOConfig,
		Secrets:   c.TableSecrets,
	}
}
