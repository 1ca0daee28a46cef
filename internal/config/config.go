// Package config loads and validates the gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":8080"
	DefaultPGHost        = "127.0.0.1"
	DefaultPGPort        = 5432
	DefaultPGUser        = "postgres"
	DefaultPGDatabase    = "gateway"
	DefaultPGSSLMode     = "disable"
	DefaultRedisAddr     = "127.0.0.1:6379"
	DefaultBackendURL    = "https://api-mebo.dev/api/v1"
	DefaultChatworkAPI   = "https://api.chatwork.com/v2"
	DefaultLINEAPI       = "https://api.line.me/v2"
	DefaultSMTPPort      = 587
	DefaultExtractorWait = 120
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	LINE      LINEConfig      `toml:"line"`
	Chatwork  ChatworkConfig  `toml:"chatwork"`
	Backend   BackendConfig   `toml:"backend"`
	Extractor ExtractorConfig `toml:"extractor"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Alerts    AlertsConfig    `toml:"alerts"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type LINEConfig struct {
	AccessToken   string `toml:"access_token"`
	ChannelSecret string `toml:"channel_secret"`
	APIBase       string `toml:"api_base" validate:"omitempty,url"`
}

type ChatworkConfig struct {
	APIToken string `toml:"api_token"`
	// BotAccountID may be left zero; the adapter resolves and persists it
	// lazily via the /me endpoint.
	BotAccountID int64  `toml:"bot_account_id"`
	APIBase      string `toml:"api_base" validate:"omitempty,url"`
}

// BackendConfig points at the external AI chat completion service.
type BackendConfig struct {
	BaseURL        string `toml:"base_url" validate:"omitempty,url"`
	APIKey         string `toml:"api_key"`
	AgentID        string `toml:"agent_id"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ExtractorConfig points at the image-extraction service.
type ExtractorConfig struct {
	EndpointURL    string `toml:"endpoint_url" validate:"omitempty,url"`
	AuthToken      string `toml:"auth_token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// AlertsConfig configures the administrator email notification channel.
// Leaving the host empty disables alerting.
type AlertsConfig struct {
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from" validate:"omitempty,email"`
	To       string `toml:"to" validate:"omitempty,email"`
}

// Enabled reports whether alert delivery is configured.
func (c AlertsConfig) Enabled() bool {
	return strings.TrimSpace(c.SMTPHost) != "" && strings.TrimSpace(c.To) != ""
}

// Load reads the toml config at path, filling defaults for anything the
// file omits. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		LINE: LINEConfig{
			APIBase: DefaultLINEAPI,
		},
		Chatwork: ChatworkConfig{
			APIBase: DefaultChatworkAPI,
		},
		Backend: BackendConfig{
			BaseURL:        DefaultBackendURL,
			TimeoutSeconds: 30,
		},
		Extractor: ExtractorConfig{
			TimeoutSeconds: DefaultExtractorWait,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			Addr: DefaultRedisAddr,
		},
		Alerts: AlertsConfig{
			SMTPPort: DefaultSMTPPort,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	// Trailing slashes break endpoint joining downstream.
	cfg.Backend.BaseURL = strings.TrimRight(cfg.Backend.BaseURL, "/")
	cfg.LINE.APIBase = strings.TrimRight(cfg.LINE.APIBase, "/")
	cfg.Chatwork.APIBase = strings.TrimRight(cfg.Chatwork.APIBase, "/")

	return cfg, nil
}

// Validate checks every required secret at startup and reports all
// missing keys in one error instead of failing per call site.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.LINE.AccessToken) == "" {
		missing = append(missing, "line.access_token")
	}
	if strings.TrimSpace(c.Chatwork.APIToken) == "" {
		missing = append(missing, "chatwork.api_token")
	}
	if strings.TrimSpace(c.Backend.APIKey) == "" {
		missing = append(missing, "backend.api_key")
	}
	if strings.TrimSpace(c.Backend.AgentID) == "" {
		missing = append(missing, "backend.agent_id")
	}
	if strings.TrimSpace(c.Extractor.EndpointURL) == "" {
		missing = append(missing, "extractor.endpoint_url")
	}
	if strings.TrimSpace(c.Extractor.AuthToken) == "" {
		missing = append(missing, "extractor.auth_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config keys: %s", strings.Join(missing, ", "))
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
