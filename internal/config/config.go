package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	xerrors "AgentEscrow/internal/errors"
	"AgentEscrow/internal/gas"
)

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "ESCROWD_CONFIG"

// DefaultConfigPath is used when EnvConfigPath is unset.
const DefaultConfigPath = "configs/escrowd.json"

// Config is the escrow daemon configuration loaded at startup.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logger   LoggerConfig   `json:"logger"`
	Web3     Web3Config     `json:"web3"`
	Backend  BackendConfig  `json:"backend"`
	Wallet   WalletConfig   `json:"wallet"`
	Webhook  WebhookConfig  `json:"webhook"`
	Inbox    InboxConfig    `json:"inbox"`
	Admin    AdminConfig    `json:"admin"`
	Alerting AlertingConfig `json:"alerting"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// ServerConfig controls the API listener.
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggerConfig mirrors logger.Config.
type LoggerConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig controls audit log rotation.
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// Web3Config selects chain definitions and the default chain.
type Web3Config struct {
	// ChainsFile optionally overrides the built-in chains with YAML.
	ChainsFile   string   `json:"chains_file"`
	DefaultChain string   `json:"default_chain"`
	Enabled      []string `json:"enabled"`
}

// BackendConfig describes the escrow backend REST API.
type BackendConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// WalletConfig selects the signing identities. With neither Credential nor
// OwnerKeyEnv set the daemon runs read-only.
type WalletConfig struct {
	Credential    string `json:"credential"`
	CredentialEnv string `json:"credential_env"`
	// OwnerKeyEnv names the variable holding the hex owner key. It is only
	// used for abandonment claims.
	OwnerKeyEnv string `json:"owner_key_env"`
	GasStrategy string `json:"gas_strategy"`
}

// WebhookConfig controls the delivery webhook listener.
type WebhookConfig struct {
	Path      string  `json:"path"`
	Secret    string  `json:"secret"`
	SecretEnv string  `json:"secret_env"`
	RateLimit float64 `json:"rate_limit"`
	Burst     int     `json:"burst"`
	// AutoConfirm accepts and releases escrow after a verified delivery.
	AutoConfirm     bool `json:"auto_confirm"`
	AllowUnverified bool `json:"allow_unverified"`
}

// InboxConfig selects the delivery store and queue drivers.
type InboxConfig struct {
	Store      StoreConfig `json:"store"`
	Queue      QueueConfig `json:"queue"`
	Workers    int         `json:"workers"`
	MaxRetries int         `json:"max_retries"`
}

// StoreConfig describes where delivery records persist.
type StoreConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
}

// QueueConfig describes the delivery queue.
type QueueConfig struct {
	Driver   string       `json:"driver"`
	Size     int          `json:"size"`
	Redis    RedisConfig  `json:"redis"`
	RabbitMQ RabbitConfig `json:"rabbitmq"`
	NATS     NATSConfig   `json:"nats"`
}

// RedisConfig configures the Redis list queue.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitConfig configures the RabbitMQ queue.
type RabbitConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
}

// NATSConfig configures the NATS queue group subscription.
type NATSConfig struct {
	URL     string `json:"url"`
	Subject string `json:"subject"`
	Group   string `json:"group"`
}

// AdminConfig controls JWT auth for the admin API. An empty JWTSecret
// disables the admin API.
type AdminConfig struct {
	JWTSecret    string `json:"jwt_secret"`
	JWTSecretEnv string `json:"jwt_secret_env"`
	Issuer       string `json:"issuer"`
	TokenTTLMins int    `json:"token_ttl_minutes"`
}

// AlertingConfig points operational alerts at an HTTP endpoint.
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// Path returns the config path, preferring the environment.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load reads, defaults and validates the JSON config at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.resolveEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
	if c.Logger.Audit.Enabled && c.Logger.Audit.Path == "" {
		c.Logger.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}

	if c.Web3.DefaultChain == "" {
		c.Web3.DefaultChain = "baseSepolia"
	}
	if c.Web3.ChainsFile != "" && !filepath.IsAbs(c.Web3.ChainsFile) {
		c.Web3.ChainsFile = filepath.Join(baseDir, c.Web3.ChainsFile)
	}

	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "https://abbababa.com"
	}
	if c.Backend.APIKeyEnv == "" {
		c.Backend.APIKeyEnv = "ESCROW_API_KEY"
	}
	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = 30
	}

	if c.Wallet.CredentialEnv == "" {
		c.Wallet.CredentialEnv = "ESCROW_SESSION_CREDENTIAL"
	}
	if c.Wallet.GasStrategy == "" {
		c.Wallet.GasStrategy = string(gas.Auto)
	}

	if c.Webhook.Path == "" {
		c.Webhook.Path = "/webhook"
	}
	if c.Webhook.SecretEnv == "" {
		c.Webhook.SecretEnv = "ESCROW_WEBHOOK_SECRET"
	}
	if c.Webhook.RateLimit > 0 && c.Webhook.Burst <= 0 {
		c.Webhook.Burst = int(c.Webhook.RateLimit) + 1
	}

	if c.Inbox.Store.Driver == "" {
		c.Inbox.Store.Driver = "memory"
	}
	if c.Inbox.Queue.Driver == "" {
		c.Inbox.Queue.Driver = "memory"
	}
	if c.Inbox.Queue.Size <= 0 {
		c.Inbox.Queue.Size = 256
	}
	if c.Inbox.Workers <= 0 {
		c.Inbox.Workers = 2
	}
	if c.Inbox.MaxRetries <= 0 {
		c.Inbox.MaxRetries = 3
	}

	if c.Admin.JWTSecretEnv == "" {
		c.Admin.JWTSecretEnv = "ESCROWD_ADMIN_SECRET"
	}
	if c.Admin.TokenTTLMins <= 0 {
		c.Admin.TokenTTLMins = 720
	}
}

// resolveEnv fills secrets that the file names by environment variable.
func (c *Config) resolveEnv(getenv func(string) string) {
	fill := func(dst *string, env string) {
		if strings.TrimSpace(*dst) == "" && env != "" {
			*dst = strings.TrimSpace(getenv(env))
		}
	}
	fill(&c.Backend.APIKey, c.Backend.APIKeyEnv)
	fill(&c.Wallet.Credential, c.Wallet.CredentialEnv)
	fill(&c.Webhook.Secret, c.Webhook.SecretEnv)
	fill(&c.Admin.JWTSecret, c.Admin.JWTSecretEnv)
}

// OwnerKeyHex reads the owner key variable. It is empty when unset.
func (c *Config) OwnerKeyHex() string {
	if c.Wallet.OwnerKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.Wallet.OwnerKeyEnv))
}

// Validate checks driver names and their combinations.
func (c *Config) Validate() error {
	var fields []xerrors.FieldError
	add := func(path, msg string) {
		fields = append(fields, xerrors.FieldError{Path: path, Message: msg})
	}

	if !strings.HasPrefix(c.Webhook.Path, "/") {
		add("webhook.path", "must start with /")
	}
	if c.Webhook.RateLimit < 0 {
		add("webhook.rate_limit", "must not be negative")
	}
	if _, err := gas.ParseStrategy(c.Wallet.GasStrategy); err != nil {
		add("wallet.gas_strategy", err.Error())
	}

	switch c.Inbox.Store.Driver {
	case "memory":
	case "mysql":
		if c.Inbox.Store.DSN == "" {
			add("inbox.store.dsn", "required for mysql")
		}
	default:
		add("inbox.store.driver", "unsupported driver "+c.Inbox.Store.Driver)
	}

	switch c.Inbox.Queue.Driver {
	case "memory":
	case "redis":
		if c.Inbox.Queue.Redis.Address == "" {
			add("inbox.queue.redis.address", "required for redis")
		}
	case "rabbitmq":
		if c.Inbox.Queue.RabbitMQ.URL == "" {
			add("inbox.queue.rabbitmq.url", "required for rabbitmq")
		}
	case "nats":
		if c.Inbox.Queue.NATS.URL == "" {
			add("inbox.queue.nats.url", "required for nats")
		}
	default:
		add("inbox.queue.driver", "unsupported driver "+c.Inbox.Queue.Driver)
	}

	if c.Webhook.AutoConfirm && c.Wallet.Credential == "" && c.OwnerKeyHex() == "" {
		add("webhook.auto_confirm", "requires a wallet credential or owner key")
	}

	if len(fields) > 0 {
		return xerrors.New(xerrors.CodeValidation, "invalid configuration", xerrors.WithFieldErrors(fields...))
	}
	return nil
}
