package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the triage engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Clients  ClientsConfig  `yaml:"clients"`
	Vector   VectorConfig   `yaml:"vector"`
	Checkout CheckoutConfig `yaml:"checkout"`
	Agent    AgentConfig    `yaml:"agent"`
	Prompt   PromptConfig   `yaml:"prompt"`
	Workers  WorkerConfig   `yaml:"workers"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// DatabaseConfig configures the relational registry and run store.
type DatabaseConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Name            string `yaml:"name"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"sslMode"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime int    `yaml:"connMaxLifetimeMinutes"`
}

// DSN renders the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// ClientsConfig groups the external enrichment service endpoints.
type ClientsConfig struct {
	Embedding EndpointConfig `yaml:"embedding"`
	LogSearch EndpointConfig `yaml:"logSearch"`
	Tracker   TrackerConfig  `yaml:"tracker"`
}

// EndpointConfig is a generic HTTP client target.
type EndpointConfig struct {
	BaseURL string        `yaml:"baseURL"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

// TrackerConfig configures the issue-tracker client.
type TrackerConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	APIKey        string        `yaml:"apiKey"`
	Timeout       time.Duration `yaml:"timeout"`
	Retries       int           `yaml:"retries"`
	TicketPattern string        `yaml:"ticketPattern"`
}

// VectorConfig configures the similarity store cluster.
type VectorConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CheckoutConfig controls the local source-control checkout cache.
type CheckoutConfig struct {
	RootDir      string        `yaml:"rootDir"`
	FetchTimeout time.Duration `yaml:"fetchTimeout"`
	CommitDepth  int           `yaml:"commitDepth"`
}

// AgentConfig bounds the tool-augmented reasoning loop.
type AgentConfig struct {
	APIKey    string        `yaml:"apiKey"`
	Model     string        `yaml:"model"`
	MaxTurns  int           `yaml:"maxTurns"`
	MaxTokens int           `yaml:"maxTokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// PromptConfig bounds the assembled reasoning request.
type PromptConfig struct {
	MaxBytes   int `yaml:"maxBytes"`
	MaxLogs    int `yaml:"maxLogs"`
	MaxTickets int `yaml:"maxTickets"`
}

// WorkerConfig sizes the event-processing pool.
type WorkerConfig struct {
	PoolSize  int `yaml:"poolSize"`
	QueueSize int `yaml:"queueSize"`
}

// CacheConfig controls Redis/Valkey-backed caching of expensive lookups.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	QueryTTL     time.Duration `yaml:"queryTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TRIAGE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Agent.MaxTurns <= 0 {
		return nil, fmt.Errorf("agent.maxTurns must be positive")
	}
	if cfg.Workers.PoolSize <= 0 {
		return nil, fmt.Errorf("workers.poolSize must be positive")
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "triage",
			User:            "triage",
			SSLMode:         "prefer",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30,
		},
		Clients: ClientsConfig{
			Embedding: EndpointConfig{Timeout: 5 * time.Second, Retries: 2},
			LogSearch: EndpointConfig{Timeout: 5 * time.Second, Retries: 2},
			Tracker: TrackerConfig{
				Timeout:       5 * time.Second,
				Retries:       2,
				TicketPattern: `[A-Z][A-Z0-9]+-\d+`,
			},
		},
		Vector:   VectorConfig{Timeout: 5 * time.Second},
		Checkout: CheckoutConfig{RootDir: "/var/cache/triage/checkouts", FetchTimeout: 60 * time.Second, CommitDepth: 20},
		Agent: AgentConfig{
			Model:     "claude-sonnet-4-5-20250929",
			MaxTurns:  5,
			MaxTokens: 4096,
			Timeout:   60 * time.Second,
		},
		Prompt:  PromptConfig{MaxBytes: 24 * 1024, MaxLogs: 50, MaxTickets: 5},
		Workers: WorkerConfig{PoolSize: 4, QueueSize: 64},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			QueryTTL:     2 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRIAGE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("TRIAGE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("TRIAGE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("TRIAGE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("TRIAGE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("TRIAGE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("TRIAGE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("TRIAGE_EMBEDDING_URL"); v != "" {
		cfg.Clients.Embedding.BaseURL = v
	}
	if v := os.Getenv("TRIAGE_LOG_SEARCH_URL"); v != "" {
		cfg.Clients.LogSearch.BaseURL = v
	}
	if v := os.Getenv("TRIAGE_TRACKER_URL"); v != "" {
		cfg.Clients.Tracker.BaseURL = v
	}
	if v := os.Getenv("TRIAGE_TRACKER_API_KEY"); v != "" {
		cfg.Clients.Tracker.APIKey = v
	}
	if v := os.Getenv("TRIAGE_VECTOR_URL"); v != "" {
		cfg.Vector.Endpoint = v
	}
	if v := os.Getenv("TRIAGE_VECTOR_API_KEY"); v != "" {
		cfg.Vector.APIKey = v
	}
	if v := os.Getenv("TRIAGE_CHECKOUT_DIR"); v != "" {
		cfg.Checkout.RootDir = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Agent.APIKey == "" {
		cfg.Agent.APIKey = v
	}
	if v := os.Getenv("TRIAGE_AGENT_MODEL"); v != "" {
		cfg.Agent.Model = v
	}
	if v := os.Getenv("TRIAGE_AGENT_MAX_TURNS"); v != "" {
		if turns, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxTurns = turns
		}
	}
	if v := os.Getenv("TRIAGE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("TRIAGE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("TRIAGE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("TRIAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRIAGE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("TRIAGE_WORKER_POOL_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.Workers.PoolSize = size
		}
	}
}
