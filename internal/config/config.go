package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for the process-chain service.
type Config struct {
	// Deployment mode: "local", "team", "enterprise"
	Mode string `yaml:"mode"`

	// Query facade backend (the "search index" the core treats as external)
	Index IndexConfig `yaml:"index"`

	// Cache in front of the facade's batch calls
	Cache CacheConfig `yaml:"cache"`

	// Investigation history store
	History HistoryConfig `yaml:"history"`

	// Ops audit: pruner rollback rate / merger missing-root-map rate
	Audit AuditConfig `yaml:"audit"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Resource bounds from the spec's concurrency & resource model
	Limits LimitsConfig `yaml:"limits"`
}

type IndexConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	UseKeychain bool          `yaml:"use_keychain"` // prefer keychain over config file for the API key
	APIKey      string        `yaml:"api_key"`
	RateLimit   int           `yaml:"rate_limit"` // requests per second
}

type CacheConfig struct {
	Type           string        `yaml:"type"` // "redis", "bbolt"
	TTL            time.Duration `yaml:"ttl"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"redis_password"`
	BboltPath      string        `yaml:"bbolt_path"`
}

type HistoryConfig struct {
	Type        string `yaml:"type"` // "postgres", "sqlite"
	PostgresDSN string `yaml:"postgres_dsn"`
	SQLitePath  string `yaml:"sqlite_path"`
}

// AuditConfig configures the ops-audit store. Unlike History, audit has no
// SQLite fallback: it exists to feed an operator's alerting pipeline, which
// in team/enterprise deployments is always backed by Postgres. Enabled
// defaults to false so a local/solo deployment never fails closed over a
// missing Postgres DSN for a metric it doesn't need.
type AuditConfig struct {
	Enabled     bool   `yaml:"enabled"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	RequestDeadline time.Duration `yaml:"request_deadline"`
}

// LimitsConfig carries the reconstruction pipeline's deterministic resource
// bounds. These have sensible defaults but are overridable (mainly for
// tests).
type LimitsConfig struct {
	MaxTraverseDepth int `yaml:"max_traverse_depth"` // 50
	MaxLogsPerNode   int `yaml:"max_logs_per_node"`  // 1000
	MaxNodeCount     int `yaml:"max_node_count"`     // 400
	MaxExtDepth      int `yaml:"max_ext_depth"`      // 2
	MaxQuerySize     int `yaml:"max_query_size"`     // 10000
}

// Default returns the spec-mandated default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Mode: "team",
		Index: IndexConfig{
			Timeout:   5 * time.Second,
			RateLimit: 20,
		},
		Cache: CacheConfig{
			Type:      "bbolt",
			TTL:       10 * time.Minute,
			BboltPath: filepath.Join(homeDir, ".processchain", "cache.db"),
		},
		History: HistoryConfig{
			Type:       "sqlite",
			SQLitePath: filepath.Join(homeDir, ".processchain", "history.db"),
		},
		Audit: AuditConfig{
			Enabled: false,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			RequestDeadline: 30 * time.Second,
		},
		Limits: LimitsConfig{
			MaxTraverseDepth: 50,
			MaxLogsPerNode:   1000,
			MaxNodeCount:     400,
			MaxExtDepth:      2,
			MaxQuerySize:     10000,
		},
	}
}

// Load loads configuration from file, environment and (optionally) the keychain.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("index", cfg.Index)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("history", cfg.History)
	v.SetDefault("audit", cfg.Audit)
	v.SetDefault("server", cfg.Server)
	v.SetDefault("limits", cfg.Limits)

	v.SetEnvPrefix("PROCESSCHAIN")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".processchain")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".processchain"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadEnvFiles() {
	envFiles := []string{".env.local", ".env", ".env.example"}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			if err := godotenv.Load(file); err == nil {
				continue
			}
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".processchain", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config.
// Precedence for the index API key: env var > keychain > config file.
func applyEnvOverrides(cfg *Config) {
	if url := os.Getenv("INDEX_BASE_URL"); url != "" {
		cfg.Index.BaseURL = url
	}
	if rate := os.Getenv("INDEX_RATE_LIMIT"); rate != "" {
		if r, err := strconv.Atoi(rate); err == nil {
			cfg.Index.RateLimit = r
		}
	}

	if key := os.Getenv("INDEX_API_KEY"); key != "" {
		cfg.Index.APIKey = key
	} else {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if keychainKey, err := km.GetAPIKey(); err == nil && keychainKey != "" {
				cfg.Index.APIKey = keychainKey
			}
		}
	}

	if cacheType := os.Getenv("CACHE_TYPE"); cacheType != "" {
		cfg.Cache.Type = cacheType
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if path := os.Getenv("BBOLT_PATH"); path != "" {
		cfg.Cache.BboltPath = expandPath(path)
	}

	if historyType := os.Getenv("HISTORY_TYPE"); historyType != "" {
		cfg.History.Type = historyType
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.History.PostgresDSN = dsn
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" {
		cfg.History.SQLitePath = expandPath(path)
	}

	if enabled := os.Getenv("AUDIT_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			cfg.Audit.Enabled = b
		}
	}
	if dsn := os.Getenv("AUDIT_POSTGRES_DSN"); dsn != "" {
		cfg.Audit.PostgresDSN = dsn
	}

	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}

	if mode := os.Getenv("PROCESSCHAIN_MODE"); mode != "" {
		cfg.Mode = mode
	}

	if v := os.Getenv("MAX_NODE_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxNodeCount = n
		}
	}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save writes the configuration back to a YAML file.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("mode", c.Mode)
	v.Set("index", c.Index)
	v.Set("cache", c.Cache)
	v.Set("history", c.History)
	v.Set("audit", c.Audit)
	v.Set("server", c.Server)
	v.Set("limits", c.Limits)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
