package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/edrsec/processchain/internal/errors"
)

// ValidationContext specifies what configuration is required.
type ValidationContext string

const (
	// ValidationContextGenerate - batch-generate requires the query facade.
	ValidationContextGenerate ValidationContext = "generate"
	// ValidationContextMerge - merge-chain checks the cache/history stores;
	// the query facade settings are not checked.
	ValidationContextMerge ValidationContext = "merge"
	// ValidationContextServe - the HTTP server requires everything.
	ValidationContextServe ValidationContext = "serve"
	// ValidationContextAll - validate all configuration.
	ValidationContextAll ValidationContext = "all"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result.
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result.
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors.
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message.
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  ! %s\n", warn))
		}
	}

	return sb.String()
}

// Validate validates configuration for the given context with auto-detected mode.
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	mode := DetectMode()
	return c.ValidateWithMode(ctx, mode)
}

// ValidateWithMode validates configuration for the given context and deployment mode.
func (c *Config) ValidateWithMode(ctx ValidationContext, mode DeploymentMode) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextGenerate:
		c.validateIndex(result, true, mode)
		c.validateCache(result, false, mode)
	case ValidationContextMerge:
		c.validateCache(result, false, mode)
		c.validateHistory(result, false, mode)
	case ValidationContextServe:
		c.validateIndex(result, true, mode)
		c.validateCache(result, true, mode)
		c.validateHistory(result, true, mode)
		c.validateServer(result)
		c.validateLimits(result)
	case ValidationContextAll:
		c.validateIndex(result, true, mode)
		c.validateCache(result, true, mode)
		c.validateHistory(result, true, mode)
		c.validateServer(result)
		c.validateLimits(result)
	}

	return result
}

// ValidateOrFatal validates configuration and panics with a config error if
// invalid (auto-detects mode).
func (c *Config) ValidateOrFatal(ctx ValidationContext) {
	mode := DetectMode()
	c.ValidateOrFatalWithMode(ctx, mode)
}

// ValidateOrFatalWithMode validates configuration with an explicit mode and
// panics with a config error if invalid.
func (c *Config) ValidateOrFatalWithMode(ctx ValidationContext, mode DeploymentMode) {
	result := c.ValidateWithMode(ctx, mode)
	if result.HasErrors() {
		fmt.Println(result.Error())
		fmt.Printf("\nDeployment mode: %s (%s)\n", mode, mode.Description())
		panic(errors.ConfigError(result.Error()))
	}

	if len(result.Warnings) > 0 {
		fmt.Println("Configuration warnings:")
		for _, warn := range result.Warnings {
			fmt.Printf("  ! %s\n", warn)
		}
		fmt.Printf("\nDeployment mode: %s\n", mode)
	}
}

func (c *Config) validateIndex(result *ValidationResult, required bool, mode DeploymentMode) {
	if c.Index.BaseURL == "" {
		if required {
			result.AddError("index.base_url is required but not set")
		} else {
			result.AddWarning("index.base_url is not set")
		}
	} else if _, err := url.Parse(c.Index.BaseURL); err != nil {
		result.AddError("index.base_url is invalid: %v", err)
	} else if strings.Contains(c.Index.BaseURL, "localhost") && mode.RequiresSecureCredentials() {
		result.AddError("index.base_url uses localhost. In %s mode (%s), provide a remote facade URL.", mode, mode.Description())
	}

	if c.Index.APIKey == "" {
		if mode.RequiresSecureCredentials() && required {
			result.AddError("no index API key configured. Set INDEX_API_KEY or run 'processchain configure'.")
		} else {
			result.AddWarning("no index API key configured; unauthenticated facade calls may be rejected")
		}
	}

	if c.Index.RateLimit <= 0 {
		result.AddWarning("index.rate_limit is invalid or not set; no default is substituted (built-in default: 20 req/s)")
	}

	if c.Index.Timeout <= 0 {
		result.AddWarning("index.timeout is invalid or not set; no default is substituted (built-in default: 5s)")
	}
}

func (c *Config) validateCache(result *ValidationResult, required bool, mode DeploymentMode) {
	switch c.Cache.Type {
	case "redis":
		if c.Cache.RedisAddr == "" {
			if required {
				result.AddError("cache.redis_addr is required when cache.type=redis")
			} else {
				result.AddWarning("cache.redis_addr is not set")
			}
		} else if strings.Contains(c.Cache.RedisAddr, "localhost") && mode.RequiresSecureCredentials() {
			result.AddError("cache.redis_addr uses localhost. In %s mode (%s), provide a remote Redis address.", mode, mode.Description())
		}
		if c.Cache.RedisPassword == "" && mode.RequiresSecureCredentials() {
			result.AddWarning("cache.redis_password is empty in %s mode", mode)
		}
	case "bbolt":
		if c.Cache.BboltPath == "" {
			result.AddWarning("cache.bbolt_path is not set; no default is substituted")
		}
	case "":
		result.AddWarning("cache.type is not set, will use default (bbolt)")
	default:
		result.AddError("cache.type must be 'redis' or 'bbolt', got %q", c.Cache.Type)
	}

	if c.Cache.TTL <= 0 {
		result.AddWarning("cache.ttl is invalid or not set; no default is substituted (built-in default: 10m)")
	}
}

func (c *Config) validateHistory(result *ValidationResult, required bool, mode DeploymentMode) {
	switch c.History.Type {
	case "postgres":
		if c.History.PostgresDSN == "" {
			if required {
				result.AddError("history.postgres_dsn is required when history.type=postgres")
			} else {
				result.AddWarning("history.postgres_dsn is not set")
			}
		} else {
			if !strings.HasPrefix(c.History.PostgresDSN, "postgres://") && !strings.HasPrefix(c.History.PostgresDSN, "postgresql://") {
				result.AddError("history.postgres_dsn must start with postgres:// or postgresql://")
			}
			if strings.Contains(c.History.PostgresDSN, "sslmode=disable") {
				if mode.RequiresSecureCredentials() {
					result.AddError("history.postgres_dsn has sslmode=disable, not allowed in %s mode", mode)
				} else {
					result.AddWarning("history.postgres_dsn has sslmode=disable; consider enabling SSL")
				}
			}
			if strings.Contains(c.History.PostgresDSN, "@localhost") && mode.RequiresSecureCredentials() {
				result.AddError("history.postgres_dsn uses localhost, not allowed in %s mode", mode)
			}
		}
	case "sqlite":
		if c.History.SQLitePath == "" {
			result.AddWarning("history.sqlite_path is not set; no default is substituted")
		}
	case "":
		result.AddWarning("history.type is not set, will use default (sqlite)")
	default:
		result.AddError("history.type must be 'postgres' or 'sqlite', got %q", c.History.Type)
	}
}

func (c *Config) validateServer(result *ValidationResult) {
	if c.Server.Addr == "" {
		result.AddWarning("server.addr is not set; no default is substituted (built-in default: :8080)")
	}
	if c.Server.RequestDeadline <= 0 {
		result.AddWarning("server.request_deadline is invalid or not set; no default is substituted (built-in default: 30s)")
	}
}

func (c *Config) validateLimits(result *ValidationResult) {
	if c.Limits.MaxTraverseDepth <= 0 {
		result.AddError("limits.max_traverse_depth must be positive, got %d", c.Limits.MaxTraverseDepth)
	}
	if c.Limits.MaxLogsPerNode <= 0 {
		result.AddError("limits.max_logs_per_node must be positive, got %d", c.Limits.MaxLogsPerNode)
	}
	if c.Limits.MaxNodeCount <= 0 {
		result.AddError("limits.max_node_count must be positive, got %d", c.Limits.MaxNodeCount)
	}
	if c.Limits.MaxExtDepth < 0 {
		result.AddError("limits.max_ext_depth must be non-negative, got %d", c.Limits.MaxExtDepth)
	}
	if c.Limits.MaxQuerySize <= 0 {
		result.AddError("limits.max_query_size must be positive, got %d", c.Limits.MaxQuerySize)
	}
}

// RequireIndex checks if the facade configuration is valid and returns an
// error if not.
func (c *Config) RequireIndex() error {
	result := &ValidationResult{Valid: true}
	mode := DetectMode()
	c.validateIndex(result, true, mode)

	if result.HasErrors() {
		return errors.ConfigError(result.Error())
	}

	return nil
}

// RequireHistory checks if the investigation history store is configured and
// returns an error if not.
func (c *Config) RequireHistory() error {
	result := &ValidationResult{Valid: true}
	mode := DetectMode()
	c.validateHistory(result, true, mode)

	if result.HasErrors() {
		return errors.ConfigError(result.Error())
	}

	return nil
}
