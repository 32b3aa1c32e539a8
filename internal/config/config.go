// Package config handles configuration loading for the task manager.
// It supports a YAML config file, environment variables, and built-in
// defaults. The Config struct is loaded once at startup and passed
// explicitly; no component reads the process environment directly.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// SecurityMode controls how strictly path validation is enforced.
type SecurityMode string

const (
	// SecurityModeStrict rejects every path outside the configured roots.
	SecurityModeStrict SecurityMode = "strict"
	// SecurityModePermissive logs violations but only rejects traversal
	// and reserved-root escapes.
	SecurityModePermissive SecurityMode = "permissive"
)

// Valid returns true if the mode is a known value.
func (m SecurityMode) Valid() bool {
	return m == SecurityModeStrict || m == SecurityModePermissive
}

// Config holds all configuration for the task orchestration core.
type Config struct {
	Security  SecurityConfig  `mapstructure:"security"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Locks     LockConfig      `mapstructure:"locks"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Decompose DecomposeConfig `mapstructure:"decompose"`
	Agents    AgentConfig     `mapstructure:"agents"`
	Perf      PerfConfig      `mapstructure:"perf"`
}

// SecurityConfig holds path validation settings.
type SecurityConfig struct {
	// ReadRoot is the directory all read paths must stay beneath.
	ReadRoot string `mapstructure:"read_root"`
	// WriteRoot is the directory all write paths must stay beneath.
	WriteRoot string `mapstructure:"write_root"`
	// Mode selects strict or permissive enforcement.
	Mode SecurityMode `mapstructure:"mode"`
	// PerformanceThresholdMS bounds per-validation latency, 10-10000.
	PerformanceThresholdMS int `mapstructure:"performance_threshold_ms"`
}

// StorageConfig holds storage engine settings.
type StorageConfig struct {
	// Compression enables gzip for task files.
	Compression bool `mapstructure:"compression"`
	// CacheSize bounds the in-memory hot entity cache.
	CacheSize int `mapstructure:"cache_size"`
	// GraphCacheTTL bounds how long derived graphs are served from cache.
	GraphCacheTTL time.Duration `mapstructure:"graph_cache_ttl"`
	// WatchFiles enables cache invalidation on external file changes.
	WatchFiles bool `mapstructure:"watch_files"`
}

// LockConfig holds access manager settings.
type LockConfig struct {
	// DefaultTimeout is applied to acquires that specify none.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// MaxTimeout caps any requested acquire timeout.
	MaxTimeout time.Duration `mapstructure:"max_timeout"`
	// CleanupInterval is how often orphaned locks are reaped.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	// DeadlockInterval is how often the wait-for graph is walked.
	DeadlockInterval time.Duration `mapstructure:"deadlock_interval"`
	// AuditEnabled turns on the acquire/release audit trail.
	AuditEnabled bool `mapstructure:"audit_enabled"`
}

// OracleConfig holds LLM oracle settings.
type OracleConfig struct {
	// Timeout bounds a single oracle call.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries bounds retries for unavailable-oracle failures.
	MaxRetries int `mapstructure:"max_retries"`
	// SalvageThreshold is the minimum response size before JSON salvage runs.
	SalvageThreshold int `mapstructure:"salvage_threshold"`
	// Model is the model identifier passed to the LLM client.
	Model string `mapstructure:"model"`
	// UseBedrock routes calls through AWS Bedrock instead of the direct API.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `mapstructure:"aws_region"`
}

// DecomposeConfig holds recursive decomposition settings.
type DecomposeConfig struct {
	// MaxDepth bounds recursion. Tasks at MaxDepth are accepted as atomic.
	MaxDepth int `mapstructure:"max_depth"`
	// MinConfidence is the atomic-detection confidence below which a
	// result is treated as "not atomic" unless the heuristic agrees.
	MinConfidence float64 `mapstructure:"min_confidence"`
	// EstimateTolerance is the allowed drift between a parent estimate
	// and the sum of its children, as a fraction.
	EstimateTolerance float64 `mapstructure:"estimate_tolerance"`
}

// AgentConfig holds orchestrator settings.
type AgentConfig struct {
	// HeartbeatInterval is the expected heartbeat cadence; agents missing
	// two intervals are marked offline.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// DispatchTimeout bounds a single transport dispatch.
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	// PollingInterval is the http transport polling cadence.
	PollingInterval time.Duration `mapstructure:"polling_interval"`
	// SyncInterval is how often the integration bridge reconciles views.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

// PerfConfig holds performance monitor settings.
type PerfConfig struct {
	// WindowSize bounds samples kept per operation.
	WindowSize int `mapstructure:"window_size"`
	// BaselineAge splits samples into baseline (older) and recent (newer).
	BaselineAge time.Duration `mapstructure:"baseline_age"`
	// AutoOptimize enables automatic remediation on regression.
	AutoOptimize bool `mapstructure:"auto_optimize"`
}

// Load reads configuration from an optional YAML file, environment
// variables, and defaults.
// Precedence (highest to lowest):
//  1. Environment variables (VIBE_TASK_MANAGER_READ_DIR, VIBE_CODER_OUTPUT_DIR,
//     VIBE_TASK_MANAGER_SECURITY_MODE, VIBE_SECURITY_PERFORMANCE_THRESHOLD)
//  2. Config file (path argument, or taskman.yaml in the working directory)
//  3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	} else {
		v.SetConfigName("taskman")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	// Environment variable names are preserved for compatibility with
	// existing deployments.
	v.BindEnv("security.read_root", "VIBE_TASK_MANAGER_READ_DIR")
	v.BindEnv("security.write_root", "VIBE_CODER_OUTPUT_DIR")
	v.BindEnv("security.mode", "VIBE_TASK_MANAGER_SECURITY_MODE")
	v.BindEnv("security.performance_threshold_ms", "VIBE_SECURITY_PERFORMANCE_THRESHOLD")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Security.ReadRoot = os.ExpandEnv(cfg.Security.ReadRoot)
	cfg.Security.WriteRoot = os.ExpandEnv(cfg.Security.WriteRoot)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded configuration against its documented ranges.
func (c *Config) Validate() error {
	if c.Security.ReadRoot == "" {
		return fmt.Errorf("security.read_root must be set (VIBE_TASK_MANAGER_READ_DIR)")
	}
	if c.Security.WriteRoot == "" {
		return fmt.Errorf("security.write_root must be set (VIBE_CODER_OUTPUT_DIR)")
	}
	if !filepath.IsAbs(c.Security.ReadRoot) || !filepath.IsAbs(c.Security.WriteRoot) {
		return fmt.Errorf("security roots must be absolute paths")
	}
	if !c.Security.Mode.Valid() {
		return fmt.Errorf("security.mode must be strict or permissive (got %q)", c.Security.Mode)
	}
	if c.Security.PerformanceThresholdMS < 10 || c.Security.PerformanceThresholdMS > 10000 {
		return fmt.Errorf("security.performance_threshold_ms must be in [10, 10000] (got %d)", c.Security.PerformanceThresholdMS)
	}
	if c.Decompose.MaxDepth < 1 {
		return fmt.Errorf("decompose.max_depth must be at least 1 (got %d)", c.Decompose.MaxDepth)
	}
	if c.Locks.DefaultTimeout > c.Locks.MaxTimeout {
		return fmt.Errorf("locks.default_timeout exceeds locks.max_timeout")
	}
	return nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("security.mode", "strict")
	v.SetDefault("security.performance_threshold_ms", 1000)

	v.SetDefault("storage.compression", true)
	v.SetDefault("storage.cache_size", 1000)
	v.SetDefault("storage.graph_cache_ttl", "5m")
	v.SetDefault("storage.watch_files", true)

	v.SetDefault("locks.default_timeout", "30s")
	v.SetDefault("locks.max_timeout", "300s")
	v.SetDefault("locks.cleanup_interval", "60s")
	v.SetDefault("locks.deadlock_interval", "5s")
	v.SetDefault("locks.audit_enabled", true)

	v.SetDefault("oracle.timeout", "30s")
	v.SetDefault("oracle.max_retries", 3)
	v.SetDefault("oracle.salvage_threshold", 1024)
	v.SetDefault("oracle.model", "claude-sonnet-4-20250514")

	v.SetDefault("decompose.max_depth", 3)
	v.SetDefault("decompose.min_confidence", 0.6)
	v.SetDefault("decompose.estimate_tolerance", 0.25)

	v.SetDefault("agents.heartbeat_interval", "30s")
	v.SetDefault("agents.dispatch_timeout", "30s")
	v.SetDefault("agents.polling_interval", "10s")
	v.SetDefault("agents.sync_interval", "60s")

	v.SetDefault("perf.window_size", 1000)
	v.SetDefault("perf.baseline_age", "1h")
	v.SetDefault("perf.auto_optimize", false)
}

// Default returns a Config with default values rooted at the given
// directories. Used by tests and by callers that configure
// programmatically.
func Default(readRoot, writeRoot string) *Config {
	return &Config{
		Security: SecurityConfig{
			ReadRoot:               readRoot,
			WriteRoot:              writeRoot,
			Mode:                   SecurityModeStrict,
			PerformanceThresholdMS: 1000,
		},
		Storage: StorageConfig{
			Compression:   true,
			CacheSize:     1000,
			GraphCacheTTL: 5 * time.Minute,
			WatchFiles:    false,
		},
		Locks: LockConfig{
			DefaultTimeout:   30 * time.Second,
			MaxTimeout:       300 * time.Second,
			CleanupInterval:  60 * time.Second,
			DeadlockInterval: 5 * time.Second,
			AuditEnabled:     true,
		},
		Oracle: OracleConfig{
			Timeout:          30 * time.Second,
			MaxRetries:       3,
			SalvageThreshold: 1024,
			Model:            "claude-sonnet-4-20250514",
		},
		Decompose: DecomposeConfig{
			MaxDepth:          3,
			MinConfidence:     0.6,
			EstimateTolerance: 0.25,
		},
		Agents: AgentConfig{
			HeartbeatInterval: 30 * time.Second,
			DispatchTimeout:   30 * time.Second,
			PollingInterval:   10 * time.Second,
			SyncInterval:      60 * time.Second,
		},
		Perf: PerfConfig{
			WindowSize:   1000,
			BaselineAge:  time.Hour,
			AutoOptimize: false,
		},
	}
}
