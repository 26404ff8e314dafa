// Package config loads and validates the buildrisk TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the process-wide buildrisk configuration.
type Config struct {
	General    General           `toml:"general"`
	Storage    Storage           `toml:"storage"`
	Queues     Queues            `toml:"queues"`
	RetryTiers map[string]RetryPolicy `toml:"retry_tiers"`
	RateLimits RateLimits        `toml:"rate_limits"`
	Providers  map[string]Provider `toml:"providers"`
	ScanTools  ScanTools         `toml:"scan_tools"`
	Splitter   SplitterDefaults  `toml:"splitter"`
	API        API               `toml:"api"`
}

// General holds process-wide tunables.
type General struct {
	LogLevel           string   `toml:"log_level"`
	StateDB            string   `toml:"state_db"`
	TemporalHostPort   string   `toml:"temporal_host_port"`
	TaskQueue          string   `toml:"task_queue"`
	IntraNodePoolSize  int      `toml:"intra_node_pool_size"` // §5 default 4
	ScanRetrySweep     Duration `toml:"scan_retry_sweep"`
	StuckScenarioAfter Duration `toml:"stuck_scenario_after"`
}

// Storage defines the on-disk layout rooted at DataDir (§6 storage layout).
type Storage struct {
	DataDir string `toml:"data_dir"`
}

func (s Storage) ReposRoot() string       { return filepath.Join(s.DataDir, "repos") }
func (s Storage) WorktreesRoot() string   { return filepath.Join(s.DataDir, "worktrees") }
func (s Storage) LogsRoot() string        { return filepath.Join(s.DataDir, "logs") }
func (s Storage) ScanConfigRoot() string  { return filepath.Join(s.DataDir, "scan-config") }
func (s Storage) ScenariosRoot() string   { return filepath.Join(s.DataDir, "scenarios") }

// Queues names the canonical queues from §4.1.
type Queues struct {
	Ingestion           string `toml:"ingestion"`
	Processing          string `toml:"processing"`
	ScenarioIngestion   string `toml:"scenario_ingestion"`
	ScenarioProcessing  string `toml:"scenario_processing"`
	ScenarioScanning    string `toml:"scenario_scanning"`
	SonarScan           string `toml:"sonar_scan"`
	TrivyScan           string `toml:"trivy_scan"`
}

// RetryPolicy mirrors §4.1's per-task-kind retry policy.
type RetryPolicy struct {
	MaxAttempts      int      `toml:"max_attempts"`
	InitialBackoff   Duration `toml:"initial_backoff"`
	MaxBackoff       Duration `toml:"max_backoff"` // capped at 10m for retryable/rate_limited
	BackoffFactor    float64  `toml:"backoff_factor"`
}

// RateLimits configures the CI-provider credential pool (§5 shared-resource policy).
type RateLimits struct {
	TokensPerProvider   int      `toml:"tokens_per_provider"`
	CooldownOnExhausted Duration `toml:"cooldown_on_exhausted"`
	RedisAddr           string   `toml:"redis_addr"`
}

// Provider is one CI-provider credential/token entry.
type Provider struct {
	Name  string `toml:"name"`
	Token string `toml:"token"`
}

// ScanTools configures the scan dispatcher (C7).
type ScanTools struct {
	BatchSize        int      `toml:"batch_size"`        // default 100
	InterBatchDelay  Duration `toml:"inter_batch_delay"`  // default 500ms
	SonarImage       string   `toml:"sonar_image"`
	TrivyImage       string   `toml:"trivy_image"`
	ExpiredLogStreak int      `toml:"expired_log_streak"` // default 10 (§4.5)
	MaxLogFileBytes  int64    `toml:"max_log_file_bytes"`
}

// SplitterDefaults configures C8 defaults.
type SplitterDefaults struct {
	DefaultTrainRatio float64 `toml:"default_train_ratio"`
	DefaultValRatio   float64 `toml:"default_val_ratio"`
	DefaultTestRatio  float64 `toml:"default_test_ratio"`
}

// API configures the thin status surface pinned by §6 (not the out-of-scope HTTP API).
type API struct {
	Bind string `toml:"bind"`
}

// Clone returns a deep-enough copy for safe concurrent handout via ConfigManager.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	out := *cfg
	out.RetryTiers = cloneRetryPolicyMap(cfg.RetryTiers)
	out.Providers = cloneProviders(cfg.Providers)
	return &out
}

func cloneRetryPolicyMap(in map[string]RetryPolicy) map[string]RetryPolicy {
	if in == nil {
		return nil
	}
	out := make(map[string]RetryPolicy, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneProviders(in map[string]Provider) map[string]Provider {
	if in == nil {
		return nil
	}
	out := make(map[string]Provider, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Load reads and validates a TOML config file, applying defaults for unset fields.
func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %q: %w", path, err)
	}
	applyDefaults(&cfg, md)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return &cfg, nil
}

// LoadManager loads config and wraps it in a ConfigManager.
func LoadManager(path string) (ConfigManager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewManager(cfg), nil
}

func applyDefaults(cfg *Config, md toml.MetaData) {
	if cfg.General.StateDB == "" {
		cfg.General.StateDB = "buildrisk.db"
	}
	if cfg.General.TemporalHostPort == "" {
		cfg.General.TemporalHostPort = "127.0.0.1:7233"
	}
	if cfg.General.TaskQueue == "" {
		cfg.General.TaskQueue = "buildrisk-task-queue"
	}
	if cfg.General.IntraNodePoolSize <= 0 {
		cfg.General.IntraNodePoolSize = 4
	}
	if cfg.General.ScanRetrySweep.Duration <= 0 {
		cfg.General.ScanRetrySweep = Duration{5 * time.Minute}
	}
	if cfg.General.StuckScenarioAfter.Duration <= 0 {
		cfg.General.StuckScenarioAfter = Duration{2 * time.Hour}
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Queues.Ingestion == "" {
		cfg.Queues.Ingestion = "ingestion"
	}
	if cfg.Queues.Processing == "" {
		cfg.Queues.Processing = "processing"
	}
	if cfg.Queues.ScenarioIngestion == "" {
		cfg.Queues.ScenarioIngestion = "scenario_ingestion"
	}
	if cfg.Queues.ScenarioProcessing == "" {
		cfg.Queues.ScenarioProcessing = "scenario_processing"
	}
	if cfg.Queues.ScenarioScanning == "" {
		cfg.Queues.ScenarioScanning = "scenario_scanning"
	}
	if cfg.Queues.SonarScan == "" {
		cfg.Queues.SonarScan = "sonar_scan"
	}
	if cfg.Queues.TrivyScan == "" {
		cfg.Queues.TrivyScan = "trivy_scan"
	}
	if cfg.RateLimits.TokensPerProvider <= 0 {
		cfg.RateLimits.TokensPerProvider = 5000
	}
	if cfg.RateLimits.CooldownOnExhausted.Duration <= 0 {
		cfg.RateLimits.CooldownOnExhausted = Duration{60 * time.Second}
	}
	if cfg.RateLimits.RedisAddr == "" {
		cfg.RateLimits.RedisAddr = "127.0.0.1:6379"
	}
	if cfg.ScanTools.BatchSize <= 0 {
		cfg.ScanTools.BatchSize = 100
	}
	if cfg.ScanTools.InterBatchDelay.Duration <= 0 {
		cfg.ScanTools.InterBatchDelay = Duration{500 * time.Millisecond}
	}
	if cfg.ScanTools.SonarImage == "" {
		cfg.ScanTools.SonarImage = "sonarsource/sonar-scanner-cli:latest"
	}
	if cfg.ScanTools.TrivyImage == "" {
		cfg.ScanTools.TrivyImage = "aquasec/trivy:latest"
	}
	if cfg.ScanTools.ExpiredLogStreak <= 0 {
		cfg.ScanTools.ExpiredLogStreak = 10
	}
	if cfg.ScanTools.MaxLogFileBytes <= 0 {
		cfg.ScanTools.MaxLogFileBytes = 25 * 1024 * 1024
	}
	if cfg.Splitter.DefaultTrainRatio <= 0 {
		cfg.Splitter.DefaultTrainRatio = 0.70
	}
	if cfg.Splitter.DefaultValRatio <= 0 {
		cfg.Splitter.DefaultValRatio = 0.15
	}
	if cfg.Splitter.DefaultTestRatio <= 0 {
		cfg.Splitter.DefaultTestRatio = 0.15
	}
	if cfg.RetryTiers == nil {
		cfg.RetryTiers = map[string]RetryPolicy{}
	}
	for _, kind := range []string{"retryable", "rate_limited"} {
		if _, ok := cfg.RetryTiers[kind]; !ok {
			cfg.RetryTiers[kind] = defaultRetryPolicy(kind)
		}
	}
}

func defaultRetryPolicy(kind string) RetryPolicy {
	switch kind {
	case "rate_limited":
		return RetryPolicy{
			MaxAttempts:    5,
			InitialBackoff: Duration{60 * time.Second},
			MaxBackoff:     Duration{10 * time.Minute},
			BackoffFactor:  2.0,
		}
	default:
		return RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: Duration{2 * time.Second},
			MaxBackoff:     Duration{10 * time.Minute},
			BackoffFactor:  2.0,
		}
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.General.StateDB) == "" {
		return fmt.Errorf("general.state_db is required")
	}
	if strings.TrimSpace(cfg.Storage.DataDir) == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if cfg.ScanTools.BatchSize <= 0 {
		return fmt.Errorf("scan_tools.batch_size must be positive")
	}
	rl := cfg.RetryTiers["rate_limited"]
	if rl.InitialBackoff.Duration < 60*time.Second {
		return fmt.Errorf("retry_tiers.rate_limited.initial_backoff must be >= 60s (§4.1)")
	}
	if rl.MaxAttempts < 5 {
		return fmt.Errorf("retry_tiers.rate_limited.max_attempts must be >= 5 (§4.1)")
	}
	return nil
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
