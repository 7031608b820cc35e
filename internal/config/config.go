// Package config loads and validates the engine's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cortex-work/engine/internal/model"
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

// Config is the engine's full TOML configuration.
type Config struct {
	General General            `toml:"general"`
	Budget  model.BudgetConfig `toml:"budget"`
	Router  RouterConfig       `toml:"router"`
	Phase   PhaseConfig        `toml:"phase"`
	Worker  WorkerConfig       `toml:"worker"`
	API     API                `toml:"api"`
}

// General controls process-wide behavior not owned by any one component.
type General struct {
	CycleCooldown Duration `toml:"cycle_cooldown"`
	LogLevel      string   `toml:"log_level"`
	StateDB       string   `toml:"state_db"`

	// ForceConservativeAtWeeklyUsagePct is the cost-control escalation knob:
	// once weekly spend crosses this percentage of the weekly cap, the
	// router is steered toward the cheapest provider for the SCAN, PLAN and
	// EVAL resolutions; the build worker resolution is unchanged.
	ForceConservativeAtWeeklyUsagePct float64 `toml:"force_conservative_at_weekly_usage_pct"`

	// PhaseAttemptCooldown is both the rolling window in which repeated
	// failures of a phase are counted and the length of the cooldown that
	// blocks the phase once the limit is reached. Zero disables the limiter.
	PhaseAttemptCooldown Duration `toml:"phase_attempt_cooldown"`
}

// RouterConfig configures the Model Router's mode and per-provider CLI.
type RouterConfig struct {
	Mode      string              `toml:"mode"` // simulation | selective | live
	Enabled   map[string]bool     `toml:"enabled"`
	Providers map[string]Provider `toml:"providers"`
}

// Provider describes one CLI-backed text-generation backend.
type Provider struct {
	Model             string   `toml:"model"`
	CLI               string   `toml:"cli"`
	Flags             []string `toml:"flags"`
	CostInputPerMtok  float64  `toml:"cost_input_per_mtok"`
	CostOutputPerMtok float64  `toml:"cost_output_per_mtok"`
	Timeout           Duration `toml:"timeout"`
	RateLimitPerSec   float64  `toml:"rate_limit_per_sec"`
}

// PhaseConfig holds the conservative per-phase cost estimates and
// task-level defaults used by the Phase Executor.
type PhaseConfig struct {
	ScanEstimateUsd      float64 `toml:"scan_estimate_usd"`
	PlanEstimateUsd      float64 `toml:"plan_estimate_usd"`
	BuildEstimateUsd     float64 `toml:"build_estimate_usd"`
	ShipCheckEstimateUsd float64 `toml:"ship_check_estimate_usd"`
	EvalEstimateUsd      float64 `toml:"eval_estimate_usd"`
	PerTaskDefaultUsd    float64 `toml:"per_task_default_usd"`
}

// WorkerConfig selects and configures the build/review worker backend.
type WorkerConfig struct {
	Backend          string   `toml:"backend"` // mock | temporal | docker
	TemporalHostPort string   `toml:"temporal_host_port"`
	TemporalTimeout  Duration `toml:"temporal_timeout"`
	DockerImage      string   `toml:"docker_image"`
}

// API configures the control surface.
type API struct {
	Bind     string      `toml:"bind"`
	Security APISecurity `toml:"security"`
}

type APISecurity struct {
	Enabled          bool     `toml:"enabled"`
	AllowedTokens    []string `toml:"allowed_tokens"`
	RequireLocalOnly bool     `toml:"require_local_only"`
	AuditLog         string   `toml:"audit_log"`
}

// ExpandHome expands a leading "~" into the current user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// Clone returns a deep copy, preventing shared mutable state from leaking
// across concurrent readers of a ConfigManager.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	cloned.Budget.PerProviderDailyUsd = cloneFloatMap(cfg.Budget.PerProviderDailyUsd)
	cloned.Router.Enabled = cloneBoolMap(cfg.Router.Enabled)
	cloned.Router.Providers = cloneProviderMap(cfg.Router.Providers)
	cloned.API.Security.AllowedTokens = cloneStringSlice(cfg.API.Security.AllowedTokens)
	return &cloned
}

func cloneFloatMap(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneBoolMap(in map[string]bool) map[string]bool {
	if in == nil {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneProviderMap(in map[string]Provider) map[string]Provider {
	if in == nil {
		return nil
	}
	out := make(map[string]Provider, len(in))
	for k, p := range in {
		p.Flags = cloneStringSlice(p.Flags)
		out[k] = p
	}
	return out
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.General.CycleCooldown.Duration == 0 {
		cfg.General.CycleCooldown = Duration{15 * time.Minute}
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.StateDB == "" {
		cfg.General.StateDB = "cortex-engine.db"
	}
	cfg.General.StateDB = ExpandHome(cfg.General.StateDB)
	cfg.API.Security.AuditLog = ExpandHome(cfg.API.Security.AuditLog)
	if cfg.Router.Mode == "" {
		cfg.Router.Mode = "simulation"
	}
	if cfg.Phase.PerTaskDefaultUsd == 0 {
		cfg.Phase.PerTaskDefaultUsd = cfg.Budget.PerTaskUsd
	}
	if cfg.Worker.Backend == "" {
		cfg.Worker.Backend = "mock"
	}
	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1:8086"
	}
}

func validate(cfg *Config) error {
	switch cfg.Router.Mode {
	case "simulation", "selective", "live":
	default:
		return fmt.Errorf("invalid router mode %q", cfg.Router.Mode)
	}
	switch cfg.Worker.Backend {
	case "mock", "temporal", "docker":
	default:
		return fmt.Errorf("invalid worker backend %q", cfg.Worker.Backend)
	}
	if cfg.Budget.PerCallUsd < 0 || cfg.Budget.PerTaskUsd < 0 || cfg.Budget.PerCycleUsd < 0 ||
		cfg.Budget.DailyUsd < 0 || cfg.Budget.WeeklyUsd < 0 {
		return fmt.Errorf("budget caps must be >= 0")
	}
	return nil
}

// Load reads and validates an engine TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validating: %w", err)
	}
	return &cfg, nil
}

// Reload re-reads and validates the config at path.
func Reload(path string) (*Config, error) {
	return Load(path)
}

// LoadManager reads config from path and returns an RWMutex-backed manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config: path is required")
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewManager(cfg), nil
}
