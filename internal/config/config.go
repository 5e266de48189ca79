package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config describes the top-level application configuration loaded from YAML and ENV.
type Config struct {
	Version   string                    `mapstructure:"version"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    map[string]ModelConfig    `mapstructure:"models"`
	Strategy  StrategyConfig            `mapstructure:"strategy"`
	Sandbox   SandboxConfig             `mapstructure:"sandbox"`
	Tools     ToolsConfig               `mapstructure:"tools"`
	Scheduler SchedulerConfig           `mapstructure:"scheduler"`
	Watchdog  WatchdogConfig            `mapstructure:"watchdog"`
	Loop      LoopConfig                `mapstructure:"loop"`
	Phases    PhasesConfig              `mapstructure:"phases"`
	History   HistoryConfig             `mapstructure:"history"`
	Audit     AuditConfig               `mapstructure:"audit"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Server    ServerConfig              `mapstructure:"server"`
}

// ProviderConfig represents LLM provider configuration such as OpenAI, Ollama, or custom gateways.
type ProviderConfig struct {
	Type      string        `mapstructure:"type"`       // openai, openrouter, vllm, lmstudio, ollama, custom
	Model     string        `mapstructure:"model"`      // default model for the provider
	BaseURL   string        `mapstructure:"base_url"`   // API base URL
	APIKey    string        `mapstructure:"api_key"`    // optional API key
	Timeout   time.Duration `mapstructure:"timeout"`    // request timeout
	MaxTokens int           `mapstructure:"max_tokens"` // optional provider-level token cap
}

// ModelConfig binds a logical model name to a provider entry and model parameters.
type ModelConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Default     bool    `mapstructure:"default"`
	Expensive   bool    `mapstructure:"expensive"`
}

// SandboxConfig controls command and filesystem restrictions.
type SandboxConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	AllowNetwork    bool     `mapstructure:"allow_network"`
	AllowWrite      bool     `mapstructure:"allow_write"`
	AllowedCommands []string `mapstructure:"allowed_commands"`
	DeniedCommands  []string `mapstructure:"denied_commands"`
	WorkingDir      string   `mapstructure:"working_dir"`
	TimeoutSeconds  int      `mapstructure:"timeout_seconds"`
}

// ToolsConfig configures tool behaviour.
type ToolsConfig struct {
	AllowExec            bool `mapstructure:"allow_exec"`
	AllowGit             bool `mapstructure:"allow_git"`
	AllowFileWrite       bool `mapstructure:"allow_file_write"`
	ExecTimeoutSeconds   int  `mapstructure:"exec_timeout_seconds"`
	EnableIndex          bool `mapstructure:"enable_index"`
	IndexMaxFiles        int  `mapstructure:"index_max_files"`
	IndexMaxFileBytes    int  `mapstructure:"index_max_file_bytes"`
	ProgressEventsPerSec int  `mapstructure:"progress_events_per_sec"`
}

// SchedulerConfig bounds concurrent tool execution.
type SchedulerConfig struct {
	ReadSlots int `mapstructure:"read_slots"`
}

// WatchdogConfig controls the per-invocation liveness deadline.
// TimeoutSeconds outside [1, 600] is clamped at use, not rejected here.
type WatchdogConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// LoopConfig bounds the iterative tool loop per conversation mode.
type LoopConfig struct {
	AgentMaxIterations int `mapstructure:"agent_max_iterations"`
	ChatMaxIterations  int `mapstructure:"chat_max_iterations"`
}

// PhasesConfig bounds the orchestrator's tool loops and the verifier command surface.
type PhasesConfig struct {
	WorkerCap               int      `mapstructure:"worker_cap"`
	ReviewerCap             int      `mapstructure:"reviewer_cap"`
	VerifierCap             int      `mapstructure:"verifier_cap"`
	VerifierAllowedPrefixes []string `mapstructure:"verifier_allowed_prefixes"`
}

// HistoryConfig controls transcript folding.
type HistoryConfig struct {
	FoldThreshold  int `mapstructure:"fold_threshold"`
	FoldKeepRecent int `mapstructure:"fold_keep_recent"`
}

// AuditConfig controls the append-only event store.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// ServerConfig describes daemon settings.
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	Transport      string `mapstructure:"transport"` // connect or ndjson
}

// Load reads configuration from the provided path or defaults to configs/config.yaml.
// Environment variables override file values (prefix: LOOM_, dots replaced with underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			v.SetConfigName("config.example")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults populates sensible defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("sandbox.enabled", true)
	v.SetDefault("sandbox.allow_network", false)
	v.SetDefault("sandbox.allow_write", true)
	v.SetDefault("sandbox.timeout_seconds", 120)

	v.SetDefault("tools.allow_exec", true)
	v.SetDefault("tools.allow_git", true)
	v.SetDefault("tools.allow_file_write", true)
	v.SetDefault("tools.exec_timeout_seconds", 120)
	v.SetDefault("tools.enable_index", true)
	v.SetDefault("tools.index_max_files", 200)
	v.SetDefault("tools.index_max_file_bytes", 65536)
	v.SetDefault("tools.progress_events_per_sec", 5)

	v.SetDefault("scheduler.read_slots", 4)

	v.SetDefault("watchdog.timeout_seconds", 120)

	v.SetDefault("loop.agent_max_iterations", 12)
	v.SetDefault("loop.chat_max_iterations", 5)

	v.SetDefault("phases.worker_cap", 12)
	v.SetDefault("phases.reviewer_cap", 3)
	v.SetDefault("phases.verifier_cap", 3)
	v.SetDefault("phases.verifier_allowed_prefixes", []string{
		"git status", "git diff", "git log", "go build", "go vet", "go test", "ls", "cat",
	})

	v.SetDefault("history.fold_threshold", 60)
	v.SetDefault("history.fold_keep_recent", 20)

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.path", "loom-audit.db")

	v.SetDefault("strategy.default_model", "")
	v.SetDefault("strategy.chat_model", "")
	v.SetDefault("strategy.phase_models", map[string]string{})
	v.SetDefault("strategy.fallbacks", []string{})
	v.SetDefault("strategy.max_expensive", 0)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.transport", "connect")
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}

	if len(c.Models) == 0 {
		return errors.New("at least one model must be defined")
	}

	var defaultFound bool
	for name, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("provider %q must define type", name)
		}
	}

	for name, m := range c.Models {
		if m.Provider == "" {
			return fmt.Errorf("model %q must reference provider", name)
		}

		if _, ok := c.Providers[m.Provider]; !ok {
			return fmt.Errorf("model %q references unknown provider %q", name, m.Provider)
		}

		if m.Temperature < 0 || m.Temperature > 2 {
			return fmt.Errorf("model %q temperature must be within [0,2]", name)
		}

		if m.MaxTokens < 0 {
			return fmt.Errorf("model %q max_tokens cannot be negative", name)
		}

		if m.Default {
			defaultFound = true
		}
	}

	if !defaultFound {
		return errors.New("at least one model should be marked as default")
	}

	if c.Scheduler.ReadSlots <= 0 {
		return errors.New("scheduler.read_slots must be > 0")
	}

	if c.Watchdog.TimeoutSeconds < 0 {
		return errors.New("watchdog.timeout_seconds must be >= 0")
	}

	if c.Loop.AgentMaxIterations <= 0 {
		return errors.New("loop.agent_max_iterations must be > 0")
	}
	if c.Loop.ChatMaxIterations <= 0 {
		return errors.New("loop.chat_max_iterations must be > 0")
	}

	if c.Phases.WorkerCap <= 0 {
		return errors.New("phases.worker_cap must be > 0")
	}
	if c.Phases.ReviewerCap <= 0 {
		return errors.New("phases.reviewer_cap must be > 0")
	}
	if c.Phases.VerifierCap <= 0 {
		return errors.New("phases.verifier_cap must be > 0")
	}
	for _, prefix := range c.Phases.VerifierAllowedPrefixes {
		if strings.TrimSpace(prefix) == "" {
			return errors.New("phases.verifier_allowed_prefixes must not contain empty entries")
		}
	}

	if c.History.FoldThreshold < 0 {
		return errors.New("history.fold_threshold must be >= 0")
	}
	if c.History.FoldKeepRecent < 0 {
		return errors.New("history.fold_keep_recent must be >= 0")
	}
	if c.History.FoldThreshold > 0 && c.History.FoldKeepRecent >= c.History.FoldThreshold {
		return errors.New("history.fold_keep_recent must be below history.fold_threshold")
	}

	if c.Audit.Enabled && strings.TrimSpace(c.Audit.Path) == "" {
		return errors.New("audit.path must be set when audit.enabled is true")
	}

	if c.Sandbox.TimeoutSeconds <= 0 {
		return errors.New("sandbox.timeout_seconds must be > 0")
	}

	if c.Tools.ExecTimeoutSeconds <= 0 {
		return errors.New("tools.exec_timeout_seconds must be > 0")
	}
	if c.Tools.IndexMaxFiles < 0 {
		return errors.New("tools.index_max_files must be >= 0")
	}
	if c.Tools.IndexMaxFileBytes < 0 {
		return errors.New("tools.index_max_file_bytes must be >= 0")
	}
	if c.Tools.ProgressEventsPerSec <= 0 {
		return errors.New("tools.progress_events_per_sec must be > 0")
	}

	for _, modelID := range []string{c.Strategy.DefaultModel, c.Strategy.ChatModel} {
		if strings.TrimSpace(modelID) == "" {
			continue
		}
		if _, ok := c.Models[modelID]; !ok {
			return fmt.Errorf("strategy references unknown model %q", modelID)
		}
	}
	for phase, modelID := range c.Strategy.PhaseModels {
		if _, ok := c.Models[modelID]; !ok {
			return fmt.Errorf("strategy phase %q references unknown model %q", phase, modelID)
		}
	}
	for _, modelID := range c.Strategy.Fallbacks {
		if _, ok := c.Models[modelID]; !ok {
			return fmt.Errorf("strategy fallback references unknown model %q", modelID)
		}
	}
	if c.Strategy.MaxExpensive < 0 {
		return fmt.Errorf("strategy.max_expensive must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Server.Transport)) {
	case "", "connect", "ndjson":
	default:
		return fmt.Errorf("server.transport must be one of connect or ndjson, got %q", c.Server.Transport)
	}

	return nil
}
