package config

// StrategyConfig defines per-phase model selections and fallbacks.
type StrategyConfig struct {
	DefaultModel string            `mapstructure:"default_model"`
	ChatModel    string            `mapstructure:"chat_model"`
	PhaseModels  map[string]string `mapstructure:"phase_models"`  // phase name -> model id
	Fallbacks    []string          `mapstructure:"fallbacks"`     // ordered fallback model ids
	MaxExpensive int               `mapstructure:"max_expensive"` // limit expensive model uses per run (0=unlimited)
}
