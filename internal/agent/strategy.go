package agent

import (
	"strings"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/llm"
)

// StrategyEngine chooses models for phases and modes.
type StrategyEngine struct {
	registry *llm.Registry
	cfg      config.StrategyConfig
}

// NewStrategyEngine builds a strategy selector.
func NewStrategyEngine(reg *llm.Registry, cfg config.StrategyConfig) *StrategyEngine {
	return &StrategyEngine{registry: reg, cfg: cfg}
}

// ResolveModel picks the model for a role. Preference order: explicit
// override, the per-phase table, the mode binding, the configured
// default, then the fallback list. The registry default is the last
// resort.
func (s *StrategyEngine) ResolveModel(role string, override string) (llm.Provider, llm.ModelRoute, error) {
	if s == nil || s.registry == nil {
		return nil, llm.ModelRoute{}, nil
	}
	role = strings.ToLower(strings.TrimSpace(role))

	candidates := make([]string, 0, 4+len(s.cfg.Fallbacks))
	candidates = append(candidates, override, s.cfg.PhaseModels[role], s.modeModel(role), s.cfg.DefaultModel)
	candidates = append(candidates, s.cfg.Fallbacks...)
	for _, id := range candidates {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if p, route, err := s.registry.Resolve(id); err == nil {
			return p, route, nil
		}
	}
	return s.registry.Resolve("")
}

// PickWithBudget resolves a model for a role while honouring the
// expensive-use budget. A pick that would exceed the budget is demoted
// to the first resolvable fallback and, if that is still expensive, to
// the default model. The returned flag reports whether the final pick
// counts against the budget.
func (s *StrategyEngine) PickWithBudget(role, override string, expensiveUsed int) (llm.Provider, llm.ModelRoute, string, bool, error) {
	prov, route, err := s.ResolveModel(role, override)
	if err != nil {
		return nil, llm.ModelRoute{}, "", false, err
	}
	if prov == nil {
		return nil, llm.ModelRoute{}, "", false, nil
	}

	if s.overBudget(route.Name, expensiveUsed) {
		for _, fb := range s.cfg.Fallbacks {
			p, r, err := s.registry.Resolve(fb)
			if err != nil {
				continue
			}
			prov, route = p, r
			break
		}
	}
	if s.overBudget(route.Name, expensiveUsed) && s.cfg.DefaultModel != "" {
		if p, r, err := s.registry.Resolve(s.cfg.DefaultModel); err == nil {
			prov, route = p, r
		}
	}
	return prov, route, route.Name, s.registry.IsExpensive(route.Name), nil
}

// NextFallback returns the next fallback model id different from current.
func (s *StrategyEngine) NextFallback(current string) string {
	for _, fb := range s.cfg.Fallbacks {
		if strings.TrimSpace(fb) == "" || fb == current {
			continue
		}
		return fb
	}
	return ""
}

func (s *StrategyEngine) overBudget(modelID string, used int) bool {
	return s.cfg.MaxExpensive > 0 && s.registry.IsExpensive(modelID) && used >= s.cfg.MaxExpensive
}

func (s *StrategyEngine) modeModel(role string) string {
	if role == string(ModeChat) {
		return s.cfg.ChatModel
	}
	return ""
}
