package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loomworks/loom/internal/tools"
)

// taskPhases is the fixed phase order. Phases are never skipped and
// never reordered.
var taskPhases = []Phase{
	PhaseArchitect,
	PhasePlanner,
	PhaseWorker,
	PhaseReviewer,
	PhaseVerifier,
	PhaseFinalizer,
}

// RunTask drives one task through the six-phase pipeline on a single
// transcript. A phase that exhausts its iteration cap proceeds to the
// next phase with whatever was accomplished; the shortfall is surfaced
// as a phase_incomplete event, a counter, and an audit entry rather
// than an error.
func (e *Engine) RunTask(ctx context.Context, req Request, sink EventSink) (TaskResult, error) {
	task := strings.TrimSpace(req.Prompt)
	if task == "" {
		return TaskResult{}, errors.New("task prompt must not be empty")
	}

	t := e.store.Get(req.SessionID)
	result := TaskResult{SessionID: t.ID()}
	expensiveUsed := 0
	started := e.now()

	for _, phase := range taskPhases {
		e.fold(ctx, t)
		e.metrics.RecordPhaseTransition(string(phase))
		e.audit.PhaseTransition(ctx, t.ID(), string(phase))
		emit(sink, Event{Type: EventPhaseStart, SessionID: t.ID(), Phase: phase})

		spec := e.phaseSpec(phase, req, task, expensiveUsed, sink)
		out, err := e.toolLoop(ctx, t, spec)
		if err != nil {
			e.metrics.RecordTurn("task", "error", e.now().Sub(started))
			e.audit.Turn(ctx, t.ID(), "task", "error", len(result.Phases))
			return result, fmt.Errorf("phase %s: %w", phase, err)
		}
		if e.gateway.IsExpensive(out.modelID) {
			expensiveUsed++
		}

		outcome := PhaseOutcome{
			Phase:      phase,
			ModelID:    out.modelID,
			Output:     out.message.Content,
			Iterations: out.iterations,
			Complete:   out.complete,
		}
		if phase == PhaseVerifier {
			if report := verifierReport(out.results); report != "" {
				outcome.Output = strings.TrimSpace(outcome.Output + "\n\n" + report)
			}
		}
		result.Phases = append(result.Phases, outcome)

		if !out.complete {
			e.metrics.RecordIncompletePhase(string(phase))
			e.audit.PhaseIncomplete(ctx, t.ID(), string(phase), map[string]any{"iterations": out.iterations})
			emit(sink, Event{Type: EventPhaseIncomplete, SessionID: t.ID(), Phase: phase, Iteration: out.iterations})
		}
		emit(sink, Event{
			Type:      EventPhaseComplete,
			SessionID: t.ID(),
			Phase:     phase,
			Iteration: out.iterations,
			ModelID:   out.modelID,
			Message:   outcome.Output,
		})
	}

	if n := len(result.Phases); n > 0 {
		result.Final = result.Phases[n-1].Output
	}
	e.metrics.RecordTurn("task", "stop", e.now().Sub(started))
	e.audit.Turn(ctx, t.ID(), "task", "stop", len(result.Phases))
	emit(sink, Event{Type: EventTurnComplete, SessionID: t.ID(), Message: result.Final})
	return result, nil
}

// phaseSpec builds the loop configuration for one phase.
func (e *Engine) phaseSpec(phase Phase, req Request, task string, expensiveUsed int, sink EventSink) loopSpec {
	spec := loopSpec{
		role:          string(phase),
		model:         req.Model,
		phase:         phase,
		system:        phaseSystemPrompt(phase),
		prompt:        phaseUserPrompt(phase, task),
		executor:      e.executor,
		expensiveUsed: expensiveUsed,
		sink:          sink,
	}

	switch phase {
	case PhaseArchitect:
		spec.context = req.Context
		spec.noTools = true
	case PhaseFinalizer:
		spec.noTools = true
	case PhasePlanner:
		spec.executor = e.executor.WithRegistry(e.executor.Registry().Subset("planner"))
		spec.singleExchange = true
		spec.cap = 1
	case PhaseWorker:
		spec.cap = e.workerCap()
	case PhaseReviewer:
		spec.cap = e.reviewerCap()
	case PhaseVerifier:
		spec.executor = e.executor.WithRegistry(e.verifierRegistry())
		spec.cap = e.verifierCap()
	}
	return spec
}

// verifierRegistry exposes only the command tool, wrapped so commands
// outside the approved prefix list are rejected before execution.
func (e *Engine) verifierRegistry() *tools.Registry {
	reg := tools.NewRegistry()
	base, ok := e.executor.Registry().Get("run_command")
	if !ok {
		return reg
	}
	if rc, ok := base.(*tools.RunCommandTool); ok {
		reg.Register(&tools.PrefixRestrictedCommand{Inner: rc, Prefixes: e.verifierPrefixes()})
	}
	return reg
}

func (e *Engine) verifierPrefixes() []string {
	if len(e.phases.VerifierAllowedPrefixes) > 0 {
		return e.phases.VerifierAllowedPrefixes
	}
	return []string{"git status", "git diff", "go build", "go vet", "go test", "ls"}
}
