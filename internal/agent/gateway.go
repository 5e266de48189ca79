package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loomworks/loom/internal/history"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/internal/semantic"
)

const (
	defaultAttempts    = 3
	defaultBackoff     = 2 * time.Second
	defaultTemperature = 0.2
	indexHitLimit      = 5
)

// Gateway sends chat requests to the selected backend with bounded
// retries. The augmented context (explicit attachments plus project
// index hits) is rebuilt on every attempt so a retry sees current
// state, not the snapshot that failed.
type Gateway struct {
	strategy *StrategyEngine
	index    *semantic.Engine
	metrics  *observability.Metrics
	logger   *zap.Logger
	attempts int
	backoff  time.Duration
	sleep    func(time.Duration)
}

// GatewayOptions carries optional gateway collaborators.
type GatewayOptions struct {
	Index   *semantic.Engine
	Metrics *observability.Metrics
	Logger  *zap.Logger
	// Attempts bounds total tries per Send; zero means 3.
	Attempts int
	// Backoff is the fixed pause between attempts; zero means 2s.
	Backoff time.Duration
	// Sleep replaces time.Sleep in tests.
	Sleep func(time.Duration)
}

// NewGateway builds a gateway over a strategy engine.
func NewGateway(strategy *StrategyEngine, opts GatewayOptions) *Gateway {
	g := &Gateway{
		strategy: strategy,
		index:    opts.Index,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		sleep:    opts.Sleep,
	}
	if g.attempts <= 0 {
		g.attempts = defaultAttempts
	}
	if g.backoff <= 0 {
		g.backoff = defaultBackoff
	}
	if g.sleep == nil {
		g.sleep = time.Sleep
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// SendSpec describes one model exchange.
type SendSpec struct {
	// Role drives model selection: a phase name or conversation mode.
	Role string
	// Model overrides strategy selection when set.
	Model string
	// System is prepended as the system message when non-empty.
	System string
	// History is the transcript so far, without the new user message.
	History []llm.ChatMessage
	// Prompt is the new user message; empty continues from History
	// alone (mid-loop calls after tool results).
	Prompt  string
	Context []ContextFile
	Tools   []llm.ToolSpec
	// ExpensiveUsed is how many expensive-model exchanges this run has
	// already consumed, for budget demotion.
	ExpensiveUsed int
}

// Send performs one chat exchange with up to three attempts and a fixed
// pause between them. Each attempt recomposes the outgoing messages
// from scratch.
func (g *Gateway) Send(ctx context.Context, spec SendSpec) (llm.ChatResponse, llm.ModelRoute, error) {
	prov, route, _, _, err := g.strategy.PickWithBudget(spec.Role, spec.Model, spec.ExpensiveUsed)
	if err != nil {
		return llm.ChatResponse{}, llm.ModelRoute{}, fmt.Errorf("resolve model for role %q: %w", spec.Role, err)
	}
	if prov == nil {
		return llm.ChatResponse{}, llm.ModelRoute{}, fmt.Errorf("no provider available for role %q", spec.Role)
	}

	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return llm.ChatResponse{}, route, err
		}

		req := llm.ChatRequest{
			Model:       route.Model,
			Messages:    g.compose(spec),
			Tools:       spec.Tools,
			Temperature: pickTemperature(route.Temperature, defaultTemperature),
			MaxTokens:   pickMaxTokens(route.MaxTokens, 0),
		}

		resp, err := prov.Chat(ctx, req)
		if err == nil {
			if resp.Model == "" {
				resp.Model = route.Model
			}
			if resp.ProviderName == "" {
				resp.ProviderName = prov.Name()
			}
			g.metrics.RecordModelUsage(spec.Role, route.Name)
			g.metrics.RecordTokenUsage(route.Name, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			return resp, route, nil
		}

		lastErr = err
		if attempt < g.attempts {
			g.metrics.RecordBackendRetry()
			g.logger.Warn("backend call failed, retrying",
				zap.String("model", route.Name),
				zap.Int("attempt", attempt),
				zap.Error(err))
			g.sleep(g.backoff)
		}
	}

	return llm.ChatResponse{}, route, fmt.Errorf("backend call failed after %d attempts: %w", g.attempts, lastErr)
}

// IsExpensive reports whether a model id counts against the expensive budget.
func (g *Gateway) IsExpensive(modelID string) bool {
	if g.strategy == nil || g.strategy.registry == nil {
		return false
	}
	return g.strategy.registry.IsExpensive(modelID)
}

// compose assembles the outgoing message slice for one attempt.
func (g *Gateway) compose(spec SendSpec) []llm.ChatMessage {
	msgs := make([]llm.ChatMessage, 0, len(spec.History)+2)
	if spec.System != "" {
		msgs = append(msgs, llm.ChatMessage{Role: llm.RoleSystem, Content: spec.System})
	}
	msgs = append(msgs, spec.History...)
	if strings.TrimSpace(spec.Prompt) != "" {
		msgs = append(msgs, llm.ChatMessage{Role: llm.RoleUser, Content: g.augment(spec.Prompt, spec.Context)})
	}
	return msgs
}

// augment appends the current project index hits to the composed user
// message. Explicit context files are embedded in full by
// buildUserPrompt; the index contributes snippets for related files the
// user did not attach.
func (g *Gateway) augment(prompt string, ctx []ContextFile) string {
	user := buildUserPrompt(prompt, ctx)
	if g.index == nil {
		return user
	}
	hits := g.index.ContextBlock(prompt, indexHitLimit)
	if hits == "" {
		return user
	}
	return user + "\n\n" + hits
}

// Summarize condenses transcript messages for folding. Single attempt:
// folds are retried on the next turn anyway.
func (g *Gateway) Summarize(ctx context.Context, msgs []history.Message) (string, error) {
	prov, route, err := g.strategy.ResolveModel("summarizer", "")
	if err != nil {
		return "", fmt.Errorf("resolve summarizer model: %w", err)
	}
	if prov == nil {
		return "", fmt.Errorf("no provider available for summarizer")
	}

	var b strings.Builder
	for _, m := range msgs {
		content := m.Content
		if content == "" && len(m.ToolCalls) > 0 {
			content = fmt.Sprintf("(requested %d tool calls)", len(m.ToolCalls))
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, truncateForPrompt(content, 600))
	}

	resp, err := prov.Chat(ctx, llm.ChatRequest{
		Model: route.Model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: "You compress conversation history into short factual summaries."},
			{Role: llm.RoleUser, Content: buildSummarizePrompt(b.String())},
		},
		Temperature: pickTemperature(route.Temperature, defaultTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("summarize transcript: %w", err)
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

func pickTemperature(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	if fallback > 0 {
		return fallback
	}
	return defaultTemperature
}

func pickMaxTokens(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
