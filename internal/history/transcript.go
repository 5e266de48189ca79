package history

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/llm"
)

// Tool message outcome recorded on the transcript.
const (
	ToolStatusSuccess   = "success"
	ToolStatusFailure   = "failure"
	ToolStatusCancelled = "cancelled"
)

// Message is one transcript entry. Tool result messages carry the
// originating call id and an outcome that may be rewritten later, e.g.
// when a cancellation lands after the result was already recorded.
type Message struct {
	ID         string
	Role       llm.Role
	Content    string
	Reasoning  string
	ToolCalls  []llm.ToolCall
	ToolCallID string
	ToolName   string
	ToolStatus string
	CreatedAt  time.Time
}

// Summarizer condenses a span of transcript messages into prose. The
// agent gateway provides an LLM-backed implementation.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []Message) (string, error)
}

// Transcript is the append-only conversation record for one session.
// Every mutation goes through one mutex so entries never interleave and
// ordering matches append order. Existing entries are only modified by
// UpdateToolStatus and Fold.
type Transcript struct {
	mu       sync.Mutex
	id       string
	messages []Message
	folds    int
	now      func() time.Time
}

// NewTranscript creates an empty transcript. An empty id gets a
// generated one.
func NewTranscript(id string) *Transcript {
	if id == "" {
		id = uuid.NewString()
	}
	return &Transcript{
		id:       id,
		messages: make([]Message, 0, 16),
		now:      time.Now,
	}
}

// ID returns the session identifier.
func (t *Transcript) ID() string {
	return t.id
}

// Append records a message and returns the stored copy with id and
// timestamp filled in.
func (t *Transcript) Append(msg Message) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = t.now()
	}
	t.messages = append(t.messages, msg)
	return msg
}

// AppendChat records a provider-level chat message.
func (t *Transcript) AppendChat(msg llm.ChatMessage) Message {
	return t.Append(Message{
		Role:       msg.Role,
		Content:    msg.Content,
		Reasoning:  msg.Reasoning,
		ToolCalls:  msg.ToolCalls,
		ToolCallID: msg.ToolCallID,
		ToolName:   msg.Name,
	})
}

// AppendToolResult records the outcome of one tool call.
func (t *Transcript) AppendToolResult(callID, toolName, status, content string) Message {
	return t.Append(Message{
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: callID,
		ToolName:   toolName,
		ToolStatus: status,
	})
}

// UpdateToolStatus rewrites the outcome of an already recorded tool
// result in place. Content replaces the recorded payload when non-empty.
// Reports whether a message with the given call id was found.
func (t *Transcript) UpdateToolStatus(callID, status, content string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Role != llm.RoleTool || t.messages[i].ToolCallID != callID {
			continue
		}
		t.messages[i].ToolStatus = status
		if content != "" {
			t.messages[i].Content = content
		}
		return true
	}
	return false
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.messages)
}

// Folds returns how many times the transcript has been folded.
func (t *Transcript) Folds() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.folds
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// ChatMessages converts the transcript into provider-level messages.
func (t *Transcript) ChatMessages() []llm.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]llm.ChatMessage, 0, len(t.messages))
	for _, m := range t.messages {
		out = append(out, llm.ChatMessage{
			Role:       m.Role,
			Content:    m.Content,
			Reasoning:  m.Reasoning,
			Name:       m.ToolName,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}

// LastAssistantContent returns the content of the most recent assistant
// message, or empty when there is none.
func (t *Transcript) LastAssistantContent() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Role == llm.RoleAssistant {
			return t.messages[i].Content
		}
	}
	return ""
}

// FoldIfNeeded replaces the oldest messages with a single summary entry
// once the transcript grows past threshold, keeping the most recent
// keepRecent messages verbatim. The summarizer runs outside the lock;
// the caller that drives turns is also the only caller expected to fold.
// Reports whether a fold happened.
func (t *Transcript) FoldIfNeeded(ctx context.Context, s Summarizer, threshold, keepRecent int) (bool, error) {
	if s == nil || threshold <= 0 || keepRecent < 0 || keepRecent >= threshold {
		return false, nil
	}

	t.mu.Lock()
	if len(t.messages) <= threshold {
		t.mu.Unlock()
		return false, nil
	}
	cut := len(t.messages) - keepRecent
	prefix := make([]Message, cut)
	copy(prefix, t.messages[:cut])
	t.mu.Unlock()

	summary, err := s.Summarize(ctx, prefix)
	if err != nil {
		return false, fmt.Errorf("fold transcript %s: %w", t.id, err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		summary = fmt.Sprintf("(%d earlier messages elided)", cut)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	folded := Message{
		ID:        uuid.NewString(),
		Role:      llm.RoleSystem,
		Content:   "Summary of earlier conversation:\n" + summary,
		CreatedAt: t.now(),
	}
	t.messages = append([]Message{folded}, t.messages[cut:]...)
	t.folds++
	return true, nil
}
