// Package chat runs conversation turns against a completion provider. Each
// session has its own Coordinator; turns within a session never overlap.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ragchat/internal/domain"
)

// contextInstruction wraps retrieved text in front of the user's question.
const contextInstruction = "Here is some context to help answer the question:\n\n%s\n\nNow, please answer the following question:"

type Options struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Turn is one user message. A nil Context keeps the session's active context,
// an empty one clears it and anything else replaces it.
type Turn struct {
	Message string
	Context *string
}

// WithContext returns a Turn that replaces the active context with text.
func WithContext(message, text string) Turn { return Turn{Message: message, Context: &text} }

// Coordinator owns the ConversationState of one session.
type Coordinator struct {
	provider domain.CompletionProvider
	opts     Options
	log      *slog.Logger
	now      func() time.Time

	// slot holds one token while a turn is in flight.
	slot chan struct{}

	mu    sync.RWMutex
	state domain.ConversationState
}

func NewCoordinator(sessionID string, provider domain.CompletionProvider, opts Options, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	now := time.Now().UTC()
	return &Coordinator{
		provider: provider,
		opts:     opts,
		log:      log.With("session_id", sessionID),
		now:      func() time.Time { return time.Now().UTC() },
		slot:     make(chan struct{}, 1),
		state: domain.ConversationState{
			SessionID: sessionID,
			Phase:     domain.PhaseNew,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func (c *Coordinator) SessionID() string { return c.state.SessionID }

func (c *Coordinator) acquire(ctx context.Context) error {
	select {
	case c.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) release() { <-c.slot }

// Complete runs a non-streaming turn and returns the whole response.
func (c *Coordinator) Complete(ctx context.Context, turn Turn) (string, error) {
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.release()

	req := c.begin(turn)
	text, err := c.provider.Complete(ctx, req)
	if err != nil {
		c.log.Error("completion failed", "provider", c.provider.Name(), "error", err)
		return "", err
	}
	c.record(text, false)
	return text, nil
}

// Stream starts a streaming turn. The session stays busy until the returned
// stream is exhausted or closed, so callers must always Close it.
func (c *Coordinator) Stream(ctx context.Context, turn Turn) (*TurnStream, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	req := c.begin(turn)
	src, err := c.provider.Stream(ctx, req)
	if err != nil {
		c.release()
		c.log.Error("opening stream failed", "provider", c.provider.Name(), "error", err)
		return nil, err
	}
	return newTurnStream(ctx, c, src), nil
}

// begin applies the turn's context, records the user message and builds the
// provider request.
func (c *Coordinator) begin(turn Turn) domain.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if turn.Context != nil {
		c.state.ActiveContext = *turn.Context
	}
	c.state.History = append(c.state.History, domain.Message{Role: domain.RoleUser, Content: turn.Message, Timestamp: now})
	c.state.Phase = domain.PhaseActive
	c.state.UpdatedAt = now
	return BuildRequest(c.opts, c.state.ActiveContext, turn.Message)
}

func (c *Coordinator) record(text string, truncated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.state.History = append(c.state.History, domain.Message{
		Role:      domain.RoleAssistant,
		Content:   text,
		Timestamp: now,
		Truncated: truncated,
	})
	c.state.UpdatedAt = now
}

// BuildRequest assembles the provider messages: the system prompt, then the
// context instruction when there is context, then the user message.
func BuildRequest(opts Options, activeContext, message string) domain.CompletionRequest {
	var msgs []domain.Message
	if opts.SystemPrompt != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: opts.SystemPrompt})
	}
	if activeContext != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: fmt.Sprintf(contextInstruction, activeContext)})
	}
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: message})
	return domain.CompletionRequest{Messages: msgs, MaxTokens: opts.MaxTokens, Temperature: opts.Temperature}
}

// SetContext replaces the active context outside of a turn.
func (c *Coordinator) SetContext(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ActiveContext = text
	c.state.UpdatedAt = c.now()
}

func (c *Coordinator) ClearContext() { c.SetContext("") }

// ClearHistory drops the history and the active context.
func (c *Coordinator) ClearHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.History = nil
	c.state.ActiveContext = ""
	c.state.UpdatedAt = c.now()
}

// History returns a copy of the last limit messages, or all when limit <= 0.
func (c *Coordinator) History(limit int) []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.state.History
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]domain.Message(nil), h...)
}

// State returns a snapshot of the conversation state.
func (c *Coordinator) State() domain.ConversationState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.state
	st.History = append([]domain.Message(nil), c.state.History...)
	return st
}
