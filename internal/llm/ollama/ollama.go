// Package ollama is a completion provider backed by a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"ragchat/internal/domain"
)

const providerName = "ollama"

type Config struct {
	URL     string
	Model   string
	Timeout time.Duration
}

type Provider struct {
	client *api.Client
	model  string
}

func New(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, &domain.ConfigurationError{Field: "llm.model", Reason: "must not be empty"}
	}
	base, err := url.Parse(cfg.URL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &domain.ConfigurationError{Field: "llm.ollama.url", Reason: "invalid URL " + cfg.URL}
	}
	// Streaming responses can outlive any fixed client timeout; only the
	// header wait is bounded.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Timeout > 0 {
		transport.ResponseHeaderTimeout = cfg.Timeout
	}
	return &Provider{
		client: api.NewClient(base, &http.Client{Transport: transport}),
		model:  cfg.Model,
	}, nil
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Health(ctx context.Context) error {
	if err := p.client.Heartbeat(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (p *Provider) chatRequest(req domain.CompletionRequest, stream bool) *api.ChatRequest {
	msgs := make([]api.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = api.Message{Role: string(m.Role), Content: m.Content}
	}
	opts := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	return &api.ChatRequest{Model: p.model, Messages: msgs, Stream: &stream, Options: opts}
}

func (p *Provider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	var out strings.Builder
	err := p.client.Chat(ctx, p.chatRequest(req, false), func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", classify(err)
	}
	return out.String(), nil
}

// Stream runs the callback-based chat call on its own goroutine and hands
// fragments over a channel. It waits for the first fragment so a failed
// request is reported here.
func (p *Provider) Stream(ctx context.Context, req domain.CompletionRequest) (domain.FragmentStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &stream{frags: make(chan string), errc: make(chan error, 1), cancel: cancel}
	go func() {
		err := p.client.Chat(ctx, p.chatRequest(req, true), func(resp api.ChatResponse) error {
			select {
			case s.frags <- resp.Message.Content:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		s.errc <- err
		close(s.frags)
	}()

	f, ok := <-s.frags
	if !ok {
		if err := <-s.errc; err != nil {
			cancel()
			return nil, classify(err)
		}
		s.ended = true
		return s, nil
	}
	s.pending, s.hasPending = f, true
	return s, nil
}

type stream struct {
	frags  chan string
	errc   chan error
	cancel context.CancelFunc

	pending    string
	hasPending bool
	cur        string
	err        error
	ended      bool
	closed     bool
}

func (s *stream) Next() bool {
	if s.hasPending {
		s.cur, s.hasPending = s.pending, false
		return true
	}
	if s.ended {
		return false
	}
	f, ok := <-s.frags
	if !ok {
		s.ended = true
		if err := <-s.errc; err != nil {
			s.err = classify(err)
		}
		return false
	}
	s.cur = f
	return true
}

func (s *stream) Fragment() string { return s.cur }
func (s *stream) Err() error       { return s.err }

// Close stops the request and waits for the reader goroutine to exit.
func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	if !s.ended {
		for range s.frags {
		}
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.ProviderError{Provider: providerName, Err: err}
	}
	var se api.StatusError
	if errors.As(err, &se) {
		return &domain.ProviderError{
			Provider:  providerName,
			Retryable: se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500,
			Err:       err,
		}
	}
	return &domain.ProviderError{Provider: providerName, Retryable: true, Err: err}
}
