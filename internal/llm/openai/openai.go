// Package openai is a completion provider for OpenAI-compatible chat APIs
// such as Groq.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"ragchat/internal/domain"
)

const providerName = "openai"

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Provider struct {
	client openai.Client
	model  string
}

// New builds a provider. SDK retries are disabled; retry policy belongs to
// the caller.
func New(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, &domain.ConfigurationError{Field: "llm.model", Reason: "must not be empty"}
	}
	if cfg.APIKey == "" {
		return nil, &domain.ConfigurationError{Field: "llm.openai.api_key_env", Reason: "API key environment variable is empty"}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &Provider{client: openai.NewClient(opts...), model: cfg.Model}, nil
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) params(req domain.CompletionRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

func (p *Provider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &domain.ProviderError{Provider: providerName, Err: errors.New("response has no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

// Health sends a one-token completion.
func (p *Provider) Health(ctx context.Context) error {
	_, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(p.model),
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage("ping")},
		MaxTokens: openai.Int(1),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Stream opens a streaming completion. The first chunk is read eagerly so a
// failed request surfaces here rather than on the first Next.
func (p *Provider) Stream(ctx context.Context, req domain.CompletionRequest) (domain.FragmentStream, error) {
	s := &stream{src: p.client.Chat.Completions.NewStreaming(ctx, p.params(req))}
	if !s.advance() {
		if err := s.src.Err(); err != nil {
			s.src.Close()
			return nil, classify(err)
		}
		s.exhausted = true
	}
	s.primed = true
	return s, nil
}

type stream struct {
	src       *ssestream.Stream[openai.ChatCompletionChunk]
	cur       string
	primed    bool
	exhausted bool
}

func (s *stream) advance() bool {
	for s.src.Next() {
		chunk := s.src.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		s.cur = chunk.Choices[0].Delta.Content
		return true
	}
	return false
}

func (s *stream) Next() bool {
	if s.primed {
		s.primed = false
		return !s.exhausted
	}
	if s.exhausted {
		return false
	}
	if !s.advance() {
		s.exhausted = true
		return false
	}
	return true
}

func (s *stream) Fragment() string { return s.cur }

func (s *stream) Err() error {
	if err := s.src.Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *stream) Close() error { return s.src.Close() }

// classify marks rate limits, server errors and transport failures as
// retryable. Cancellation and other API errors are permanent.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.ProviderError{Provider: providerName, Err: err}
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe := &domain.ProviderError{
			Provider:  providerName,
			Retryable: apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500,
			Err:       err,
		}
		if apiErr.Response != nil {
			pe.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return pe
	}
	return &domain.ProviderError{Provider: providerName, Retryable: true, Err: err}
}

func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
