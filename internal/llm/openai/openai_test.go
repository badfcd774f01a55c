package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
)

type captured struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Stream    bool   `json:"stream"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := New(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "llama-3.1-8b-instant", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return p
}

func request() domain.CompletionRequest {
	return domain.CompletionRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "sys"},
			{Role: domain.RoleSystem, Content: "ctx"},
			{Role: domain.RoleUser, Content: "question"},
		},
		MaxTokens:   64,
		Temperature: 0.5,
	}
}

func TestComplete(t *testing.T) {
	var got captured
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"llama-3.1-8b-instant",
			"choices":[{"index":0,"message":{"role":"assistant","content":"the answer"},"finish_reason":"stop"}]}`)
	})

	out, err := p.Complete(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "the answer", out)
	assert.Equal(t, "llama-3.1-8b-instant", got.Model)
	assert.Equal(t, 64, got.MaxTokens)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, []string{"system", "system", "user"}, []string{got.Messages[0].Role, got.Messages[1].Role, got.Messages[2].Role})
	assert.Equal(t, "question", got.Messages[2].Content)
}

func sse(w http.ResponseWriter, frags ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, f := range frags {
		b, _ := json.Marshal(f)
		fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%s},\"finish_reason\":null}]}\n\n", b)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestStream(t *testing.T) {
	var got captured
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		sse(w, "Hel", "lo", "!")
	})

	s, err := p.Stream(context.Background(), request())
	require.NoError(t, err)
	defer s.Close()
	var frags []string
	for s.Next() {
		frags = append(frags, s.Fragment())
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []string{"Hel", "lo", "!"}, frags)
	assert.True(t, got.Stream)
}

func TestStream_Empty(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) { sse(w) })
	s, err := p.Stream(context.Background(), request())
	require.NoError(t, err)
	defer s.Close()
	assert.False(t, s.Next())
	assert.NoError(t, s.Err())
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status     int
		retryAfter string
		retryable  bool
		wait       time.Duration
	}{
		{http.StatusTooManyRequests, "3", true, 3 * time.Second},
		{http.StatusServiceUnavailable, "", true, 0},
		{http.StatusBadRequest, "", false, 0},
		{http.StatusUnauthorized, "", false, 0},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			var calls atomic.Int32
			p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"error":{"message":"nope","type":"x"}}`)
			})

			_, err := p.Complete(context.Background(), request())
			var pe *domain.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.retryable, pe.Retryable)
			assert.Equal(t, tc.wait, pe.RetryAfter)
			assert.Equal(t, int32(1), calls.Load(), "SDK retries must be off")

			_, err = p.Stream(context.Background(), request())
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.retryable, pe.Retryable)
		})
	}
}

func TestHealth(t *testing.T) {
	var got captured
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"llama-3.1-8b-instant",
			"choices":[{"index":0,"message":{"role":"assistant","content":"p"},"finish_reason":"length"}]}`)
	})
	require.NoError(t, p.Health(context.Background()))
	assert.Equal(t, 1, got.MaxTokens)
	assert.Equal(t, "llama-3.1-8b-instant", got.Model)
}

func TestHealth_Unauthorized(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
	})
	err := p.Health(context.Background())
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Retryable)
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{Model: "m"})
	var ce *domain.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}
