package ollama

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
	Model    string         `json:"model"`
	Stream   *bool          `json:"stream"`
	Options  map[string]any `json:"options"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := New(Config{URL: srv.URL, Model: "llama3.2", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return p
}

func request() domain.CompletionRequest {
	return domain.CompletionRequest{
		Messages:    []domain.Message{{Role: domain.RoleSystem, Content: "sys"}, {Role: domain.RoleUser, Content: "hi"}},
		MaxTokens:   32,
		Temperature: 0.1,
	}
}

func ndjson(w http.ResponseWriter, frags ...string) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	for _, f := range frags {
		b, _ := json.Marshal(f)
		fmt.Fprintf(w, "{\"model\":\"llama3.2\",\"created_at\":\"2024-01-01T00:00:00Z\",\"message\":{\"role\":\"assistant\",\"content\":%s},\"done\":false}\n", b)
	}
	fmt.Fprint(w, "{\"model\":\"llama3.2\",\"created_at\":\"2024-01-01T00:00:00Z\",\"message\":{\"role\":\"assistant\",\"content\":\"\"},\"done\":true}\n")
}

func TestComplete(t *testing.T) {
	var got captured
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"llama3.2","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"full answer"},"done":true}`)
	})

	out, err := p.Complete(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "full answer", out)
	assert.Equal(t, "llama3.2", got.Model)
	require.NotNil(t, got.Stream)
	assert.False(t, *got.Stream)
	assert.EqualValues(t, 32, got.Options["num_predict"])
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestStream(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) { ndjson(w, "Hel", "lo", "!") })

	s, err := p.Stream(context.Background(), request())
	require.NoError(t, err)
	defer s.Close()
	var frags []string
	for s.Next() {
		if f := s.Fragment(); f != "" {
			frags = append(frags, f)
		}
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []string{"Hel", "lo", "!"}, frags)
}

func TestStream_CloseEarly(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) { ndjson(w, "a", "b", "c", "d") })
	s, err := p.Stream(context.Background(), request())
	require.NoError(t, err)
	require.True(t, s.Next())
	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.NoError(t, s.Close())
}

func TestErrorClassification(t *testing.T) {
	cases := map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusNotFound:            false,
		http.StatusBadRequest:          false,
	}
	for status, retryable := range cases {
		t.Run(http.StatusText(status), func(t *testing.T) {
			p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				fmt.Fprint(w, `{"status":"model not available"}`)
			})
			var pe *domain.ProviderError

			_, err := p.Complete(context.Background(), request())
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, retryable, pe.Retryable)

			_, err = p.Stream(context.Background(), request())
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, retryable, pe.Retryable)
		})
	}
}

func TestHealth(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if !up.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, p.Health(context.Background()))

	up.Store(false)
	err := p.Health(context.Background())
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Retryable)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(Config{URL: "::not a url", Model: "m"})
	var ce *domain.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}
