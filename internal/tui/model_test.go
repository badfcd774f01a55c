package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/chat"
	"ragchat/internal/domain"
)

type fakeRetriever struct {
	results []domain.RetrievalResult
	err     error
}

func (f *fakeRetriever) Retrieve(context.Context, string, int, []string) ([]domain.RetrievalResult, error) {
	return f.results, f.err
}

type stubProvider struct {
	frags []string
	reqs  []domain.CompletionRequest
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Health(context.Context) error { return nil }

func (p *stubProvider) Complete(context.Context, domain.CompletionRequest) (string, error) {
	return strings.Join(p.frags, ""), nil
}

func (p *stubProvider) Stream(_ context.Context, req domain.CompletionRequest) (domain.FragmentStream, error) {
	p.reqs = append(p.reqs, req)
	return &stubStream{frags: p.frags, pos: -1}, nil
}

type stubStream struct {
	frags []string
	pos   int
}

func (s *stubStream) Next() bool       { s.pos++; return s.pos < len(s.frags) }
func (s *stubStream) Fragment() string { return s.frags[s.pos] }
func (s *stubStream) Err() error       { return nil }
func (s *stubStream) Close() error     { return nil }

func newModel(t *testing.T, r Retriever, p domain.CompletionProvider) (Model, *chat.Coordinator) {
	t.Helper()
	coord := chat.NewCoordinator("s1", p, chat.Options{SystemPrompt: "sys"}, nil)
	m := New(context.Background(), r, coord, 3, "1 document indexed")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model), coord
}

func step(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// drain runs commands until the model stops producing them.
func drain(m Model, cmd tea.Cmd) Model {
	for cmd != nil {
		m, cmd = step(m, cmd())
	}
	return m
}

func ask(m Model, q string) (Model, tea.Cmd) {
	m.input.SetValue(q)
	return step(m, tea.KeyMsg{Type: tea.KeyEnter})
}

var riverResult = domain.RetrievalResult{
	ID:      "c1",
	Content: "Mountains collect snow in winter. Rivers carry water to the sea.",
	Metadata: domain.Metadata{
		Filename:   "rivers.txt",
		SourcePath: "/docs/rivers.txt",
		ChunkIndex: 0,
	},
	Score: 0.875,
}

func TestStreamingTurn(t *testing.T) {
	p := &stubProvider{frags: []string{"Hel", "lo", "!"}}
	m, coord := newModel(t, &fakeRetriever{results: []domain.RetrievalResult{riverResult}}, p)

	m, cmd := ask(m, "Where do rivers carry water?")
	require.NotNil(t, cmd)
	assert.Empty(t, m.input.Value())
	m = drain(m, cmd)

	require.Len(t, m.transcript, 2)
	assert.Equal(t, "Hello!", m.transcript[1].text)
	assert.False(t, m.transcript[1].streaming)
	assert.Empty(t, m.transcript[1].note)
	assert.Nil(t, m.stream)
	assert.Equal(t, "Ready.", m.status)

	view := m.renderTranscript()
	assert.Contains(t, view, "Hello!")
	assert.Contains(t, view, "rivers.txt #0  score=0.875")
	assert.Contains(t, view, "Rivers carry water to the sea.")

	hist := coord.History(0)
	require.Len(t, hist, 2)
	assert.Equal(t, "Hello!", hist[1].Content)
	require.Len(t, p.reqs, 1)
	assert.Len(t, p.reqs[0].Messages, 3)
}

func TestRetrievalFailureStillAnswers(t *testing.T) {
	p := &stubProvider{frags: []string{"ok"}}
	m, _ := newModel(t, &fakeRetriever{err: errors.New("index offline")}, p)

	m, cmd := ask(m, "anything")
	m = drain(m, cmd)

	require.Len(t, m.transcript, 2)
	assert.Equal(t, "ok", m.transcript[1].text)
	assert.Contains(t, m.transcript[1].note, "index offline")
	require.Len(t, p.reqs, 1)
	assert.Len(t, p.reqs[0].Messages, 2)
}

func TestEscAbandonsTurn(t *testing.T) {
	p := &stubProvider{frags: []string{"Hel", "lo", "!"}}
	m, coord := newModel(t, &fakeRetriever{}, p)

	m, cmd := ask(m, "hi")
	m, cmd = step(m, cmd()) // turn started
	m, cmd = step(m, cmd()) // first fragment
	assert.Equal(t, "Hel", m.transcript[1].text)

	m, _ = step(m, tea.KeyMsg{Type: tea.KeyEsc})
	m = drain(m, cmd)

	assert.Contains(t, m.transcript[1].note, "cancelled")
	assert.Nil(t, m.cancel)
	hist := coord.History(0)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.RoleUser, hist[0].Role)
}

func TestEnterIgnoredWhileAnswering(t *testing.T) {
	p := &stubProvider{frags: []string{"a"}}
	m, _ := newModel(t, &fakeRetriever{}, p)

	m, cmd := ask(m, "first")
	require.NotNil(t, cmd)
	m, second := ask(m, "second")
	assert.Nil(t, second)
	assert.Contains(t, m.status, "Still answering")
	m = drain(m, cmd)
	assert.Len(t, m.transcript, 2)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short text", preview("short\n  text", 20))
	assert.Equal(t, "abc...", preview("abcdef", 3))
}
