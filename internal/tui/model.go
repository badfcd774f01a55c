package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/chat"
	"ragchat/internal/domain"
	"ragchat/internal/service"
	"ragchat/internal/summarizer"
)

// Retriever is the TUI-facing subset of the retrieval service.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, sources []string) ([]domain.RetrievalResult, error)
}

type entry struct {
	role      domain.Role
	text      string
	query     string
	sources   []domain.RetrievalResult
	note      string
	streaming bool
}

// Model is the Bubble Tea model for the streaming chat.
type Model struct {
	ctx         context.Context
	retriever   Retriever
	session     *chat.Coordinator
	highlighter *summarizer.FrequencySummarizer
	topK        int

	input      textinput.Model
	viewport   viewport.Model
	transcript []entry
	summary    string
	status     string
	ready      bool

	stream *chat.TurnStream
	cancel context.CancelFunc
}

type (
	turnStartedMsg struct {
		stream       *chat.TurnStream
		results      []domain.RetrievalResult
		retrievalErr error
	}
	turnFailedMsg struct{ err error }
	fragmentMsg   string
	streamEndMsg  struct{ err error }
)

// New creates a chat model bound to one session. summary is shown under the header.
func New(ctx context.Context, retriever Retriever, session *chat.Coordinator, topK int, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your documents and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	if topK <= 0 {
		topK = 3
	}
	return Model{
		ctx:         ctx,
		retriever:   retriever,
		session:     session,
		highlighter: summarizer.NewFrequencySummarizer(),
		topK:        topK,
		input:       ti,
		viewport:    viewport.New(0, 0),
		summary:     summary,
		status:      "Ready. Esc cancels a response, Ctrl+C quits.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 2 + 1 + ih + 1 // header and summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.cancel != nil {
				m.cancel()
				m.status = "Cancelling..."
			}
			return m, nil
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" {
				return m, nil
			}
			if m.stream != nil || m.cancel != nil {
				m.status = "Still answering the previous question."
				return m, nil
			}
			m.input.Reset()
			m.transcript = append(m.transcript, entry{role: domain.RoleUser, text: q})
			m.status = "Searching documents..."
			ctx, cancel := context.WithCancel(m.ctx)
			m.cancel = cancel
			m.refresh()
			return m, m.startTurn(ctx, q)
		}

	case turnStartedMsg:
		m.stream = msg.stream
		e := entry{role: domain.RoleAssistant, query: m.lastQuestion(), sources: msg.results, streaming: true}
		switch {
		case msg.retrievalErr != nil:
			e.note = "retrieval failed: " + msg.retrievalErr.Error()
		case len(msg.results) == 0:
			e.note = "no matching context"
		}
		m.transcript = append(m.transcript, e)
		m.status = "Answering..."
		m.refresh()
		return m, nextFragment(msg.stream)

	case turnFailedMsg:
		m.endTurn()
		m.status = "Error: " + msg.err.Error()
		m.refresh()
		return m, nil

	case fragmentMsg:
		if n := len(m.transcript); n > 0 {
			m.transcript[n-1].text += string(msg)
		}
		m.refresh()
		return m, nextFragment(m.stream)

	case streamEndMsg:
		if n := len(m.transcript); n > 0 {
			last := &m.transcript[n-1]
			last.streaming = false
			switch {
			case errors.Is(msg.err, context.Canceled):
				last.note = "cancelled, not kept in history"
			case msg.err != nil:
				last.note = "incomplete: " + msg.err.Error()
			}
		}
		m.endTurn()
		m.status = "Ready."
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.status = "Error: " + msg.err.Error()
		}
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) endTurn() {
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = nil
	m.stream = nil
}

func (m Model) lastQuestion() string {
	for i := len(m.transcript) - 1; i >= 0; i-- {
		if m.transcript[i].role == domain.RoleUser {
			return m.transcript[i].text
		}
	}
	return ""
}

// startTurn retrieves context for q and opens the response stream.
func (m Model) startTurn(ctx context.Context, q string) tea.Cmd {
	retriever, session, topK := m.retriever, m.session, m.topK
	return func() tea.Msg {
		results, rerr := retriever.Retrieve(ctx, q, topK, nil)
		turn := chat.Turn{Message: q}
		if rerr == nil && len(results) > 0 {
			turn = chat.WithContext(q, service.BuildContext(results))
		}
		ts, err := session.Stream(ctx, turn)
		if err != nil {
			return turnFailedMsg{err: err}
		}
		return turnStartedMsg{stream: ts, results: results, retrievalErr: rerr}
	}
}

func nextFragment(ts *chat.TurnStream) tea.Cmd {
	return func() tea.Msg {
		if ts.Next() {
			return fragmentMsg(ts.Fragment())
		}
		return streamEndMsg{err: ts.Err()}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("RAG Chat")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + summary + "\n" + transcript + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.transcript) == 0 {
		return "No messages yet."
	}
	var b strings.Builder
	for i, e := range m.transcript {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if e.role == domain.RoleUser {
			b.WriteString(userStyle.Render("You: ") + e.text)
			continue
		}
		text := e.text
		if e.streaming {
			text += "▌"
		}
		b.WriteString(assistantStyle.Render("Assistant: ") + text)
		if e.note != "" {
			b.WriteString("\n" + noteStyle.Render("("+e.note+")"))
		}
		if len(e.sources) > 0 {
			b.WriteString("\n" + m.renderSources(e.sources, e.query))
		}
	}
	return b.String()
}

// renderSources lists retrieved chunks with their scores and the sentence
// that best matches the question.
func (m Model) renderSources(results []domain.RetrievalResult, query string) string {
	lines := []string{noteStyle.Render("Sources:")}
	for i, r := range results {
		lines = append(lines, fmt.Sprintf("  [%d] %s #%d  score=%.3f", i+1, r.Metadata.Filename, r.Metadata.ChunkIndex, r.Score))
		if best := m.highlighter.BestSentence(r.Content, query); best != "" {
			lines = append(lines, "      "+highlightStyle.Render(best))
		} else {
			lines = append(lines, "      "+preview(r.Content, 100))
		}
	}
	return strings.Join(lines, "\n")
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	noteStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)
