package chat

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"ragchat/internal/domain"
)

// SessionStore maps session ids to their coordinators. All coordinators
// share one provider and one set of options.
type SessionStore struct {
	provider domain.CompletionProvider
	opts     Options
	log      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Coordinator
}

func NewSessionStore(provider domain.CompletionProvider, opts Options, log *slog.Logger) *SessionStore {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &SessionStore{provider: provider, opts: opts, log: log, sessions: make(map[string]*Coordinator)}
}

// Provider is the provider shared by every session.
func (s *SessionStore) Provider() domain.CompletionProvider { return s.provider }

// Create starts a new session with a random id.
func (s *SessionStore) Create() *Coordinator {
	return s.GetOrCreate(uuid.NewString())
}

func (s *SessionStore) Get(id string) (*Coordinator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return c, nil
}

func (s *SessionStore) GetOrCreate(id string) *Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.sessions[id]; ok {
		return c
	}
	c := NewCoordinator(id, s.provider, s.opts, s.log)
	s.sessions[id] = c
	s.log.Info("session created", "session_id", id)
	return c
}

func (s *SessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// List returns state snapshots of every session, oldest first.
func (s *SessionStore) List() []domain.ConversationState {
	s.mu.RLock()
	out := make([]domain.ConversationState, 0, len(s.sessions))
	for _, c := range s.sessions {
		out = append(out, c.State())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
