package chat

import (
	"context"
	"sync"

	"ragchat/internal/domain"
)

type fakeStream struct {
	frags  []string
	err    error
	i      int
	cur    string
	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Next() bool {
	if s.i >= len(s.frags) {
		return false
	}
	s.cur = s.frags[s.i]
	s.i++
	return true
}

func (s *fakeStream) Fragment() string { return s.cur }

func (s *fakeStream) Err() error {
	if s.i >= len(s.frags) {
		return s.err
	}
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeProvider answers Complete with reply and Stream with a fakeStream over
// frags. Errors are consumed one per call from the front of errs.
type fakeProvider struct {
	mu      sync.Mutex
	reply   string
	frags   []string
	tailErr error
	errs    []error
	reqs    []domain.CompletionRequest
	streams []*fakeStream
	calls   int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Health(context.Context) error { return nil }

func (p *fakeProvider) nextErr(req domain.CompletionRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.reqs = append(p.reqs, req)
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return err
}

func (p *fakeProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if err := p.nextErr(req); err != nil {
		return "", err
	}
	return p.reply, nil
}

func (p *fakeProvider) Stream(ctx context.Context, req domain.CompletionRequest) (domain.FragmentStream, error) {
	if err := p.nextErr(req); err != nil {
		return nil, err
	}
	s := &fakeStream{frags: p.frags, err: p.tailErr}
	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
	return s, nil
}

func (p *fakeProvider) lastRequest() domain.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[len(p.reqs)-1]
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
