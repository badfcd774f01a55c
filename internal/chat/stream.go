package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"ragchat/internal/domain"
)

// Accumulator collects relayed fragments into the full response text.
type Accumulator struct {
	b     strings.Builder
	count int
}

func (a *Accumulator) Add(fragment string) {
	a.b.WriteString(fragment)
	a.count++
}

func (a *Accumulator) String() string { return a.b.String() }

// Fragments is the number of fragments added so far.
func (a *Accumulator) Fragments() int { return a.count }

// TurnStream relays a provider's fragments for one turn.
//
// The assistant message is written to history once, when the provider's
// sequence ends. A provider error records the partial text marked truncated.
// Closing the stream early, or cancelling its context, abandons the turn and
// nothing is recorded.
type TurnStream struct {
	ctx   context.Context
	coord *Coordinator
	src   domain.FragmentStream
	acc   Accumulator

	cur  string
	err  error
	done bool
	once sync.Once
}

func newTurnStream(ctx context.Context, coord *Coordinator, src domain.FragmentStream) *TurnStream {
	return &TurnStream{ctx: ctx, coord: coord, src: src}
}

// Next advances to the next non-empty fragment.
func (s *TurnStream) Next() bool {
	if s.done {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		s.abandon()
		return false
	}
	for s.src.Next() {
		f := s.src.Fragment()
		if f == "" {
			continue
		}
		s.cur = f
		s.acc.Add(f)
		return true
	}
	s.cur = ""
	switch err := s.src.Err(); {
	case s.ctx.Err() != nil:
		s.err = s.ctx.Err()
		s.abandon()
	case err != nil:
		s.err = fmt.Errorf("%w after %d fragments: %w", domain.ErrStreamTruncated, s.acc.Fragments(), err)
		s.finish(true)
	default:
		s.finish(false)
	}
	return false
}

// Fragment is the fragment produced by the last successful Next.
func (s *TurnStream) Fragment() string { return s.cur }

// Err reports why the stream ended; nil after a complete response.
func (s *TurnStream) Err() error { return s.err }

// Response is the text accumulated so far.
func (s *TurnStream) Response() string { return s.acc.String() }

// Close abandons the turn if it has not finished. It is safe to call more than once.
func (s *TurnStream) Close() error {
	s.abandon()
	return nil
}

func (s *TurnStream) finish(truncated bool) {
	s.once.Do(func() {
		s.done = true
		s.coord.record(s.acc.String(), truncated)
		if truncated {
			s.coord.log.Warn("stream ended early, partial response recorded", "fragments", s.acc.Fragments(), "error", s.err)
		}
		s.src.Close()
		s.coord.release()
	})
}

func (s *TurnStream) abandon() {
	s.once.Do(func() {
		s.done = true
		s.coord.log.Info("streaming turn abandoned", "fragments", s.acc.Fragments())
		s.src.Close()
		s.coord.release()
	})
}
