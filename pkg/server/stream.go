package server

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/idea4rc/termserve/internal/logger"
)

// Stream serializes the inputs of one live connection: only the newest
// submission is allowed to deliver a result. Submitting cancels the
// computation still running for an older input, and an older result that
// finishes late is delivered as ErrSuperseded instead.
//
// Deliveries happen under the stream lock, so a stale result can never be
// written after a fresh one.
type Stream struct {
	id     string
	logger *log.Logger

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewStream creates a stream with a random session id.
func NewStream() *Stream {
	id := uuid.NewString()
	return &Stream{
		id:     id,
		logger: logger.New("stream").With("session", id[:8]),
	}
}

// ID returns the session id.
func (s *Stream) ID() string {
	return s.id
}

// Submit runs compute for a new input of s in its own goroutine and hands the
// outcome to deliver. When a newer input has been submitted in the meantime,
// deliver receives the zero value and ErrSuperseded. It returns false when the
// stream is already closed.
func Submit[T any](ctx context.Context, s *Stream, compute func(context.Context) (T, error), deliver func(T, error)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	seq := s.seq
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()

		result, err := compute(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if seq != s.seq {
			s.logger.Debugf("Dropping result of input %d, newest is %d", seq, s.seq)
			var zero T
			deliver(zero, ErrSuperseded)
			return
		}
		deliver(result, err)
	}()
	return true
}

// Drain lets the pending computations finish and deliver, then closes s.
// Nothing may be submitted concurrently.
func (s *Stream) Drain() {
	s.wg.Wait()
	s.Close()
}

// Close cancels the running computation and waits for every pending delivery.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
