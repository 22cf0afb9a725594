package signaling

import (
	"context"
	"sync"
)

// Stream is an unbounded FIFO feeding a receive channel. Push never blocks and
// never drops, so a slow subscriber only delays itself.
type Stream[T any] struct {
	mu      sync.Mutex
	pending []T
	wake    chan struct{}
	out     chan T
}

// NewStream starts a stream whose channel is closed when ctx is done.
func NewStream[T any](ctx context.Context) *Stream[T] {
	s := &Stream[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan T),
	}
	go s.pump(ctx)
	return s
}

// C returns the receive side.
func (s *Stream[T]) C() <-chan T { return s.out }

// Push queues v for delivery.
func (s *Stream[T]) Push(v T) {
	s.mu.Lock()
	s.pending = append(s.pending, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Stream[T]) pump(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		v := s.pending[0]
		var zero T
		s.pending[0] = zero
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-ctx.Done():
			return
		}
	}
}
