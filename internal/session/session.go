// internal/session/session.go
// Package session serializes all access to a dsp.Processor through a single
// goroutine, so audio callbacks, controls and consumers never touch the
// processor state concurrently.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ColonelBlimp/cwkeyer/internal/dsp"
	"github.com/ColonelBlimp/cwkeyer/internal/recovery"
)

var (
	// ErrProcessorRequired indicates a processor instance is required
	ErrProcessorRequired = errors.New("processor is required")
	// ErrClosed indicates the session no longer accepts work
	ErrClosed = errors.New("session closed")
	// ErrAlreadyRunning indicates Run was called twice
	ErrAlreadyRunning = errors.New("session already running")
)

// DefaultQueueSize is the number of chunks buffered ahead of the processor
const DefaultQueueSize = 64

// Chunk is a run of mono samples whose first sample was captured at Timestamp
type Chunk struct {
	Samples   []float32
	Timestamp time.Duration
}

type command struct {
	apply func(p *dsp.Processor) error
	done  chan error
}

// Session owns a processor and feeds it from a queue
type Session struct {
	proc     *dsp.Processor
	chunks   chan Chunk
	commands chan command
	results  chan dsp.Result

	closeOnce sync.Once
	closed    chan struct{}
	running   atomic.Bool
	dropped   atomic.Uint64
}

// New creates a session around the processor. queueSize bounds both the
// input queue and the result queue; values below 1 use DefaultQueueSize.
func New(proc *dsp.Processor, queueSize int) (*Session, error) {
	if proc == nil {
		return nil, ErrProcessorRequired
	}
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Session{
		proc:     proc,
		chunks:   make(chan Chunk, queueSize),
		commands: make(chan command),
		results:  make(chan dsp.Result, queueSize),
		closed:   make(chan struct{}),
	}, nil
}

// Run processes chunks and commands until ctx is done or Close is called.
// The results channel is closed when Run returns.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.results)
	defer recovery.HandlePanicFunc(s.Close)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			s.drain(ctx)
			return nil
		case cmd := <-s.commands:
			cmd.done <- cmd.apply(s.proc)
		case chunk := <-s.chunks:
			if !s.publish(ctx, s.proc.Process(chunk.Samples, chunk.Timestamp)) {
				return ctx.Err()
			}
		}
	}
}

// drain processes chunks that were queued before Close
func (s *Session) drain(ctx context.Context) {
	for {
		select {
		case chunk := <-s.chunks:
			if !s.publish(ctx, s.proc.Process(chunk.Samples, chunk.Timestamp)) {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) publish(ctx context.Context, res dsp.Result) bool {
	select {
	case s.results <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// Submit queues a chunk, blocking until there is room
func (s *Session) Submit(ctx context.Context, chunk Chunk) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	select {
	case s.chunks <- chunk:
		return nil
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Offer queues a chunk without blocking. It is meant for audio callbacks:
// when the queue is full the chunk is dropped and counted. The sample clock
// of later chunks bridges the gap.
func (s *Session) Offer(chunk Chunk) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.chunks <- chunk:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Retune switches the processor to a new tone frequency
func (s *Session) Retune(ctx context.Context, freq float64) error {
	return s.do(ctx, func(p *dsp.Processor) error {
		return p.Retune(freq)
	})
}

// Reset recalibrates the processor
func (s *Session) Reset(ctx context.Context) error {
	return s.do(ctx, func(p *dsp.Processor) error {
		p.Reset()
		return nil
	})
}

func (s *Session) do(ctx context.Context, apply func(p *dsp.Processor) error) error {
	cmd := command{apply: apply, done: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		if err != nil {
			return fmt.Errorf("session command: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results delivers one result per processed chunk
func (s *Session) Results() <-chan dsp.Result {
	return s.results
}

// Dropped returns the number of chunks rejected by Offer
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting work. Chunks already queued are still processed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}
