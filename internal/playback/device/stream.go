// Package device plays samples through the local sound card.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/loqalabs/loqa-announcer/internal/playback"
)

const drainPoll = 10 * time.Millisecond

// Stream is an io.Reader of little-endian float32 frames fed by Write. When
// no samples are queued it yields silence so the output device keeps running.
type Stream struct {
	channels int

	mu      sync.Mutex
	pending []byte
	closed  bool
}

func NewStream(channels int) *Stream {
	if channels <= 0 {
		channels = 1
	}
	return &Stream{channels: channels}
}

func (s *Stream) Write(samples []float32) error {
	data := playback.Float32LE(playback.Interleave(samples, s.channels))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pending = append(s.pending, data...)
	return nil
}

func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	if len(s.pending) == 0 {
		s.pending = nil
	}
	s.mu.Unlock()
	clear(p[n:])
	return len(p), nil
}

// Pending reports queued bytes not yet read.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Drain waits for all queued samples to be read.
func (s *Stream) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for s.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Flush drops queued samples.
func (s *Stream) Flush() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

func (s *Stream) close() {
	s.mu.Lock()
	s.closed = true
	s.pending = nil
	s.mu.Unlock()
}

var (
	_ playback.Buffer  = (*Stream)(nil)
	_ playback.Drainer = (*Stream)(nil)
	_ playback.Flusher = (*Stream)(nil)
)
