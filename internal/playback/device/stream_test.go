package device

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestStreamReadsQueuedSamplesThenSilence(t *testing.T) {
	s := NewStream(2)
	if err := s.Write([]float32{0.5}); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = 0xff
	}
	n, err := s.Read(buf)
	if err != nil || n != len(buf) {
		t.Fatalf("read n=%d err=%v", n, err)
	}
	for ch := 0; ch < 2; ch++ {
		got := math.Float32frombits(binary.LittleEndian.Uint32(buf[ch*4:]))
		if got != 0.5 {
			t.Fatalf("channel %d: expected 0.5, got %v", ch, got)
		}
	}
	for i := 8; i < len(buf); i++ {
		if buf[i] != 0 {
			t.Fatalf("expected silence at byte %d, got %x", i, buf[i])
		}
	}
	if s.Pending() != 0 {
		t.Fatalf("expected empty stream, pending=%d", s.Pending())
	}
}

func TestStreamDrain(t *testing.T) {
	s := NewStream(1)
	_ = s.Write(make([]float32, 64))

	done := make(chan error, 1)
	go func() { done <- s.Drain(context.Background()) }()

	select {
	case <-done:
		t.Fatal("drain returned before samples were read")
	case <-time.After(30 * time.Millisecond):
	}
	_, _ = s.Read(make([]byte, 256))
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("drain did not return after read")
	}
}

func TestStreamDrainHonoursContext(t *testing.T) {
	s := NewStream(1)
	_ = s.Write([]float32{1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Drain(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestStreamClosedRejectsWrites(t *testing.T) {
	s := NewStream(1)
	s.close()
	if err := s.Write([]float32{1}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestStreamFlushDropsQueuedSamples(t *testing.T) {
	s := NewStream(1)
	_ = s.Write(make([]float32, 32))
	s.Flush()
	if s.Pending() != 0 {
		t.Fatalf("expected flush to empty the stream, pending=%d", s.Pending())
	}
	if err := s.Drain(context.Background()); err != nil {
		t.Fatalf("drain after flush: %v", err)
	}
}
