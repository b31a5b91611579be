// Package playback holds the sample sinks the neural assembler writes into.
package playback

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
)

// Buffer is an ordered sink of mono float32 samples in [-1, 1].
type Buffer interface {
	Write(samples []float32) error
}

// Drainer is implemented by buffers that play asynchronously. Drain blocks
// until every written sample has been consumed or ctx is done.
type Drainer interface {
	Drain(ctx context.Context) error
}

// Flusher is implemented by buffers that can drop samples queued but not yet
// played.
type Flusher interface {
	Flush()
}

// Labeler is implemented by buffers that tag output with the utterance that
// produced it.
type Labeler interface {
	Label(utteranceID string)
}

// Memory keeps every written sample. Used for inspection and tests.
type Memory struct {
	mu      sync.Mutex
	samples []float32
	writes  [][]float32
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Write(samples []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, samples...)
	m.writes = append(m.writes, append([]float32(nil), samples...))
	return nil
}

// Samples returns a copy of everything written so far.
func (m *Memory) Samples() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float32(nil), m.samples...)
}

// Writes returns each Write call's samples in call order.
func (m *Memory) Writes() [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]float32, len(m.writes))
	copy(out, m.writes)
	return out
}

func (m *Memory) Reset() {
	m.mu.Lock()
	m.samples = nil
	m.writes = nil
	m.mu.Unlock()
}

// Discard drops all samples.
type Discard struct{}

func (Discard) Write([]float32) error { return nil }

// PCM16 encodes samples as signed 16-bit little-endian PCM, clipping to [-1, 1].
func PCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v*math.MaxInt16))))
	}
	return out
}

// FromPCM16 decodes signed 16-bit little-endian PCM. A trailing odd byte is ignored.
func FromPCM16(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(v) / math.MaxInt16
	}
	return out
}

// Interleave duplicates mono samples across channels.
func Interleave(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, 0, len(samples)*channels)
	for _, s := range samples {
		for c := 0; c < channels; c++ {
			out = append(out, s)
		}
	}
	return out
}

// Float32LE encodes samples as little-endian IEEE floats.
func Float32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
