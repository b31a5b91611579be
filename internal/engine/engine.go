// Package engine defines the contract every speech backend adapter satisfies.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/loqalabs/loqa-announcer/internal/settings"
)

// ErrDisabled marks an adapter whose backend failed to initialize. Such an
// adapter keeps accepting calls but never produces audio.
var ErrDisabled = errors.New("engine disabled")

// Adapter wraps one speech backend.
//
// Speak returns immediately. The returned channel yields at most one error and
// is closed when the utterance has finished (or failed, or was cancelled).
// Cancelling ctx must stop pending and active speech promptly.
type Adapter interface {
	ID() string
	Initialize(ctx context.Context) error
	Voices() []string
	SetVoice(name string)
	SetRate(rate int)
	SetVolume(volume int)
	Speak(ctx context.Context, text string) <-chan error
	Close() error
}

// Done returns an already-completed speak channel.
func Done(err error) <-chan error {
	ch := make(chan error, 1)
	if err != nil {
		ch <- err
	}
	close(ch)
	return ch
}

// SpeedForRate maps a -10..10 rate onto a playback speed multiplier.
func SpeedForRate(rate int) float64 {
	speed := 1.0 + float64(rate)*0.05
	if speed < 0.5 {
		return 0.5
	}
	if speed > 2.0 {
		return 2.0
	}
	return speed
}

// Params holds the voice, rate and volume applied before each Speak.
type Params struct {
	mu     sync.RWMutex
	voice  string
	rate   int
	volume int
}

func NewParams() *Params {
	return &Params{volume: settings.MaxVolume}
}

func (p *Params) SetVoice(name string) {
	p.mu.Lock()
	p.voice = name
	p.mu.Unlock()
}

func (p *Params) SetRate(rate int) {
	p.mu.Lock()
	p.rate = clamp(rate, settings.MinRate, settings.MaxRate)
	p.mu.Unlock()
}

func (p *Params) SetVolume(volume int) {
	p.mu.Lock()
	p.volume = clamp(volume, settings.MinVolume, settings.MaxVolume)
	p.mu.Unlock()
}

// Snapshot returns voice, rate and volume as one consistent read.
func (p *Params) Snapshot() (string, int, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.voice, p.rate, p.volume
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
