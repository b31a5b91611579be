//go:build !nocgo

package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

var ErrClosed = errors.New("audio device closed")

const readyTimeout = 5 * time.Second

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// Player streams samples to the default output device.
type Player struct {
	*Stream
	player  *oto.Player
	latency time.Duration
}

// Open initializes the audio device. Later calls must use the same format.
func Open(sampleRate, channels, bufferMS int) (*Player, error) {
	otoOnce.Do(func() {
		opts := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   time.Duration(bufferMS) * time.Millisecond,
		}
		ctx, ready, err := oto.NewContext(opts)
		if err != nil {
			otoErr = fmt.Errorf("create audio context: %w", err)
			return
		}
		select {
		case <-ready:
			otoCtx = ctx
		case <-time.After(readyTimeout):
			otoErr = fmt.Errorf("audio context not ready after %v", readyTimeout)
		}
	})
	if otoErr != nil {
		return nil, otoErr
	}
	stream := NewStream(channels)
	p := otoCtx.NewPlayer(stream)
	p.Play()
	return &Player{Stream: stream, player: p, latency: time.Duration(bufferMS) * time.Millisecond}, nil
}

// Drain waits for queued samples, then for one device buffer of latency.
func (p *Player) Drain(ctx context.Context) error {
	if err := p.Stream.Drain(ctx); err != nil {
		return err
	}
	timer := time.NewTimer(p.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Player) Close() error {
	p.Stream.close()
	p.player.Pause()
	return p.player.Close()
}
