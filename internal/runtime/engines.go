package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/loqalabs/loqa-announcer/internal/config"
	"github.com/loqalabs/loqa-announcer/internal/engine"
	"github.com/loqalabs/loqa-announcer/internal/engine/neural"
	"github.com/loqalabs/loqa-announcer/internal/engine/system"
	"github.com/loqalabs/loqa-announcer/internal/playback"
	"github.com/loqalabs/loqa-announcer/internal/playback/device"
)

// OpenBuffer returns the playback sink for neural audio. pub is only used in
// bus mode. The closer is non-nil when the sink holds a device.
func OpenBuffer(cfg config.Config, pub playback.Publisher, log *slog.Logger) (playback.Buffer, io.Closer, error) {
	switch cfg.Playback.Mode {
	case "discard":
		return playback.Discard{}, nil, nil
	case "bus":
		if pub == nil {
			return nil, nil, fmt.Errorf("playback mode bus requires a bus connection")
		}
		return playback.NewBusSink(pub, cfg.Playback.Subject, cfg.Neural.SampleRate, cfg.Playback.Channels), nil, nil
	case "", "device":
		player, err := device.Open(cfg.Neural.SampleRate, cfg.Playback.Channels, cfg.Playback.BufferMS)
		if err != nil {
			log.Warn("audio device unavailable, neural audio will be discarded", slog.String("error", err.Error()))
			return playback.Discard{}, nil, nil
		}
		return player, player, nil
	default:
		return nil, nil, fmt.Errorf("unknown playback mode %q", cfg.Playback.Mode)
	}
}

// BuildEngines constructs the enabled adapters. They are not initialized.
func BuildEngines(ctx context.Context, cfg config.Config, buf playback.Buffer, log *slog.Logger) ([]engine.Adapter, error) {
	var adapters []engine.Adapter
	if cfg.System.Enabled {
		adapters = append(adapters, system.New(cfg.System, log))
	}
	if cfg.Neural.Enabled {
		a, err := neural.FromConfig(ctx, cfg.Neural, buf, log)
		if err != nil {
			return nil, fmt.Errorf("build neural engine: %w", err)
		}
		adapters = append(adapters, a)
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no speech engines enabled")
	}
	return adapters, nil
}
