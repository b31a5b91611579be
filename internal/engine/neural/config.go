package neural

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-announcer/internal/config"
	"github.com/loqalabs/loqa-announcer/internal/playback"
)

// FromConfig builds an adapter, its backend and its segmenter from runtime config.
func FromConfig(ctx context.Context, cfg config.NeuralEngineConfig, buf playback.Buffer, log *slog.Logger) (*Adapter, error) {
	var backend Backend
	switch cfg.Backend {
	case "", "mock":
		backend = NewMockBackend(cfg.SampleRate, 20*time.Millisecond)
	case "exec":
		b, err := NewExecBackend(cfg.Command, cfg.SampleRate, cfg.Concurrency, time.Duration(cfg.StepTimeoutMS)*time.Millisecond, log)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("unknown neural backend %q", cfg.Backend)
	}

	var segmenter Segmenter = PunctuationSegmenter{MaxTokens: cfg.Segmenter.MaxTokens}
	if cfg.Segmenter.Mode == "wasm" {
		s, err := LoadWasmSegmenter(ctx, cfg.Segmenter.WasmModule)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		segmenter = s
	}

	voices := make([]Voice, 0, len(cfg.Voices))
	for _, v := range cfg.Voices {
		voices = append(voices, Voice{Name: v.Name, Language: v.Language})
	}

	return New(Options{
		Voices:         voices,
		Segmenter:      segmenter,
		Backend:        backend,
		Buffer:         buf,
		PauseSmoothing: cfg.PauseSmoothing,
		Pauses:         PausesFromMS(cfg.PausesMS),
	}, log), nil
}

// PausesFromMS converts a punctuation to milliseconds table. Nil or empty
// input yields the defaults.
func PausesFromMS(ms map[string]int) map[string]time.Duration {
	if len(ms) == 0 {
		return DefaultPauses()
	}
	out := make(map[string]time.Duration, len(ms))
	for punct, v := range ms {
		out[pauseKey(punct)] = time.Duration(v) * time.Millisecond
	}
	return out
}
