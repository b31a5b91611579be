// Package neural drives a neural speech backend: it tokenizes and segments
// the utterance, submits one step per segment and assembles the returned
// audio in order into a playback buffer.
package neural

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-announcer/internal/engine"
	"github.com/loqalabs/loqa-announcer/internal/playback"
)

// ID is the engine identifier selected in settings.
const ID = "neural"

// Options configures an Adapter. Backend and Buffer are required.
type Options struct {
	Voices         []Voice
	Tokenizer      Tokenizer
	Segmenter      Segmenter
	Backend        Backend
	Buffer         playback.Buffer
	PauseSmoothing bool
	Pauses         map[string]time.Duration
}

// DefaultPauses are the silences inserted after segment-ending punctuation.
func DefaultPauses() map[string]time.Duration {
	return map[string]time.Duration{
		".": 350 * time.Millisecond,
		"!": 350 * time.Millisecond,
		"?": 350 * time.Millisecond,
		",": 150 * time.Millisecond,
		";": 200 * time.Millisecond,
		":": 200 * time.Millisecond,
		"…": 450 * time.Millisecond,
	}
}

type Adapter struct {
	opts   Options
	bank   *VoiceBank
	params *engine.Params
	log    *slog.Logger

	mu       sync.RWMutex
	disabled bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options, log *slog.Logger) *Adapter {
	if opts.Tokenizer == nil {
		opts.Tokenizer = WordTokenizer{}
	}
	if opts.Segmenter == nil {
		opts.Segmenter = PunctuationSegmenter{}
	}
	if opts.Buffer == nil {
		opts.Buffer = playback.Discard{}
	}
	if opts.Pauses == nil {
		opts.Pauses = DefaultPauses()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		opts:     opts,
		bank:     NewVoiceBank(opts.Voices),
		params:   engine.NewParams(),
		log:      log.With(slog.String("component", "engine-neural")),
		disabled: true,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (a *Adapter) ID() string { return ID }

func (a *Adapter) Initialize(ctx context.Context) error {
	if a.opts.Backend == nil {
		return fmt.Errorf("%w: no neural backend configured", engine.ErrDisabled)
	}
	if len(a.bank.Names()) == 0 {
		a.log.Warn("neural engine has no voices; utterances will be abandoned")
	}
	a.mu.Lock()
	a.disabled = false
	a.mu.Unlock()
	a.log.Info("neural engine ready",
		slog.Int("voices", len(a.bank.Names())),
		slog.Int("sample_rate", a.opts.Backend.SampleRate()),
		slog.Bool("pause_smoothing", a.opts.PauseSmoothing),
	)
	return nil
}

func (a *Adapter) Voices() []string { return a.bank.Names() }

func (a *Adapter) SetVoice(name string) { a.params.SetVoice(name) }
func (a *Adapter) SetRate(rate int)     { a.params.SetRate(rate) }
func (a *Adapter) SetVolume(volume int) { a.params.SetVolume(volume) }

// Speak submits the utterance and returns at once. The channel reports after
// the last segment is written and, for draining buffers, played out.
func (a *Adapter) Speak(ctx context.Context, text string) <-chan error {
	a.mu.RLock()
	disabled := a.disabled
	a.mu.RUnlock()
	if disabled {
		a.log.Warn("neural engine disabled, skipping utterance")
		return engine.Done(engine.ErrDisabled)
	}

	name, rate, volume := a.params.Snapshot()
	voice, fallback, err := a.bank.Resolve(name)
	if err != nil {
		return engine.Done(err)
	}
	if fallback {
		a.log.Warn("voice not found, using default", slog.String("voice", name), slog.String("default", voice.Name))
	}
	speed := engine.SpeedForRate(rate)

	tokens := a.opts.Tokenizer.Tokenize(strings.TrimSpace(text), voice.Language)
	segments, err := a.opts.Segmenter.Segment(ctx, tokens)
	if err != nil {
		return engine.Done(fmt.Errorf("segment utterance: %w", err))
	}
	if len(segments) == 0 {
		return engine.Done(nil)
	}

	job := NewJob(segments, voice, speed)
	asm := newAssembler(job, a.opts.Buffer, a.opts.Backend.SampleRate(), a.opts.Pauses, a.opts.PauseSmoothing, float32(volume)/100)
	if labeler, ok := a.opts.Buffer.(playback.Labeler); ok {
		labeler.Label(job.ID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopClose := context.AfterFunc(a.ctx, cancel)
	stopAbandon := context.AfterFunc(runCtx, func() { asm.abandon(context.Cause(runCtx)) })

	a.log.Debug("neural job submitted",
		slog.String("job", job.ID),
		slog.Int("segments", len(job.Steps)),
		slog.String("voice", voice.Name),
		slog.Float64("speed", speed),
	)
	if err := a.opts.Backend.Run(runCtx, job, asm.complete); err != nil {
		stopAbandon()
		stopClose()
		cancel()
		return engine.Done(fmt.Errorf("submit neural job: %w", err))
	}

	done := make(chan error, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(done)
		defer cancel()
		defer stopClose()

		err := <-asm.result
		stopAbandon()
		if err == nil {
			if drainer, ok := a.opts.Buffer.(playback.Drainer); ok {
				err = drainer.Drain(runCtx)
			}
		}
		if err != nil && runCtx.Err() != nil {
			if flusher, ok := a.opts.Buffer.(playback.Flusher); ok {
				flusher.Flush()
			}
		}
		if err != nil {
			done <- err
		}
	}()
	return done
}

func (a *Adapter) Close() error {
	a.cancel()
	a.wg.Wait()
	a.mu.Lock()
	a.disabled = true
	a.mu.Unlock()
	var errs []error
	if closer, ok := a.opts.Segmenter.(interface{ Close(context.Context) error }); ok {
		errs = append(errs, closer.Close(context.Background()))
	}
	if a.opts.Backend != nil {
		errs = append(errs, a.opts.Backend.Close())
	}
	return errors.Join(errs...)
}

var _ engine.Adapter = (*Adapter)(nil)
