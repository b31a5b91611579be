// Package orchestrator serializes utterances through the speech engine
// selected in the current settings so that audio never overlaps.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-announcer/internal/engine"
	"github.com/loqalabs/loqa-announcer/internal/events"
	"github.com/loqalabs/loqa-announcer/internal/format"
	"github.com/loqalabs/loqa-announcer/internal/settings"
)

// ErrUnknownEngine is recorded when settings name an engine with no adapter.
var ErrUnknownEngine = errors.New("unknown engine")

const (
	DefaultGrace           = 250 * time.Millisecond
	DefaultShutdownTimeout = 3 * time.Second
	recordTimeout          = 2 * time.Second
)

// Utterance is one piece of text waiting to be spoken.
type Utterance struct {
	ID        string
	Text      string
	Source    string
	CreatedAt time.Time
}

type Status string

const (
	StatusSpoken    Status = "spoken"
	StatusDropped   Status = "dropped"
	StatusFailed    Status = "failed"
	StatusDiscarded Status = "discarded"
)

// Result is the terminal state of an utterance.
type Result struct {
	Utterance
	Engine     string
	Voice      string
	Status     Status
	Err        error
	Duration   time.Duration
	FinishedAt time.Time
}

// Recorder persists results. Errors are logged and otherwise ignored.
type Recorder interface {
	Record(ctx context.Context, res Result) error
}

type Options struct {
	Grace           time.Duration
	ShutdownTimeout time.Duration
	Recorder        Recorder
	// OnResult is called after every terminal state, from the goroutine
	// that reached it.
	OnResult func(Result)
}

type Orchestrator struct {
	provider  settings.Provider
	formatter *format.Formatter
	adapters  map[string]engine.Adapter
	opts      Options
	log       *slog.Logger
	metrics   *metrics
	tracer    trace.Tracer

	mu     sync.Mutex
	queue  []Utterance
	closed bool

	wake     chan struct{}
	speaking sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	closeOnce sync.Once
}

func New(provider settings.Provider, formatter *format.Formatter, adapters []engine.Adapter, opts Options, log *slog.Logger) *Orchestrator {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	byID := make(map[string]engine.Adapter, len(adapters))
	for _, a := range adapters {
		byID[a.ID()] = a
	}
	o := &Orchestrator{
		provider:  provider,
		formatter: formatter,
		adapters:  byID,
		opts:      opts,
		log:       log.With(slog.String("component", "orchestrator")),
		tracer:    tracer(),
		wake:      make(chan struct{}, 1),
	}
	o.metrics = newMetrics(o.Len, o.log)
	return o
}

// Start initializes every adapter and launches the processing loop. Adapter
// initialization failures are logged; such adapters stay disabled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errors.New("orchestrator closed")
	}
	if o.loopDone != nil {
		o.mu.Unlock()
		return errors.New("orchestrator already started")
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.loopDone = make(chan struct{})
	o.mu.Unlock()

	for id, a := range o.adapters {
		if err := a.Initialize(o.ctx); err != nil {
			o.log.Warn("engine unavailable", slog.String("engine", id), slogError(err))
			continue
		}
		o.log.Info("engine initialized", slog.String("engine", id), slog.Int("voices", len(a.Voices())))
	}

	go o.run(o.ctx)
	o.signal()
	return nil
}

// Enqueue appends text to the queue. It returns false when speech is
// disabled, the text is blank or the orchestrator is closed.
func (o *Orchestrator) Enqueue(text string) bool {
	return o.EnqueueFrom(text, "direct")
}

// EnqueueFrom is Enqueue with a source label carried into history.
func (o *Orchestrator) EnqueueFrom(text, source string) bool {
	s := o.provider.Current()
	if s == nil || !s.Enabled {
		return false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	utt := Utterance{ID: uuid.NewString(), Text: text, Source: source, CreatedAt: time.Now().UTC()}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.queue = append(o.queue, utt)
	o.mu.Unlock()

	o.metrics.enqueued(source)
	o.signal()
	return true
}

// ReceiveEvent formats evt with the current settings and enqueues the result.
func (o *Orchestrator) ReceiveEvent(evt events.Event) bool {
	if evt == nil {
		return false
	}
	s := o.provider.Current()
	if s == nil || !s.Enabled {
		return false
	}
	text, ok := o.formatter.Format(evt, s)
	if !ok {
		o.log.Debug("event not announced", slog.String("kind", string(evt.Kind())))
		return false
	}
	return o.EnqueueFrom(text, sourceFor(evt))
}

func sourceFor(evt events.Event) string {
	if platform := evt.Meta().Platform; platform != "" {
		return string(evt.Kind()) + ":" + platform
	}
	return string(evt.Kind())
}

// Len reports queued utterances not yet dequeued.
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Engines lists adapter ids in no particular order.
func (o *Orchestrator) Engines() []string {
	ids := make([]string, 0, len(o.adapters))
	for id := range o.adapters {
		ids = append(ids, id)
	}
	return ids
}

func (o *Orchestrator) Adapter(id string) (engine.Adapter, bool) {
	a, ok := o.adapters[id]
	return a, ok
}

func (o *Orchestrator) Healthy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loopDone != nil && !o.closed
}

func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) pop() (Utterance, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return Utterance{}, false
	}
	utt := o.queue[0]
	o.queue[0] = Utterance{}
	o.queue = o.queue[1:]
	return utt, true
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
		}
		for ctx.Err() == nil {
			utt, ok := o.pop()
			if !ok {
				break
			}
			o.process(ctx, utt)
		}
	}
}

// process handles one dequeued utterance. Nothing that happens here stops the loop.
func (o *Orchestrator) process(ctx context.Context, utt Utterance) {
	res := Result{Utterance: utt}
	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("panic while speaking: %v", r)
			o.finish(res)
		}
	}()

	o.speaking.Lock()
	defer o.speaking.Unlock()

	if ctx.Err() != nil {
		res.Status = StatusDiscarded
		o.finish(res)
		return
	}

	s := o.provider.Current()
	if s == nil || !s.Enabled {
		res.Status = StatusDropped
		o.finish(res)
		return
	}
	res.Engine = s.Engine
	adapter, ok := o.adapters[s.Engine]
	if !ok {
		o.log.Warn("unknown engine, dropping utterance", slog.String("engine", s.Engine), slog.String("utterance", utt.ID))
		res.Status = StatusDropped
		res.Err = fmt.Errorf("%w: %q", ErrUnknownEngine, s.Engine)
		o.finish(res)
		return
	}

	res.Voice = s.VoiceFor(s.Engine)
	adapter.SetVoice(res.Voice)
	adapter.SetRate(s.ClampedRate())
	adapter.SetVolume(s.ClampedVolume())

	spanCtx, span := o.tracer.Start(ctx, "announcer.speak", trace.WithAttributes(
		attribute.String("utterance.id", utt.ID),
		attribute.String("engine", s.Engine),
		attribute.String("voice", res.Voice),
	))
	start := time.Now()
	err := o.speak(spanCtx, adapter, utt.Text)
	res.Duration = time.Since(start)
	switch {
	case err == nil:
		res.Status = StatusSpoken
	case errors.Is(err, engine.ErrDisabled):
		res.Status = StatusDropped
		res.Err = err
	case ctx.Err() != nil:
		res.Status = StatusDiscarded
		res.Err = err
	default:
		res.Status = StatusFailed
		res.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	o.finish(res)

	timer := time.NewTimer(o.opts.Grace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (o *Orchestrator) speak(ctx context.Context, a engine.Adapter, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine %s panicked: %v", a.ID(), r)
		}
	}()
	done := a.Speak(ctx, text)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) finish(res Result) {
	res.FinishedAt = time.Now().UTC()
	attrs := []any{
		slog.String("utterance", res.ID),
		slog.String("status", string(res.Status)),
		slog.String("engine", res.Engine),
	}
	switch res.Status {
	case StatusFailed:
		o.log.Error("utterance failed", append(attrs, slogError(res.Err))...)
	case StatusSpoken:
		o.log.Info("utterance spoken", append(attrs, slog.Duration("duration", res.Duration))...)
	default:
		o.log.Debug("utterance not spoken", attrs...)
	}
	o.metrics.finished(res)

	if o.opts.Recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := o.opts.Recorder.Record(ctx, res); err != nil {
			o.log.Warn("failed to record utterance", slogError(err))
		}
		cancel()
	}
	if o.opts.OnResult != nil {
		o.opts.OnResult(res)
	}
}

// Close stops the loop, waits up to the shutdown timeout for it, disposes
// every adapter and discards what is still queued.
func (o *Orchestrator) Close() error {
	var errs []error
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		cancel := o.cancel
		loopDone := o.loopDone
		o.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if loopDone != nil {
			timer := time.NewTimer(o.opts.ShutdownTimeout)
			select {
			case <-loopDone:
			case <-timer.C:
				o.log.Warn("processing loop did not stop in time, disposing engines", slog.Duration("timeout", o.opts.ShutdownTimeout))
			}
			timer.Stop()
		}

		for id, a := range o.adapters {
			if err := a.Close(); err != nil {
				o.log.Warn("failed to close engine", slog.String("engine", id), slogError(err))
				errs = append(errs, fmt.Errorf("close %s: %w", id, err))
			}
		}

		o.mu.Lock()
		remaining := o.queue
		o.queue = nil
		o.mu.Unlock()
		for _, utt := range remaining {
			o.finish(Result{Utterance: utt, Status: StatusDiscarded})
		}
		o.metrics.close()
	})
	return errors.Join(errs...)
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
