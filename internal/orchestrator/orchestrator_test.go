package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-announcer/internal/config"
	"github.com/loqalabs/loqa-announcer/internal/engine"
	"github.com/loqalabs/loqa-announcer/internal/engine/system"
	"github.com/loqalabs/loqa-announcer/internal/events"
	"github.com/loqalabs/loqa-announcer/internal/format"
	"github.com/loqalabs/loqa-announcer/internal/settings"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// overlap is shared by every fake adapter so overlap across engines is visible.
type overlap struct {
	active atomic.Int32
	max    atomic.Int32
}

func (o *overlap) enter() {
	n := o.active.Add(1)
	for {
		m := o.max.Load()
		if n <= m || o.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (o *overlap) leave() { o.active.Add(-1) }

type call struct {
	text   string
	voice  string
	rate   int
	volume int
}

type fakeAdapter struct {
	id      string
	delay   time.Duration
	err     error
	panicOn string
	gate    chan struct{}
	hang    bool
	initErr error
	overlap *overlap
	entered chan struct{}

	mu     sync.Mutex
	voice  string
	rate   int
	volume int
	said   []call
	closed bool
}

func (f *fakeAdapter) ID() string                           { return f.id }
func (f *fakeAdapter) Initialize(ctx context.Context) error { return f.initErr }
func (f *fakeAdapter) Voices() []string                     { return []string{"default"} }

func (f *fakeAdapter) SetVoice(name string) {
	f.mu.Lock()
	f.voice = name
	f.mu.Unlock()
}

func (f *fakeAdapter) SetRate(rate int) {
	f.mu.Lock()
	f.rate = rate
	f.mu.Unlock()
}

func (f *fakeAdapter) SetVolume(volume int) {
	f.mu.Lock()
	f.volume = volume
	f.mu.Unlock()
}

func (f *fakeAdapter) Speak(ctx context.Context, text string) <-chan error {
	if text == f.panicOn {
		panic("synthesizer exploded")
	}
	done := make(chan error, 1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	go func() {
		defer close(done)
		if f.overlap != nil {
			f.overlap.enter()
			defer f.overlap.leave()
		}
		if f.gate != nil {
			<-f.gate
		}
		if f.hang {
			select {}
		}
		select {
		case <-ctx.Done():
			done <- ctx.Err()
			return
		case <-time.After(f.delay):
		}
		f.mu.Lock()
		f.said = append(f.said, call{text: text, voice: f.voice, rate: f.rate, volume: f.volume})
		err := f.err
		f.mu.Unlock()
		if err != nil {
			done <- err
		}
	}()
	return done
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) spoken() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.said...)
}

func (f *fakeAdapter) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type resultLog struct {
	mu      sync.Mutex
	results []Result
	ch      chan Result
}

func newResultLog() *resultLog { return &resultLog{ch: make(chan Result, 64)} }

func (r *resultLog) Record(_ context.Context, res Result) error {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	r.ch <- res
	return nil
}

func (r *resultLog) wait(t *testing.T, n int) []Result {
	t.Helper()
	var out []Result
	for len(out) < n {
		select {
		case res := <-r.ch:
			out = append(out, res)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %d results, got %d", n, len(out))
		}
	}
	return out
}

func defaultSettings(engineID string) settings.Settings {
	s := settings.Default()
	s.Engine = engineID
	return s
}

func newOrchestrator(t *testing.T, provider settings.Provider, rec *resultLog, adapters ...engine.Adapter) *Orchestrator {
	t.Helper()
	opts := Options{Grace: time.Millisecond, ShutdownTimeout: 200 * time.Millisecond}
	if rec != nil {
		opts.Recorder = rec
	}
	return New(provider, format.New(newLogger()), adapters, opts, newLogger())
}

func start(t *testing.T, o *Orchestrator) {
	t.Helper()
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
}

func TestFIFOAndSingleFlight(t *testing.T) {
	ov := &overlap{}
	a := &fakeAdapter{id: "a", delay: 10 * time.Millisecond, overlap: ov}
	b := &fakeAdapter{id: "b", delay: 10 * time.Millisecond, overlap: ov}
	provider := settings.NewStatic(defaultSettings("a"))
	rec := newResultLog()
	o := newOrchestrator(t, provider, rec, a, b)
	start(t, o)

	for _, text := range []string{"one", "two", "three"} {
		if !o.Enqueue(text) {
			t.Fatalf("enqueue %q rejected", text)
		}
	}
	rec.wait(t, 3)
	provider.Set(defaultSettings("b"))
	for _, text := range []string{"four", "five"} {
		o.Enqueue(text)
	}
	rec.wait(t, 2)

	var got []string
	for _, s := range append(a.spoken(), b.spoken()...) {
		got = append(got, s.text)
	}
	want := []string{"one", "two", "three", "four", "five"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if ov.max.Load() != 1 {
		t.Fatalf("expected at most one active adapter, saw %d", ov.max.Load())
	}
}

func TestEnqueueRejectsBlankAndDisabled(t *testing.T) {
	s := defaultSettings("a")
	provider := settings.NewStatic(s)
	o := newOrchestrator(t, provider, nil, &fakeAdapter{id: "a"})

	if o.Enqueue("   ") {
		t.Fatal("blank text must not be enqueued")
	}
	s.Enabled = false
	provider.Set(s)
	if o.Enqueue("hello") {
		t.Fatal("disabled settings must reject enqueue")
	}
	if o.ReceiveEvent(events.Follow{Base: events.Base{Username: "ada"}}) {
		t.Fatal("disabled settings must reject events")
	}
	if o.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", o.Len())
	}
}

func TestSettingsAppliedAtDequeueTime(t *testing.T) {
	gate := make(chan struct{})
	a := &fakeAdapter{id: "a", gate: gate, entered: make(chan struct{}, 4)}
	b := &fakeAdapter{id: "b"}
	provider := settings.NewStatic(defaultSettings("a"))
	rec := newResultLog()
	o := newOrchestrator(t, provider, rec, a, b)
	start(t, o)

	o.Enqueue("first")
	o.Enqueue("second")
	<-a.entered

	next := defaultSettings("b")
	next.Voices = map[string]string{"b": "bm_george"}
	next.Rate = 25
	next.Volume = 40
	provider.Set(next)
	close(gate)

	rec.wait(t, 2)
	if len(a.spoken()) != 1 || a.spoken()[0].text != "first" {
		t.Fatalf("expected adapter a to speak first, got %+v", a.spoken())
	}
	got := b.spoken()
	if len(got) != 1 {
		t.Fatalf("expected adapter b to speak once, got %+v", got)
	}
	if got[0].text != "second" || got[0].voice != "bm_george" || got[0].rate != settings.MaxRate || got[0].volume != 40 {
		t.Fatalf("unexpected dequeue-time parameters %+v", got[0])
	}
}

func TestDisabledAtDequeueDrops(t *testing.T) {
	gate := make(chan struct{})
	a := &fakeAdapter{id: "a", gate: gate, entered: make(chan struct{}, 4)}
	s := defaultSettings("a")
	provider := settings.NewStatic(s)
	rec := newResultLog()
	o := newOrchestrator(t, provider, rec, a)
	start(t, o)

	o.Enqueue("first")
	o.Enqueue("second")
	<-a.entered
	s.Enabled = false
	provider.Set(s)
	close(gate)

	results := rec.wait(t, 2)
	if results[1].Status != StatusDropped {
		t.Fatalf("expected second utterance dropped, got %s", results[1].Status)
	}
	if len(a.spoken()) != 1 {
		t.Fatalf("expected one spoken utterance, got %d", len(a.spoken()))
	}
}

func TestUnknownEngineIsDroppedAndLoopContinues(t *testing.T) {
	a := &fakeAdapter{id: "a"}
	provider := settings.NewStatic(defaultSettings("missing"))
	rec := newResultLog()
	o := newOrchestrator(t, provider, rec, a)
	start(t, o)

	o.Enqueue("lost")
	res := rec.wait(t, 1)[0]
	if res.Status != StatusDropped || !errors.Is(res.Err, ErrUnknownEngine) {
		t.Fatalf("expected unknown engine drop, got %+v", res)
	}

	provider.Set(defaultSettings("a"))
	o.Enqueue("found")
	if res := rec.wait(t, 1)[0]; res.Status != StatusSpoken {
		t.Fatalf("expected spoken, got %+v", res)
	}
}

func TestAdapterErrorAndPanicAreContained(t *testing.T) {
	boom := errors.New("device busy")
	a := &fakeAdapter{id: "a", err: boom, panicOn: "explode"}
	provider := settings.NewStatic(defaultSettings("a"))
	rec := newResultLog()
	o := newOrchestrator(t, provider, rec, a)
	start(t, o)

	o.Enqueue("fails")
	o.Enqueue("explode")
	results := rec.wait(t, 2)
	if results[0].Status != StatusFailed || !errors.Is(results[0].Err, boom) {
		t.Fatalf("expected failure result, got %+v", results[0])
	}
	if results[1].Status != StatusFailed || results[1].Err == nil {
		t.Fatalf("expected panic to be recorded as failure, got %+v", results[1])
	}

	a.mu.Lock()
	a.err = nil
	a.mu.Unlock()
	o.Enqueue("recovered")
	if res := rec.wait(t, 1)[0]; res.Status != StatusSpoken {
		t.Fatalf("loop did not continue after panic: %+v", res)
	}
}

func TestCloseDiscardsQueueAndDisposesAdapters(t *testing.T) {
	a := &fakeAdapter{id: "a", hang: true}
	provider := settings.NewStatic(defaultSettings("a"))
	rec := newResultLog()
	o := newOrchestrator(t, provider, rec, a)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	o.Enqueue("stuck")
	o.Enqueue("queued")
	time.Sleep(20 * time.Millisecond)

	started := time.Now()
	if err := o.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("close exceeded shutdown timeout: %v", elapsed)
	}
	if !a.isClosed() {
		t.Fatal("expected adapter to be closed")
	}
	results := rec.wait(t, 2)
	for _, res := range results {
		if res.Status != StatusDiscarded {
			t.Fatalf("expected discarded, got %+v", res)
		}
	}
	if o.Enqueue("late") {
		t.Fatal("enqueue after close must be rejected")
	}
}

func TestInitializeFailureKeepsRunning(t *testing.T) {
	broken := &fakeAdapter{id: "a", initErr: engine.ErrDisabled}
	provider := settings.NewStatic(defaultSettings("a"))
	rec := newResultLog()
	o := newOrchestrator(t, provider, rec, broken)
	start(t, o)
	if !o.Healthy() {
		t.Fatal("expected orchestrator to run despite adapter init failure")
	}
}

func TestDisabledAdapterSpeakIsDropped(t *testing.T) {
	missing := system.New(config.SystemEngineConfig{Command: "definitely-not-a-speech-binary --stdin", BaseWPM: 175}, newLogger())
	provider := settings.NewStatic(defaultSettings(system.ID))
	rec := newResultLog()
	o := newOrchestrator(t, provider, rec, missing)
	start(t, o)

	if !o.Enqueue("hello") {
		t.Fatal("expected enqueue to be accepted")
	}
	res := rec.wait(t, 1)[0]
	if res.Status != StatusDropped {
		t.Fatalf("expected dropped status for a disabled engine, got %s", res.Status)
	}
	if !errors.Is(res.Err, engine.ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", res.Err)
	}
}

func TestRaidEventIsSpoken(t *testing.T) {
	a := &fakeAdapter{id: "a"}
	var observed atomic.Int32
	provider := settings.NewStatic(defaultSettings("a"))
	rec := newResultLog()
	o := New(provider, format.New(newLogger()), []engine.Adapter{a}, Options{
		Grace:    time.Millisecond,
		Recorder: rec,
		OnResult: func(Result) { observed.Add(1) },
	}, newLogger())
	start(t, o)

	raid := events.Raid{Base: events.Base{Username: "Alice", Platform: "twitch"}, Viewers: 42}
	if !o.ReceiveEvent(raid) {
		t.Fatal("raid should be announced")
	}
	res := rec.wait(t, 1)[0]
	if res.Text != "Alice raided with 42 viewers!" || res.Source != "raid:twitch" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := a.spoken(); len(got) != 1 || got[0].text != res.Text {
		t.Fatalf("unexpected spoken %+v", got)
	}
	if observed.Load() != 1 {
		t.Fatalf("expected OnResult once, got %d", observed.Load())
	}
}

func TestIneligibleEventIsIgnored(t *testing.T) {
	s := defaultSettings("a")
	s.Filters.MinRaidViewers = 100
	o := newOrchestrator(t, settings.NewStatic(s), nil, &fakeAdapter{id: "a"})
	if o.ReceiveEvent(events.Raid{Base: events.Base{Username: "Bob"}, Viewers: 3}) {
		t.Fatal("raid below threshold must not be announced")
	}
}
