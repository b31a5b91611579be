package neural

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-announcer/internal/engine"
	"github.com/loqalabs/loqa-announcer/internal/playback"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedBackend completes steps in a caller-chosen order. Each step yields
// four samples whose value identifies the segment.
type scriptedBackend struct {
	order []int
	fail  map[int]error
	hold  bool

	mu   sync.Mutex
	jobs []*Job
	wg   sync.WaitGroup
	rate int
}

func (b *scriptedBackend) SampleRate() int {
	if b.rate == 0 {
		return 1000
	}
	return b.rate
}

func (b *scriptedBackend) Run(ctx context.Context, job *Job, complete func(StepResult)) error {
	b.mu.Lock()
	b.jobs = append(b.jobs, job)
	b.mu.Unlock()
	if b.hold {
		return nil
	}
	order := b.order
	if order == nil {
		for i := range job.Steps {
			order = append(order, i)
		}
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, idx := range order {
			if ctx.Err() != nil {
				return
			}
			if err := b.fail[idx]; err != nil {
				complete(StepResult{Index: idx, Err: err})
				continue
			}
			complete(StepResult{Index: idx, Samples: constSamples(float32(idx+1)/10, 4)})
		}
	}()
	return nil
}

func (b *scriptedBackend) Close() error {
	b.wg.Wait()
	return nil
}

func (b *scriptedBackend) lastJob() *Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.jobs) == 0 {
		return nil
	}
	return b.jobs[len(b.jobs)-1]
}

func constSamples(v float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func newAdapter(t *testing.T, backend Backend, buf playback.Buffer, smoothing bool, voices ...Voice) *Adapter {
	t.Helper()
	if voices == nil {
		voices = []Voice{{Name: "af_heart", Language: "en-us"}, {Name: "bm_george", Language: "en-gb"}}
	}
	a := New(Options{
		Voices:         voices,
		Backend:        backend,
		Buffer:         buf,
		PauseSmoothing: smoothing,
		Pauses:         map[string]time.Duration{".": 10 * time.Millisecond, ",": 5 * time.Millisecond, "!": 10 * time.Millisecond},
	}, newLogger())
	require.NoError(t, a.Initialize(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func await(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("speak did not complete")
		return nil
	}
}

func TestOutOfOrderCompletionIsWrittenInSegmentOrder(t *testing.T) {
	buf := playback.NewMemory()
	backend := &scriptedBackend{order: []int{1, 2, 0}}
	a := newAdapter(t, backend, buf, false)

	require.NoError(t, await(t, a.Speak(context.Background(), "Hello there, friend. Welcome in")))

	writes := buf.Writes()
	require.Len(t, writes, 3)
	for i, w := range writes {
		require.InDelta(t, float32(i+1)/10, w[0], 1e-6, "write %d out of order", i)
	}
}

func TestPauseInsertedAfterPunctuatedSegments(t *testing.T) {
	buf := playback.NewMemory()
	backend := &scriptedBackend{order: []int{1, 0}, rate: 1000}
	a := newAdapter(t, backend, buf, true)

	require.NoError(t, await(t, a.Speak(context.Background(), "Thanks Ada. See you")))

	writes := buf.Writes()
	// segment 0, pause for ".", segment 1 (no trailing punctuation)
	require.Len(t, writes, 3)
	require.Len(t, writes[1], 10)
	for _, s := range writes[1] {
		require.Zero(t, s)
	}
	require.InDelta(t, 0.2, writes[2][0], 1e-6)
}

func TestNoPauseWhenSmoothingDisabled(t *testing.T) {
	buf := playback.NewMemory()
	a := newAdapter(t, &scriptedBackend{}, buf, false)
	require.NoError(t, await(t, a.Speak(context.Background(), "One. Two.")))
	require.Len(t, buf.Writes(), 2)
}

func TestSpeedFollowsRate(t *testing.T) {
	cases := map[int]float64{0: 1.0, 10: 1.5, -10: 0.5, 40: 1.5}
	for rate, want := range cases {
		backend := &scriptedBackend{}
		a := newAdapter(t, backend, playback.Discard{}, false)
		a.SetRate(rate)
		require.NoError(t, await(t, a.Speak(context.Background(), "hello")))
		job := backend.lastJob()
		require.NotNil(t, job)
		require.InDelta(t, want, job.Steps[0].Speed, 1e-9, "rate %d", rate)
	}
}

func TestVoiceSelectionAndFallback(t *testing.T) {
	backend := &scriptedBackend{}
	a := newAdapter(t, backend, playback.Discard{}, false)

	a.SetVoice("bm_george")
	require.NoError(t, await(t, a.Speak(context.Background(), "hi")))
	require.Equal(t, "bm_george", backend.lastJob().Steps[0].Voice.Name)

	a.SetVoice("missing")
	require.NoError(t, await(t, a.Speak(context.Background(), "hi")))
	require.Equal(t, "af_heart", backend.lastJob().Steps[0].Voice.Name)
}

func TestNoVoicesAbandons(t *testing.T) {
	backend := &scriptedBackend{}
	a := newAdapter(t, backend, playback.NewMemory(), false, []Voice{}...)
	err := await(t, a.Speak(context.Background(), "hello"))
	require.ErrorIs(t, err, ErrNoVoices)
	require.Nil(t, backend.lastJob())
}

func TestVolumeScalesSamples(t *testing.T) {
	buf := playback.NewMemory()
	a := newAdapter(t, &scriptedBackend{}, buf, false)
	a.SetVolume(50)
	require.NoError(t, await(t, a.Speak(context.Background(), "hello")))
	require.InDelta(t, 0.05, buf.Samples()[0], 1e-6)
}

func TestStepErrorSkipsSegmentButLaterSegmentsFlow(t *testing.T) {
	buf := playback.NewMemory()
	boom := errors.New("inference failed")
	backend := &scriptedBackend{fail: map[int]error{0: boom}}
	a := newAdapter(t, backend, buf, false)

	err := await(t, a.Speak(context.Background(), "first, second"))
	require.ErrorIs(t, err, boom)
	writes := buf.Writes()
	require.Len(t, writes, 1)
	require.InDelta(t, 0.2, writes[0][0], 1e-6)
}

func TestCancellationAbandonsJob(t *testing.T) {
	buf := playback.NewMemory()
	backend := &scriptedBackend{hold: true}
	a := newAdapter(t, backend, buf, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := a.Speak(ctx, "never spoken")
	cancel()
	require.ErrorIs(t, await(t, done), context.Canceled)
	require.Empty(t, buf.Samples())
}

// stallingBuffer never finishes playing on its own.
type stallingBuffer struct {
	*playback.Memory
	draining chan struct{}
	flushed  atomic.Bool
}

func (b *stallingBuffer) Drain(ctx context.Context) error {
	close(b.draining)
	<-ctx.Done()
	return ctx.Err()
}

func (b *stallingBuffer) Flush() {
	b.flushed.Store(true)
	b.Reset()
}

func TestCancelDuringPlaybackFlushesQueuedAudio(t *testing.T) {
	buf := &stallingBuffer{Memory: playback.NewMemory(), draining: make(chan struct{})}
	a := newAdapter(t, &scriptedBackend{}, buf, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := a.Speak(ctx, "hello there")
	select {
	case <-buf.draining:
	case <-time.After(2 * time.Second):
		t.Fatal("playback never started draining")
	}
	require.NotEmpty(t, buf.Samples())

	cancel()
	require.ErrorIs(t, await(t, done), context.Canceled)
	require.True(t, buf.flushed.Load())
	require.Empty(t, buf.Samples())
}

func TestCloseAbandonsActiveJob(t *testing.T) {
	backend := &scriptedBackend{hold: true}
	a := New(Options{Voices: []Voice{{Name: "v"}}, Backend: backend}, newLogger())
	require.NoError(t, a.Initialize(context.Background()))
	done := a.Speak(context.Background(), "hello")
	require.NoError(t, a.Close())
	require.Error(t, await(t, done))
}

func TestEmptyTextCompletesImmediately(t *testing.T) {
	backend := &scriptedBackend{}
	a := newAdapter(t, backend, playback.Discard{}, false)
	require.NoError(t, await(t, a.Speak(context.Background(), "   ")))
	require.Nil(t, backend.lastJob())
}

func TestInitializeWithoutBackendIsDisabled(t *testing.T) {
	a := New(Options{Voices: []Voice{{Name: "v"}}}, newLogger())
	require.Error(t, a.Initialize(context.Background()))
	require.ErrorIs(t, await(t, a.Speak(context.Background(), "hello")), engine.ErrDisabled)
}

type drainingMemory struct {
	*playback.Memory
	drained chan struct{}
}

func (d *drainingMemory) Drain(ctx context.Context) error {
	close(d.drained)
	return nil
}

func TestCompletionWaitsForDrain(t *testing.T) {
	buf := &drainingMemory{Memory: playback.NewMemory(), drained: make(chan struct{})}
	a := newAdapter(t, &scriptedBackend{}, buf, false)
	require.NoError(t, await(t, a.Speak(context.Background(), "hello")))
	select {
	case <-buf.drained:
	default:
		t.Fatal("expected drain before completion")
	}
}

func TestMockBackendProducesAudio(t *testing.T) {
	buf := playback.NewMemory()
	backend := NewMockBackend(8000, time.Millisecond)
	a := newAdapter(t, backend, buf, true)
	require.NoError(t, await(t, a.Speak(context.Background(), "hello world.")))
	// two words at 120ms each plus a 10ms pause at 8kHz
	require.Len(t, buf.Samples(), 2*960+80)
}
