package neural

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/loqalabs/loqa-announcer/internal/playback"
)

// assembler receives step results in any order and writes them to the
// buffer strictly in segment order, each followed by its punctuation pause.
// It is the buffer's only writer for the lifetime of a job.
type assembler struct {
	job        *Job
	buf        playback.Buffer
	sampleRate int
	pauses     map[string]time.Duration
	smoothing  bool
	gain       float32

	mu       sync.Mutex
	next     int
	pending  map[int]StepResult
	errs     []error
	finished bool
	result   chan error
}

func newAssembler(job *Job, buf playback.Buffer, sampleRate int, pauses map[string]time.Duration, smoothing bool, gain float32) *assembler {
	return &assembler{
		job:        job,
		buf:        buf,
		sampleRate: sampleRate,
		pauses:     pauses,
		smoothing:  smoothing,
		gain:       gain,
		pending:    make(map[int]StepResult, len(job.Steps)),
		result:     make(chan error, 1),
	}
}

// complete records one step result and releases every result that is now
// next in line.
func (a *assembler) complete(res StepResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished || res.Index < a.next || res.Index >= len(a.job.Steps) {
		return
	}
	if _, dup := a.pending[res.Index]; dup {
		return
	}
	a.pending[res.Index] = res
	for {
		ready, ok := a.pending[a.next]
		if !ok {
			break
		}
		delete(a.pending, a.next)
		if err := a.release(ready); err != nil {
			a.finish(fmt.Errorf("write segment %d: %w", ready.Index, err))
			return
		}
		a.next++
	}
	if a.next == len(a.job.Steps) {
		a.finish(errors.Join(a.errs...))
	}
}

func (a *assembler) release(res StepResult) error {
	if res.Err != nil {
		a.errs = append(a.errs, fmt.Errorf("segment %d: %w", res.Index, res.Err))
		return nil
	}
	if len(res.Samples) > 0 {
		if err := a.buf.Write(a.scale(res.Samples)); err != nil {
			return err
		}
	}
	if !a.smoothing {
		return nil
	}
	punct, ok := a.job.Steps[res.Index].Segment.TrailingPunct()
	if !ok {
		return nil
	}
	pause, ok := a.pauses[pauseKey(punct)]
	if !ok || pause <= 0 {
		return nil
	}
	return a.buf.Write(make([]float32, int(math.Round(pause.Seconds()*float64(a.sampleRate)))))
}

func (a *assembler) scale(samples []float32) []float32 {
	if a.gain == 1 {
		return samples
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s * a.gain
	}
	return out
}

// abandon stops further writes. It is a no-op once the job has finished.
func (a *assembler) abandon(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.finished {
		a.finish(err)
	}
}

func (a *assembler) finish(err error) {
	a.finished = true
	a.pending = nil
	a.result <- err
}
