package neural

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-announcer/internal/playback"
)

// Backend synthesizes the steps of a job. Run must not block: steps complete
// on the backend's own schedule, in any order, each reported exactly once
// through complete unless ctx is cancelled first.
type Backend interface {
	Run(ctx context.Context, job *Job, complete func(StepResult)) error
	SampleRate() int
	Close() error
}

var errBackendClosed = errors.New("neural backend closed")

// MockBackend renders a short tone per word. Useful without an inference
// runtime installed.
type MockBackend struct {
	sampleRate int
	delay      time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

const (
	mockWordDuration = 120 * time.Millisecond
	mockFrequency    = 440.0
	mockAmplitude    = 0.2
)

func NewMockBackend(sampleRate int, delay time.Duration) *MockBackend {
	return &MockBackend{sampleRate: sampleRate, delay: delay}
}

func (m *MockBackend) SampleRate() int { return m.sampleRate }

func (m *MockBackend) Run(ctx context.Context, job *Job, complete func(StepResult)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errBackendClosed
	}
	for _, step := range job.Steps {
		m.wg.Add(1)
		go func(step *Step) {
			defer m.wg.Done()
			timer := time.NewTimer(m.delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			complete(StepResult{Index: step.Index, Samples: m.tone(step)})
		}(step)
	}
	return nil
}

func (m *MockBackend) tone(step *Step) []float32 {
	words := 0
	for _, tok := range step.Segment.Tokens {
		if !tok.Punct {
			words++
		}
	}
	speed := step.Speed
	if speed <= 0 {
		speed = 1
	}
	n := int(math.Round(float64(words) * mockWordDuration.Seconds() * float64(m.sampleRate) / speed))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(mockAmplitude * math.Sin(2*math.Pi*mockFrequency*float64(i)/float64(m.sampleRate)))
	}
	return samples
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}

// ExecBackend runs an inference command once per step, with at most
// concurrency commands in flight. Each command receives one JSON request on
// stdin and answers with JSON lines carrying base64 PCM16 audio.
type ExecBackend struct {
	cmd         []string
	sampleRate  int
	stepTimeout time.Duration
	sem         chan struct{}
	log         *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type execRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	Language   string  `json:"language"`
	Speed      float64 `json:"speed"`
	SampleRate int     `json:"sample_rate"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Error     string `json:"error,omitempty"`
}

func NewExecBackend(command string, sampleRate, concurrency int, stepTimeout time.Duration, log *slog.Logger) (*ExecBackend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse neural command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("neural command empty")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &ExecBackend{
		cmd:         args,
		sampleRate:  sampleRate,
		stepTimeout: stepTimeout,
		sem:         make(chan struct{}, concurrency),
		log:         log.With(slog.String("component", "neural-exec")),
	}, nil
}

func (e *ExecBackend) SampleRate() int { return e.sampleRate }

func (e *ExecBackend) Run(ctx context.Context, job *Job, complete func(StepResult)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errBackendClosed
	}
	for _, step := range job.Steps {
		e.wg.Add(1)
		go func(step *Step) {
			defer e.wg.Done()
			select {
			case e.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-e.sem }()
			if ctx.Err() != nil {
				return
			}
			samples, err := e.synthesize(ctx, step)
			if ctx.Err() != nil {
				return
			}
			complete(StepResult{Index: step.Index, Samples: samples, Err: err})
		}(step)
	}
	return nil
}

func (e *ExecBackend) synthesize(ctx context.Context, step *Step) ([]float32, error) {
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}
	payload, err := json.Marshal(execRequest{
		Text:       step.Segment.Text(),
		Voice:      step.Voice.Name,
		Language:   step.Voice.Language,
		Speed:      step.Speed,
		SampleRate: e.sampleRate,
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start neural command: %w", err)
	}

	var pcm []byte
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode neural response: %w", err)
		}
		if resp.Error != "" {
			_ = cmd.Wait()
			return nil, fmt.Errorf("neural step %d: %s", step.Index, resp.Error)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode neural audio: %w", err)
		}
		pcm = append(pcm, chunk...)
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("neural command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if scanErr != nil {
		return nil, scanErr
	}
	e.log.Debug("neural step synthesized", slog.Int("step", step.Index), slog.Int("bytes", len(pcm)))
	return playback.FromPCM16(pcm), nil
}

func (e *ExecBackend) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}
