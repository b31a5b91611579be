// Package system adapts an operating-system speech command (espeak-ng, say,
// spd-say, ...) to the engine contract.
package system

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-announcer/internal/config"
	"github.com/loqalabs/loqa-announcer/internal/engine"
)

// ID is the engine identifier selected in settings.
const ID = "system"

type Adapter struct {
	cfg    config.SystemEngineConfig
	log    *slog.Logger
	params *engine.Params

	mu       sync.RWMutex
	args     []string
	voices   []string
	disabled bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.SystemEngineConfig, log *slog.Logger) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		cfg:      cfg,
		log:      log.With(slog.String("component", "engine-system")),
		params:   engine.NewParams(),
		disabled: true,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (a *Adapter) ID() string { return ID }

// Initialize resolves the speech binary and loads the voice list. When the
// binary is missing the adapter stays disabled and ErrDisabled is returned.
func (a *Adapter) Initialize(ctx context.Context) error {
	args, err := shellwords.Parse(a.cfg.Command)
	if err != nil {
		return fmt.Errorf("%w: parse command: %v", engine.ErrDisabled, err)
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: speech command empty", engine.ErrDisabled)
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return fmt.Errorf("%w: %s not found: %v", engine.ErrDisabled, args[0], err)
	}

	voices, err := a.listVoices(ctx)
	if err != nil {
		a.log.Warn("failed to list system voices", slogError(err))
	}

	a.mu.Lock()
	a.args = args
	a.voices = voices
	a.disabled = false
	a.mu.Unlock()

	a.log.Info("system engine ready", slog.String("binary", args[0]), slog.Int("voices", len(voices)))
	return nil
}

func (a *Adapter) listVoices(ctx context.Context) ([]string, error) {
	if strings.TrimSpace(a.cfg.VoicesCommand) == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(a.cfg.VoicesCommand)
	if err != nil {
		return nil, fmt.Errorf("parse voices command: %w", err)
	}
	if len(args) == 0 {
		return nil, nil
	}
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).Output()
	if err != nil {
		return nil, fmt.Errorf("run voices command: %w", err)
	}
	return parseVoices(out, a.cfg.VoicesSkipLines, a.cfg.VoicesField), nil
}

func parseVoices(out []byte, skip, field int) []string {
	var voices []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	line := 0
	for scanner.Scan() {
		line++
		if line <= skip {
			continue
		}
		fields := strings.Fields(scanner.Text())
		if field < 0 || field >= len(fields) {
			continue
		}
		voices = append(voices, fields[field])
	}
	return voices
}

func (a *Adapter) Voices() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.voices...)
}

func (a *Adapter) SetVoice(name string) { a.params.SetVoice(name) }
func (a *Adapter) SetRate(rate int)     { a.params.SetRate(rate) }
func (a *Adapter) SetVolume(volume int) { a.params.SetVolume(volume) }

// Speak runs the speech command once. The process is killed when ctx is
// cancelled or the adapter is closed.
func (a *Adapter) Speak(ctx context.Context, text string) <-chan error {
	a.mu.RLock()
	disabled := a.disabled
	base := a.args
	a.mu.RUnlock()

	if disabled {
		a.log.Warn("system engine disabled, skipping utterance")
		return engine.Done(engine.ErrDisabled)
	}

	voice, rate, volume := a.params.Snapshot()
	args, useStdin := renderArgs(base, voice, rate, volume, a.cfg.BaseWPM, text)

	done := make(chan error, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(done)

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(a.ctx, cancel)
		defer stop()

		cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
		if useStdin {
			cmd.Stdin = strings.NewReader(text)
		}
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if runCtx.Err() != nil {
				done <- runCtx.Err()
				return
			}
			done <- fmt.Errorf("speech command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
	}()
	return done
}

// renderArgs substitutes the placeholders in the parsed command. An argument
// that is only {voice} is dropped together with its preceding flag when no
// voice is selected. The bool reports whether text must go to stdin.
func renderArgs(base []string, voice string, rate, volume, baseWPM int, text string) ([]string, bool) {
	wpm := int(float64(baseWPM)*engine.SpeedForRate(rate) + 0.5)
	replacer := strings.NewReplacer(
		"{voice}", voice,
		"{rate}", strconv.Itoa(rate),
		"{wpm}", strconv.Itoa(wpm),
		"{volume}", strconv.Itoa(volume),
		"{text}", text,
	)
	useStdin := true
	out := make([]string, 0, len(base))
	for _, arg := range base {
		if arg == "{voice}" && voice == "" {
			if n := len(out); n > 1 && strings.HasPrefix(out[n-1], "-") {
				out = out[:n-1]
			}
			continue
		}
		if strings.Contains(arg, "{text}") {
			useStdin = false
		}
		out = append(out, replacer.Replace(arg))
	}
	return out, useStdin
}

// Close cancels all pending and active speech.
func (a *Adapter) Close() error {
	a.cancel()
	a.wg.Wait()
	a.mu.Lock()
	a.disabled = true
	a.mu.Unlock()
	return nil
}

// Disabled reports whether initialization failed or the adapter was closed.
func (a *Adapter) Disabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.disabled
}

var _ engine.Adapter = (*Adapter)(nil)

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
