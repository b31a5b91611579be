package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-announcer/internal/format"
	"github.com/loqalabs/loqa-announcer/internal/orchestrator"
	"github.com/loqalabs/loqa-announcer/internal/runtime"
	"github.com/loqalabs/loqa-announcer/internal/settings"
)

type sayOptions struct {
	engine string
	voice  string
	rate   int
	volume int
}

func newSayCmd(root *rootOptions) *cobra.Command {
	opts := &sayOptions{}
	cmd := &cobra.Command{
		Use:   "say TEXT...",
		Short: "Speak text once through the configured engine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(os.Stderr, cfg.Telemetry.LogLevel)
			s, err := root.loadSettings(cfg)
			if err != nil {
				return err
			}
			s.Enabled = true
			if cmd.Flags().Changed("engine") {
				s.Engine = opts.engine
			}
			if cmd.Flags().Changed("voice") {
				if s.Voices == nil {
					s.Voices = map[string]string{}
				}
				s.Voices[s.Engine] = opts.voice
			}
			if cmd.Flags().Changed("rate") {
				s.Rate = opts.rate
			}
			if cmd.Flags().Changed("volume") {
				s.Volume = opts.volume
			}
			if cfg.Playback.Mode == "bus" {
				cfg.Playback.Mode = "device"
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			buf, player, err := runtime.OpenBuffer(cfg, nil, logger)
			if err != nil {
				return err
			}
			if player != nil {
				defer player.Close()
			}
			adapters, err := runtime.BuildEngines(ctx, cfg, buf, logger)
			if err != nil {
				return err
			}

			results := make(chan orchestrator.Result, 1)
			orch := orchestrator.New(settings.NewStatic(s), format.New(logger), adapters, orchestrator.Options{
				Grace:           time.Millisecond,
				ShutdownTimeout: time.Duration(cfg.Orchestrator.ShutdownTimeoutMS) * time.Millisecond,
				OnResult:        func(res orchestrator.Result) { results <- res },
			}, logger)
			if err := orch.Start(ctx); err != nil {
				return err
			}
			defer orch.Close()

			if !orch.EnqueueFrom(strings.Join(args, " "), "cli") {
				return errors.New("nothing to say")
			}
			select {
			case res := <-results:
				if res.Status != orchestrator.StatusSpoken {
					return fmt.Errorf("utterance %s: %v", res.Status, res.Err)
				}
				logger.Debug("spoken", slog.String("engine", res.Engine), slog.Duration("duration", res.Duration))
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	cmd.Flags().StringVar(&opts.engine, "engine", "", "engine id (system, neural)")
	cmd.Flags().StringVar(&opts.voice, "voice", "", "voice name for the selected engine")
	cmd.Flags().IntVar(&opts.rate, "rate", 0, "speech rate, -10..10")
	cmd.Flags().IntVar(&opts.volume, "volume", 100, "volume, 0..100")
	return cmd
}
