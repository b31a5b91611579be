package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-announcer/internal/config"
	"github.com/loqalabs/loqa-announcer/internal/settings"
)

type rootOptions struct {
	configPath   string
	settingsPath string
	logLevel     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "announcer",
		Short: "Speak live stream events aloud",
		Long: `announcer turns stream events (donations, subscriptions, memberships,
follows and raids) into spoken announcements.

Events arrive on the NATS bus under stream.events.<platform>; free text can be
sent on tts.say. Utterances are spoken one at a time through the OS speech
command or a neural synthesis backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "runtime config file (YAML); defaults plus LOQA_* env when empty")
	cmd.PersistentFlags().StringVarP(&opts.settingsPath, "settings", "s", "", "TTS settings file (YAML or TOML); overrides settings.path")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newSayCmd(opts),
		newFormatCmd(opts),
		newVoicesCmd(opts),
		newHistoryCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.settingsPath != "" {
		cfg.Settings.Path = o.settingsPath
	}
	if o.logLevel != "" {
		cfg.Telemetry.LogLevel = o.logLevel
	}
	return cfg, nil
}

// loadSettings reads the TTS settings file, or returns defaults when none is set.
func (o *rootOptions) loadSettings(cfg config.Config) (settings.Settings, error) {
	if cfg.Settings.Path == "" {
		return settings.Default(), nil
	}
	return settings.Load(cfg.Settings.Path)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
