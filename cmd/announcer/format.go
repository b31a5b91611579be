package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-announcer/internal/events"
	"github.com/loqalabs/loqa-announcer/internal/format"
)

func newFormatCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "format [EVENT_JSON]",
		Short: "Render a stream event into its announcement without speaking it",
		Long: `Reads one event envelope as JSON (argument or stdin) and prints the
utterance the announcer would speak under the current settings.`,
		Example: `  announcer format '{"kind":"raid","username":"Alice","viewers":42}'`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			s, err := root.loadSettings(cfg)
			if err != nil {
				return err
			}

			var data []byte
			if len(args) == 1 {
				data = []byte(args[0])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read event: %w", err)
				}
			}
			if strings.TrimSpace(string(data)) == "" {
				return errors.New("no event given")
			}

			evt, err := events.Decode(data)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Telemetry.LogLevel)
			text, ok := format.New(logger).Format(evt, &s)
			if !ok {
				logger.Info("event not announced", slog.String("kind", string(evt.Kind())))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}
