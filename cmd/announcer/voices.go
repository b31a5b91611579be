package main

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-announcer/internal/playback"
	"github.com/loqalabs/loqa-announcer/internal/runtime"
)

func newVoicesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices of every enabled engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Telemetry.LogLevel)
			adapters, err := runtime.BuildEngines(cmd.Context(), cfg, playback.Discard{}, logger)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ENGINE\tVOICE")
			for _, a := range adapters {
				if err := a.Initialize(cmd.Context()); err != nil {
					fmt.Fprintf(w, "%s\t(unavailable: %v)\n", a.ID(), err)
					_ = a.Close()
					continue
				}
				voices := a.Voices()
				slices.Sort(voices)
				if len(voices) == 0 {
					fmt.Fprintf(w, "%s\t(none)\n", a.ID())
				}
				for _, v := range voices {
					fmt.Fprintf(w, "%s\t%s\n", a.ID(), v)
				}
				_ = a.Close()
			}
			return w.Flush()
		},
	}
}
