package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-announcer/internal/history"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently announced utterances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.History.RetentionMode == "ephemeral" {
				return fmt.Errorf("history is disabled (retention_mode ephemeral)")
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Telemetry.LogLevel)
			// read-only use: no session, and no vacuum on someone else's database
			cfg.History.VacuumOnStart = false
			store, err := history.Open(cmd.Context(), cfg.History, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tSTATUS\tENGINE\tSOURCE\tTEXT")
			for _, e := range entries {
				status := e.Status
				if e.Error != "" {
					status += " (" + e.Error + ")"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", humanize.Time(e.FinishedAt), status, e.Engine, e.Source, e.Text)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}
