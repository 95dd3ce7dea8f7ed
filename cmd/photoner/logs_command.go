package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"photoner/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow bool
		lines  int
		filter logs.Filter
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the newest daily log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path, err := logs.Latest(cfg.Paths.LogDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if path == "" && !follow {
				fmt.Fprintln(out, "No log entries available")
				return nil
			}

			opts := logs.TailOptions{Offset: -1, Limit: max(lines, 0)}
			if lines <= 0 {
				opts.Offset = 0
			}
			printed := false
			for {
				res, err := logs.Tail(cmd.Context(), path, opts)
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return fmt.Errorf("tail %s: %w", path, err)
				}
				for _, line := range filter.Apply(res.Lines) {
					fmt.Fprintln(out, line)
					printed = true
				}
				if !follow {
					if !printed {
						fmt.Fprintln(out, "No log entries available")
					}
					return nil
				}
				opts = logs.TailOptions{Offset: res.Offset, Follow: true, Wait: time.Second}

				// A new day starts a new file.
				if next, err := logs.Latest(cfg.Paths.LogDir); err == nil && next != path {
					path = next
					opts.Offset = 0
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines as they are written")
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of trailing lines to show (0 for all)")
	cmd.Flags().StringVar(&filter.RunID, "run", "", "Only lines from this tick run id")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level (debug, info, warn, error)")
	cmd.Flags().StringVar(&filter.EventType, "event", "", "Only lines with this event_type")
	return cmd
}
