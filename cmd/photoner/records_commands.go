package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"photoner/internal/config"
	"photoner/internal/manifest"
	"photoner/internal/records"
)

func newRecordsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect processing records",
	}
	cmd.AddCommand(newRecordsListCommand(ctx))
	cmd.AddCommand(newRecordsErrorsCommand(ctx))
	cmd.AddCommand(newRecordsStatsCommand(ctx))
	cmd.AddCommand(newRecordsExportCommand(ctx))
	return cmd
}

func parsePopulation(value string) (records.Population, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", nil
	}
	pop := records.Population(value)
	if !pop.Valid() {
		return "", fmt.Errorf("unknown population %q (want incoming or archive)", value)
	}
	return pop, nil
}

func parseStatus(value string) (records.Status, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch records.Status(value) {
	case "", records.StatusPending, records.StatusSuccess, records.StatusFailed, records.StatusSkipped:
		return records.Status(value), nil
	default:
		return "", fmt.Errorf("unknown status %q", value)
	}
}

func sinceDays(days int) time.Time {
	if days <= 0 {
		return time.Time{}
	}
	return time.Now().AddDate(0, 0, -days)
}

func newRecordsListCommand(ctx *commandContext) *cobra.Command {
	var (
		population string
		status     string
		days       int
		limit      int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			pop, err := parsePopulation(population)
			if err != nil {
				return err
			}
			st, err := parseStatus(status)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *records.Store) error {
				recs, err := store.List(cmd.Context(), records.Filter{Population: pop, Status: st, Since: sinceDays(days), Limit: limit})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, recs)
				}
				out := cmd.OutOrStdout()
				if len(recs) == 0 {
					fmt.Fprintln(out, "No records match")
					return nil
				}
				rows := make([][]string, 0, len(recs))
				for _, r := range recs {
					outcome := string(r.Status)
					if r.FailureReason != "" {
						outcome += " (" + r.FailureReason + ")"
					}
					rows = append(rows, []string{
						r.UpdatedAt.Local().Format("2006-01-02 15:04"),
						string(r.Population),
						r.SourcePath,
						outcome,
						strconv.Itoa(r.Attempts),
						r.Duration.Round(10 * time.Millisecond).String(),
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Updated", "Population", "Source", "Status", "Attempts", "Took"}, rows, 4, 5))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&population, "population", "p", "", "Only this population (incoming or archive)")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only this status (pending, success, failed, skipped)")
	cmd.Flags().IntVar(&days, "days", 0, "Only records updated in the last N days")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func newRecordsErrorsCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Summarize failures by reason",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *records.Store) error {
				buckets, err := store.ErrorSummary(cmd.Context(), sinceDays(days))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(buckets) == 0 {
					fmt.Fprintf(out, "No failures in the last %d days\n", days)
					return nil
				}
				rows := make([][]string, 0, len(buckets))
				for _, b := range buckets {
					rows = append(rows, []string{
						b.Reason,
						strconv.Itoa(b.Count),
						b.LastSeen.Local().Format("2006-01-02 15:04"),
						b.Example,
						truncate(b.Detail, 60),
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Reason", "Count", "Last seen", "Example", "Detail"}, rows, 1))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Look back this many days (0 for all time)")
	return cmd
}

func newRecordsStatsCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show processing statistics per population",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *records.Store) error {
				since := sinceDays(days)
				rows := make([][]string, 0, len(records.Populations)+1)
				for _, pop := range append(append([]records.Population(nil), records.Populations...), "") {
					stats, err := store.Stats(cmd.Context(), pop, since)
					if err != nil {
						return err
					}
					label := string(pop)
					if pop == "" {
						label = "total"
					}
					rows = append(rows, []string{
						label,
						strconv.Itoa(stats.Total),
						strconv.Itoa(stats.Success),
						strconv.Itoa(stats.Failed),
						strconv.Itoa(stats.Skipped),
						fmt.Sprintf("%.1f%%", stats.SuccessRate()),
						stats.AverageDuration.Round(10 * time.Millisecond).String(),
						humanize.IBytes(uint64(max(stats.OriginalBytes, 0))),
						humanize.IBytes(uint64(max(stats.OutputBytes, 0))),
						strconv.Itoa(stats.Moved),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Population", "Total", "Success", "Failed", "Skipped", "Rate", "Avg time", "Originals", "Outputs", "Relocated"},
					rows, 1, 2, 3, 4, 5, 6, 7, 8, 9))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Only records updated in the last N days (0 for all time)")
	return cmd
}

func newRecordsExportCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export records to CSV under the reports directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *records.Store) error {
				recs, err := store.List(cmd.Context(), records.Filter{Since: sinceDays(days)})
				if err != nil {
					return err
				}
				path, err := manifest.WriteCSV(cfg.ReportsDir(), recs, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", len(recs), path)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Export records updated in the last N days (0 for all time)")
	return cmd
}
