package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"photoner/internal/records"
	"photoner/internal/tick"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show lease holder, schedule, backlog and recent ticks",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := ctx.runner()
			if err != nil {
				return err
			}
			snap, err := runner.Snapshot(cmd.Context(), recent)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			writeStatus(out, snap, shouldColorize(out), time.Now())
			return nil
		},
	}
	cmd.Flags().IntVarP(&recent, "ticks", "n", 10, "Number of recent ticks to show")
	return cmd
}

func writeStatus(out io.Writer, snap tick.Snapshot, colorize bool, now time.Time) {
	fmt.Fprintln(out, renderSectionHeader("Run", colorize))
	holder := snap.Holder
	switch {
	case holder.Held:
		fmt.Fprintln(out, renderStatusLine("Lease", statusInfo,
			fmt.Sprintf("tick running: pid %d, run %s, since %s", holder.Token.PID, holder.Token.RunID,
				humanize.RelTime(holder.Token.AcquiredAt, now, "ago", "from now")), colorize))
	case holder.Stale:
		fmt.Fprintln(out, renderStatusLine("Lease", statusWarn,
			fmt.Sprintf("stale token from pid %d (run %s); the next tick recovers it", holder.Token.PID, holder.Token.RunID), colorize))
	default:
		fmt.Fprintln(out, renderStatusLine("Lease", statusOK, "free", colorize))
	}
	if snap.PlanErr != nil {
		fmt.Fprintln(out, renderStatusLine("Schedule", statusError, snap.PlanErr.Error(), colorize))
	} else {
		decision := snap.Plan.Decision
		message := decision.Phase.Title()
		if decision.Idle() {
			message += " (" + decision.Reason + ")"
		} else if decision.Detail != "" {
			message += " (" + decision.Detail + ")"
		}
		fmt.Fprintln(out, renderStatusLine("Phase now", statusInfo, message, colorize))
		if !snap.Plan.NextSync.IsZero() {
			fmt.Fprintln(out, renderStatusLine("Next sync", statusInfo, snap.Plan.NextSync.Format("Mon 15:04"), colorize))
		}
	}
	if n := len(snap.Temps); n > 0 {
		fmt.Fprintln(out, renderStatusLine("Temp files", statusWarn,
			fmt.Sprintf("%d partial outputs; removed by the next tick once stale", n), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, snap.DBPath, colorize))

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSectionHeader("Populations", colorize))
	rows := make([][]string, 0, len(records.Populations))
	for _, pop := range records.Populations {
		stats := snap.Stats[pop]
		backlog := "-"
		if snap.PlanErr == nil {
			backlog = strconv.Itoa(snap.Plan.Depths[pop])
		}
		rows = append(rows, []string{
			string(pop),
			backlog,
			strconv.Itoa(stats.Success),
			strconv.Itoa(stats.Failed),
			strconv.Itoa(stats.Skipped),
			strconv.Itoa(stats.Pending),
			fmt.Sprintf("%.1f%%", stats.SuccessRate()),
			humanize.IBytes(uint64(max(stats.OutputBytes, 0))),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"Population", "Backlog", "Success", "Failed", "Skipped", "Pending", "Rate", "Output"}, rows, 1, 2, 3, 4, 5, 6, 7))

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSectionHeader("Recent ticks", colorize))
	if len(snap.Ticks) == 0 {
		fmt.Fprintln(out, "  no ticks recorded yet")
		return
	}
	tickRows := make([][]string, 0, len(snap.Ticks))
	for _, t := range snap.Ticks {
		outcome := t.SkipReason
		if outcome == "" {
			outcome = fmt.Sprintf("%d ok / %d failed / %d skipped", t.Success, t.Failed, t.Skipped)
			if t.Untouched > 0 {
				outcome += fmt.Sprintf(" / %d left", t.Untouched)
			}
		}
		if t.AbortReason != "" {
			outcome += " (aborted: " + t.AbortReason + ")"
		}
		if t.ErrorMessage != "" {
			outcome = "error: " + truncate(t.ErrorMessage, 60)
		}
		tickRows = append(tickRows, []string{
			t.StartedAt.Local().Format("01-02 15:04"),
			t.Phase,
			outcome,
			t.Duration().Round(time.Second).String(),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"Started", "Phase", "Outcome", "Took"}, tickRows, 3))
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
