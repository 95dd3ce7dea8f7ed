package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"photoner/internal/logging"
	"photoner/internal/records"
	"photoner/internal/schedule"
	"photoner/internal/tick"
)

type tickView struct {
	RunID         string         `json:"run_id"`
	Phase         string         `json:"phase"`
	Population    string         `json:"population,omitempty"`
	SkipReason    string         `json:"skip_reason,omitempty"`
	Detail        string         `json:"detail,omitempty"`
	Depths        map[string]int `json:"depths,omitempty"`
	Planned       int            `json:"planned"`
	Success       int            `json:"success"`
	Failed        int            `json:"failed"`
	Skipped       int            `json:"skipped"`
	Untouched     int            `json:"untouched"`
	AbortReason   string         `json:"abort_reason,omitempty"`
	AbortDetail   string         `json:"abort_detail,omitempty"`
	StoppedEarly  bool           `json:"stopped_early,omitempty"`
	DurationSec   float64        `json:"duration_sec"`
	RecoveredFrom string         `json:"recovered_from,omitempty"`
	Error         string         `json:"error,omitempty"`
}

func newTickView(res tick.Result) tickView {
	view := tickView{
		RunID:       res.RunID,
		Phase:       string(res.Decision.Phase),
		Population:  string(res.Decision.Profile.Population),
		SkipReason:  res.SkipReason,
		Detail:      res.Decision.Detail,
		Depths:      depthView(res.Depths),
		DurationSec: res.Duration().Seconds(),
	}
	if view.Phase == "" {
		view.Phase = string(schedule.Idle)
	}
	if res.Report != nil {
		view.Planned = res.Report.Planned
		view.Success = res.Report.Success
		view.Failed = res.Report.Failed
		view.Skipped = res.Report.Skipped
		view.Untouched = res.Report.Untouched
		view.AbortReason = res.Report.AbortReason
		view.AbortDetail = res.Report.AbortDetail
		view.StoppedEarly = res.Report.StoppedEarly
	}
	if res.Recovered != nil {
		view.RecoveredFrom = res.Recovered.RunID
	}
	if res.SkipReason == tick.SkipAlreadyRunning && res.Holder != nil {
		view.Detail = fmt.Sprintf("held by pid %d (run %s)", res.Holder.PID, res.Holder.RunID)
	}
	if res.Err != nil {
		view.Error = res.Err.Error()
	}
	return view
}

func depthView(depths map[records.Population]int) map[string]int {
	if len(depths) == 0 {
		return nil
	}
	out := make(map[string]int, len(depths))
	for pop, n := range depths {
		out[string(pop)] = n
	}
	return out
}

func writeTickSummary(out io.Writer, view tickView) {
	if view.SkipReason != "" {
		detail := view.SkipReason
		if view.Detail != "" {
			detail += ": " + view.Detail
		}
		fmt.Fprintf(out, "tick %s: skipped (%s)\n", view.RunID, detail)
		return
	}
	label := view.Phase
	if view.Population != "" {
		label += " (" + view.Population + ")"
	}
	fmt.Fprintf(out, "tick %s: %s %d enhanced, %d failed, %d skipped, %d untouched in %s\n",
		view.RunID, label, view.Success, view.Failed, view.Skipped, view.Untouched,
		(time.Duration(view.DurationSec * float64(time.Second))).Round(time.Second))
	if view.AbortReason != "" {
		line := "  aborted: " + view.AbortReason
		if view.AbortDetail != "" {
			line += " (" + view.AbortDetail + ")"
		}
		fmt.Fprintln(out, line)
	}
	if view.StoppedEarly {
		fmt.Fprintln(out, "  time budget reached; remaining files wait for the next tick")
	}
	if view.RecoveredFrom != "" {
		fmt.Fprintf(out, "  recovered lease left by run %s\n", view.RecoveredFrom)
	}
}

func newTickCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduling decision and at most one batch",
		Long: "Run one scheduling decision and at most one batch.\n\n" +
			"A tick that finds another tick running, or a schedule that says idle, exits 0.",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := ctx.runner()
			if err != nil {
				return err
			}
			res, err := runner.Tick(cmd.Context())
			view := newTickView(res)
			if asJSON {
				if jsonErr := writeJSON(cmd, view); jsonErr != nil {
					return jsonErr
				}
			} else if err == nil {
				writeTickSummary(cmd.OutOrStdout(), view)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the tick result as JSON")
	return cmd
}

func newDryRunCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Show what the next tick would do without processing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := ctx.runner()
			if err != nil {
				return err
			}
			plan, err := runner.Plan(cmd.Context())
			if err != nil {
				return err
			}
			writePlan(cmd.OutOrStdout(), plan, limit)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of planned files to list")
	return cmd
}

func writePlan(out io.Writer, plan tick.Plan, limit int) {
	decision := plan.Decision
	fmt.Fprintf(out, "At:        %s\n", plan.At.Format(time.RFC3339))
	fmt.Fprintf(out, "Phase:     %s\n", decision.Phase.Title())
	if decision.Idle() {
		reason := decision.Reason
		if decision.Detail != "" {
			reason += " (" + decision.Detail + ")"
		}
		fmt.Fprintf(out, "Reason:    %s\n", reason)
	} else {
		fmt.Fprintf(out, "Window:    %s\n", decision.Detail)
	}
	var depths []string
	for _, pop := range records.Populations {
		depths = append(depths, fmt.Sprintf("%s=%d", pop, plan.Depths[pop]))
	}
	fmt.Fprintf(out, "Backlog:   %s\n", strings.Join(depths, " "))
	fmt.Fprintf(out, "Load:      %.2f\n", plan.LoadAverage)
	if !plan.NextSync.IsZero() {
		fmt.Fprintf(out, "Next sync: %s\n", plan.NextSync.Format("2006-01-02 15:04"))
	}
	if decision.Idle() {
		return
	}
	unit := plan.Unit
	fmt.Fprintf(out, "Batch:     %d of %d %s files, %s, %d thread(s), budget %s\n",
		unit.Len(), unit.Available, unit.Population, unit.Order, unit.Budget.Threads, unit.Budget.TimeBudget)
	if plan.Anomalies > 0 {
		fmt.Fprintf(out, "Anomalies: %d (empty or unreadable files are never dispatched)\n", plan.Anomalies)
	}
	if unit.Empty() || limit <= 0 {
		return
	}
	rows := make([][]string, 0, min(limit, unit.Len()))
	for i, item := range unit.Items {
		if i >= limit {
			break
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), item.Path, item.ModTime.Format("2006-01-02 15:04")})
	}
	fmt.Fprintln(out, renderTable([]string{"#", "Path", "Modified"}, rows, 0))
	if unit.Len() > limit {
		fmt.Fprintf(out, "... and %d more\n", unit.Len()-limit)
	}
}

func newLoopCommand(ctx *commandContext) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Run ticks on an interval until interrupted",
		Long: "Run ticks on an interval until interrupted.\n\n" +
			"The interval defaults to schedule.tick_interval_minutes and is re-read after every tick.",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := ctx.runner()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			interval := loopInterval(every, cfg.Schedule.TickIntervalMinutes)
			out := cmd.OutOrStdout()
			for {
				res, err := runner.Tick(cmd.Context())
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					logger.Error("tick failed, retrying next interval",
						logging.String(logging.FieldEventType, "loop_tick_failed"),
						logging.Error(err),
					)
				} else {
					writeTickSummary(out, newTickView(res))
				}
				if fresh, err := ctx.reloader()(); err == nil {
					interval = loopInterval(every, fresh.Schedule.TickIntervalMinutes)
				}
				timer := time.NewTimer(interval)
				select {
				case <-cmd.Context().Done():
					timer.Stop()
					return nil
				case <-timer.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "Override the tick interval (e.g. 5m)")
	return cmd
}

func loopInterval(override time.Duration, minutes int) time.Duration {
	if override > 0 {
		return override
	}
	if minutes <= 0 {
		minutes = 15
	}
	return time.Duration(minutes) * time.Minute
}
