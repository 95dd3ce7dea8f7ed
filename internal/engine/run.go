package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"photoner/internal/batch"
	"photoner/internal/discovery"
	"photoner/internal/failures"
	"photoner/internal/logging"
	"photoner/internal/records"
)

// Run processes unit and returns its report. Per-file failures never escape;
// phase-level conditions (free space, time budget, failure streaks,
// cancellation) stop dispatch and are described on the report.
func (e *Engine) Run(ctx context.Context, unit batch.WorkUnit) BatchReport {
	ctx = logging.WithPopulation(logging.WithRunID(ctx, e.runID), string(unit.Population))
	logger := logging.WithContext(ctx, e.logger)

	items := dedupe(unit.Items)
	report := BatchReport{
		Population: unit.Population,
		Planned:    len(items),
		StartedAt:  e.now(),
	}
	if len(items) == 0 {
		return report
	}

	threads := max(unit.Budget.Threads, 1)
	var deadline time.Time
	if unit.Budget.TimeBudget > 0 {
		deadline = report.StartedAt.Add(unit.Budget.TimeBudget)
	}

	logger.Info("batch started",
		logging.String(logging.FieldEventType, "batch_started"),
		logging.Int("items", len(items)),
		logging.Int("threads", threads),
		logging.Duration("time_budget", unit.Budget.TimeBudget),
	)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		streak   int
		outcomes = make([]*ItemOutcome, len(items))
		slots    = make(chan struct{}, threads)
	)
	dispatched := 0

dispatch:
	for i, item := range items {
		// Wait for a free worker before evaluating stop conditions so every
		// check reflects the state at the moment of dispatch.
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			report.AbortReason = AbortCanceled
			break dispatch
		}

		stop := func() { <-slots }
		if ctx.Err() != nil {
			report.AbortReason = AbortCanceled
			stop()
			break
		}
		if !deadline.IsZero() && !e.now().Before(deadline) {
			report.StoppedEarly = true
			stop()
			break
		}
		mu.Lock()
		tripped := e.maxConsecutive > 0 && streak >= e.maxConsecutive
		mu.Unlock()
		if tripped {
			report.AbortReason = AbortConsecutiveFailures
			report.AbortDetail = fmt.Sprintf("%d consecutive failures", e.maxConsecutive)
			stop()
			break
		}
		if reason, detail := e.checkSpace(unit.Population); reason != "" {
			report.AbortReason = reason
			report.AbortDetail = detail
			report.AbortErr = failures.Wrap(failures.ErrPreflight, "engine", "free space", reason, errors.New(detail))
			stop()
			break
		}

		dispatched++
		wg.Add(1)
		go func(idx int, item discovery.Candidate) {
			defer wg.Done()
			defer func() { <-slots }()
			// In-flight items run to completion even when the tick is canceled
			// or the time budget passes.
			outcome := e.processItem(context.WithoutCancel(ctx), unit.Population, item)
			mu.Lock()
			outcomes[idx] = &outcome
			switch outcome.Status {
			case records.StatusFailed:
				streak++
			case records.StatusSuccess:
				streak = 0
			}
			mu.Unlock()
		}(i, item)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o != nil {
			report.add(*o)
		}
	}
	report.Untouched = len(items) - dispatched
	report.Duration = e.now().Sub(report.StartedAt)

	attrs := []logging.Attr{
		logging.Int("success", report.Success),
		logging.Int("failed", report.Failed),
		logging.Int("skipped", report.Skipped),
		logging.Int("untouched", report.Untouched),
		logging.Duration("duration", report.Duration),
		logging.Int64("input_bytes", report.InputBytes),
		logging.Int64("output_bytes", report.OutputBytes),
	}
	if report.StoppedEarly {
		attrs = append(attrs, logging.Bool("stopped_early", true))
	}
	if report.Aborted() {
		attrs = append(attrs, logging.String("abort_reason", report.AbortReason))
		if report.AbortDetail != "" {
			attrs = append(attrs, logging.String("abort_detail", report.AbortDetail))
		}
		if report.AbortErr != nil {
			attrs = append(attrs, logging.Error(report.AbortErr))
		}
		logging.WarnWithContext(logger, "batch aborted", "batch_aborted", append(attrs,
			logging.String(logging.FieldErrorHint, abortHint(report.AbortReason)),
			logging.String(logging.FieldImpact, fmt.Sprintf("%d files deferred to a later tick", report.Untouched)),
		)...)
		return report
	}
	attrs = append(attrs, logging.String(logging.FieldEventType, "batch_completed"))
	logger.Info("batch completed", logging.Args(attrs...)...)
	return report
}

func (e *Engine) checkSpace(population records.Population) (string, string) {
	floor := e.floors[population]
	if floor == 0 {
		return "", ""
	}
	free, err := e.space.FreeBytes(e.enhancedDir)
	if err != nil {
		return AbortSpaceCheckFailed, err.Error()
	}
	if free < floor {
		return AbortInsufficientSpace, fmt.Sprintf("%s free on %s, floor %s", humanize.IBytes(free), e.enhancedDir, humanize.IBytes(floor))
	}
	return "", ""
}

func abortHint(reason string) string {
	switch reason {
	case AbortInsufficientSpace:
		return "free space on the output volume or lower free_space_floor_gb"
	case AbortSpaceCheckFailed:
		return "check that enhanced_dir is mounted"
	case AbortConsecutiveFailures:
		return "run photoner records errors to see the common failure"
	default:
		return "the tick was interrupted; the next tick resumes"
	}
}

func dedupe(items []discovery.Candidate) []discovery.Candidate {
	seen := make(map[string]struct{}, len(items))
	out := make([]discovery.Candidate, 0, len(items))
	for _, item := range items {
		key := records.PathKey(item.Path)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}
