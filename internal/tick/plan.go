package tick

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"photoner/internal/batch"
	"photoner/internal/config"
	"photoner/internal/coordinator"
	"photoner/internal/discovery"
	"photoner/internal/logging"
	"photoner/internal/records"
	"photoner/internal/schedule"
	"photoner/internal/staging"
)

// Plan is the decision a tick would act on right now.
type Plan struct {
	At          time.Time
	Decision    schedule.Decision
	Depths      map[records.Population]int
	LoadAverage float64
	Unit        batch.WorkUnit
	Anomalies   int
	NextSync    time.Time
}

// Plan computes the current decision and work unit without taking the lease
// or processing anything.
func (r *Runner) Plan(ctx context.Context) (Plan, error) {
	cfg, err := r.load()
	if err != nil {
		return Plan{}, fmt.Errorf("load config: %w", err)
	}
	store, err := records.Open(cfg)
	if err != nil {
		return Plan{}, err
	}
	defer store.Close()
	return r.plan(ctx, r.logger, cfg, store)
}

func (r *Runner) plan(ctx context.Context, logger *slog.Logger, cfg *config.Config, lookup discovery.ProcessedLookup) (Plan, error) {
	sched, err := schedule.FromConfig(cfg)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{At: r.now()}

	depths, err := discovery.Depths(ctx, cfg, lookup, logger)
	if err != nil {
		if ctx.Err() != nil {
			return Plan{}, ctx.Err()
		}
		logging.WarnWithContext(logger, "backlog scan incomplete", "discovery_failed",
			logging.String(logging.FieldErrorHint, "check that population roots are mounted and readable"),
			logging.String(logging.FieldImpact, "affected populations count as empty this tick"),
			logging.Error(err),
		)
	}
	plan.Depths = depths

	load, err := r.loadAverage()
	if err != nil {
		logger.Debug("load average unavailable", logging.Error(err))
	}
	plan.LoadAverage = load

	plan.Decision = schedule.Decide(plan.At, sched, schedule.State{Depth: depths, LoadAverage: load})
	plan.NextSync = sched.NextSync(plan.At)
	if plan.Decision.Idle() {
		return plan, nil
	}

	profile := plan.Decision.Profile
	found, err := discovery.Discover(ctx, cfg, lookup, profile.Population, logger)
	if err != nil {
		return plan, err
	}
	plan.Anomalies = len(found.Anomalies)
	plan.Unit = batch.Build(found.Candidates, profile.Population, profile.BatchSize).WithBudget(profile.Budget())
	return plan, nil
}

// Snapshot is the read-only state shown by the status command.
type Snapshot struct {
	Plan    Plan
	PlanErr error
	Holder  coordinator.Holder
	Ticks   []records.TickRecord
	Stats   map[records.Population]records.Stats
	Temps   []staging.TempInfo
	DBPath  string
}

// Snapshot gathers lease, history, statistics and the current plan. A plan
// failure is reported in the snapshot rather than as an error.
func (r *Runner) Snapshot(ctx context.Context, recentTicks int) (Snapshot, error) {
	cfg, err := r.load()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load config: %w", err)
	}
	store, err := records.Open(cfg)
	if err != nil {
		return Snapshot{}, err
	}
	defer store.Close()

	snap := Snapshot{DBPath: store.Path(), Stats: make(map[records.Population]records.Stats, len(records.Populations))}
	if snap.Holder, err = coordinator.Inspect(cfg.LockPath()); err != nil {
		return snap, err
	}
	if snap.Ticks, err = store.ListTicks(ctx, recentTicks); err != nil {
		return snap, err
	}
	for _, pop := range records.Populations {
		stats, err := store.Stats(ctx, pop, time.Time{})
		if err != nil {
			return snap, err
		}
		snap.Stats[pop] = stats
	}
	if snap.Temps, err = staging.ListTemps(cfg.Paths.EnhancedDir); err != nil {
		return snap, err
	}
	snap.Plan, snap.PlanErr = r.plan(ctx, logging.NewNop(), cfg, store)
	return snap, nil
}
