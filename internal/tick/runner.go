package tick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"photoner/internal/config"
	"photoner/internal/coordinator"
	"photoner/internal/engine"
	"photoner/internal/logging"
	"photoner/internal/notifications"
	"photoner/internal/preflight"
	"photoner/internal/records"
	"photoner/internal/staging"
)

// Loader returns a fresh configuration snapshot. It is called once per tick.
type Loader func() (*config.Config, error)

// Runner executes ticks.
type Runner struct {
	load        Loader
	logger      *slog.Logger
	now         func() time.Time
	newRunID    func() string
	space       preflight.SpaceChecker
	loadAverage func() (float64, error)
	notifier    func(*config.Config, *slog.Logger) notifications.Service
	engineOpts  []engine.Option
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the time source for decisions and history rows.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(next func() string) Option {
	return func(r *Runner) {
		if next != nil {
			r.newRunID = next
		}
	}
}

// WithSpaceChecker replaces the statfs check handed to the engine.
func WithSpaceChecker(space preflight.SpaceChecker) Option {
	return func(r *Runner) {
		if space != nil {
			r.space = space
		}
	}
}

// WithLoadAverage replaces the system load reader.
func WithLoadAverage(load func() (float64, error)) Option {
	return func(r *Runner) {
		if load != nil {
			r.loadAverage = load
		}
	}
}

// WithNotifier uses svc for every tick instead of building one from config.
func WithNotifier(svc notifications.Service) Option {
	return func(r *Runner) {
		if svc != nil {
			r.notifier = func(*config.Config, *slog.Logger) notifications.Service { return nopCloser{svc} }
		}
	}
}

// WithEngineOptions appends options applied to every engine the runner builds.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(r *Runner) {
		r.engineOpts = append(r.engineOpts, opts...)
	}
}

// NewRunner builds a runner that reloads configuration through load.
func NewRunner(load Loader, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		load:        load,
		logger:      logging.NewComponentLogger(logger, "tick"),
		now:         time.Now,
		newRunID:    uuid.NewString,
		space:       preflight.StatfsChecker{},
		loadAverage: preflight.LoadAverage,
		notifier:    notifications.NewService,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tick runs one decision and at most one batch. Lease contention and idle
// decisions are not errors; they come back as a Result with SkipReason set.
// An error is returned only when the tick could not run at all.
func (r *Runner) Tick(ctx context.Context) (Result, error) {
	result := Result{RunID: r.newRunID(), StartedAt: r.now()}
	ctx = logging.WithRunID(ctx, result.RunID)
	logger := logging.WithContext(ctx, r.logger)

	cfg, err := r.load()
	if err != nil {
		return r.fail(ctx, logger, nil, nil, result, fmt.Errorf("load config: %w", err))
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return r.fail(ctx, logger, cfg, nil, result, err)
	}

	lease, err := coordinator.Acquire(cfg.LockPath(), result.RunID)
	if err != nil {
		var held *coordinator.HeldError
		if !errors.As(err, &held) {
			return r.fail(ctx, logger, cfg, nil, result, err)
		}
		holder := held.Holder
		result.Holder = &holder
		result.SkipReason = SkipAlreadyRunning
		logger.Info("tick skipped, another run holds the lease",
			logging.String(logging.FieldEventType, "tick_skipped"),
			logging.String("skip_reason", SkipAlreadyRunning),
			logging.Int("holder_pid", holder.PID),
			logging.String("holder_run_id", holder.RunID),
		)
		r.persist(ctx, logger, cfg, nil, &result)
		return result, nil
	}
	defer func() {
		if err := lease.Release(); err != nil {
			logger.Warn("lease release failed",
				logging.String(logging.FieldEventType, "lease_release_failed"),
				logging.String(logging.FieldErrorHint, "remove "+lease.Path()+" if no photoner process is running"),
				logging.Error(err),
			)
		}
	}()
	if lease.Recovered != nil {
		result.Recovered = lease.Recovered
		logging.WarnWithContext(logger, "recovered lease left by an interrupted run", "stale_lease_recovered",
			logging.Int("previous_pid", lease.Recovered.PID),
			logging.String("previous_run_id", lease.Recovered.RunID),
			logging.String(logging.FieldImpact, "files left pending by that run are retried by this one"),
		)
	}

	store, err := records.Open(cfg)
	if err != nil {
		return r.fail(ctx, logger, cfg, nil, result, err)
	}
	defer store.Close()

	r.housekeeping(ctx, logger, cfg, &result)

	plan, err := r.plan(ctx, logger, cfg, store)
	if err != nil {
		return r.fail(ctx, logger, cfg, store, result, err)
	}
	result.Decision = plan.Decision
	result.Depths = plan.Depths
	result.Anomalies = plan.Anomalies

	if plan.Decision.Idle() {
		result.SkipReason = plan.Decision.Reason
		logger.Info("tick idle",
			logging.String(logging.FieldEventType, "tick_idle"),
			logging.String("skip_reason", plan.Decision.Reason),
			logging.String("detail", plan.Decision.Detail),
		)
		r.finish(ctx, logger, cfg, store, &result)
		return result, nil
	}

	ctx = logging.WithPhase(ctx, string(plan.Decision.Phase))
	ctx = logging.WithPopulation(ctx, string(plan.Unit.Population))
	logger = logging.WithContext(ctx, r.logger)

	if plan.Unit.Empty() {
		result.SkipReason = SkipEmptyBacklog
		logger.Info("phase active but nothing to process",
			logging.String(logging.FieldEventType, "tick_idle"),
			logging.String("skip_reason", SkipEmptyBacklog),
		)
		r.finish(ctx, logger, cfg, store, &result)
		return result, nil
	}

	opts := append([]engine.Option{
		engine.WithRunID(result.RunID),
		engine.WithSpaceChecker(r.space),
	}, r.engineOpts...)
	eng, err := engine.New(cfg, store, logger, opts...)
	if err != nil {
		return r.fail(ctx, logger, cfg, store, result, err)
	}

	logger.Info("batch starting",
		logging.String(logging.FieldEventType, "batch_started"),
		logging.Int("batch_size", plan.Unit.Len()),
		logging.Int("available", plan.Unit.Available),
		logging.Int("threads", plan.Unit.Budget.Threads),
		logging.Duration("time_budget", plan.Unit.Budget.TimeBudget),
	)
	report := eng.Run(ctx, plan.Unit)
	result.Report = &report
	r.finish(ctx, logger, cfg, store, &result)
	return result, nil
}

// housekeeping removes temp files orphaned by crashed writes and prunes old logs.
func (r *Runner) housekeeping(ctx context.Context, logger *slog.Logger, cfg *config.Config, result *Result) {
	maxAge := time.Duration(cfg.Processing.TempMaxAgeHours) * time.Hour
	cleaned := staging.CleanStale(ctx, cfg.Paths.EnhancedDir, maxAge, r.now(), logger)
	result.TempsRemoved = len(cleaned.Removed)
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, r.now(),
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: logging.LogFilePattern},
	)
}

func (r *Runner) finish(ctx context.Context, logger *slog.Logger, cfg *config.Config, store *records.Store, result *Result) {
	result.FinishedAt = r.now()
	r.persist(ctx, logger, cfg, store, result)

	if result.Report == nil {
		return
	}
	report := *result.Report
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "tick_completed"),
		logging.Int("success", report.Success),
		logging.Int("failed", report.Failed),
		logging.Int("skipped", report.Skipped),
		logging.Int("untouched", report.Untouched),
		logging.Duration("duration", result.Duration()),
	}
	if report.AbortReason != "" {
		attrs = append(attrs, logging.String("abort_reason", report.AbortReason))
	}
	logger.Info("tick completed", logging.Args(attrs...)...)

	r.notify(ctx, logger, cfg, func(ctx context.Context, svc notifications.Service) error {
		summary := summarize(*result)
		if report.Aborted() {
			return svc.NotifyTickAborted(ctx, summary)
		}
		if report.Dispatched() == 0 {
			return nil
		}
		return svc.NotifyTickCompleted(ctx, summary)
	})
}

func (r *Runner) fail(ctx context.Context, logger *slog.Logger, cfg *config.Config, store *records.Store, result Result, err error) (Result, error) {
	result.Err = err
	result.FinishedAt = r.now()
	logging.ErrorWithContext(logger, "tick failed", "tick_failed",
		logging.String(logging.FieldErrorHint, "run `photoner doctor` to check configuration and paths"),
		logging.Error(err),
	)
	if cfg != nil {
		r.persist(ctx, logger, cfg, store, &result)
		r.notify(ctx, logger, cfg, func(ctx context.Context, svc notifications.Service) error {
			return svc.NotifyError(ctx, err, "tick")
		})
	}
	return result, err
}

// persist writes the tick history row. A nil store opens one just for this write.
func (r *Runner) persist(ctx context.Context, logger *slog.Logger, cfg *config.Config, store *records.Store, result *Result) {
	if result.FinishedAt.IsZero() {
		result.FinishedAt = r.now()
	}
	if store == nil {
		opened, err := records.Open(cfg)
		if err != nil {
			logger.Warn("tick history unavailable",
				logging.String(logging.FieldEventType, "tick_history_failed"),
				logging.Error(err),
			)
			return
		}
		defer opened.Close()
		store = opened
	}
	if err := store.RecordTick(context.WithoutCancel(ctx), result.history()); err != nil {
		logger.Warn("tick history write failed",
			logging.String(logging.FieldEventType, "tick_history_failed"),
			logging.String(logging.FieldImpact, "status will not show this tick"),
			logging.Error(err),
		)
	}
}

func (r *Runner) notify(ctx context.Context, logger *slog.Logger, cfg *config.Config, send func(context.Context, notifications.Service) error) {
	svc := r.notifier(cfg, logger)
	defer svc.Close()
	if err := send(context.WithoutCancel(ctx), svc); err != nil {
		logger.Warn("notification failed",
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.String(logging.FieldImpact, "tick outcome was recorded but not delivered"),
			logging.Error(err),
		)
	}
}

func summarize(result Result) notifications.TickSummary {
	summary := notifications.TickSummary{
		RunID:      result.RunID,
		Phase:      string(result.Decision.Phase),
		Population: string(result.Decision.Profile.Population),
		Duration:   result.Duration(),
	}
	if rep := result.Report; rep != nil {
		summary.Planned = rep.Planned
		summary.Success = rep.Success
		summary.Failed = rep.Failed
		summary.Skipped = rep.Skipped
		summary.Untouched = rep.Untouched
		summary.AbortReason = rep.AbortReason
		summary.AbortDetail = rep.AbortDetail
		summary.StoppedEarly = rep.StoppedEarly
		summary.InputBytes = rep.InputBytes
		summary.OutputBytes = rep.OutputBytes
	}
	return summary
}

// nopCloser keeps a caller-owned service open across ticks.
type nopCloser struct{ notifications.Service }

func (nopCloser) Close() error { return nil }
