package tick_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"photoner/internal/config"
	"photoner/internal/coordinator"
	"photoner/internal/engine"
	"photoner/internal/enhance"
	"photoner/internal/logging"
	"photoner/internal/notifications"
	"photoner/internal/records"
	"photoner/internal/schedule"
	"photoner/internal/testsupport"
	"photoner/internal/tick"
)

var (
	midday   = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	lateNight = time.Date(2024, 6, 3, 23, 0, 0, 0, time.UTC)
)

type recordingNotifier struct {
	mu        sync.Mutex
	completed []notifications.TickSummary
	aborted   []notifications.TickSummary
	errs      []error
}

func (n *recordingNotifier) NotifyTickCompleted(_ context.Context, s notifications.TickSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, s)
	return nil
}

func (n *recordingNotifier) NotifyTickAborted(_ context.Context, s notifications.TickSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.aborted = append(n.aborted, s)
	return nil
}

func (n *recordingNotifier) NotifyError(_ context.Context, err error, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
	return nil
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }
func (n *recordingNotifier) Close() error                           { return nil }

func newConfig(t *testing.T, opts ...testsupport.ConfigOption) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Schedule.Timezone = "UTC"
	return cfg
}

func newRunner(t *testing.T, cfg *config.Config, at time.Time, notifier notifications.Service) *tick.Runner {
	t.Helper()
	var (
		mu  sync.Mutex
		seq int
	)
	return tick.NewRunner(func() (*config.Config, error) { return cfg, nil }, logging.NewNop(),
		tick.WithClock(func() time.Time { return at }),
		tick.WithRunIDs(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("run-%d", seq)
		}),
		tick.WithLoadAverage(func() (float64, error) { return 0.1, nil }),
		tick.WithNotifier(notifier),
		tick.WithEngineOptions(engine.WithMetadataCopier(enhance.NoopCopier{})),
	)
}

func writeImages(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		testsupport.WriteImage(t, filepath.Join(root, name), 16, 12)
	}
}

func TestTickProcessesPeriodicBatchOnce(t *testing.T) {
	cfg := newConfig(t)
	writeImages(t, cfg.Populations.Incoming.Root, "a.jpg", "b.png", "sub/c.jpg")
	notifier := &recordingNotifier{}
	runner := newRunner(t, cfg, midday, notifier)

	res, err := runner.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Decision.Phase != schedule.CurrentPeriodic || res.Skipped() {
		t.Fatalf("expected periodic batch, got phase=%s skip=%q", res.Decision.Phase, res.SkipReason)
	}
	if res.Report == nil || res.Report.Success != 3 || res.Report.Failed != 0 {
		t.Fatalf("unexpected report %+v", res.Report)
	}
	if res.Depths[records.PopulationIncoming] != 3 {
		t.Fatalf("expected incoming depth 3, got %v", res.Depths)
	}
	if len(notifier.completed) != 1 || notifier.completed[0].Success != 3 {
		t.Fatalf("expected one completion notification, got %+v", notifier.completed)
	}

	again, err := runner.Tick(context.Background())
	if err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if again.SkipReason != tick.SkipEmptyBacklog || again.Report != nil {
		t.Fatalf("second tick should find nothing to do, got %+v", again)
	}

	store := testsupport.MustOpenStore(t, cfg)
	keys, err := store.ProcessedKeys(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 processed records, got %d", len(keys))
	}
	ticks, err := store.ListTicks(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ticks) != 2 {
		t.Fatalf("expected 2 tick history rows, got %d", len(ticks))
	}
	byRun := map[string]records.TickRecord{}
	for _, tr := range ticks {
		byRun[tr.RunID] = tr
	}
	if first := byRun["run-1"]; first.Success != 3 || first.Phase != string(schedule.CurrentPeriodic) || first.Population != records.PopulationIncoming {
		t.Fatalf("unexpected first tick row %+v", first)
	}
	if second := byRun["run-2"]; second.SkipReason != tick.SkipEmptyBacklog {
		t.Fatalf("unexpected second tick row %+v", second)
	}
	if holder, err := coordinator.Inspect(cfg.LockPath()); err != nil || holder.Held {
		t.Fatalf("lease must be released after the tick, got %+v %v", holder, err)
	}
}

func TestTickSkipsWhenLeaseHeld(t *testing.T) {
	cfg := newConfig(t)
	writeImages(t, cfg.Populations.Incoming.Root, "a.jpg")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	lease, err := coordinator.Acquire(cfg.LockPath(), "other-run")
	if err != nil {
		t.Fatal(err)
	}
	defer lease.Release()

	res, err := newRunner(t, cfg, midday, &recordingNotifier{}).Tick(context.Background())
	if err != nil {
		t.Fatalf("lease contention must not be an error: %v", err)
	}
	if res.SkipReason != tick.SkipAlreadyRunning || res.Holder == nil || res.Holder.RunID != "other-run" {
		t.Fatalf("unexpected result %+v", res)
	}

	store := testsupport.MustOpenStore(t, cfg)
	keys, _ := store.ProcessedKeys(context.Background(), "")
	if len(keys) != 0 {
		t.Fatalf("no file may be processed without the lease, got %d", len(keys))
	}
	last, err := store.LastTick(context.Background())
	if err != nil || last == nil || last.SkipReason != tick.SkipAlreadyRunning {
		t.Fatalf("expected already_running history row, got %+v %v", last, err)
	}
}

func TestTickIdlesDuringSyncWindow(t *testing.T) {
	cfg := newConfig(t, testsupport.WithSyncWindows(config.SyncWindow{Time: "12:05", BufferMinutes: 10}))
	writeImages(t, cfg.Populations.Incoming.Root, "a.jpg")

	res, err := newRunner(t, cfg, midday, &recordingNotifier{}).Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.SkipReason != schedule.ReasonSyncWindow || res.Report != nil {
		t.Fatalf("expected sync window idle, got %+v", res)
	}
	if _, err := os.Stat(filepath.Join(cfg.Populations.Incoming.Root, "a.jpg")); err != nil {
		t.Fatalf("original must stay in place: %v", err)
	}
}

func TestTickDrainsArchiveOldestFirstAtNight(t *testing.T) {
	cfg := newConfig(t)
	cfg.Schedule.Archive.BatchSize = 2
	root := cfg.Populations.Archive.Root
	writeImages(t, root, "old.jpg", "mid.jpg", "new.jpg")
	testsupport.SetModTime(t, filepath.Join(root, "old.jpg"), time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC))
	testsupport.SetModTime(t, filepath.Join(root, "mid.jpg"), time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC))
	testsupport.SetModTime(t, filepath.Join(root, "new.jpg"), time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC))

	res, err := newRunner(t, cfg, lateNight, &recordingNotifier{}).Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision.Phase != schedule.ArchiveProcessing || res.Report == nil || res.Report.Success != 2 {
		t.Fatalf("expected 2 archive successes, got %+v", res)
	}
	store := testsupport.MustOpenStore(t, cfg)
	for _, name := range []string{"old.jpg", "mid.jpg"} {
		rec, err := store.Get(context.Background(), filepath.Join(root, name), records.PopulationArchive)
		if err != nil || rec == nil || rec.Status != records.StatusSuccess {
			t.Fatalf("%s should be processed first, got %+v %v", name, rec, err)
		}
	}
	if rec, _ := store.Get(context.Background(), filepath.Join(root, "new.jpg"), records.PopulationArchive); rec != nil {
		t.Fatalf("newest archive file should wait for the next tick, got %+v", rec)
	}
}

func TestTickRecoversStaleLease(t *testing.T) {
	cfg := newConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	host, _ := os.Hostname()
	data, _ := json.Marshal(coordinator.Token{PID: 999_999_999, Hostname: host, RunID: "crashed"})
	if err := os.WriteFile(cfg.LockPath(), data, 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := newRunner(t, cfg, midday, &recordingNotifier{}).Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Recovered == nil || res.Recovered.RunID != "crashed" {
		t.Fatalf("expected stale lease recovery, got %+v", res.Recovered)
	}
}

func TestTickConfigFailureIsReported(t *testing.T) {
	boom := errors.New("bad toml")
	runner := tick.NewRunner(func() (*config.Config, error) { return nil, boom }, logging.NewNop())
	res, err := runner.Tick(context.Background())
	if !errors.Is(err, boom) || !errors.Is(res.Err, boom) {
		t.Fatalf("expected config error, got %v / %v", err, res.Err)
	}
}

func TestTickNotifiesAbort(t *testing.T) {
	cfg := newConfig(t, testsupport.WithFreeSpaceFloor(1))
	writeImages(t, cfg.Populations.Incoming.Root, "a.jpg")
	notifier := &recordingNotifier{}
	runner := tick.NewRunner(func() (*config.Config, error) { return cfg, nil }, logging.NewNop(),
		tick.WithClock(func() time.Time { return midday }),
		tick.WithLoadAverage(func() (float64, error) { return 0, nil }),
		tick.WithNotifier(notifier),
		tick.WithSpaceChecker(fixedSpace(0)),
	)
	res, err := runner.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Report == nil || res.Report.AbortReason != engine.AbortInsufficientSpace {
		t.Fatalf("expected space abort, got %+v", res.Report)
	}
	if len(notifier.aborted) != 1 || len(notifier.completed) != 0 {
		t.Fatalf("expected one abort notification, got %+v / %+v", notifier.aborted, notifier.completed)
	}
}

type fixedSpace uint64

func (f fixedSpace) FreeBytes(string) (uint64, error) { return uint64(f), nil }

func TestPlanHasNoSideEffects(t *testing.T) {
	cfg := newConfig(t)
	writeImages(t, cfg.Populations.Incoming.Root, "a.jpg", "b.jpg")
	runner := newRunner(t, cfg, midday, &recordingNotifier{})

	plan, err := runner.Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Decision.Phase != schedule.CurrentPeriodic || plan.Unit.Len() != 2 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if plan.Unit.Budget.Threads != cfg.Schedule.Periodic.Threads {
		t.Fatalf("budget not applied: %+v", plan.Unit.Budget)
	}

	store := testsupport.MustOpenStore(t, cfg)
	if keys, _ := store.ProcessedKeys(context.Background(), ""); len(keys) != 0 {
		t.Fatalf("plan must not write records, found %d", len(keys))
	}
	if ticks, _ := store.ListTicks(context.Background(), 5); len(ticks) != 0 {
		t.Fatalf("plan must not write tick history, found %d", len(ticks))
	}
}

func TestSnapshotSummarizesState(t *testing.T) {
	cfg := newConfig(t)
	writeImages(t, cfg.Populations.Incoming.Root, "a.jpg")
	runner := newRunner(t, cfg, midday, &recordingNotifier{})
	if _, err := runner.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap, err := runner.Snapshot(context.Background(), 5)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Holder.Held {
		t.Fatal("no tick should be holding the lease")
	}
	if len(snap.Ticks) != 1 || snap.Stats[records.PopulationIncoming].Success != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.PlanErr != nil || snap.Plan.Depths[records.PopulationIncoming] != 0 {
		t.Fatalf("expected empty backlog after processing, got %+v %v", snap.Plan.Depths, snap.PlanErr)
	}
}
