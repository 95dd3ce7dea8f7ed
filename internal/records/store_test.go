package records_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"photoner/internal/records"
	"photoner/internal/testsupport"
)

func TestOpenCreatesSchemaAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", health)
	}
	if len(health.MissingTables) != 0 {
		t.Fatalf("missing tables: %v", health.MissingTables)
	}
	if health.SchemaVersion != 1 {
		t.Fatalf("unexpected schema version %d", health.SchemaVersion)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := records.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
}

func TestMarkPendingThenFinish(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	path := filepath.Join(cfg.Populations.Incoming.Root, "a.jpg")

	if err := store.MarkPending(ctx, path, records.PopulationIncoming, 1234, "conservative", "run-1"); err != nil {
		t.Fatalf("MarkPending failed: %v", err)
	}
	rec, err := store.Get(ctx, path, records.PopulationIncoming)
	if err != nil || rec == nil {
		t.Fatalf("Get failed: %v %v", rec, err)
	}
	if rec.Status != records.StatusPending || rec.Attempts != 1 || rec.OriginalSize != 1234 {
		t.Fatalf("unexpected pending record: %+v", rec)
	}
	processed, err := store.IsProcessed(ctx, path)
	if err != nil || processed {
		t.Fatalf("pending must not count as processed: %v %v", processed, err)
	}

	err = store.Finish(ctx, records.Record{
		SourcePath:       path,
		Population:       records.PopulationIncoming,
		Status:           records.StatusSuccess,
		OutputPath:       "/out/a_enhanced.jpg",
		OriginalSize:     1234,
		OutputSize:       2000,
		Duration:         1500 * time.Millisecond,
		AdjustmentsJSON:  `{"contrast":8}`,
		MovedToProcessed: true,
		ProcessedPath:    "/in/processed/a.jpg",
	})
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	rec, err = store.Get(ctx, path, records.PopulationIncoming)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != records.StatusSuccess || rec.Attempts != 1 || rec.Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected finished record: %+v", rec)
	}
	if rec.Profile != "conservative" || rec.RunID != "run-1" {
		t.Fatalf("profile and run id should survive finish: %+v", rec)
	}
	processed, err = store.IsProcessed(ctx, path)
	if err != nil || !processed {
		t.Fatalf("expected processed: %v %v", processed, err)
	}
}

func TestFinishCountsInRunRetries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	path := filepath.Join(cfg.Populations.Archive.Root, "retry.jpg")

	if err := store.MarkPending(ctx, path, records.PopulationArchive, 10, "", "run-1"); err != nil {
		t.Fatalf("MarkPending: %v", err)
	}
	if err := store.Finish(ctx, records.Record{SourcePath: path, Population: records.PopulationArchive, Status: records.StatusSuccess, Attempts: 2}); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	rec, err := store.Get(ctx, path, records.PopulationArchive)
	if err != nil || rec == nil {
		t.Fatalf("Get: %v %v", rec, err)
	}
	if rec.Attempts != 2 || rec.Status != records.StatusSuccess {
		t.Fatalf("expected success after 2 attempts, got %+v", rec)
	}

	// A later tick adds to the running total.
	if err := store.MarkPending(ctx, path, records.PopulationArchive, 10, "", "run-2"); err != nil {
		t.Fatalf("MarkPending: %v", err)
	}
	if err := store.Finish(ctx, records.Record{SourcePath: path, Population: records.PopulationArchive, Status: records.StatusFailed, Attempts: 1}); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	rec, _ = store.Get(ctx, path, records.PopulationArchive)
	if rec.Attempts != 3 {
		t.Fatalf("expected 3 attempts in total, got %d", rec.Attempts)
	}
}

func TestFinishRejectsPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	err := store.Finish(context.Background(), records.Record{SourcePath: "/x.jpg", Population: records.PopulationArchive, Status: records.StatusPending})
	if err == nil {
		t.Fatal("expected error for non-terminal finish")
	}
}

func TestUpsertIsIdempotentPerPathAndPopulation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	path := "/photos/archive/2019/img.jpg"

	for i := 0; i < 3; i++ {
		if err := store.MarkPending(ctx, path, records.PopulationArchive, 10, "", ""); err != nil {
			t.Fatalf("MarkPending: %v", err)
		}
		if err := store.Finish(ctx, records.Record{SourcePath: path, Population: records.PopulationArchive, Status: records.StatusFailed, FailureReason: "decode"}); err != nil {
			t.Fatalf("Finish: %v", err)
		}
	}
	list, err := store.List(ctx, records.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(list))
	}
	if list[0].Attempts != 3 {
		t.Fatalf("expected attempts to accumulate, got %d", list[0].Attempts)
	}

	// Same path under the other population is a separate row.
	if err := store.MarkPending(ctx, path, records.PopulationIncoming, 10, "", ""); err != nil {
		t.Fatalf("MarkPending: %v", err)
	}
	list, _ = store.List(ctx, records.Filter{})
	if len(list) != 2 {
		t.Fatalf("expected two rows, got %d", len(list))
	}
}

func TestPathKeyNormalizesUnicode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	nfd := "/photos/incoming/Cafe\u0301.jpg"
	nfc := "/photos/incoming/Caf\u00e9.jpg"
	if records.PathKey(nfd) != records.PathKey(nfc) {
		t.Fatalf("expected NFC and NFD keys to match")
	}
	if err := store.Finish(ctx, records.Record{SourcePath: nfd, Population: records.PopulationIncoming, Status: records.StatusSuccess}); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	processed, err := store.IsProcessed(ctx, nfc)
	if err != nil || !processed {
		t.Fatalf("expected composed form to be processed: %v %v", processed, err)
	}
	keys, err := store.ProcessedKeys(ctx, "")
	if err != nil {
		t.Fatalf("ProcessedKeys: %v", err)
	}
	if _, ok := keys[records.PathKey(nfc)]; !ok {
		t.Fatalf("expected key in %v", keys)
	}
}

func TestEligibleForCleanup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	write := func(path string, status records.Status, moved bool, at time.Time, pop records.Population) {
		t.Helper()
		if err := store.Upsert(ctx, records.Record{SourcePath: path, Population: pop, Status: status, MovedToProcessed: moved, UpdatedAt: at}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	write("/a/old.jpg", records.StatusSuccess, true, base.AddDate(0, 0, -40), records.PopulationArchive)
	write("/a/older.jpg", records.StatusSuccess, true, base.AddDate(0, 0, -60), records.PopulationArchive)
	write("/a/recent.jpg", records.StatusSuccess, true, base.AddDate(0, 0, -5), records.PopulationArchive)
	write("/a/not-moved.jpg", records.StatusSuccess, false, base.AddDate(0, 0, -40), records.PopulationArchive)
	write("/a/failed.jpg", records.StatusFailed, false, base.AddDate(0, 0, -40), records.PopulationArchive)
	write("/i/old.jpg", records.StatusSuccess, true, base.AddDate(0, 0, -40), records.PopulationIncoming)

	eligible, err := store.EligibleForCleanup(ctx, base.AddDate(0, 0, -30), records.PopulationArchive)
	if err != nil {
		t.Fatalf("EligibleForCleanup: %v", err)
	}
	if len(eligible) != 2 {
		t.Fatalf("expected 2 eligible, got %d: %+v", len(eligible), eligible)
	}
	if eligible[0].SourcePath != "/a/older.jpg" || eligible[1].SourcePath != "/a/old.jpg" {
		t.Fatalf("expected oldest first, got %s then %s", eligible[0].SourcePath, eligible[1].SourcePath)
	}
	list, _ := store.List(ctx, records.Filter{})
	if len(list) != 6 {
		t.Fatalf("cleanup query must not delete, have %d rows", len(list))
	}
}

func TestStatsAndErrorSummary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	finish := func(path string, status records.Status, reason string, dur time.Duration) {
		t.Helper()
		if err := store.Finish(ctx, records.Record{
			SourcePath: path, Population: records.PopulationIncoming, Status: status,
			FailureReason: reason, OriginalSize: 100, OutputSize: 150, Duration: dur,
		}); err != nil {
			t.Fatalf("Finish: %v", err)
		}
	}
	finish("/i/1.jpg", records.StatusSuccess, "", time.Second)
	finish("/i/2.jpg", records.StatusSuccess, "", 3*time.Second)
	finish("/i/3.jpg", records.StatusFailed, "decode", 0)
	finish("/i/4.jpg", records.StatusFailed, "decode", 0)
	finish("/i/5.jpg", records.StatusSkipped, "source_missing", 0)

	stats, err := store.Stats(ctx, records.PopulationIncoming, time.Time{})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 5 || stats.Success != 2 || stats.Failed != 2 || stats.Skipped != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.AverageDuration != 2*time.Second {
		t.Fatalf("unexpected average %v", stats.AverageDuration)
	}
	if stats.OutputBytes != 300 {
		t.Fatalf("unexpected output bytes %d", stats.OutputBytes)
	}
	if rate := stats.SuccessRate(); rate != 40 {
		t.Fatalf("unexpected success rate %v", rate)
	}

	summary, err := store.ErrorSummary(ctx, time.Time{})
	if err != nil {
		t.Fatalf("ErrorSummary: %v", err)
	}
	if len(summary) != 2 || summary[0].Reason != "decode" || summary[0].Count != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestTickHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if last, err := store.LastTick(ctx); err != nil || last != nil {
		t.Fatalf("expected no ticks yet: %v %v", last, err)
	}
	start := time.Date(2026, 5, 1, 23, 0, 0, 0, time.UTC)
	for i, phase := range []string{"idle", "archive_processing"} {
		tick := records.TickRecord{
			RunID:      phase,
			StartedAt:  start.Add(time.Duration(i) * time.Hour),
			FinishedAt: start.Add(time.Duration(i)*time.Hour + 5*time.Minute),
			Phase:      phase,
		}
		if phase == "archive_processing" {
			tick.Population = records.PopulationArchive
			tick.Success = 4
			tick.StoppedEarly = true
		} else {
			tick.SkipReason = "sync_window"
		}
		if err := store.RecordTick(ctx, tick); err != nil {
			t.Fatalf("RecordTick: %v", err)
		}
	}
	last, err := store.LastTick(ctx)
	if err != nil || last == nil {
		t.Fatalf("LastTick: %v %v", last, err)
	}
	if last.Phase != "archive_processing" || last.Success != 4 || !last.StoppedEarly || last.Duration() != 5*time.Minute {
		t.Fatalf("unexpected last tick %+v", last)
	}
	if err := store.RecordTick(ctx, records.TickRecord{}); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestRecordCleanup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	id, err := store.RecordCleanup(ctx, records.CleanupRecord{Population: records.PopulationArchive, ManifestPath: "/tmp/m.csv", FilesDeleted: 3, BytesFreed: 4096})
	if err != nil || id == 0 {
		t.Fatalf("RecordCleanup: %v %d", err, id)
	}
	cleanups, err := store.ListCleanups(ctx)
	if err != nil || len(cleanups) != 1 || cleanups[0].BytesFreed != 4096 {
		t.Fatalf("unexpected cleanups %+v %v", cleanups, err)
	}
	if _, err := store.RecordCleanup(ctx, records.CleanupRecord{Population: "nope"}); err == nil {
		t.Fatal("expected invalid population error")
	}
}

func TestConcurrentWritersDoNotLoseRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := filepath.Join("/photos", "incoming", string(rune('a'+i))+".jpg")
			if err := store.MarkPending(ctx, path, records.PopulationIncoming, 1, "", ""); err != nil {
				errs <- err
				return
			}
			errs <- store.Finish(ctx, records.Record{SourcePath: path, Population: records.PopulationIncoming, Status: records.StatusSuccess})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent write failed: %v", err)
		}
	}
	keys, err := store.ProcessedKeys(ctx, records.PopulationIncoming)
	if err != nil || len(keys) != 20 {
		t.Fatalf("expected 20 processed keys, got %d (%v)", len(keys), err)
	}
}

func TestSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if _, err := store.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if err := records.ForceSchemaVersionForTest(store, 99); err != nil {
		t.Fatalf("force version: %v", err)
	}
	_ = store.Close()

	_, err := records.Open(cfg)
	if !errors.Is(err, records.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestOpenRejectsForeignDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.db")
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE inventory (sku TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	_ = db.Close()

	_, err = records.OpenPath(path)
	if !errors.Is(err, records.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch for foreign database, got %v", err)
	}
}
