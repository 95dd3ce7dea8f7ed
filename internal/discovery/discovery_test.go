package discovery_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"photoner/internal/discovery"
	"photoner/internal/failures"
	"photoner/internal/logging"
	"photoner/internal/records"
	"photoner/internal/testsupport"
)

func candidatePaths(cands []discovery.Candidate) []string {
	paths := make([]string, 0, len(cands))
	for _, c := range cands {
		paths = append(paths, c.Path)
	}
	sort.Strings(paths)
	return paths
}

func TestScanFiltersExtensionsAndPrunesProcessed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := cfg.Populations.Incoming.Root

	keep := []string{
		filepath.Join(root, "a.jpg"),
		filepath.Join(root, "2024", "B.JPEG"),
		filepath.Join(root, "2024", "summer", "c.png"),
	}
	for _, p := range keep {
		testsupport.WriteFile(t, p, 128)
	}
	testsupport.WriteFile(t, filepath.Join(root, "notes.txt"), 10)
	testsupport.WriteFile(t, filepath.Join(root, "processed", "old.jpg"), 10)
	testsupport.WriteFile(t, filepath.Join(root, "2024", "processed", "older.jpg"), 10)
	testsupport.WriteFile(t, filepath.Join(root, "2024", ".x.jpg.photoner-tmp-1"), 10)

	result, err := discovery.NewScanner(cfg, logging.NewNop()).Scan(context.Background(), root, records.PopulationIncoming)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := candidatePaths(result.Candidates)
	sort.Strings(keep)
	if len(got) != len(keep) {
		t.Fatalf("expected %v, got %v", keep, got)
	}
	for i := range keep {
		if got[i] != keep[i] {
			t.Fatalf("expected %v, got %v", keep, got)
		}
	}
	for _, c := range result.Candidates {
		if c.Population != records.PopulationIncoming || c.Size != 128 || c.ModTime.IsZero() {
			t.Fatalf("unexpected candidate metadata %+v", c)
		}
	}
	if len(result.Anomalies) != 0 {
		t.Fatalf("unexpected anomalies %+v", result.Anomalies)
	}
}

func TestScanPrunesNestedEnhancedRoot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := cfg.Populations.Archive.Root
	cfg.Paths.EnhancedDir = filepath.Join(root, "enhanced")

	testsupport.WriteFile(t, filepath.Join(root, "keep.jpg"), 10)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.EnhancedDir, "archive", "keep_enhanced.jpg"), 10)

	result, err := discovery.NewScanner(cfg, logging.NewNop()).Scan(context.Background(), root, records.PopulationArchive)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := candidatePaths(result.Candidates); len(got) != 1 || got[0] != filepath.Join(root, "keep.jpg") {
		t.Fatalf("unexpected candidates %v", got)
	}
}

func TestScanReportsEmptyFilesAsAnomalies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := cfg.Populations.Incoming.Root
	testsupport.WriteFile(t, filepath.Join(root, "empty.jpg"), 0)
	testsupport.WriteFile(t, filepath.Join(root, "full.jpg"), 5)

	result, err := discovery.NewScanner(cfg, logging.NewNop()).Scan(context.Background(), root, records.PopulationIncoming)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(result.Candidates))
	}
	if len(result.Anomalies) != 1 || result.Anomalies[0].Kind != discovery.AnomalyEmptyFile {
		t.Fatalf("expected one empty-file anomaly, got %+v", result.Anomalies)
	}
}

func TestScanSkipsUnreadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	cfg := testsupport.NewConfig(t)
	root := cfg.Populations.Incoming.Root
	locked := filepath.Join(root, "locked")
	testsupport.WriteFile(t, filepath.Join(locked, "hidden.jpg"), 5)
	testsupport.WriteFile(t, filepath.Join(root, "visible.jpg"), 5)
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	result, err := discovery.NewScanner(cfg, logging.NewNop()).Scan(context.Background(), root, records.PopulationIncoming)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("expected only visible file, got %v", candidatePaths(result.Candidates))
	}
	if len(result.Anomalies) != 1 || result.Anomalies[0].Kind != discovery.AnomalyUnreadableDir {
		t.Fatalf("expected unreadable dir anomaly, got %+v", result.Anomalies)
	}
}

func TestScanMissingRootIsDiscoveryError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := discovery.NewScanner(cfg, logging.NewNop()).Scan(context.Background(), filepath.Join(testsupport.BaseDir(cfg), "gone"), records.PopulationArchive)
	if !errors.Is(err, failures.ErrDiscovery) {
		t.Fatalf("expected ErrDiscovery, got %v", err)
	}
}

func TestDiscoverExcludesProcessedFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	root := cfg.Populations.Incoming.Root

	done := filepath.Join(root, "done.jpg")
	failed := filepath.Join(root, "failed.jpg")
	pending := filepath.Join(root, "pending.jpg")
	fresh := filepath.Join(root, "fresh.jpg")
	for _, p := range []string{done, failed, pending, fresh} {
		testsupport.WriteFile(t, p, 16)
	}
	for path, status := range map[string]records.Status{
		done:    records.StatusSuccess,
		failed:  records.StatusFailed,
		pending: records.StatusPending,
	} {
		if err := store.Upsert(ctx, records.Record{SourcePath: path, Population: records.PopulationIncoming, Status: status}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	result, err := discovery.Discover(ctx, cfg, store, records.PopulationIncoming, logging.NewNop())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	got := candidatePaths(result.Candidates)
	want := []string{failed, fresh, pending}
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	depths, err := discovery.Depths(ctx, cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("Depths: %v", err)
	}
	if depths[records.PopulationIncoming] != 3 || depths[records.PopulationArchive] != 0 {
		t.Fatalf("unexpected depths %v", depths)
	}
}

func TestExcludeProcessedMatchesAcrossPopulations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	path := filepath.Join(cfg.Populations.Archive.Root, "shared.jpg")

	if err := store.Upsert(ctx, records.Record{SourcePath: path, Population: records.PopulationIncoming, Status: records.StatusSuccess}); err != nil {
		t.Fatal(err)
	}
	remaining, err := discovery.ExcludeProcessed(ctx, store, []discovery.Candidate{{Path: path, Population: records.PopulationArchive}})
	if err != nil {
		t.Fatalf("ExcludeProcessed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("success in any population should exclude the file, got %+v", remaining)
	}
}
