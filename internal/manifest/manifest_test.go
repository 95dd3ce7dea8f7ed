package manifest_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"photoner/internal/manifest"
	"photoner/internal/records"
	"photoner/internal/testsupport"
)

func TestBuildListsOnlyAgedRelocatedOriginals(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	root := cfg.Populations.Incoming.Root

	processed := func(name string) string {
		p := filepath.Join(root, "_processed", name)
		testsupport.WriteFile(t, p, 2048)
		return p
	}
	upsert := func(name string, moved bool, processedPath string, updated time.Time, status records.Status) {
		t.Helper()
		err := store.Upsert(ctx, records.Record{
			SourcePath:       filepath.Join(root, name),
			Population:       records.PopulationIncoming,
			Status:           status,
			OutputPath:       filepath.Join(cfg.Paths.EnhancedDir, "incoming", name),
			MovedToProcessed: moved,
			ProcessedPath:    processedPath,
			UpdatedAt:        updated,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	old := now.AddDate(0, 0, -45)
	upsert("old.jpg", true, processed("old.jpg"), old, records.StatusSuccess)
	upsert("recent.jpg", true, processed("recent.jpg"), now.AddDate(0, 0, -2), records.StatusSuccess)
	upsert("inplace.jpg", false, "", old, records.StatusSuccess)
	upsert("gone.jpg", true, filepath.Join(root, "_processed", "gone.jpg"), old, records.StatusSuccess)

	m, err := manifest.Build(ctx, store, records.PopulationIncoming, 30, now)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(m.Entries) != 1 || filepath.Base(m.Entries[0].Path) != "old.jpg" {
		t.Fatalf("expected only old.jpg, got %+v", m.Entries)
	}
	if m.Missing != 1 || m.TotalBytes != 2048 {
		t.Fatalf("unexpected totals missing=%d bytes=%d", m.Missing, m.TotalBytes)
	}

	path, err := manifest.Write(cfg.ReportsDir(), m)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasSuffix(path, "cleanup_manifest_incoming_2024-06-30_120000.txt") {
		t.Fatalf("unexpected manifest name %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Total size: 2.0 KiB") {
		t.Fatalf("manifest header missing size:\n%s", data)
	}

	rec, err := manifest.Reconcile(path)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rec.Deleted != 0 || len(rec.Remaining) != 1 {
		t.Fatalf("nothing deleted yet, got %+v", rec)
	}
	if err := os.Remove(m.Entries[0].Path); err != nil {
		t.Fatal(err)
	}
	rec, err = manifest.Reconcile(path)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Deleted != 1 || rec.BytesFreed != 2048 || len(rec.Remaining) != 0 {
		t.Fatalf("expected one deletion, got %+v", rec)
	}
}

func TestBuildRejectsUnknownPopulation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if _, err := manifest.Build(context.Background(), store, "holiday", 30, time.Now()); err == nil {
		t.Fatal("expected error for unknown population")
	}
}

func TestParseRejectsForeignFiles(t *testing.T) {
	if _, err := manifest.Parse(strings.NewReader("just\ttext\there\n")); err == nil {
		t.Fatal("expected error without separator")
	}
}

func TestExportCSV(t *testing.T) {
	recs := []records.Record{{
		SourcePath:    "/photos/incoming/a, b.jpg",
		Population:    records.PopulationIncoming,
		Status:        records.StatusFailed,
		FailureReason: "decode",
		Attempts:      2,
		Duration:      1500 * time.Millisecond,
		OriginalSize:  10,
		UpdatedAt:     time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}}
	var buf bytes.Buffer
	if err := manifest.ExportCSV(&buf, recs); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(rows))
	}
	row := rows[1]
	if row[2] != "/photos/incoming/a, b.jpg" || row[4] != "failed" || row[5] != "decode" || row[7] != "1.50" {
		t.Fatalf("unexpected row %q", row)
	}

	path, err := manifest.WriteCSV(t.TempDir(), recs, recs[0].UpdatedAt)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "processing_2024-06-01.csv" {
		t.Fatalf("unexpected export name %s", path)
	}
}
