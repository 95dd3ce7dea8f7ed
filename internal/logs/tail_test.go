package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"photoner/internal/logs"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func TestTailLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photoner-20260101.log")
	writeLog(t, path, "a\nb\nc\n")

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if strings.Join(result.Lines, ",") != "b,c" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.Offset != 6 {
		t.Fatalf("expected offset at end of file, got %d", result.Offset)
	}
}

func TestTailFromOffsetSkipsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photoner-20260101.log")
	writeLog(t, path, "one\ntwo\nthr")

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: 4})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "two" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.Offset != 8 {
		t.Fatalf("expected offset after last complete line, got %d", result.Offset)
	}
}

func TestTailMissingFile(t *testing.T) {
	result, err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "none.log"), logs.TailOptions{Offset: -1, Limit: 5})
	if err != nil {
		t.Fatalf("tail missing file: %v", err)
	}
	if len(result.Lines) != 0 || result.Offset != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestTailFollowWaits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photoner-20260101.log")
	writeLog(t, path, "start\n")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	first, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: 1})
	if err != nil || len(first.Lines) != 1 {
		t.Fatalf("initial tail: %+v %v", first, err)
	}

	type outcome struct {
		res logs.TailResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := logs.Tail(ctx, path, logs.TailOptions{Offset: first.Offset, Follow: true, Wait: 5 * time.Second})
		done <- outcome{res, err}
	}()

	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("later\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	_ = f.Close()

	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("follow tail error: %v", got.err)
		}
		if len(got.res.Lines) != 1 || got.res.Lines[0] != "later" {
			t.Fatalf("unexpected follow lines: %#v", got.res.Lines)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("tail follow did not return")
	}
}

func TestLatestPicksNewestDailyFile(t *testing.T) {
	dir := t.TempDir()
	if got, err := logs.Latest(dir); err != nil || got != "" {
		t.Fatalf("expected no log file, got %q %v", got, err)
	}
	writeLog(t, filepath.Join(dir, "photoner-20260101.log"), "")
	writeLog(t, filepath.Join(dir, "photoner-20260103.log"), "")
	writeLog(t, filepath.Join(dir, "photoner-20260102.log"), "")
	writeLog(t, filepath.Join(dir, "other.log"), "")

	got, err := logs.Latest(dir)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if filepath.Base(got) != "photoner-20260103.log" {
		t.Fatalf("unexpected latest file %q", got)
	}
}

func TestFilterApply(t *testing.T) {
	lines := []string{
		`{"level":"info","msg":"tick started","run_id":"r1","event_type":"tick_started"}`,
		`{"level":"warn","msg":"slow","run_id":"r1","event_type":"item_slow"}`,
		`{"level":"error","msg":"boom","run_id":"r2","event_type":"item_failed"}`,
		`not json`,
	}

	if got := (logs.Filter{}).Apply(lines); len(got) != 4 {
		t.Fatalf("empty filter should pass everything, got %d", len(got))
	}
	if got := (logs.Filter{RunID: "r1"}).Apply(lines); len(got) != 2 {
		t.Fatalf("run filter: %#v", got)
	}
	if got := (logs.Filter{MinLevel: "warn"}).Apply(lines); len(got) != 2 {
		t.Fatalf("level filter: %#v", got)
	}
	got := (logs.Filter{RunID: "r1", MinLevel: "warn", EventType: "item_slow"}).Apply(lines)
	if len(got) != 1 || !strings.Contains(got[0], "slow") {
		t.Fatalf("combined filter: %#v", got)
	}
}
