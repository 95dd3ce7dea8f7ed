package batch_test

import (
	"testing"
	"time"

	"photoner/internal/batch"
	"photoner/internal/discovery"
	"photoner/internal/records"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func cand(path string, offset time.Duration, pop records.Population) discovery.Candidate {
	return discovery.Candidate{Path: path, ModTime: base.Add(offset), Population: pop, Size: 1}
}

func paths(unit batch.WorkUnit) []string {
	out := make([]string, 0, unit.Len())
	for _, item := range unit.Items {
		out = append(out, item.Path)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBuildOrdersArchiveOldestFirst(t *testing.T) {
	in := []discovery.Candidate{
		cand("/a/3.jpg", 3*time.Hour, records.PopulationArchive),
		cand("/a/1.jpg", time.Hour, records.PopulationArchive),
		cand("/a/2b.jpg", 2*time.Hour, records.PopulationArchive),
		cand("/a/2a.jpg", 2*time.Hour, records.PopulationArchive),
	}
	unit := batch.Build(in, records.PopulationArchive, 10)
	want := []string{"/a/1.jpg", "/a/2a.jpg", "/a/2b.jpg", "/a/3.jpg"}
	if got := paths(unit); !equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if unit.Order != batch.OldestFirst || unit.Available != 4 {
		t.Fatalf("unexpected unit metadata %+v", unit)
	}
	if in[0].Path != "/a/3.jpg" {
		t.Fatal("input slice must not be reordered")
	}
}

func TestBuildOrdersIncomingNewestFirst(t *testing.T) {
	in := []discovery.Candidate{
		cand("/i/old.jpg", 0, records.PopulationIncoming),
		cand("/i/new-b.jpg", time.Hour, records.PopulationIncoming),
		cand("/i/new-a.jpg", time.Hour, records.PopulationIncoming),
	}
	unit := batch.Build(in, records.PopulationIncoming, 10)
	want := []string{"/i/new-a.jpg", "/i/new-b.jpg", "/i/old.jpg"}
	if got := paths(unit); !equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestBuildTruncatesAtMaxSize(t *testing.T) {
	var in []discovery.Candidate
	for i := range 5 {
		in = append(in, cand("/a/"+string(rune('a'+i))+".jpg", time.Duration(i)*time.Minute, records.PopulationArchive))
	}
	cases := []struct {
		name    string
		maxSize int
		want    int
	}{
		{"smaller than input", 3, 3},
		{"equal to input", 5, 5},
		{"larger than input", 10, 5},
		{"one", 1, 1},
		{"zero", 0, 0},
		{"negative", -1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			unit := batch.Build(in, records.PopulationArchive, tc.maxSize)
			if unit.Len() != tc.want {
				t.Fatalf("expected %d items, got %d", tc.want, unit.Len())
			}
			if tc.want > 0 && unit.Items[0].Path != "/a/a.jpg" {
				t.Fatalf("truncation must keep the head of the order, got %v", paths(unit))
			}
		})
	}
}

func TestBuildEmptyInput(t *testing.T) {
	unit := batch.Build(nil, records.PopulationIncoming, 50)
	if !unit.Empty() || unit.Population != records.PopulationIncoming {
		t.Fatalf("expected empty incoming unit, got %+v", unit)
	}
}

func TestBuildIgnoresOtherPopulations(t *testing.T) {
	in := []discovery.Candidate{
		cand("/a/1.jpg", 0, records.PopulationArchive),
		cand("/i/1.jpg", 0, records.PopulationIncoming),
	}
	unit := batch.Build(in, records.PopulationArchive, 10)
	if got := paths(unit); !equal(got, []string{"/a/1.jpg"}) {
		t.Fatalf("unexpected items %v", got)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	in := []discovery.Candidate{
		cand("/a/z.jpg", 0, records.PopulationArchive),
		cand("/a/y.jpg", 0, records.PopulationArchive),
		cand("/a/x.jpg", 0, records.PopulationArchive),
	}
	first := paths(batch.Build(in, records.PopulationArchive, 2))
	for range 10 {
		if got := paths(batch.Build(in, records.PopulationArchive, 2)); !equal(got, first) {
			t.Fatalf("non-deterministic order: %v vs %v", first, got)
		}
	}
	budget := batch.Budget{Threads: 2, TimeBudget: time.Minute}
	if got := batch.Build(in, records.PopulationArchive, 2).WithBudget(budget).Budget; got != budget {
		t.Fatalf("budget not attached: %+v", got)
	}
}
