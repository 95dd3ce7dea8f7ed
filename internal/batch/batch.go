// Package batch turns discovery candidates into an ordered, bounded WorkUnit.
package batch

import (
	"slices"
	"strings"
	"time"

	"photoner/internal/discovery"
	"photoner/internal/records"
)

// Order is the drain order applied to a population.
type Order string

const (
	// OldestFirst drains a backlog chronologically.
	OldestFirst Order = "oldest_first"
	// NewestFirst surfaces fresh arrivals before older stragglers.
	NewestFirst Order = "newest_first"
)

// OrderFor returns the ordering policy of population.
func OrderFor(population records.Population) Order {
	if population == records.PopulationArchive {
		return OldestFirst
	}
	return NewestFirst
}

// Budget bounds the resources one WorkUnit may consume.
type Budget struct {
	Threads    int
	TimeBudget time.Duration
}

// WorkUnit is an ordered slice of candidates from a single population.
type WorkUnit struct {
	Population records.Population
	Order      Order
	Items      []discovery.Candidate
	Budget     Budget
	// Available is the number of candidates before truncation.
	Available int
}

// Len returns the number of items in the unit.
func (w WorkUnit) Len() int { return len(w.Items) }

// Empty reports whether the unit has nothing to process.
func (w WorkUnit) Empty() bool { return len(w.Items) == 0 }

// WithBudget returns a copy of w carrying budget.
func (w WorkUnit) WithBudget(budget Budget) WorkUnit {
	w.Budget = budget
	return w
}

// Build orders candidates by the population's policy and keeps at most
// maxSize of them. Candidates from other populations are ignored. Equal
// modification times fall back to lexicographic path order so the result is
// deterministic for a given input. The input slice is not modified.
func Build(candidates []discovery.Candidate, population records.Population, maxSize int) WorkUnit {
	unit := WorkUnit{Population: population, Order: OrderFor(population)}
	if maxSize <= 0 || len(candidates) == 0 {
		return unit
	}

	items := make([]discovery.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Population != "" && c.Population != population {
			continue
		}
		items = append(items, c)
	}
	unit.Available = len(items)

	newestFirst := unit.Order == NewestFirst
	slices.SortStableFunc(items, func(a, b discovery.Candidate) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			if newestFirst {
				return -c
			}
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})

	if len(items) > maxSize {
		items = items[:maxSize:maxSize]
	}
	unit.Items = items
	return unit
}
