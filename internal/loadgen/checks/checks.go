// Package checks counts named pass/fail assertions made by iterations.
package checks

import (
	"sort"
	"sync"
)

// Counts holds the pass and fail totals of a single named check.
type Counts struct {
	Passes int64 `json:"passes"`
	Fails  int64 `json:"fails"`
}

// Total returns the number of times the check was evaluated.
func (c Counts) Total() int64 {
	return c.Passes + c.Fails
}

// Result is the tally of one check, as reported in a summary.
type Result struct {
	Name string `json:"name"`
	Counts
}

// Tally accumulates check outcomes keyed by name.
//
// A failing check is data, not a fault: Check never returns an error and
// never panics. Tally is safe for concurrent use, but in the hot path each
// virtual user owns its own Tally and shards are merged at run end.
type Tally struct {
	mu     sync.Mutex
	counts map[string]*Counts
}

// NewTally creates an empty tally.
func NewTally() *Tally {
	return &Tally{counts: make(map[string]*Counts)}
}

// Check records the outcome of the check called name and returns ok, so
// callers can branch on it inline.
func (t *Tally) Check(name string, ok bool) bool {
	t.mu.Lock()
	c, exists := t.counts[name]
	if !exists {
		c = &Counts{}
		t.counts[name] = c
	}
	if ok {
		c.Passes++
	} else {
		c.Fails++
	}
	t.mu.Unlock()
	return ok
}

// Get returns the counts for a single check.
func (t *Tally) Get(name string) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counts[name]; ok {
		return *c
	}
	return Counts{}
}

// Merge adds every count of other into t.
func (t *Tally) Merge(other *Tally) {
	if other == nil || other == t {
		return
	}

	other.mu.Lock()
	snapshot := make(map[string]Counts, len(other.counts))
	for name, c := range other.counts {
		snapshot[name] = *c
	}
	other.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	for name, c := range snapshot {
		dst, exists := t.counts[name]
		if !exists {
			dst = &Counts{}
			t.counts[name] = dst
		}
		dst.Passes += c.Passes
		dst.Fails += c.Fails
	}
}

// Results returns all checks sorted by name.
func (t *Tally) Results() []Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	results := make([]Result, 0, len(t.counts))
	for name, c := range t.counts {
		results = append(results, Result{Name: name, Counts: *c})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})
	return results
}

// Totals returns the pass and fail counts summed over all checks.
func (t *Tally) Totals() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total Counts
	for _, c := range t.counts {
		total.Passes += c.Passes
		total.Fails += c.Fails
	}
	return total
}

// Rate returns the fraction of passing evaluations over all checks, or 0
// when nothing was checked.
func (t *Tally) Rate() float64 {
	total := t.Totals()
	if total.Total() == 0 {
		return 0
	}
	return float64(total.Passes) / float64(total.Total())
}
