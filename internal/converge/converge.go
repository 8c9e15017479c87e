// Package converge implements the convergence self-check: diffing the
// live routing table against an expected table loaded from JSON, the
// same shape internal/snapshot persists. Grounded on the pack's use of
// google/go-cmp for structural diffing of in-memory state against a
// golden fixture.
package converge

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/dpeckett/ripd/internal/metrics"
	"github.com/dpeckett/ripd/internal/rib"
	"github.com/dpeckett/ripd/internal/snapshot"
)

// Row is the comparable shape of one routing-table destination: only
// first_hop and cost are compared, since timer and learned_from are
// transient/ambient fields the protocol itself doesn't guarantee
// converge to a fixed value (spec.md §3's learned_from/last_updated
// fields are explicitly ambient-only).
type Row struct {
	Destination int
	FirstHop    int
	Cost        int
}

// Result is the outcome of one convergence check.
type Result struct {
	Converged bool
	Diff      string
}

// LoadExpected reads an expected-table JSON file (snapshot.Table shape)
// and returns it as a sorted slice of Row, ready for comparison.
func LoadExpected(path string) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read expected table: %w", err)
	}
	var in snapshot.Table
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("unmarshal expected table: %w", err)
	}
	rows := make([]Row, 0, len(in))
	for destStr, e := range in {
		var dest int
		if _, err := fmt.Sscanf(destStr, "%d", &dest); err != nil {
			continue
		}
		rows = append(rows, Row{Destination: dest, FirstHop: e.FirstHop, Cost: e.Cost})
	}
	sortRows(rows)
	return rows, nil
}

// Live converts a live routing table into the same comparable shape.
func Live(t *rib.Table) []Row {
	rows := make([]Row, 0, t.Len())
	t.Iter(func(dest int, r rib.RouteInfo) {
		rows = append(rows, Row{Destination: dest, FirstHop: r.FirstHop, Cost: r.Cost})
	})
	sortRows(rows)
	return rows
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Destination < rows[j].Destination })
}

// Check diffs live against expected and records the outcome to metrics.
func Check(live, expected []Row) Result {
	diff := cmp.Diff(expected, live, cmpopts.EquateEmpty())
	res := Result{Converged: diff == "", Diff: diff}
	if res.Converged {
		metrics.ConvergenceChecks.WithLabelValues("converged").Inc()
	} else {
		metrics.ConvergenceChecks.WithLabelValues("diverged").Inc()
	}
	return res
}
