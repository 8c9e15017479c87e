// Package rib is the routing table: the mapping from destination router id
// to route_info. It has exactly one logical writer — the protocol engine —
// and is not safe for concurrent mutation from multiple goroutines; callers
// must funnel all writes through a single owner, per the protocol's
// single-owner concurrency model.
package rib

import "time"

// Infinity is the reachability ceiling: both the largest representable cost
// and the sentinel for "unreachable".
const Infinity = 16

// RouteInfo is the per-destination state held by the routing table.
//
// Invariants (hold between engine events, never mid-mutation):
//  1. cost is in [0, 16].
//  2. cost == 16 iff the entry is in holddown, awaiting garbage collection.
//  3. timer is the elapsed seconds since the last evidence the route is
//     still valid; its accuracy depends on how the caller advances it (the
//     engine's periodic tick does so via Upsert) — fast ingress resets it to zero independently
//     of the periodic tick that ages it, so under very fast ingress the
//     apparent age can under-count true staleness. This is documented,
//     inherited behavior, not a bug to fix.
type RouteInfo struct {
	FirstHop int
	Cost     int
	Timer    float64

	// LearnedFrom is the neighbour id that most recently supplied this
	// entry's FirstHop/Cost pair. It usually equals FirstHop, but is kept
	// distinct for poisoned-reverse clarity and snapshot readability (see
	// SPEC_FULL.md §3).
	LearnedFrom int
	// LastUpdated is the wall-clock time of the last Upsert, for
	// diagnostics only — never consulted by protocol logic and not written
	// to snapshots.
	LastUpdated time.Time
}

// Table is the destination → RouteInfo map owned by the protocol engine.
type Table struct {
	routes map[int]RouteInfo
}

// New returns an empty routing table.
func New() *Table {
	return &Table{routes: make(map[int]RouteInfo)}
}

// Get returns the entry for dest, if present.
func (t *Table) Get(dest int) (RouteInfo, bool) {
	r, ok := t.routes[dest]
	return r, ok
}

// Has reports whether dest has an entry.
func (t *Table) Has(dest int) bool {
	_, ok := t.routes[dest]
	return ok
}

// Delete removes the entry for dest, if any.
func (t *Table) Delete(dest int) {
	delete(t.routes, dest)
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.routes)
}

// Iter calls fn once per (destination, entry) pair. fn may Upsert an
// existing entry (the engine's timer advance does), but must not add or
// Delete entries; collect those and apply them after Iter returns.
func (t *Table) Iter(fn func(dest int, r RouteInfo)) {
	for dest, r := range t.routes {
		fn(dest, r)
	}
}

// Destinations returns every destination currently in the table.
func (t *Table) Destinations() []int {
	dests := make([]int, 0, len(t.routes))
	for dest := range t.routes {
		dests = append(dests, dest)
	}
	return dests
}

// Upsert fields, used to distinguish "leave unchanged" from "set to zero
// value" in Table.Upsert.
type Upsert struct {
	FirstHop    *int
	Cost        *int
	Timer       *float64
	LearnedFrom *int
}

// Upsert creates dest's entry if absent — all of FirstHop, Cost and Timer
// are then required, else *rib.Error{Kind: KindUndefinedNewEntry} — or
// updates only the named fields of an existing entry.
func (t *Table) Upsert(dest int, u Upsert, now time.Time) error {
	existing, ok := t.routes[dest]
	if !ok {
		if u.FirstHop == nil || u.Cost == nil || u.Timer == nil {
			return &Error{Kind: KindUndefinedNewEntry, Destination: dest}
		}
		r := RouteInfo{
			FirstHop:    *u.FirstHop,
			Cost:        *u.Cost,
			Timer:       *u.Timer,
			LearnedFrom: *u.FirstHop,
			LastUpdated: now,
		}
		if u.LearnedFrom != nil {
			r.LearnedFrom = *u.LearnedFrom
		}
		t.routes[dest] = r
		return nil
	}

	if u.FirstHop != nil {
		existing.FirstHop = *u.FirstHop
	}
	if u.Cost != nil {
		existing.Cost = *u.Cost
	}
	if u.Timer != nil {
		existing.Timer = *u.Timer
	}
	if u.LearnedFrom != nil {
		existing.LearnedFrom = *u.LearnedFrom
	}
	existing.LastUpdated = now
	t.routes[dest] = existing
	return nil
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// Direct inserts or refreshes a directly-configured neighbour route:
// first_hop == dest, cost == link cost, timer reset to zero.
func (t *Table) Direct(dest, linkCost int, now time.Time) {
	_ = t.Upsert(dest, Upsert{
		FirstHop:    intPtr(dest),
		Cost:        intPtr(linkCost),
		Timer:       floatPtr(0),
		LearnedFrom: intPtr(dest),
	}, now)
}
