// Package snapshot persists and restores a routing table as JSON, in the
// teacher's marshal/unmarshal-to-disk idiom (internal/config.Save in the
// teacher). The on-disk layout — ./json-memory/routing-table-<id>.json —
// is recovered from original_source/router.py's
// initialise_routing_table.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/dpeckett/ripd/internal/rib"
)

// Entry is the JSON shape of one routing-table row.
type Entry struct {
	FirstHop    int     `json:"first_hop"`
	Cost        int     `json:"cost"`
	LearnedFrom int     `json:"learned_from"`
	Timer       float64 `json:"time"`
}

// Table is the JSON shape of an entire persisted routing table, keyed by
// destination router id (as a string, since JSON object keys must be
// strings).
type Table map[string]Entry

// Dir is the directory snapshots are written to, relative to the working
// directory the daemon was started in.
const Dir = "json-memory"

// Path returns the snapshot path for routerID.
func Path(routerID int) string {
	return filepath.Join(Dir, fmt.Sprintf("routing-table-%d.json", routerID))
}

// Save writes the routing table to its snapshot path. Best-effort: the
// protocol does not depend on this succeeding, but the caller still gets
// the error to log.
func Save(t *rib.Table, routerID int) (checksum uint64, err error) {
	out := make(Table, t.Len())
	t.Iter(func(dest int, r rib.RouteInfo) {
		out[fmt.Sprint(dest)] = Entry{
			FirstHop:    r.FirstHop,
			Cost:        r.Cost,
			LearnedFrom: r.LearnedFrom,
			Timer:       r.Timer,
		}
	})

	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(Dir, 0o755); err != nil {
		return 0, fmt.Errorf("create snapshot directory: %w", err)
	}

	if err := os.WriteFile(Path(routerID), data, 0o644); err != nil {
		return 0, fmt.Errorf("write snapshot: %w", err)
	}

	return xxhash.Sum64(data), nil
}

// Load reads a previously persisted table and applies it to t, used only
// when the daemon is started with `load`. Each restored entry keeps the
// timer it was saved with; only its LastUpdated is set to the load time.
func Load(t *rib.Table, routerID int) error {
	data, err := os.ReadFile(Path(routerID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var in Table
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}

	now := time.Now()
	for destStr, e := range in {
		var dest int
		if _, err := fmt.Sscanf(destStr, "%d", &dest); err != nil {
			continue
		}
		firstHop, cost, timer, learnedFrom := e.FirstHop, e.Cost, e.Timer, e.LearnedFrom
		_ = t.Upsert(dest, rib.Upsert{
			FirstHop:    &firstHop,
			Cost:        &cost,
			Timer:       &timer,
			LearnedFrom: &learnedFrom,
		}, now)
	}

	return nil
}
