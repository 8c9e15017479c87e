package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpeckett/ripd/internal/config"
	"github.com/dpeckett/ripd/internal/logger"
	"github.com/dpeckett/ripd/internal/rib"
	"github.com/dpeckett/ripd/internal/wire"
)

func testConfig() *config.Config {
	return &config.Config{
		RouterID: 1,
		Neighbours: map[int]config.Neighbour{
			2: {RouterID: 2, Port: 6002, LinkCost: 1},
			3: {RouterID: 3, Port: 6003, LinkCost: 4},
		},
		UpdatePeriod:   5 * time.Second,
		TimeoutLength:  30 * time.Second,
		DeletionLength: 20 * time.Second,
	}
}

func newTestEngine(clock clockwork.Clock) *Engine {
	return New(testConfig(), logger.New("error"), WithClock(clock), WithJitter(func() time.Duration { return 0 }))
}

func TestNewPrepopulatesDirectNeighbourRoutes(t *testing.T) {
	e := newTestEngine(clockwork.NewFakeClock())

	r2, ok := e.table.Get(2)
	require.True(t, ok)
	assert.Equal(t, 2, r2.FirstHop)
	assert.Equal(t, 1, r2.Cost)

	r3, ok := e.table.Get(3)
	require.True(t, ok)
	assert.Equal(t, 4, r3.Cost)
}

func TestHandleIngressLearnsNewRoute(t *testing.T) {
	e := newTestEngine(clockwork.NewFakeClock())

	e.handleIngress(Ingress{Packet: &wire.Packet{
		FromRouterID: 2,
		Entries:      []wire.Entry{{RouterID: 4, Cost: 2}},
	}})

	r, ok := e.table.Get(4)
	require.True(t, ok)
	assert.Equal(t, 2, r.FirstHop)
	assert.Equal(t, 3, r.Cost) // link cost 1 + advertised 2
	assert.Equal(t, 0.0, r.Timer)
}

func TestHandleIngressIgnoresUnreachableNewDestination(t *testing.T) {
	e := newTestEngine(clockwork.NewFakeClock())

	e.handleIngress(Ingress{Packet: &wire.Packet{
		FromRouterID: 2,
		Entries:      []wire.Entry{{RouterID: 4, Cost: wire.Infinity}},
	}})

	assert.False(t, e.table.Has(4))
}

func TestHandleIngressPrefersCheaperAlternateFirstHop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := newTestEngine(clock)

	// Router 3 (link cost 4) first advertises a route to 9 at cost 1: 4+1=5.
	e.handleIngress(Ingress{Packet: &wire.Packet{
		FromRouterID: 3,
		Entries:      []wire.Entry{{RouterID: 9, Cost: 1}},
	}})
	r, _ := e.table.Get(9)
	assert.Equal(t, 5, r.Cost)
	assert.Equal(t, 3, r.FirstHop)

	// Router 2 (link cost 1) then advertises the same destination at cost 1: 1+1=2, cheaper.
	e.handleIngress(Ingress{Packet: &wire.Packet{
		FromRouterID: 2,
		Entries:      []wire.Entry{{RouterID: 9, Cost: 1}},
	}})
	r, _ = e.table.Get(9)
	assert.Equal(t, 2, r.Cost)
	assert.Equal(t, 2, r.FirstHop)
}

func TestHandleIngressIgnoresWorseAlternateFirstHop(t *testing.T) {
	e := newTestEngine(clockwork.NewFakeClock())

	e.handleIngress(Ingress{Packet: &wire.Packet{
		FromRouterID: 2,
		Entries:      []wire.Entry{{RouterID: 9, Cost: 1}},
	}})
	r, _ := e.table.Get(9)
	assert.Equal(t, 2, r.Cost)

	// Router 3's path is worse (4+1=5) and not the current first hop: ignored.
	e.handleIngress(Ingress{Packet: &wire.Packet{
		FromRouterID: 3,
		Entries:      []wire.Entry{{RouterID: 9, Cost: 1}},
	}})
	r, _ = e.table.Get(9)
	assert.Equal(t, 2, r.Cost)
	assert.Equal(t, 2, r.FirstHop)
}

func TestHandleIngressPoisonsRouteFromCurrentFirstHop(t *testing.T) {
	e := newTestEngine(clockwork.NewFakeClock())

	e.handleIngress(Ingress{Packet: &wire.Packet{
		FromRouterID: 2,
		Entries:      []wire.Entry{{RouterID: 9, Cost: 1}},
	}})
	require.Empty(t, e.triggered)

	// Router 2, the current first hop, now advertises the destination as unreachable.
	e.handleIngress(Ingress{Packet: &wire.Packet{
		FromRouterID: 2,
		Entries:      []wire.Entry{{RouterID: 9, Cost: wire.Infinity}},
	}})

	r, ok := e.table.Get(9)
	require.True(t, ok)
	assert.Equal(t, wire.Infinity, r.Cost)
	assert.Equal(t, e.cfg.TimeoutLength.Seconds(), r.Timer)
	assert.Contains(t, e.triggered, 9)
}

func TestHandleIngressResetsRouteToRTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := newTestEngine(clock)

	before, _ := e.table.Get(2)
	assert.Equal(t, 0.0, before.Timer)

	clock.Advance(3 * time.Second)
	e.periodicAdvanceOnly()

	mid, _ := e.table.Get(2)
	assert.Equal(t, 3.0, mid.Timer)

	e.handleIngress(Ingress{Packet: &wire.Packet{FromRouterID: 2}})

	after, _ := e.table.Get(2)
	assert.Equal(t, 0.0, after.Timer, "receiving from r resets the direct route-to-r timer")
}

func TestHandleIngressDropsUnknownNeighbour(t *testing.T) {
	e := newTestEngine(clockwork.NewFakeClock())
	sizeBefore := e.table.Len()

	e.handleIngress(Ingress{Packet: &wire.Packet{
		FromRouterID: 99,
		Entries:      []wire.Entry{{RouterID: 9, Cost: 1}},
	}})

	assert.Equal(t, sizeBefore, e.table.Len())
}

func TestHandleIngressSkipsSelfDestination(t *testing.T) {
	e := newTestEngine(clockwork.NewFakeClock())

	e.handleIngress(Ingress{Packet: &wire.Packet{
		FromRouterID: 2,
		Entries:      []wire.Entry{{RouterID: 1, Cost: 1}},
	}})

	assert.False(t, e.table.Has(1))
}

func TestPeriodicTickTimesOutStaleRoute(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := newTestEngine(clock)

	clock.Advance(e.cfg.TimeoutLength)
	e.periodicTick()

	r, ok := e.table.Get(2)
	require.True(t, ok)
	assert.Equal(t, wire.Infinity, r.Cost)
}

func TestPeriodicTickGarbageCollectsAfterDeletionLength(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := newTestEngine(clock)

	clock.Advance(e.cfg.TimeoutLength)
	e.periodicTick()
	require.True(t, e.table.Has(2))

	clock.Advance(e.cfg.DeletionLength)
	e.periodicTick()

	assert.False(t, e.table.Has(2))
}

func TestPeriodicTickDoesNotTimeOutFreshRoute(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := newTestEngine(clock)

	clock.Advance(1 * time.Second)
	e.periodicTick()

	r, _ := e.table.Get(2)
	assert.Equal(t, 1, r.Cost)
}

func TestPeriodicTickReschedulesUsingJitterFunc(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := New(testConfig(), logger.New("error"), WithClock(clock), WithJitter(func() time.Duration { return 2 * time.Second }))

	start := clock.Now()
	e.periodicTick()

	assert.Equal(t, start.Add(2*time.Second), e.timeOfLastUpdate)
}

func TestFlushTriggeredClearsQueue(t *testing.T) {
	e := newTestEngine(clockwork.NewFakeClock())
	e.enqueueTriggered(9)
	require.Len(t, e.triggered, 1)

	e.flushTriggered()
	assert.Empty(t, e.triggered)
}

func TestPeriodicTickRunsBackgroundConvergenceCheckWhenExpectedTableConfigured(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "expected.json")
	// Router 3's direct cost (4) matches the pre-populated table, so the
	// very first periodic tick should already observe convergence.
	require.NoError(t, os.WriteFile(path, []byte(`{
		"2": {"first_hop": 2, "cost": 1, "learned_from": 2, "time": 0},
		"3": {"first_hop": 3, "cost": 4, "learned_from": 3, "time": 0}
	}`), 0o644))

	cfg := testConfig()
	cfg.ExpectedTablePath = path
	clock := clockwork.NewFakeClock()
	e := New(cfg, logger.New("error"), WithClock(clock), WithJitter(func() time.Duration { return 0 }))

	require.True(t, e.hasExpected)
	require.Len(t, e.expectedTable, 2)

	// periodicTick must not panic or block when a convergence check runs
	// alongside the usual timer/emit work.
	e.periodicTick()
}

func TestNewLeavesBackgroundConvergenceCheckDisabledWithoutExpectedTable(t *testing.T) {
	e := newTestEngine(clockwork.NewFakeClock())
	assert.False(t, e.hasExpected)
}

// periodicAdvanceOnly is a test helper isolating timer advancement without
// triggering garbage collection or emission side effects.
func (e *Engine) periodicAdvanceOnly() {
	now := e.clock.Now()
	elapsed := now.Sub(e.timeOfLastUpdate).Seconds()
	e.table.Iter(func(dest int, r rib.RouteInfo) {
		e.upsert(dest, nil, nil, floatp(r.Timer+elapsed), nil, now)
	})
}
