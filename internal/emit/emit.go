// Package emit composes and sends response packets to every neighbour,
// applying split-horizon with poisoned reverse per destination. Fan-out
// across neighbours is dispatched through an ants pool, adapted from the
// teacher's internal/routing/batch.ProcessUsingAnts (which fanned
// concurrency-limited route-table syscalls the same way).
package emit

import (
	"fmt"
	"net"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/dpeckett/ripd/internal/config"
	"github.com/dpeckett/ripd/internal/logger"
	"github.com/dpeckett/ripd/internal/metrics"
	"github.com/dpeckett/ripd/internal/rib"
	"github.com/dpeckett/ripd/internal/wire"
)

// concurrencyLimit bounds how many neighbours are sent to at once; the
// teacher's batch operations used the same small fixed pool size for
// route-table syscalls, which is similarly I/O- rather than CPU-bound.
const concurrencyLimit = 8

// Emitter composes and sends update packets to every configured neighbour.
type Emitter struct {
	cfg   *config.Config
	table *rib.Table
	log   *logger.Logger

	mu   sync.Mutex
	conn *net.UDPConn // lazily created, one shared outbound socket
}

// New returns an Emitter over the given config and table. The table is
// read-only from the Emitter's perspective: only the engine mutates it.
func New(cfg *config.Config, table *rib.Table, log *logger.Logger) *Emitter {
	return &Emitter{cfg: cfg, table: table, log: log}
}

// Broadcast sends an update covering the given destinations to every
// neighbour, in parallel, applying split-horizon with poisoned reverse
// independently per (neighbour, destination) pair.
func (e *Emitter) Broadcast(destinations []int, triggered bool) {
	if len(destinations) == 0 || len(e.cfg.Neighbours) == 0 {
		return
	}

	pool, err := ants.NewPool(concurrencyLimit)
	if err != nil {
		e.log.TransientIO("emit-pool-create", err)
		return
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, n := range e.cfg.Neighbours {
		n := n
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			e.sendTo(n, destinations, triggered)
		}); err != nil {
			wg.Done()
			e.log.TransientIO("emit-pool-submit", err)
		}
	}
	wg.Wait()
}

// sendTo composes and sends one response packet to neighbour n, poisoning
// any route whose first hop is n.
func (e *Emitter) sendTo(n config.Neighbour, destinations []int, triggered bool) {
	pkt := compose(e.cfg.RouterID, n, destinations, e.table)
	if len(pkt.Entries) == 0 {
		return
	}

	if err := e.send(n.Port, pkt); err != nil {
		metrics.TransientIOErrors.WithLabelValues("send").Inc()
		e.log.TransientIO("send", err)
		return
	}

	metrics.PacketsSent.Inc()
	e.log.UpdateSent(n.RouterID, n.Port, len(pkt.Entries), triggered)
}

// compose builds the response packet sent to neighbour n: one entry per
// destination currently in the table, with poisoned reverse applied to
// any destination whose first hop is n.
func compose(routerID int, n config.Neighbour, destinations []int, table *rib.Table) *wire.Packet {
	pkt := &wire.Packet{FromRouterID: int16(routerID)}
	for _, dest := range destinations {
		r, ok := table.Get(dest)
		if !ok {
			continue
		}
		cost := r.Cost
		if r.FirstHop == n.RouterID {
			cost = wire.Infinity
		}
		pkt.Entries = append(pkt.Entries, wire.Entry{
			RouterID: int32(dest),
			Cost:     int32(cost),
		})
	}
	return pkt
}

func (e *Emitter) send(port int, pkt *wire.Packet) error {
	conn, err := e.outboundConn()
	if err != nil {
		return err
	}
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	_, err = conn.WriteToUDP(pkt.Encode(), addr)
	return err
}

// outboundConn lazily creates the single shared outbound socket used for
// every neighbour send; the loopback-only deployment model (spec.md §2)
// makes one ephemeral-port socket sufficient for all destinations.
func (e *Emitter) outboundConn() (*net.UDPConn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return e.conn, nil
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return nil, fmt.Errorf("open outbound socket: %w", err)
	}
	e.conn = conn
	return conn, nil
}

// Close releases the shared outbound socket.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}
