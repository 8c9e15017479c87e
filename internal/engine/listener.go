package engine

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/dpeckett/ripd/internal/metrics"
	"github.com/dpeckett/ripd/internal/wire"
)

// BindError reports that binding one of the configured input ports failed.
// cmd/ripd distinguishes it from other run-time failures to map it to its
// own exit code (spec.md §6 / SPEC_FULL.md §6: exit code 12).
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind input port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Listen binds one UDP socket per configured input port and starts a
// reader goroutine per socket, each forwarding decoded packets onto
// e.IngressCh. It replaces the teacher's raw select(2)-style fan-in
// (internal/daemon/service.go's single network-change channel) with one
// goroutine per socket into a shared channel, supervised by an
// errgroup.Group so any listener's fatal bind error cancels the rest.
//
// Listen blocks until ctx is cancelled, at which point every socket is
// closed and every reader goroutine has exited.
func Listen(ctx context.Context, e *Engine) error {
	g, ctx := errgroup.WithContext(ctx)

	conns := make([]*net.UDPConn, 0, len(e.cfg.InputPorts))
	for _, port := range e.cfg.InputPorts {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return &BindError{Port: port, Err: err}
		}
		conns = append(conns, conn)
	}

	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			<-ctx.Done()
			return conn.Close()
		})
		g.Go(func() error {
			readLoop(ctx, conn, e)
			return nil
		})
	}

	return g.Wait()
}

func readLoop(ctx context.Context, conn *net.UDPConn, e *Engine) {
	buf := make([]byte, 4096)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				metrics.TransientIOErrors.WithLabelValues("recv").Inc()
				e.log.TransientIO("recv", err)
				continue
			}
		}

		pkt, err := wire.Decode(buf[:n])
		if err != nil {
			metrics.PacketsDropped.WithLabelValues("malformed").Inc()
			e.log.PacketDropped("malformed", addr.String())
			continue
		}

		select {
		case e.IngressCh <- Ingress{Packet: pkt, Addr: addr.String()}:
		case <-ctx.Done():
			return
		}
	}
}
