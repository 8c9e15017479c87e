package engine

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dpeckett/ripd/internal/logger"
	"github.com/dpeckett/ripd/internal/wire"
)

func TestListenDeliversDecodedPacketToIngressCh(t *testing.T) {
	cfg := testConfig()
	cfg.InputPorts = []int{0} // placeholder; replaced below with a free port found by probing
	e := New(cfg, logger.New("error"), WithClock(clockwork.NewFakeClock()))

	// Bind a throwaway socket first purely to reserve a free loopback port,
	// then close it and point the engine's listener at that same port.
	probe, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := probe.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, probe.Close())
	cfg.InputPorts = []int{port}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Listen(ctx, e) }()

	// Give the listener goroutine a moment to bind before sending.
	time.Sleep(50 * time.Millisecond)

	sender, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer sender.Close()

	pkt := &wire.Packet{FromRouterID: 2, Entries: []wire.Entry{{RouterID: 4, Cost: 1}}}
	_, err = sender.Write(pkt.Encode())
	require.NoError(t, err)

	select {
	case in := <-e.IngressCh:
		require.Equal(t, int16(2), in.Packet.FromRouterID)
		require.Len(t, in.Packet.Entries, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ingress packet")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not exit after cancel")
	}
}

func TestListenReturnsBindErrorOnPortInUse(t *testing.T) {
	held, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer held.Close()
	port := held.LocalAddr().(*net.UDPAddr).Port

	cfg := testConfig()
	cfg.InputPorts = []int{port}
	e := New(cfg, logger.New("error"), WithClock(clockwork.NewFakeClock()))

	err = Listen(context.Background(), e)
	require.Error(t, err)

	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr), "expected a *BindError, got %T: %v", err, err)
	require.Equal(t, port, bindErr.Port)
}
