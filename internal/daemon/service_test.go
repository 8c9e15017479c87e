package daemon

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpeckett/ripd/internal/config"
	"github.com/dpeckett/ripd/internal/engine"
	"github.com/dpeckett/ripd/internal/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		RouterID:       1,
		InputPorts:     []int{0},
		Neighbours:     map[int]config.Neighbour{2: {RouterID: 2, Port: 0, LinkCost: 1}},
		UpdatePeriod:   5 * time.Second,
		TimeoutLength:  30 * time.Second,
		DeletionLength: 20 * time.Second,
	}
}

func TestNewServiceManagerPrepopulatesStatus(t *testing.T) {
	sm, err := NewServiceManager(testConfig(), logger.New("error"), false)
	require.NoError(t, err)

	assert.False(t, sm.IsRunning())
	status := sm.GetStatus()
	assert.Equal(t, 1, status["router_id"])
	assert.Equal(t, 1, status["routing_table_n"], "the neighbour's direct route is pre-populated at construction")
}

func TestRunConvergenceCheckRequiresExpectedTable(t *testing.T) {
	sm, err := NewServiceManager(testConfig(), logger.New("error"), false)
	require.NoError(t, err)

	_, err = sm.RunConvergenceCheck()
	require.Error(t, err)
}

func TestWaitUnblocksOnBindFailureWithoutExternalStop(t *testing.T) {
	// Wait()'s doneChan path runs Stop(), which persists a routing-table
	// snapshot to a relative directory; isolate that write to a temp dir.
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	held, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer held.Close()
	port := held.LocalAddr().(*net.UDPAddr).Port

	cfg := testConfig()
	cfg.InputPorts = []int{port} // already held above, so the engine's bind fails

	sm, err := NewServiceManager(cfg, logger.New("error"), false)
	require.NoError(t, err)
	require.NoError(t, sm.Start())

	waitErr := make(chan error, 1)
	go func() { waitErr <- sm.Wait() }()

	select {
	case err := <-waitErr:
		var bindErr *engine.BindError
		require.ErrorAs(t, err, &bindErr)
		assert.Equal(t, port, bindErr.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait() did not return after a bind failure; doneChan was never observed")
	}
}

func TestRunConvergenceCheckAgainstFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "expected.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"2": {"first_hop": 2, "cost": 1, "learned_from": 2, "time": 0}}`), 0o644))

	cfg := testConfig()
	cfg.ExpectedTablePath = path
	sm, err := NewServiceManager(cfg, logger.New("error"), false)
	require.NoError(t, err)

	res, err := sm.RunConvergenceCheck()
	require.NoError(t, err)
	assert.True(t, res.Converged)
}
