package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dpeckett/ripd/internal/config"
	"github.com/dpeckett/ripd/internal/converge"
	"github.com/dpeckett/ripd/internal/engine"
	"github.com/dpeckett/ripd/internal/logger"
	"github.com/dpeckett/ripd/internal/metrics"
	"github.com/dpeckett/ripd/internal/snapshot"
)

// Version is the daemon's reported build version.
const Version = "1.0.0"

// ServiceManager owns the protocol engine's lifecycle: startup, the
// listener/engine goroutine group, signal handling, and shutdown. The
// ctx+cancel+signal-channel+doneChan shape is carried from the teacher's
// ServiceManager, which used the same pattern to supervise its network
// monitor instead of a protocol engine.
type ServiceManager struct {
	config *config.Config
	logger *logger.Logger
	engine *engine.Engine

	metricsSrv interface{ Shutdown(context.Context) error }

	stopChan chan os.Signal
	doneChan chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	mutex     sync.RWMutex
	isRunning bool
	runErr    error
}

// NewServiceManager builds a ServiceManager over a validated config. If
// load is true, a previously persisted routing table snapshot is
// restored before the engine starts.
func NewServiceManager(cfg *config.Config, log *logger.Logger, load bool) (*ServiceManager, error) {
	ctx, cancel := context.WithCancel(context.Background())

	eng := engine.New(cfg, log.WithComponent("engine"))
	if load {
		if err := eng.LoadSnapshot(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to load routing table snapshot: %w", err)
		}
	}

	sm := &ServiceManager{
		config:   cfg,
		logger:   log.WithComponent("service"),
		engine:   eng,
		stopChan: make(chan os.Signal, 1),
		doneChan: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	return sm, nil
}

// Start binds the input-port listeners, starts the protocol engine, and
// begins serving Prometheus metrics if configured.
func (sm *ServiceManager) Start() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.isRunning {
		return fmt.Errorf("service is already running")
	}

	signal.Notify(sm.stopChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sm.logger.ServiceStart(Version, fmt.Sprintf("%d", os.Getpid()))
	sm.logger.ConfigLoaded("", sm.config.RouterID, len(sm.config.Neighbours), len(sm.config.InputPorts))

	if sm.config.MetricsAddr != "" {
		srv := metrics.Serve(sm.config.MetricsAddr)
		sm.metricsSrv = srv
	}

	go sm.serviceLoop()
	sm.isRunning = true

	return nil
}

// Stop cancels the engine/listener group, waits up to 10 seconds for it
// to exit, and then saves a routing-table snapshot.
func (sm *ServiceManager) Stop() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if !sm.isRunning {
		return nil
	}

	sm.logger.ServiceStop()

	sm.cancel()
	signal.Stop(sm.stopChan)

	if sm.metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = sm.metricsSrv.Shutdown(shutdownCtx)
	}

	sm.isRunning = false

	select {
	case <-sm.doneChan:
	case <-time.After(10 * time.Second):
		return fmt.Errorf("service stop timeout")
	}

	// The engine has exited, so the table has no concurrent writer.
	if checksum, err := snapshot.Save(sm.engine.Table(), sm.config.RouterID); err != nil {
		sm.logger.TransientIO("snapshot-save", err)
	} else {
		sm.logger.Info("routing table snapshot saved", "checksum", checksum)
	}

	return sm.runErr
}

// Wait blocks until the service stops: because its context was cancelled
// by a caller, because a termination signal arrived, or because the
// engine/listener group exited on its own.
func (sm *ServiceManager) Wait() error {
	select {
	case <-sm.ctx.Done():
		return sm.ctx.Err()
	case sig := <-sm.stopChan:
		sm.logger.Info("received signal", "signal", sig.String())
		return sm.Stop()
	case <-sm.doneChan:
		// The engine/listener group exited on its own (e.g. a fatal port
		// bind failure) without anyone requesting a stop. Run the same
		// cleanup Stop() would and surface the failure that ended it;
		// Stop() immediately reads the already-closed doneChan and
		// returns sm.runErr.
		return sm.Stop()
	}
}

// serviceLoop runs the listener goroutines and the protocol engine under
// one errgroup, so a fatal error in either cancels the other.
func (sm *ServiceManager) serviceLoop() {
	defer close(sm.doneChan)

	g, ctx := errgroup.WithContext(sm.ctx)
	g.Go(func() error {
		return engine.Listen(ctx, sm.engine)
	})
	g.Go(func() error {
		return sm.engine.Run(ctx)
	})

	sm.runErr = g.Wait()
}

// RunConvergenceCheck diffs the live routing table against the
// config-specified expected table, if one is set.
func (sm *ServiceManager) RunConvergenceCheck() (*converge.Result, error) {
	if sm.config.ExpectedTablePath == "" {
		return nil, fmt.Errorf("no expected-table configured")
	}
	expected, err := converge.LoadExpected(sm.config.ExpectedTablePath)
	if err != nil {
		return nil, err
	}
	res := converge.Check(converge.Live(sm.engine.Table()), expected)
	return &res, nil
}

// IsRunning reports whether the service is currently started.
func (sm *ServiceManager) IsRunning() bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.isRunning
}

// GetStatus returns a snapshot of the service's status for diagnostics.
func (sm *ServiceManager) GetStatus() map[string]interface{} {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	return map[string]interface{}{
		"running":         sm.isRunning,
		"router_id":       sm.config.RouterID,
		"neighbours":      len(sm.config.Neighbours),
		"input_ports":     sm.config.InputPorts,
		"routing_table_n": sm.engine.Table().Len(),
	}
}
