package coordinator

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stacklok/price-sync-server/internal/status"
	pkgsync "github.com/stacklok/price-sync-server/internal/sync"
)

var (
	// ErrRunInProgress is returned when a run is requested while another is active
	ErrRunInProgress = errors.New("a price sync run is already in progress")

	// ErrCoordinatorStopped is returned when a run is requested after Stop
	ErrCoordinatorStopped = errors.New("run coordinator is stopped")
)

// Coordinator executes runs on a single background worker, one at a time
//
//go:generate mockgen -destination=mocks/mock_coordinator.go -package=mocks -source=coordinator.go Coordinator
type Coordinator interface {
	// Start runs the worker loop. Blocks until the context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop cancels the in-flight run, waits for it to return and rejects further requests
	Stop() error

	// TryEnqueue hands req to the worker without waiting for it to run. It fails
	// fast with ErrRunInProgress if a run is active or pending. The returned
	// request carries the assigned run ID.
	TryEnqueue(req pkgsync.Request) (pkgsync.Request, error)

	// Active reports whether a run is active or pending
	Active() bool
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	manager pkgsync.Manager
	logger  *zap.Logger

	// busy is the run guard. It is set by TryEnqueue and cleared by the
	// worker when the run returns.
	busy     atomic.Bool
	requests chan pkgsync.Request

	// Lifecycle management
	mu         gosync.Mutex
	stopped    bool
	cancelFunc context.CancelFunc
	done       chan struct{}

	onFinish func(*status.RunSummary)
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *defaultCoordinator) {
		c.logger = l
	}
}

// WithOnFinish registers a callback invoked on the worker with every finished run summary
func WithOnFinish(fn func(*status.RunSummary)) Option {
	return func(c *defaultCoordinator) {
		c.onFinish = fn
	}
}

// New creates a new coordinator. Requests may be enqueued before Start; the
// first one waits until the worker begins.
func New(manager pkgsync.Manager, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		manager:  manager,
		logger:   zap.NewNop(),
		requests: make(chan pkgsync.Request, 1),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start runs the worker loop
func (c *defaultCoordinator) Start(ctx context.Context) error {
	coordCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.stopped || c.cancelFunc != nil {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("cannot start coordinator: %w", ErrCoordinatorStopped)
	}
	c.cancelFunc = cancel
	c.mu.Unlock()

	c.logger.Info("Starting run coordinator")
	defer func() {
		c.shutdown()
		close(c.done)
		c.logger.Info("Run coordinator shut down")
	}()

	for {
		select {
		case req := <-c.requests:
			c.execute(coordCtx, req)
		case <-coordCtx.Done():
			c.logger.Info("Run coordinator stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	c.mu.Lock()
	c.stopped = true
	cancel := c.cancelFunc
	c.mu.Unlock()

	if cancel != nil {
		c.logger.Info("Stopping run coordinator")
		cancel()
		// Wait for the in-flight run to observe cancellation
		<-c.done
	}
	return nil
}

// TryEnqueue acquires the run guard and hands req to the worker
func (c *defaultCoordinator) TryEnqueue(req pkgsync.Request) (pkgsync.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return req, ErrCoordinatorStopped
	}
	if !c.busy.CompareAndSwap(false, true) {
		return req, ErrRunInProgress
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Kind == "" {
		req.Kind = status.RunKindFull
	}

	select {
	case c.requests <- req:
	default:
		// unreachable while the guard is held, but never block a trigger
		c.busy.Store(false)
		return req, ErrRunInProgress
	}

	c.logger.Info("Run accepted", zap.Stringer("request", req))
	return req, nil
}

// Active reports whether the run guard is held
func (c *defaultCoordinator) Active() bool {
	return c.busy.Load()
}

// execute performs one run and releases the guard on every exit path
func (c *defaultCoordinator) execute(ctx context.Context, req pkgsync.Request) {
	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Price sync run panicked",
				zap.String("run_id", req.ID),
				zap.Any("panic", r))
		}
		c.busy.Store(false)
	}()

	summary := c.manager.Run(ctx, req)

	c.logger.Debug("Run returned to coordinator",
		zap.String("run_id", req.ID),
		zap.Duration("elapsed", time.Since(startTime)))

	if c.onFinish != nil && summary != nil {
		c.onFinish(summary)
	}
}

// shutdown marks the coordinator stopped and releases the guard held by a
// request that was accepted but never picked up
func (c *defaultCoordinator) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	select {
	case req := <-c.requests:
		c.logger.Warn("Dropping run accepted before shutdown", zap.String("run_id", req.ID))
		c.busy.Store(false)
	default:
	}
}
