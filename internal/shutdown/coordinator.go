// Package shutdown provides coordinated shutdown management for the
// gateway process, ensuring downstream connections, background workers, and
// on-disk caches are torn down in a deterministic order with per-phase
// timeouts.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Phase represents a shutdown phase with ordered execution.
type Phase int

const (
	// PhaseProtocol stops accepting new JSON-RPC requests on the Gateway
	// Protocol Surface.
	PhaseProtocol Phase = iota
	// PhaseConnections disconnects every pooled downstream connection.
	PhaseConnections
	// PhaseBackground stops background indexing/probing workers.
	PhaseBackground
	// PhaseStorage flushes and closes persisted state (health, tool cache,
	// embeddings cache, profile store).
	PhaseStorage
	// PhaseCleanup performs final cleanup, such as releasing the process
	// lock.
	PhaseCleanup
)

func (p Phase) String() string {
	switch p {
	case PhaseProtocol:
		return "Protocol"
	case PhaseConnections:
		return "Connections"
	case PhaseBackground:
		return "Background"
	case PhaseStorage:
		return "Storage"
	case PhaseCleanup:
		return "Cleanup"
	default:
		return "Unknown"
	}
}

// ShutdownFunc performs shutdown work for one handler.
type ShutdownFunc func(ctx context.Context) error

// Handler is a registered shutdown handler.
type Handler struct {
	Name     string
	Phase    Phase
	Priority int // higher runs first within the same phase
	Fn       ShutdownFunc
	Timeout  time.Duration // 0 = use the coordinator default
}

// Coordinator manages coordinated shutdown across the gateway's components.
type Coordinator struct {
	mu       sync.RWMutex
	handlers map[Phase][]*Handler
	logger   *zap.Logger

	shutdownOnce   sync.Once
	shutdownDone   chan struct{}
	shutdownErr    error
	isShuttingDown atomic.Bool

	defaultTimeout time.Duration
	totalTimeout   time.Duration

	progressCh chan Progress
}

// Progress reports the outcome of a single shutdown handler.
type Progress struct {
	Phase     Phase
	Handler   string
	Completed bool
	Error     error
	Duration  time.Duration
}

// NewCoordinator builds a Coordinator with the given per-handler and total
// shutdown timeouts.
func NewCoordinator(logger *zap.Logger, defaultTimeout, totalTimeout time.Duration) *Coordinator {
	return &Coordinator{
		handlers:       make(map[Phase][]*Handler),
		logger:         logger.Named("shutdown"),
		shutdownDone:   make(chan struct{}),
		defaultTimeout: defaultTimeout,
		totalTimeout:   totalTimeout,
		progressCh:     make(chan Progress, 100),
	}
}

// Register adds a shutdown handler, sorted by descending priority within
// its phase.
func (c *Coordinator) Register(h *Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h.Timeout == 0 {
		h.Timeout = c.defaultTimeout
	}

	c.handlers[h.Phase] = append(c.handlers[h.Phase], h)

	handlers := c.handlers[h.Phase]
	for i := len(handlers) - 1; i > 0; i-- {
		if handlers[i].Priority > handlers[i-1].Priority {
			handlers[i], handlers[i-1] = handlers[i-1], handlers[i]
		}
	}

	c.logger.Debug("registered shutdown handler",
		zap.String("name", h.Name),
		zap.String("phase", h.Phase.String()),
		zap.Int("priority", h.Priority))
}

// RegisterFunc is a convenience wrapper around Register for a plain function.
func (c *Coordinator) RegisterFunc(name string, phase Phase, fn ShutdownFunc) {
	c.Register(&Handler{Name: name, Phase: phase, Fn: fn})
}

// IsShuttingDown reports whether shutdown is in progress.
func (c *Coordinator) IsShuttingDown() bool {
	return c.isShuttingDown.Load()
}

// Done returns a channel closed once shutdown completes.
func (c *Coordinator) Done() <-chan struct{} {
	return c.shutdownDone
}

// Progress returns a channel of per-handler shutdown progress events.
func (c *Coordinator) Progress() <-chan Progress {
	return c.progressCh
}

// Shutdown runs every registered handler in phase order. Safe to call more
// than once; only the first call executes.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.isShuttingDown.Store(true)
		c.shutdownErr = c.executeShutdown(ctx)
		close(c.shutdownDone)
		close(c.progressCh)
	})
	return c.shutdownErr
}

func (c *Coordinator) executeShutdown(ctx context.Context) error {
	c.logger.Info("starting coordinated shutdown")
	startTime := time.Now()

	shutdownCtx, cancel := context.WithTimeout(ctx, c.totalTimeout)
	defer cancel()

	var allErrors []error
	phases := []Phase{PhaseProtocol, PhaseConnections, PhaseBackground, PhaseStorage, PhaseCleanup}

	for _, phase := range phases {
		if err := c.executePhase(shutdownCtx, phase); err != nil {
			allErrors = append(allErrors, fmt.Errorf("phase %s: %w", phase.String(), err))
		}
		if shutdownCtx.Err() != nil {
			c.logger.Warn("shutdown timeout reached, aborting remaining phases",
				zap.Duration("elapsed", time.Since(startTime)))
			allErrors = append(allErrors, fmt.Errorf("shutdown timeout: %w", shutdownCtx.Err()))
			break
		}
	}

	duration := time.Since(startTime)
	if len(allErrors) > 0 {
		c.logger.Warn("shutdown completed with errors", zap.Duration("duration", duration), zap.Int("error_count", len(allErrors)))
		return errors.Join(allErrors...)
	}
	c.logger.Info("shutdown completed", zap.Duration("duration", duration))
	return nil
}

func (c *Coordinator) executePhase(ctx context.Context, phase Phase) error {
	c.mu.RLock()
	handlers := make([]*Handler, len(c.handlers[phase]))
	copy(handlers, c.handlers[phase])
	c.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	c.logger.Info("executing shutdown phase", zap.String("phase", phase.String()), zap.Int("handlers", len(handlers)))

	var phaseErrors []error
	for _, h := range handlers {
		if err := c.executeHandler(ctx, h); err != nil {
			phaseErrors = append(phaseErrors, fmt.Errorf("%s: %w", h.Name, err))
		}
	}
	if len(phaseErrors) > 0 {
		return errors.Join(phaseErrors...)
	}
	return nil
}

func (c *Coordinator) executeHandler(ctx context.Context, h *Handler) error {
	startTime := time.Now()
	handlerCtx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- h.Fn(handlerCtx) }()

	var err error
	select {
	case err = <-errCh:
	case <-handlerCtx.Done():
		err = fmt.Errorf("handler timeout after %v", h.Timeout)
	}

	duration := time.Since(startTime)
	select {
	case c.progressCh <- Progress{Phase: h.Phase, Handler: h.Name, Completed: err == nil, Error: err, Duration: duration}:
	default:
	}

	if err != nil {
		c.logger.Warn("shutdown handler failed", zap.String("name", h.Name), zap.Duration("duration", duration), zap.Error(err))
		return err
	}
	c.logger.Debug("shutdown handler completed", zap.String("name", h.Name), zap.Duration("duration", duration))
	return nil
}

// GetHandlerCount returns the total number of registered handlers, across
// all phases.
func (c *Coordinator) GetHandlerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, handlers := range c.handlers {
		count += len(handlers)
	}
	return count
}
