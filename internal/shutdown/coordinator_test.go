package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCoordinator() *Coordinator {
	return NewCoordinator(zap.NewNop(), time.Second, 5*time.Second)
}

func TestNewCoordinatorStartsEmpty(t *testing.T) {
	c := newTestCoordinator()
	require.NotNil(t, c)
	assert.Equal(t, 0, c.GetHandlerCount())
	assert.False(t, c.IsShuttingDown())
}

func TestRegisterFuncAddsHandler(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterFunc("pool-disconnect", PhaseConnections, func(ctx context.Context) error { return nil })
	assert.Equal(t, 1, c.GetHandlerCount())
}

func TestShutdownRunsPhasesInOrder(t *testing.T) {
	c := newTestCoordinator()
	var order []Phase
	var mu sync.Mutex

	record := func(p Phase) ShutdownFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
			return nil
		}
	}

	c.RegisterFunc("cleanup", PhaseCleanup, record(PhaseCleanup))
	c.RegisterFunc("storage", PhaseStorage, record(PhaseStorage))
	c.RegisterFunc("protocol", PhaseProtocol, record(PhaseProtocol))
	c.RegisterFunc("connections", PhaseConnections, record(PhaseConnections))
	c.RegisterFunc("background", PhaseBackground, record(PhaseBackground))

	err := c.Shutdown(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseProtocol, PhaseConnections, PhaseBackground, PhaseStorage, PhaseCleanup}, order)
}

func TestShutdownIsIdempotent(t *testing.T) {
	c := newTestCoordinator()
	var calls int32
	c.RegisterFunc("once", PhaseCleanup, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	require.NoError(t, c.Shutdown(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestShutdownAggregatesHandlerErrors(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterFunc("failing", PhaseStorage, func(ctx context.Context) error {
		return errors.New("disk full")
	})

	err := c.Shutdown(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestHandlerTimeoutIsReportedAsError(t *testing.T) {
	c := newTestCoordinator()
	c.Register(&Handler{
		Name:    "slow",
		Phase:   PhaseConnections,
		Timeout: 10 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	err := c.Shutdown(context.Background())
	assert.Error(t, err)
}

func TestHigherPriorityHandlerRunsFirstWithinPhase(t *testing.T) {
	c := newTestCoordinator()
	var order []string
	var mu sync.Mutex

	c.Register(&Handler{Name: "low", Phase: PhaseCleanup, Priority: 0, Fn: func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
		return nil
	}})
	c.Register(&Handler{Name: "high", Phase: PhaseCleanup, Priority: 10, Fn: func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
		return nil
	}})

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, []string{"high", "low"}, order)
}
