package scan

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ironsheep/wsi-tools-mcp/internal/taskgraph"
)

// ErrExecutorClosed is returned when work is submitted to an executor that is
// not open.
var ErrExecutorClosed = errors.New("executor is not open")

// Executor is the execution context for scans: it bounds how many chunks run
// at once and owns the logger they report to.
//
// The lifecycle is explicit. Call Open before dispatching scans and Close
// after the last result has been aggregated. Close waits for running scans to
// return. An Executor may be reopened after Close.
type Executor struct {
	workers int
	log     zerolog.Logger

	mu     sync.Mutex
	open   bool
	active sync.WaitGroup
}

// NewExecutor returns a closed executor running at most workers chunks at
// once. workers < 1 means one per CPU.
func NewExecutor(workers int, log zerolog.Logger) *Executor {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &Executor{workers: workers, log: log}
}

// Workers returns the parallelism limit.
func (e *Executor) Workers() int { return e.workers }

// Open makes the executor accept work. Opening an open executor is a no-op.
func (e *Executor) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		e.open = true
		e.log.Debug().Int("workers", e.workers).Msg("executor opened")
	}
	return nil
}

// Close stops accepting work and waits for running scans.
func (e *Executor) Close() error {
	e.mu.Lock()
	wasOpen := e.open
	e.open = false
	e.mu.Unlock()

	e.active.Wait()
	if wasOpen {
		e.log.Debug().Msg("executor closed")
	}
	return nil
}

// run evaluates g on the executor's workers.
func (e *Executor) run(ctx context.Context, g *taskgraph.Graph, onDone func(taskgraph.Outcome)) (*taskgraph.Results, error) {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return nil, ErrExecutorClosed
	}
	e.active.Add(1)
	e.mu.Unlock()
	defer e.active.Done()

	return g.Run(ctx, e.workers, onDone), nil
}
