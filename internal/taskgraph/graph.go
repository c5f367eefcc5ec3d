// Package taskgraph evaluates an explicit directed acyclic graph of tasks.
//
// Each node is a function plus the IDs of the nodes whose values it consumes.
// Building the graph does no work; Run evaluates every node once all of its
// dependencies have produced a value, with bounded parallelism.
package taskgraph

import (
	"context"
	"errors"
	"fmt"
)

// Func computes a node's value from its dependencies' values, keyed by node ID.
type Func func(ctx context.Context, deps map[string]any) (any, error)

// State is the terminal state of a node after Run.
type State string

const (
	// StateDone means the node ran and returned a value.
	StateDone State = "done"
	// StateFailed means the node ran and returned an error.
	StateFailed State = "failed"
	// StateSkipped means a dependency failed, so the node never ran.
	StateSkipped State = "skipped"
	// StateCanceled means the context ended before the node was dispatched.
	StateCanceled State = "canceled"
)

// ErrDependencyFailed is the error recorded on skipped nodes.
var ErrDependencyFailed = errors.New("dependency failed")

type node struct {
	id   string
	fn   Func
	deps []string
}

// Graph is a DAG of tasks. Nodes can only depend on nodes added before them,
// so cycles cannot be expressed.
type Graph struct {
	nodes []*node
	index map[string]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{index: make(map[string]int)}
}

// Add appends a node. It fails on a duplicate ID or an unknown dependency.
func (g *Graph) Add(id string, fn Func, deps ...string) error {
	if fn == nil {
		return fmt.Errorf("node %q has no function", id)
	}
	if _, dup := g.index[id]; dup {
		return fmt.Errorf("duplicate node %q", id)
	}
	for _, d := range deps {
		if _, ok := g.index[d]; !ok {
			return fmt.Errorf("node %q depends on unknown node %q", id, d)
		}
	}
	g.index[id] = len(g.nodes)
	g.nodes = append(g.nodes, &node{id: id, fn: fn, deps: append([]string(nil), deps...)})
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Outcome is the result of one node.
type Outcome struct {
	ID    string
	State State
	Value any
	Err   error
}

// Results holds every node's outcome after Run.
type Results struct {
	outcomes map[string]Outcome
	order    []string
}

// Get returns the outcome of a node.
func (r *Results) Get(id string) (Outcome, bool) {
	o, ok := r.outcomes[id]
	return o, ok
}

// Order returns node IDs in the order their outcomes were recorded.
func (r *Results) Order() []string {
	return append([]string(nil), r.order...)
}

// Count returns how many nodes ended in the given state.
func (r *Results) Count(s State) int {
	n := 0
	for _, o := range r.outcomes {
		if o.State == s {
			n++
		}
	}
	return n
}

// Run evaluates the graph with at most parallelism nodes executing at once.
//
// onDone, if non-nil, is called from the calling goroutine for every node as
// its outcome is recorded, so it needs no locking. A failed node marks all of
// its transitive dependents skipped. When ctx ends, no further nodes are
// dispatched; nodes already running finish and are recorded, and the rest
// are recorded as canceled.
func (g *Graph) Run(ctx context.Context, parallelism int, onDone func(Outcome)) *Results {
	if parallelism < 1 {
		parallelism = 1
	}

	res := &Results{outcomes: make(map[string]Outcome, len(g.nodes))}
	record := func(o Outcome) {
		res.outcomes[o.ID] = o
		res.order = append(res.order, o.ID)
		if onDone != nil {
			onDone(o)
		}
	}

	pending := make([]int, len(g.nodes))
	dependents := make([][]int, len(g.nodes))
	var ready []int
	for i, n := range g.nodes {
		pending[i] = len(n.deps)
		for _, d := range n.deps {
			j := g.index[d]
			dependents[j] = append(dependents[j], i)
		}
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}

	values := make([]any, len(g.nodes))
	finished := make(chan finish)
	running := 0

	for len(ready) > 0 || running > 0 {
		for running < parallelism && len(ready) > 0 && ctx.Err() == nil {
			i := ready[0]
			ready = ready[1:]
			n := g.nodes[i]

			deps := make(map[string]any, len(n.deps))
			for _, d := range n.deps {
				deps[d] = values[g.index[d]]
			}

			running++
			go func(i int, n *node) {
				v, err := call(ctx, n.fn, deps)
				finished <- finish{idx: i, val: v, err: err}
			}(i, n)
		}
		if running == 0 {
			break
		}

		f := <-finished
		running--
		n := g.nodes[f.idx]

		if f.err != nil {
			record(Outcome{ID: n.id, State: StateFailed, Err: f.err})
			g.skipDependents(f.idx, dependents, res, record)
			continue
		}

		values[f.idx] = f.val
		record(Outcome{ID: n.id, State: StateDone, Value: f.val})
		for _, d := range dependents[f.idx] {
			pending[d]--
			if _, skipped := res.outcomes[g.nodes[d].id]; pending[d] == 0 && !skipped {
				ready = append(ready, d)
			}
		}
	}

	// Anything left unrecorded was never dispatched.
	for _, n := range g.nodes {
		if _, ok := res.outcomes[n.id]; !ok {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			record(Outcome{ID: n.id, State: StateCanceled, Err: err})
		}
	}

	return res
}

type finish struct {
	idx int
	val any
	err error
}

func (g *Graph) skipDependents(idx int, dependents [][]int, res *Results, record func(Outcome)) {
	queue := append([]int(nil), dependents[idx]...)
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		id := g.nodes[d].id
		if _, done := res.outcomes[id]; done {
			continue
		}
		record(Outcome{ID: id, State: StateSkipped, Err: fmt.Errorf("%w: %s", ErrDependencyFailed, g.nodes[idx].id)})
		queue = append(queue, dependents[d]...)
	}
}

// call runs fn, converting a panic into an error.
func call(ctx context.Context, fn Func, deps map[string]any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx, deps)
}
