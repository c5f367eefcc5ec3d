package scan

import (
	"sort"
	"sync"

	"github.com/ironsheep/wsi-tools-mcp/internal/tiles"
)

// Aggregator merges per-chunk accepted coordinates into one set as chunks
// complete. The merge is a set union, so the final set does not depend on
// arrival order and adding the same chunk twice changes nothing.
type Aggregator struct {
	mu     sync.Mutex
	seen   map[tiles.Coord]struct{}
	chunks map[int]struct{}
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		seen:   make(map[tiles.Coord]struct{}),
		chunks: make(map[int]struct{}),
	}
}

// Add merges the accepted coordinates of one chunk. An empty list still marks
// the chunk as merged.
func (a *Aggregator) Add(chunk int, coords []tiles.Coord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chunks[chunk] = struct{}{}
	for _, c := range coords {
		a.seen[c] = struct{}{}
	}
}

// Len returns the number of distinct accepted coordinates.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seen)
}

// Merged returns how many distinct chunks have been added.
func (a *Aggregator) Merged() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.chunks)
}

// Coords returns the accepted set sorted row-major.
func (a *Aggregator) Coords() tiles.List {
	a.mu.Lock()
	out := make(tiles.List, 0, len(a.seen))
	for c := range a.seen {
		out = append(out, c)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
