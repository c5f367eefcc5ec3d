// Package tiles lays a fixed-stride tile grid over a slide and splits it into
// chunks of work.
//
// # Coordinate Convention
//
// A Coord is always (X, Y) in level-0 pixel space and marks a tile's top-left
// corner. Grids are generated row-major: the outer loop runs over Y (rows) and
// the inner loop over X (columns). Mask cells derived from a coordinate are
// always indexed [row][col], with the row taken from Y and the column from X.
package tiles

import (
	"fmt"
	"math"
)

// Coord is a tile's top-left corner in level-0 pixel coordinates.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Less orders coordinates row-major (by Y, then X).
func (c Coord) Less(o Coord) bool {
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.X < o.X
}

// Sequence is a read-only ordered collection of coordinates with random access.
type Sequence interface {
	Len() int
	At(i int) Coord
	Iterator() *Iterator
}

// List is the concrete Sequence used throughout the scan.
type List []Coord

// Len returns the number of coordinates.
func (l List) Len() int { return len(l) }

// At returns the i-th coordinate.
func (l List) At(i int) Coord { return l[i] }

// Iterator returns a forward iterator positioned before the first element.
func (l List) Iterator() *Iterator { return &Iterator{seq: l} }

// Iterator walks a Sequence forward.
type Iterator struct {
	seq Sequence
	pos int
}

// Next returns the next coordinate and true, or false once exhausted.
func (it *Iterator) Next() (Coord, bool) {
	if it.pos >= it.seq.Len() {
		return Coord{}, false
	}
	c := it.seq.At(it.pos)
	it.pos++
	return c, true
}

// Grid returns the tile origins covering [0, width) x [0, height) with stride
// patch, row-major. Tiles in the last row or column may extend past the image.
func Grid(width, height, patch int) (List, error) {
	if patch <= 0 {
		return nil, fmt.Errorf("patch size must be positive, got %d", patch)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}

	cols := (width + patch - 1) / patch
	rows := (height + patch - 1) / patch
	out := make(List, 0, cols*rows)
	for y := 0; y < height; y += patch {
		for x := 0; x < width; x += patch {
			out = append(out, Coord{X: x, Y: y})
		}
	}
	return out, nil
}

// ReadSize returns the side in level pixels of a level-0 patch read at a level
// with the given downsample: floor(patch / downsample), never less than 1.
func ReadSize(patch int, downsample float64) int {
	n := int(math.Floor(float64(patch) / downsample))
	if n < 1 {
		return 1
	}
	return n
}

// Chunk splits seq into min(n, seq.Len()) contiguous chunks whose sizes differ
// by at most one. The first seq.Len()%k chunks carry the extra element.
// Concatenating the chunks in order reproduces seq.
func Chunk(seq Sequence, n int) ([]List, error) {
	if n < 1 {
		return nil, fmt.Errorf("chunk count must be at least 1, got %d", n)
	}
	total := seq.Len()
	if total == 0 {
		return nil, nil
	}
	if n > total {
		n = total
	}

	base := total / n
	extra := total % n
	out := make([]List, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		chunk := make(List, 0, size)
		for j := start; j < start+size; j++ {
			chunk = append(chunk, seq.At(j))
		}
		out = append(out, chunk)
		start += size
	}
	return out, nil
}

// Refine expands each accepted patch origin into the origins of the tile-sized
// sub-tiles it contains, for a second, finer scan pass. Sub-tiles whose origin
// falls outside the width x height level-0 image are dropped. The result keeps
// the order of accepted and is row-major within each patch.
func Refine(accepted Sequence, width, height, patch, tile int) (List, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image dimensions must be positive, got %dx%d", width, height)
	}
	if patch <= 0 || tile <= 0 {
		return nil, fmt.Errorf("patch and tile sizes must be positive, got %d and %d", patch, tile)
	}
	if tile > patch {
		return nil, fmt.Errorf("tile size %d exceeds patch size %d", tile, patch)
	}

	per := ((patch + tile - 1) / tile) * ((patch + tile - 1) / tile)
	out := make(List, 0, accepted.Len()*per)
	it := accepted.Iterator()
	for c, ok := it.Next(); ok; c, ok = it.Next() {
		for sy := 0; sy < patch && c.Y+sy < height; sy += tile {
			for sx := 0; sx < patch && c.X+sx < width; sx += tile {
				out = append(out, Coord{X: c.X + sx, Y: c.Y + sy})
			}
		}
	}
	return out, nil
}
