// Package mask projects accepted tile origins onto a boolean grid at a display
// level and renders that grid.
//
// Cell (i, j) covers level-0 rows [i*patch*ds, (i+1)*patch*ds) and columns
// [j*patch*ds, (j+1)*patch*ds), where ds is the display level's downsample
// factor. Rows follow Y and columns follow X, matching the row-major order of
// the tile grid.
package mask

import (
	"errors"
	"fmt"
	"math"

	"github.com/ironsheep/wsi-tools-mcp/internal/pyramid"
	"github.com/ironsheep/wsi-tools-mcp/internal/tiles"
)

// ErrInvalidGeometry is returned for a non-positive patch size or a
// downsample factor below 1.
var ErrInvalidGeometry = errors.New("invalid mask geometry")

// ErrEmptyMask is returned when a mask with no cells is rendered.
var ErrEmptyMask = errors.New("mask has no cells")

// Mask is an immutable boolean grid.
type Mask struct {
	rows, cols int
	cells      []bool
	count      int
}

// Build projects accepted onto the grid of displayLevel. The grid has
// floor(H_L/patch) rows and floor(W_L/patch) columns with H_L = floor(H0/ds).
// Coordinates whose cell falls outside the grid are skipped.
func Build(accepted tiles.Sequence, level0 pyramid.Size, displayLevel int, ds float64, patch int) (*Mask, error) {
	if patch <= 0 {
		return nil, fmt.Errorf("%w: patch size %d", ErrInvalidGeometry, patch)
	}
	if displayLevel < 0 {
		return nil, fmt.Errorf("%w: level %d", ErrInvalidGeometry, displayLevel)
	}
	if ds < 1 || math.IsNaN(ds) || math.IsInf(ds, 0) {
		return nil, fmt.Errorf("%w: downsample %v", ErrInvalidGeometry, ds)
	}

	wl := int(math.Floor(float64(level0.Width) / ds))
	hl := int(math.Floor(float64(level0.Height) / ds))
	m := &Mask{rows: hl / patch, cols: wl / patch}
	m.cells = make([]bool, m.rows*m.cols)

	stride := float64(patch) * ds
	if accepted == nil {
		return m, nil
	}
	for k := 0; k < accepted.Len(); k++ {
		c := accepted.At(k)
		i := int(math.Floor(float64(c.Y) / stride))
		j := int(math.Floor(float64(c.X) / stride))
		if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
			continue
		}
		if !m.cells[i*m.cols+j] {
			m.cells[i*m.cols+j] = true
			m.count++
		}
	}
	return m, nil
}

// ForLevel builds the mask for displayLevel of src.
func ForLevel(src pyramid.Source, accepted tiles.Sequence, displayLevel, patch int) (*Mask, error) {
	dims, err := src.Dimensions(0)
	if err != nil {
		return nil, err
	}
	ds, err := src.Downsample(displayLevel)
	if err != nil {
		return nil, err
	}
	return Build(accepted, dims, displayLevel, ds, patch)
}

// DefaultDisplayLevel returns the coarsest level of src whose grid holds at
// least one full patch per axis, or 0 when no level does.
func DefaultDisplayLevel(src pyramid.Source, patch int) (int, error) {
	if patch <= 0 {
		return 0, fmt.Errorf("%w: patch size %d", ErrInvalidGeometry, patch)
	}
	dims, err := src.Dimensions(0)
	if err != nil {
		return 0, err
	}
	for level := src.LevelCount() - 1; level > 0; level-- {
		ds, err := src.Downsample(level)
		if err != nil {
			return 0, err
		}
		wl := int(math.Floor(float64(dims.Width) / ds))
		hl := int(math.Floor(float64(dims.Height) / ds))
		if wl/patch >= 1 && hl/patch >= 1 {
			return level, nil
		}
	}
	return 0, nil
}

// Renderable returns ErrEmptyMask when m has no rows or no columns.
func (m *Mask) Renderable() error {
	if m.rows == 0 || m.cols == 0 {
		return fmt.Errorf("%w: grid is %dx%d", ErrEmptyMask, m.rows, m.cols)
	}
	return nil
}

// Rows returns the number of grid rows.
func (m *Mask) Rows() int { return m.rows }

// Cols returns the number of grid columns.
func (m *Mask) Cols() int { return m.cols }

// At reports whether cell (i, j) is set. Out-of-range cells are unset.
func (m *Mask) At(i, j int) bool {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		return false
	}
	return m.cells[i*m.cols+j]
}

// Count returns the number of set cells.
func (m *Mask) Count() int { return m.count }

// Cells returns a copy of the grid as rows of columns.
func (m *Mask) Cells() [][]bool {
	out := make([][]bool, m.rows)
	for i := range out {
		out[i] = append([]bool(nil), m.cells[i*m.cols:(i+1)*m.cols]...)
	}
	return out
}

// Ints returns the grid as rows of 0/1 values.
func (m *Mask) Ints() [][]int {
	out := make([][]int, m.rows)
	for i := range out {
		row := make([]int, m.cols)
		for j := range row {
			if m.cells[i*m.cols+j] {
				row[j] = 1
			}
		}
		out[i] = row
	}
	return out
}
