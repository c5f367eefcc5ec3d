package pyramid

import (
	"fmt"
	"image"
	"math"
	"sync"
	"time"
)

// TimeLevelRead reads an entire level in one request and reports how long it took.
func TimeLevelRead(src Source, level int) (time.Duration, error) {
	dims, err := src.Dimensions(level)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	if _, err := src.ReadRegion(image.Point{}, dims, level); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// ReadLevelParallel reads a whole level as strips vertical strips, each read by
// its own goroutine through its own handle, and assembles them into one region.
//
// The last strip absorbs the remainder when the level width does not divide
// evenly. strips is capped at the level width.
func ReadLevelParallel(open func() (Source, error), level, strips int) (*Region, error) {
	if strips < 1 {
		return nil, fmt.Errorf("strips must be at least 1, got %d", strips)
	}

	src, err := open()
	if err != nil {
		return nil, err
	}
	dims, err := src.Dimensions(level)
	if err != nil {
		src.Close()
		return nil, err
	}
	ds, err := src.Downsample(level)
	src.Close()
	if err != nil {
		return nil, err
	}

	if strips > dims.Width {
		strips = dims.Width
	}
	stripWidth := dims.Width / strips

	out := NewRegion(dims.Width, dims.Height, 0)
	errs := make([]error, strips)

	var wg sync.WaitGroup
	for i := 0; i < strips; i++ {
		lx := i * stripWidth
		w := stripWidth
		if i == strips-1 {
			w = dims.Width - lx
		}

		wg.Add(1)
		go func(i, lx, w int) {
			defer wg.Done()

			h, err := open()
			if err != nil {
				errs[i] = err
				return
			}
			defer h.Close()

			strip, err := h.ReadRegion(image.Point{X: toLevel0(lx, ds)}, Size{Width: w, Height: dims.Height}, level)
			if err != nil {
				errs[i] = fmt.Errorf("strip %d: %w", i, err)
				return
			}
			// Strips cover disjoint columns of out.
			for y := 0; y < dims.Height; y++ {
				copy(out.Pix[(y*dims.Width+lx)*Channels:(y*dims.Width+lx+w)*Channels],
					strip.Pix[y*w*Channels:(y+1)*w*Channels])
			}
		}(i, lx, w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// toLevel0 returns the smallest level-0 coordinate that maps back to level
// coordinate l under floor(x / ds).
func toLevel0(l int, ds float64) int {
	return int(math.Ceil(float64(l) * ds))
}
