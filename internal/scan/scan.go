// Package scan runs the tiled foreground scan over a slide.
//
// The level-0 image is covered by a grid of fixed-size patches. The grid is
// split into contiguous chunks, one task per chunk, evaluated on an Executor.
// Each task opens its own slide handle, reads every patch of its chunk at a
// reduced pyramid level, classifies it, and returns the accepted origins.
// Chunk results are merged into one accepted set as they complete.
//
// A scan either returns a complete accepted set with a nil error, or returns
// an error together with a result flagged incomplete. Failed chunks are never
// silently dropped.
package scan

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/ironsheep/wsi-tools-mcp/internal/foreground"
	"github.com/ironsheep/wsi-tools-mcp/internal/pyramid"
	"github.com/ironsheep/wsi-tools-mcp/internal/taskgraph"
	"github.com/ironsheep/wsi-tools-mcp/internal/tiles"
)

// Opener opens a fresh slide handle. Each chunk task calls it once per attempt.
type Opener interface {
	Open() (pyramid.Source, error)
}

// OpenFunc adapts a function to Opener.
type OpenFunc func() (pyramid.Source, error)

// Open calls f.
func (f OpenFunc) Open() (pyramid.Source, error) { return f() }

// Params controls a scan.
type Params struct {
	// PatchSize is the grid stride and tile side in level-0 pixels.
	PatchSize int `json:"patch_size"`

	// Chunks is the number of work units the grid is split into.
	Chunks int `json:"chunks"`

	// Level is the pyramid level tiles are read at; -1 picks one automatically.
	Level int `json:"level"`

	// Threshold is the variance above which a tile is foreground.
	Threshold float64 `json:"threshold"`

	// Retries is how many extra attempts a failing chunk gets.
	Retries int `json:"retries"`

	// MinReadSide is the smallest per-tile read side automatic level
	// selection will accept.
	MinReadSide int `json:"min_read_side"`

	// ContinueOnFailure keeps dispatching chunks after one has failed. By
	// default the scan stops dispatching at the first failure.
	ContinueOnFailure bool `json:"continue_on_failure"`

	// Classifier overrides foreground.Classify.
	Classifier foreground.Classifier `json:"-"`
}

// DefaultParams returns 164 pixel patches in 32 chunks, automatic level
// selection, threshold 80, no retries and a 16 pixel minimum read side.
func DefaultParams() Params {
	return Params{
		PatchSize:   164,
		Chunks:      32,
		Level:       -1,
		Threshold:   foreground.DefaultThreshold,
		Retries:     0,
		MinReadSide: 16,
	}
}

func (p Params) validate() error {
	switch {
	case p.PatchSize <= 0:
		return fmt.Errorf("%w: patch size %d", ErrInvalidParams, p.PatchSize)
	case p.Chunks < 1:
		return fmt.Errorf("%w: chunk count %d", ErrInvalidParams, p.Chunks)
	case p.Retries < 0:
		return fmt.Errorf("%w: retries %d", ErrInvalidParams, p.Retries)
	case p.Level < -1:
		return fmt.Errorf("%w: level %d", ErrInvalidParams, p.Level)
	}
	return nil
}

// ChunkStatus is the final state of one chunk.
type ChunkStatus string

const (
	// ChunkOK means the chunk succeeded on its first attempt.
	ChunkOK ChunkStatus = "ok"
	// ChunkRetried means the chunk succeeded after at least one failed attempt.
	ChunkRetried ChunkStatus = "retried"
	// ChunkFailed means every attempt failed.
	ChunkFailed ChunkStatus = "failed"
	// ChunkCanceled means the chunk did not finish before the scan stopped.
	ChunkCanceled ChunkStatus = "canceled"
)

// ChunkReport records how one chunk was processed.
type ChunkReport struct {
	Chunk    int         `json:"chunk"`
	Tiles    int         `json:"tiles"`
	Accepted int         `json:"accepted"`
	Attempts int         `json:"attempts"`
	Status   ChunkStatus `json:"status"`
	Error    string      `json:"error,omitempty"`
}

// Result is the outcome of a scan.
type Result struct {
	// Level0 is the full-resolution slide size.
	Level0 pyramid.Size `json:"level0"`

	// Level is the pyramid level tiles were read at.
	Level int `json:"level"`

	// Downsample is the factor of Level relative to level 0.
	Downsample float64 `json:"downsample"`

	// PatchSize is the tile side in level-0 pixels.
	PatchSize int `json:"patch_size"`

	// ReadSize is the tile side in Level pixels.
	ReadSize int `json:"read_size"`

	// Threshold is the variance threshold used.
	Threshold float64 `json:"threshold"`

	// Tiles is the number of tiles scheduled.
	Tiles int `json:"tiles"`

	// Accepted holds the foreground tile origins, sorted row-major.
	Accepted tiles.List `json:"accepted"`

	// Chunks reports every chunk in chunk order.
	Chunks []ChunkReport `json:"chunks"`

	// Complete is true only when every chunk succeeded.
	Complete bool `json:"complete"`

	// Duration is the wall time of the scan.
	Duration time.Duration `json:"duration_ns"`
}

// Retried returns the indices of chunks that needed more than one attempt
// and then succeeded.
func (r *Result) Retried() []int {
	return r.chunksWith(ChunkRetried)
}

// Failed returns the indices of chunks that exhausted their attempts.
func (r *Result) Failed() []int {
	return r.chunksWith(ChunkFailed)
}

func (r *Result) chunksWith(s ChunkStatus) []int {
	var out []int
	for _, c := range r.Chunks {
		if c.Status == s {
			out = append(out, c.Chunk)
		}
	}
	return out
}

// ChooseLevel returns the coarsest level whose per-tile read side is still at
// least minSide pixels, or 0 when none qualifies.
func ChooseLevel(src pyramid.Source, patch, minSide int) (int, error) {
	for l := src.LevelCount() - 1; l > 0; l-- {
		ds, err := src.Downsample(l)
		if err != nil {
			return 0, err
		}
		if tiles.ReadSize(patch, ds) >= minSide {
			return l, nil
		}
	}
	return 0, nil
}

// Scan runs a foreground scan of the whole slide.
//
// On success the result is complete and err is nil. On a failed chunk err is
// a *ScanError; on cancellation err wraps ErrCanceled and the context error.
// In both cases the returned result is non-nil, holds every chunk that did
// finish, and has Complete set to false. An invalid level fails before any
// chunk is dispatched and returns a nil result.
func Scan(ctx context.Context, exec *Executor, opener Opener, p Params) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	src, err := opener.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open slide: %w", err)
	}
	dims, err := src.Dimensions(0)
	if err != nil {
		src.Close()
		return nil, err
	}
	level := p.Level
	if level < 0 {
		level, err = ChooseLevel(src, p.PatchSize, p.MinReadSide)
		if err != nil {
			src.Close()
			return nil, err
		}
	}
	ds, err := src.Downsample(level)
	src.Close()
	if err != nil {
		return nil, err
	}

	grid, err := tiles.Grid(dims.Width, dims.Height, p.PatchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	return run(ctx, exec, opener, grid, dims, level, ds, p.PatchSize, p)
}

// ScanCoords classifies an explicit list of tile origins, each tile side
// level-0 pixels, read at level. It is used for refinement passes over the
// sub-tiles of accepted patches.
func ScanCoords(ctx context.Context, exec *Executor, opener Opener, coords tiles.List, side, level int, p Params) (*Result, error) {
	if side <= 0 {
		return nil, fmt.Errorf("%w: tile side %d", ErrInvalidParams, side)
	}
	p.PatchSize = side
	if err := p.validate(); err != nil {
		return nil, err
	}
	if level < 0 {
		return nil, fmt.Errorf("%w: level %d", ErrInvalidParams, level)
	}

	src, err := opener.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open slide: %w", err)
	}
	dims, err := src.Dimensions(0)
	if err != nil {
		src.Close()
		return nil, err
	}
	ds, err := src.Downsample(level)
	src.Close()
	if err != nil {
		return nil, err
	}

	return run(ctx, exec, opener, coords, dims, level, ds, side, p)
}

type chunkResult struct {
	accepted []tiles.Coord
	attempts int
}

func run(ctx context.Context, exec *Executor, opener Opener, coords tiles.List, dims pyramid.Size, level int, ds float64, side int, p Params) (*Result, error) {
	start := time.Now()
	classify := p.Classifier
	if classify == nil {
		classify = foreground.Classify
	}
	readSize := tiles.ReadSize(side, ds)

	chunks, err := tiles.Chunk(coords, p.Chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	res := &Result{
		Level0:     dims,
		Level:      level,
		Downsample: ds,
		PatchSize:  side,
		ReadSize:   readSize,
		Threshold:  p.Threshold,
		Tiles:      coords.Len(),
		Chunks:     make([]ChunkReport, len(chunks)),
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g := taskgraph.New()
	index := make(map[string]int, len(chunks))
	for i, chunk := range chunks {
		i, chunk := i, chunk
		id := fmt.Sprintf("chunk-%d", i)
		index[id] = i
		res.Chunks[i] = ChunkReport{Chunk: i, Tiles: len(chunk)}

		task := func(ctx context.Context, _ map[string]any) (any, error) {
			return processWithRetry(ctx, exec, opener, i, chunk, level, readSize, p.Threshold, classify, p.Retries)
		}
		if err := g.Add(id, task); err != nil {
			return nil, err
		}
	}

	exec.log.Info().
		Int("tiles", coords.Len()).
		Int("chunks", len(chunks)).
		Int("level", level).
		Int("read_size", readSize).
		Msg("scan started")

	agg := NewAggregator()
	var failed []*ChunkError
	_, err = exec.run(runCtx, g, func(o taskgraph.Outcome) {
		i := index[o.ID]
		rep := &res.Chunks[i]
		switch o.State {
		case taskgraph.StateDone:
			cr := o.Value.(chunkResult)
			agg.Add(i, cr.accepted)
			rep.Accepted = len(cr.accepted)
			rep.Attempts = cr.attempts
			rep.Status = ChunkOK
			if cr.attempts > 1 {
				rep.Status = ChunkRetried
			}
		default:
			var ce *ChunkError
			if errors.As(o.Err, &ce) {
				rep.Attempts = ce.Attempts
				rep.Status = ChunkFailed
				rep.Error = ce.Err.Error()
				failed = append(failed, ce)
				exec.log.Error().Err(ce.Err).Int("chunk", i).Int("attempts", ce.Attempts).Msg("chunk failed")
				if !p.ContinueOnFailure {
					stop()
				}
				return
			}
			rep.Status = ChunkCanceled
			if o.Err != nil {
				rep.Error = o.Err.Error()
			}
		}
	})
	if err != nil {
		return nil, err
	}

	res.Accepted = agg.Coords()
	res.Duration = time.Since(start)

	if len(failed) > 0 {
		return res, &ScanError{Failed: failed}
	}
	if unfinished := len(chunks) - agg.Merged(); unfinished > 0 {
		cause := ctx.Err()
		if cause == nil {
			cause = context.Canceled
		}
		exec.log.Warn().Int("unfinished", unfinished).Msg("scan canceled")
		return res, fmt.Errorf("%w: %d of %d chunks unfinished: %w", ErrCanceled, unfinished, len(chunks), cause)
	}

	res.Complete = true
	exec.log.Info().
		Int("accepted", len(res.Accepted)).
		Int("retried", len(res.Retried())).
		Dur("duration", res.Duration).
		Msg("scan finished")
	return res, nil
}

// processWithRetry runs one chunk up to 1+retries times. It returns the
// context error unwrapped when the scan is stopping, and a *ChunkError once
// attempts are exhausted. Invalid levels are not retried.
func processWithRetry(ctx context.Context, exec *Executor, opener Opener, chunk int, coords tiles.List, level, readSize int, threshold float64, classify foreground.Classifier, retries int) (chunkResult, error) {
	var lastErr error
	attempts := 0
	for attempts <= retries {
		attempts++
		accepted, err := processChunk(ctx, opener, coords, level, readSize, threshold, classify)
		if err == nil {
			exec.log.Debug().Int("chunk", chunk).Int("accepted", len(accepted)).Int("attempt", attempts).Msg("chunk finished")
			return chunkResult{accepted: accepted, attempts: attempts}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return chunkResult{}, ctxErr
		}
		lastErr = err
		if errors.Is(err, pyramid.ErrInvalidLevel) {
			break
		}
		if attempts <= retries {
			exec.log.Warn().Err(err).Int("chunk", chunk).Int("attempt", attempts).Msg("chunk attempt failed, retrying")
		}
	}
	return chunkResult{}, &ChunkError{Chunk: chunk, Attempts: attempts, Err: lastErr}
}

// processChunk opens a private handle and classifies every tile of coords.
func processChunk(ctx context.Context, opener Opener, coords tiles.List, level, readSize int, threshold float64, classify foreground.Classifier) ([]tiles.Coord, error) {
	src, err := opener.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open slide: %w", err)
	}
	defer src.Close()

	size := pyramid.Size{Width: readSize, Height: readSize}
	var accepted []tiles.Coord
	it := coords.Iterator()
	for c, ok := it.Next(); ok; c, ok = it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		region, err := src.ReadRegion(image.Point{X: c.X, Y: c.Y}, size, level)
		if err != nil {
			return nil, fmt.Errorf("tile (%d,%d): %w", c.X, c.Y, err)
		}
		if classify(region, threshold) {
			accepted = append(accepted, c)
		}
	}
	return accepted, nil
}
