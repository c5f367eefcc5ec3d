package pyramid

import (
	"errors"
	"image"
)

var (
	// ErrInvalidLevel is returned when a level outside [0, LevelCount()) is requested.
	ErrInvalidLevel = errors.New("invalid pyramid level")

	// ErrOutOfBounds is returned when a read request lies entirely outside the level.
	ErrOutOfBounds = errors.New("region out of bounds")

	// ErrInvalidSize is returned for reads with a non-positive width or height.
	ErrInvalidSize = errors.New("invalid region size")

	// ErrClosed is returned by every method of a handle after Close.
	ErrClosed = errors.New("slide handle closed")
)

// Size is a width and height in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Source is a multi-resolution image.
//
// Implementations must report LevelCount() >= 1 and Downsample(0) == 1, with
// downsample factors non-decreasing in level.
type Source interface {
	// LevelCount returns the number of levels in the pyramid.
	LevelCount() int

	// Dimensions returns the pixel size of a level.
	Dimensions(level int) (Size, error)

	// Downsample returns the factor between level 0 and the given level.
	Downsample(level int) (float64, error)

	// ReadRegion extracts size pixels at the given level, starting from loc
	// expressed in level-0 coordinates.
	ReadRegion(loc image.Point, size Size, level int) (*Region, error)

	// Close releases the handle.
	Close() error
}
