package pyramid

import (
	"fmt"
	"image"
	"math"
)

// levelSet is the immutable decoded content of one slide.
type levelSet struct {
	backend    string
	files      []string
	levels     []*image.NRGBA
	downsample []float64
}

func newLevelSet(backend string, files []string, levels []*image.NRGBA) (*levelSet, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("slide has no levels")
	}
	b0 := levels[0].Bounds()
	if b0.Empty() {
		return nil, fmt.Errorf("level 0 is empty")
	}

	ds := make([]float64, len(levels))
	ds[0] = 1
	for i := 1; i < len(levels); i++ {
		b := levels[i].Bounds()
		if b.Empty() {
			return nil, fmt.Errorf("level %d is empty", i)
		}
		// Average of the two axis ratios.
		f := (float64(b0.Dx())/float64(b.Dx()) + float64(b0.Dy())/float64(b.Dy())) / 2
		if f < ds[i-1] {
			return nil, fmt.Errorf("level %d downsample %.3f is below level %d downsample %.3f", i, f, i-1, ds[i-1])
		}
		ds[i] = f
	}

	return &levelSet{
		backend:    backend,
		files:      files,
		levels:     levels,
		downsample: ds,
	}, nil
}

// Slide is an open handle on a pyramid. It implements Source.
//
// A Slide is not safe for concurrent use; open one handle per goroutine.
type Slide struct {
	path   string
	set    *levelSet
	pad    uint8
	closed bool
}

// Path returns the path the slide was opened from.
func (s *Slide) Path() string { return s.path }

// Backend returns the name of the backend that decoded the slide.
func (s *Slide) Backend() string { return s.set.backend }

// LevelCount returns the number of levels in the pyramid.
func (s *Slide) LevelCount() int { return len(s.set.levels) }

// Dimensions returns the pixel size of a level.
func (s *Slide) Dimensions(level int) (Size, error) {
	if err := s.check(level); err != nil {
		return Size{}, err
	}
	b := s.set.levels[level].Bounds()
	return Size{Width: b.Dx(), Height: b.Dy()}, nil
}

// Downsample returns the factor between level 0 and the given level.
func (s *Slide) Downsample(level int) (float64, error) {
	if err := s.check(level); err != nil {
		return 0, err
	}
	return s.set.downsample[level], nil
}

// ReadRegion extracts a region of size pixels at the given level.
//
// loc is in level-0 coordinates and is converted to level coordinates with
// floor(loc / downsample). Pixels falling outside the level are filled with the
// pad value. The read fails with ErrOutOfBounds only when no pixel of the
// request overlaps the level.
func (s *Slide) ReadRegion(loc image.Point, size Size, level int) (*Region, error) {
	if err := s.check(level); err != nil {
		return nil, err
	}
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, size.Width, size.Height)
	}

	img := s.set.levels[level]
	ds := s.set.downsample[level]
	lx := int(math.Floor(float64(loc.X) / ds))
	ly := int(math.Floor(float64(loc.Y) / ds))

	want := image.Rect(lx, ly, lx+size.Width, ly+size.Height)
	overlap := want.Intersect(img.Bounds())
	if overlap.Empty() {
		return nil, fmt.Errorf("%w: %v at level %d outside %v", ErrOutOfBounds, want, level, img.Bounds())
	}

	region := NewRegion(size.Width, size.Height, s.pad)
	n := overlap.Dx()
	for y := overlap.Min.Y; y < overlap.Max.Y; y++ {
		src := img.Pix[img.PixOffset(overlap.Min.X, y):]
		dst := region.Pix[((y-ly)*size.Width+(overlap.Min.X-lx))*Channels:]
		for x := 0; x < n; x++ {
			dst[x*Channels] = src[x*4]
			dst[x*Channels+1] = src[x*4+1]
			dst[x*Channels+2] = src[x*4+2]
		}
	}

	return region, nil
}

// Thumbnail returns a whole level as an image. The returned image shares
// memory with the cached level and must not be modified.
func (s *Slide) Thumbnail(level int) (*image.NRGBA, error) {
	if err := s.check(level); err != nil {
		return nil, err
	}
	return s.set.levels[level], nil
}

// Close releases the handle. Cached level data stays in its Cache.
func (s *Slide) Close() error {
	s.closed = true
	return nil
}

func (s *Slide) check(level int) error {
	if s.closed {
		return ErrClosed
	}
	if level < 0 || level >= len(s.set.levels) {
		return fmt.Errorf("%w: %d (slide has %d levels)", ErrInvalidLevel, level, len(s.set.levels))
	}
	return nil
}
