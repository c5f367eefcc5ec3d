package pyramid

import (
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
)

// Backend names reported by Slide.Backend.
const (
	BackendGenerated = "generated"
	BackendLevelDir  = "level-dir"
)

// Options controls how a slide is decoded and read.
type Options struct {
	// PadValue fills pixels of partially out-of-bounds reads.
	PadValue uint8

	// MaxLevels caps the number of generated levels (including level 0).
	MaxLevels int

	// MinLevelSide stops level generation once the shorter side of the next
	// level would fall below this many pixels.
	MinLevelSide int

	// Cache holds decoded levels between opens. Nil disables caching.
	Cache *Cache
}

// DefaultOptions returns white padding, up to 8 levels, a 64 pixel floor and
// no cache.
func DefaultOptions() Options {
	return Options{
		PadValue:     255,
		MaxLevels:    8,
		MinLevelSide: 64,
	}
}

// Opener holds everything needed to open a fresh handle on one slide. It is a
// plain value and may be copied to any number of workers.
type Opener struct {
	Path    string
	Options Options
}

// NewOpener returns an Opener for path.
func NewOpener(path string, opts Options) Opener {
	return Opener{Path: path, Options: opts}
}

// Open opens a new handle.
func (o Opener) Open() (Source, error) {
	return Open(o.Path, o.Options)
}

// Open opens the slide at path. A directory is read as a level directory; a
// file is decoded and its coarser levels are generated.
func Open(path string, opts Options) (*Slide, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open slide: %w", err)
	}

	build := func() (*levelSet, error) {
		if stat.IsDir() {
			return loadLevelDir(path)
		}
		return loadGenerated(path, opts.MaxLevels, opts.MinLevelSide)
	}

	var set *levelSet
	if opts.Cache != nil {
		key := cacheKey{path: path, maxLevels: opts.MaxLevels, minLevelSide: opts.MinLevelSide}
		set, err = opts.Cache.load(key, build)
	} else {
		set, err = build()
	}
	if err != nil {
		return nil, err
	}

	return &Slide{path: path, set: set, pad: opts.PadValue}, nil
}

// FromImage builds a generated pyramid from an in-memory image. It is useful
// for synthetic slides and tests.
func FromImage(img image.Image, opts Options) (*Slide, error) {
	set, err := newLevelSet(BackendGenerated, nil, generateLevels(imaging.Clone(img), opts.MaxLevels, opts.MinLevelSide))
	if err != nil {
		return nil, err
	}
	return &Slide{path: "", set: set, pad: opts.PadValue}, nil
}

func loadGenerated(path string, maxLevels, minSide int) (*levelSet, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return newLevelSet(BackendGenerated, []string{path}, generateLevels(img, maxLevels, minSide))
}

// generateLevels halves base repeatedly with a box filter.
func generateLevels(base *image.NRGBA, maxLevels, minSide int) []*image.NRGBA {
	if maxLevels < 1 {
		maxLevels = 1
	}
	levels := []*image.NRGBA{base}
	cur := base
	for len(levels) < maxLevels {
		w := cur.Bounds().Dx() / 2
		h := cur.Bounds().Dy() / 2
		if w < 1 || h < 1 || w < minSide || h < minSide {
			break
		}
		cur = imaging.Resize(cur, w, h, imaging.Box)
		levels = append(levels, cur)
	}
	return levels
}

var levelExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".tif": true, ".tiff": true,
}

// loadLevelDir reads level_<N>.<ext> files. Levels must be numbered
// contiguously from 0.
func loadLevelDir(dir string) (*levelSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read level directory: %w", err)
	}

	byLevel := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !levelExts[ext] || !strings.HasPrefix(name, "level_") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "level_"), filepath.Ext(name)))
		if err != nil || n < 0 {
			continue
		}
		if prev, dup := byLevel[n]; dup {
			return nil, fmt.Errorf("level %d stored twice: %s and %s", n, prev, name)
		}
		byLevel[n] = filepath.Join(dir, name)
	}
	if len(byLevel) == 0 {
		return nil, fmt.Errorf("no level_<N> images in %s", dir)
	}

	nums := make([]int, 0, len(byLevel))
	for n := range byLevel {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	files := make([]string, 0, len(nums))
	levels := make([]*image.NRGBA, 0, len(nums))
	for i, n := range nums {
		if n != i {
			return nil, fmt.Errorf("level directory %s is missing level %d", dir, i)
		}
		img, err := decodeFile(byLevel[n])
		if err != nil {
			return nil, err
		}
		files = append(files, byLevel[n])
		levels = append(levels, img)
	}

	return newLevelSet(BackendLevelDir, files, levels)
}

func decodeFile(path string) (*image.NRGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return imaging.Clone(img), nil
}
