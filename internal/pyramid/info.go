package pyramid

import (
	"fmt"
	"os"
)

// LevelInfo describes one pyramid level.
type LevelInfo struct {
	Level      int     `json:"level"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Downsample float64 `json:"downsample"`
}

// Info contains metadata about an opened slide.
type Info struct {
	// Path is the file or directory the slide was opened from.
	Path string `json:"path"`

	// Backend is "generated" or "level-dir".
	Backend string `json:"backend"`

	// LevelCount is the number of levels, always at least 1.
	LevelCount int `json:"level_count"`

	// Levels lists dimensions and downsample factor per level, finest first.
	Levels []LevelInfo `json:"levels"`

	// FileSizeBytes is the total on-disk size of the decoded files.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// Describe returns metadata about an open slide.
func Describe(s *Slide) (*Info, error) {
	levels, err := Levels(s)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, f := range s.set.files {
		stat, err := os.Stat(f)
		if err != nil {
			return nil, fmt.Errorf("failed to stat file: %w", err)
		}
		total += stat.Size()
	}

	return &Info{
		Path:          s.path,
		Backend:       s.Backend(),
		LevelCount:    s.LevelCount(),
		Levels:        levels,
		FileSizeBytes: total,
	}, nil
}

// Levels lists the dimensions and downsample factor of every level of src.
func Levels(src Source) ([]LevelInfo, error) {
	out := make([]LevelInfo, 0, src.LevelCount())
	for l := 0; l < src.LevelCount(); l++ {
		dims, err := src.Dimensions(l)
		if err != nil {
			return nil, err
		}
		ds, err := src.Downsample(l)
		if err != nil {
			return nil, err
		}
		out = append(out, LevelInfo{Level: l, Width: dims.Width, Height: dims.Height, Downsample: ds})
	}
	return out, nil
}
