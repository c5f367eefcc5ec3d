// Package foreground decides whether a slide tile contains tissue.
//
// The decision is a single statistic: the population variance of every sample
// in the tile, flattened across channels and space, compared against a fixed
// threshold. Background glass is nearly uniform, so its variance is close to
// zero; stained tissue is not.
package foreground

import (
	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/wsi-tools-mcp/internal/pyramid"
)

// DefaultThreshold is the variance above which a tile counts as tissue.
const DefaultThreshold = 80.0

// Classifier decides whether a tile is foreground. Implementations must be
// pure: the same pixels and threshold always give the same answer.
type Classifier func(tile *pyramid.Region, threshold float64) bool

// Variance returns the population variance of all samples in the tile.
// An empty tile has variance 0.
func Variance(tile *pyramid.Region) float64 {
	if tile == nil || len(tile.Pix) == 0 {
		return 0
	}
	samples := make([]float64, len(tile.Pix))
	for i, v := range tile.Pix {
		samples[i] = float64(v)
	}
	return stat.PopVariance(samples, nil)
}

// Classify reports whether the variance of tile strictly exceeds threshold.
// A uniform tile is always background.
func Classify(tile *pyramid.Region, threshold float64) bool {
	return Variance(tile) > threshold
}
