package neighbors

import (
	"image"
	"sort"
)

// Instance is one detected nucleus within a tile, centroid in tile pixels.
type Instance struct {
	Centroid Point `json:"centroid"`
	Type     int   `json:"type"`
}

// Nucleus is a nucleus centroid placed in region-of-interest space.
type Nucleus struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Type int `json:"type"`
}

// Translate places per-tile instances into ROI space: each centroid is shifted
// by the tile's level-0 location minus the ROI origin and truncated to whole
// pixels.
func Translate(instances []Instance, tile, roi image.Point) []Nucleus {
	out := make([]Nucleus, len(instances))
	offX := float64(tile.X - roi.X)
	offY := float64(tile.Y - roi.Y)
	for i, in := range instances {
		out[i] = Nucleus{
			X:    int(in.Centroid.X + offX),
			Y:    int(in.Centroid.Y + offY),
			Type: in.Type,
		}
	}
	return out
}

// TypeMetric is the core-number summary of one nucleus type.
type TypeMetric struct {
	Type           int     `json:"type"`
	Count          int     `json:"count"`
	Edges          int     `json:"edges"`
	MeanCoreNumber float64 `json:"mean_core_number"`
}

// MeanCoreByType groups nuclei by type, builds the kNN graph of each group's
// centroids and reports its mean core number. Results are sorted by type.
func MeanCoreByType(nuclei []Nucleus, k int, maxDistance float64) ([]TypeMetric, error) {
	groups := make(map[int][]Point)
	for _, n := range nuclei {
		groups[n.Type] = append(groups[n.Type], Point{X: float64(n.X), Y: float64(n.Y)})
	}

	types := make([]int, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Ints(types)

	out := make([]TypeMetric, 0, len(types))
	for _, t := range types {
		g, err := Build(groups[t], k, maxDistance)
		if err != nil {
			return nil, err
		}
		out = append(out, TypeMetric{
			Type:           t,
			Count:          len(groups[t]),
			Edges:          len(g.Edges),
			MeanCoreNumber: g.MeanCoreNumber(),
		})
	}
	return out, nil
}
