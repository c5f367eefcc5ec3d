// Package neighbors builds k-nearest-neighbour graphs over point sets such as
// accepted tile origins or nucleus centroids, and computes core numbers on
// them.
package neighbors

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/ironsheep/wsi-tools-mcp/internal/tiles"
)

const (
	// DefaultNeighbors is the number of neighbours linked per vertex.
	DefaultNeighbors = 4
)

// ErrInvalidK is returned when k is below 1.
var ErrInvalidK = errors.New("neighbour count must be at least 1")

// Point is a vertex position.
type Point struct {
	X, Y float64
}

// Node is one row of the node table.
type Node struct {
	Vertex int     `json:"vertex"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Edge is one row of the edge table. Source is always below Target.
type Edge struct {
	Source   int     `json:"source"`
	Target   int     `json:"target"`
	Distance float64 `json:"distance"`
}

// Graph is an undirected kNN graph with its node and edge tables.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`

	g *simple.WeightedUndirectedGraph
}

// Build links each point to its k nearest other points by Euclidean distance.
// When maxDistance > 0, edges of length maxDistance or more are dropped.
// Vertex i is points[i]; an edge found from both ends is kept once.
func Build(points []Point, k int, maxDistance float64) (*Graph, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}

	out := &Graph{
		Nodes: make([]Node, len(points)),
		g:     simple.NewWeightedUndirectedGraph(0, math.Inf(1)),
	}
	for i, p := range points {
		out.Nodes[i] = Node{Vertex: i, X: p.X, Y: p.Y}
		out.g.AddNode(simple.Node(i))
	}
	if len(points) < 2 {
		return out, nil
	}

	pts := make(indexedPoints, len(points))
	for i, p := range points {
		pts[i] = indexedPoint{Point: p, idx: i}
	}
	tree := kdtree.New(append(indexedPoints(nil), pts...), false)

	type pair struct{ a, b int }
	seen := make(map[pair]bool)
	for _, q := range pts {
		// The query point itself is among the results, so ask for one more.
		keeper := kdtree.NewNKeeper(k + 1)
		tree.NearestSet(keeper, q)

		for _, item := range keeper.Heap {
			if item.Comparable == nil {
				continue
			}
			nb := item.Comparable.(indexedPoint)
			if nb.idx == q.idx {
				continue
			}
			d := math.Sqrt(item.Dist)
			if maxDistance > 0 && d >= maxDistance {
				continue
			}
			a, b := q.idx, nb.idx
			if a > b {
				a, b = b, a
			}
			if seen[pair{a, b}] {
				continue
			}
			seen[pair{a, b}] = true
			out.Edges = append(out.Edges, Edge{Source: a, Target: b, Distance: d})
			out.g.SetWeightedEdge(out.g.NewWeightedEdge(simple.Node(a), simple.Node(b), d))
		}
	}

	sort.Slice(out.Edges, func(i, j int) bool {
		if out.Edges[i].Source != out.Edges[j].Source {
			return out.Edges[i].Source < out.Edges[j].Source
		}
		return out.Edges[i].Target < out.Edges[j].Target
	})
	return out, nil
}

// Degree returns the number of edges incident to vertex v.
func (g *Graph) Degree(v int) int {
	return g.g.From(int64(v)).Len()
}

// CoreNumbers returns the core number of every vertex: the largest k such
// that the vertex belongs to a subgraph in which every vertex has degree at
// least k. Isolated vertices have core number 0.
func (g *Graph) CoreNumbers() []int {
	cores := make([]int, len(g.Nodes))
	for k := 1; ; k++ {
		members := topo.KCore(k, g.g)
		if len(members) == 0 {
			break
		}
		for _, n := range members {
			cores[n.ID()] = k
		}
	}
	return cores
}

// MeanCoreNumber averages CoreNumbers, or returns 0 for an empty graph.
func (g *Graph) MeanCoreNumber() float64 {
	cores := g.CoreNumbers()
	if len(cores) == 0 {
		return 0
	}
	sum := 0
	for _, c := range cores {
		sum += c
	}
	return float64(sum) / float64(len(cores))
}

// Undirected exposes the underlying gonum graph.
func (g *Graph) Undirected() graph.WeightedUndirected { return g.g }

type indexedPoint struct {
	Point
	idx int
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

func (p indexedPoint) Dims() int { return 2 }

// Distance returns the squared Euclidean distance.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{indexedPoints: p, Dim: d}, kdtree.MedianOfMedians(pointPlane{indexedPoints: p, Dim: d}))
}

type pointPlane struct {
	indexedPoints
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.indexedPoints[i].X < p.indexedPoints[j].X
	case 1:
		return p.indexedPoints[i].Y < p.indexedPoints[j].Y
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{indexedPoints: p.indexedPoints[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

// TileGraph builds the kNN graph over tile origins, vertex i being coords.At(i).
func TileGraph(coords tiles.Sequence, k int, maxDistance float64) (*Graph, error) {
	points := make([]Point, coords.Len())
	for i := range points {
		c := coords.At(i)
		points[i] = Point{X: float64(c.X), Y: float64(c.Y)}
	}
	return Build(points, k, maxDistance)
}
