package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/ironsheep/wsi-tools-mcp/internal/mask"
	"github.com/ironsheep/wsi-tools-mcp/internal/neighbors"
	"github.com/ironsheep/wsi-tools-mcp/internal/pyramid"
	"github.com/ironsheep/wsi-tools-mcp/internal/scan"
	"github.com/ironsheep/wsi-tools-mcp/internal/store"
	"github.com/ironsheep/wsi-tools-mcp/internal/tiles"
)

// errNoStore is returned by persistence tools when no store is configured.
var errNoStore = errors.New("results store not configured (set store.path)")

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "slide_open", "slide_scan").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Arguments failing the tool's input schema return code -32602. Tool
// execution errors return code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, codeInvalidParams, "Invalid params", err.Error())
	}
	if err := s.validateArguments(params.Name, params.Arguments); err != nil {
		return s.errorResponse(req.ID, codeInvalidParams, "Invalid params", err.Error())
	}

	start := time.Now()
	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Warn().Err(err).Str("tool", params.Name).Msg("tool failed")
		return s.errorResponse(req.ID, codeToolFailed, "Tool execution failed", err.Error())
	}
	s.log.Debug().Str("tool", params.Name).Dur("elapsed", time.Since(start)).Msg("tool finished")

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	switch name {
	// Slide Information
	case "slide_open":
		return s.handleSlideOpen(args)
	case "slide_read_region":
		return s.handleSlideReadRegion(args)
	case "slide_time_level":
		return s.handleSlideTimeLevel(args)

	// Foreground Scan
	case "slide_scan":
		return s.handleSlideScan(ctx, args)
	case "slide_refine":
		return s.handleSlideRefine(ctx, args)

	// Mask and Graph Output
	case "slide_mask":
		return s.handleSlideMask(args)
	case "slide_tile_graph":
		return s.handleSlideTileGraph(args)
	case "slide_nucleus_metrics":
		return s.handleSlideNucleusMetrics(args)

	// Persistence
	case "slide_export_tiles":
		return s.handleSlideExportTiles(args)
	case "slide_scan_history":
		return s.handleSlideScanHistory(ctx, args)
	case "slide_scan_load":
		return s.handleSlideScanLoad(ctx, args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// === Slide Information Handlers ===

type slidePathArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleSlideOpen(args json.RawMessage) (interface{}, error) {
	var a slidePathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	slide, err := s.openSlide(a.Path)
	if err != nil {
		return nil, err
	}
	defer slide.Close()
	return pyramid.Describe(slide)
}

type slideReadRegionArgs struct {
	Path   string `json:"path"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Level  int    `json:"level"`
}

// RegionResult is a region read returned as PNG.
type RegionResult struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Level int `json:"level"`
	*mask.EncodedImage
}

func (s *Server) handleSlideReadRegion(args json.RawMessage) (interface{}, error) {
	var a slideReadRegionArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	slide, err := s.openSlide(a.Path)
	if err != nil {
		return nil, err
	}
	defer slide.Close()

	region, err := slide.ReadRegion(image.Point{X: a.X, Y: a.Y}, pyramid.Size{Width: a.Width, Height: a.Height}, a.Level)
	if err != nil {
		return nil, err
	}
	enc, err := mask.EncodePNG(region.Image())
	if err != nil {
		return nil, err
	}
	return &RegionResult{X: a.X, Y: a.Y, Level: a.Level, EncodedImage: enc}, nil
}

type slideTimeLevelArgs struct {
	Path   string `json:"path"`
	Level  int    `json:"level"`
	Strips int    `json:"strips"`
}

// TimingResult reports level read times.
type TimingResult struct {
	Level        int          `json:"level"`
	Dimensions   pyramid.Size `json:"dimensions"`
	SequentialMs float64      `json:"sequential_ms"`
	Strips       int          `json:"strips"`
	ParallelMs   float64      `json:"parallel_ms,omitempty"`
}

func (s *Server) handleSlideTimeLevel(args json.RawMessage) (interface{}, error) {
	var a slideTimeLevelArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Strips < 1 {
		a.Strips = 1
	}

	slide, err := s.openSlide(a.Path)
	if err != nil {
		return nil, err
	}
	defer slide.Close()

	dims, err := slide.Dimensions(a.Level)
	if err != nil {
		return nil, err
	}
	seq, err := pyramid.TimeLevelRead(slide, a.Level)
	if err != nil {
		return nil, err
	}
	res := &TimingResult{
		Level:        a.Level,
		Dimensions:   dims,
		SequentialMs: milliseconds(seq),
		Strips:       a.Strips,
	}

	if a.Strips > 1 {
		start := time.Now()
		if _, err := pyramid.ReadLevelParallel(s.opener(a.Path).Open, a.Level, a.Strips); err != nil {
			return nil, err
		}
		res.ParallelMs = milliseconds(time.Since(start))
	}
	return res, nil
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// === Foreground Scan Handlers ===

type slideScanArgs struct {
	Path              string   `json:"path"`
	PatchSize         *int     `json:"patch_size"`
	Chunks            *int     `json:"chunks"`
	Level             *int     `json:"level"`
	Threshold         *float64 `json:"threshold"`
	Retries           *int     `json:"retries"`
	ContinueOnFailure *bool    `json:"continue_on_failure"`
}

// ScanSummary describes a stored scan.
type ScanSummary struct {
	ScanID     string             `json:"scan_id"`
	StoreID    int64              `json:"store_id,omitempty"`
	Parent     string             `json:"parent,omitempty"`
	SlidePath  string             `json:"slide_path"`
	Level0     pyramid.Size       `json:"level0"`
	Level      int                `json:"level"`
	Downsample float64            `json:"downsample"`
	PatchSize  int                `json:"patch_size"`
	ReadSize   int                `json:"read_size"`
	Threshold  float64            `json:"threshold"`
	Tiles      int                `json:"tiles"`
	Accepted   tiles.List         `json:"accepted"`
	Chunks     []scan.ChunkReport `json:"chunks"`
	Retried    []int              `json:"retried_chunks,omitempty"`
	DurationMs float64            `json:"duration_ms"`
}

func summarize(e *scanEntry) *ScanSummary {
	r := e.Result
	return &ScanSummary{
		ScanID:     e.ID,
		StoreID:    e.StoreID,
		Parent:     e.Parent,
		SlidePath:  e.SlidePath,
		Level0:     r.Level0,
		Level:      r.Level,
		Downsample: r.Downsample,
		PatchSize:  r.PatchSize,
		ReadSize:   r.ReadSize,
		Threshold:  r.Threshold,
		Tiles:      r.Tiles,
		Accepted:   r.Accepted,
		Chunks:     r.Chunks,
		Retried:    r.Retried(),
		DurationMs: milliseconds(r.Duration),
	}
}

func (s *Server) handleSlideScan(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a slideScanArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}

	p := s.cfg.ScanParams()
	if a.PatchSize != nil {
		p.PatchSize = *a.PatchSize
	}
	if a.Chunks != nil {
		p.Chunks = *a.Chunks
	}
	if a.Level != nil {
		p.Level = *a.Level
	}
	if a.Threshold != nil {
		p.Threshold = *a.Threshold
	}
	if a.Retries != nil {
		p.Retries = *a.Retries
	}
	if a.ContinueOnFailure != nil {
		p.ContinueOnFailure = *a.ContinueOnFailure
	}

	res, err := scan.Scan(ctx, s.exec, s.opener(a.Path), p)
	if err != nil {
		return nil, err
	}
	return s.record(ctx, &scanEntry{SlidePath: a.Path, Params: p, Result: res})
}

// record registers a complete scan and, when a store is configured, saves it.
func (s *Server) record(ctx context.Context, e *scanEntry) (*ScanSummary, error) {
	if s.store != nil {
		id, err := s.store.SaveScan(ctx, e.SlidePath, e.Result)
		if err != nil {
			return nil, fmt.Errorf("scan finished but could not be stored: %w", err)
		}
		e.StoreID = id
	}
	s.addScan(e)
	return summarize(e), nil
}

type slideRefineArgs struct {
	ScanID    string   `json:"scan_id"`
	TileSize  int      `json:"tile_size"`
	Level     int      `json:"level"`
	Threshold *float64 `json:"threshold"`
}

func (s *Server) handleSlideRefine(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a slideRefineArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	parent, err := s.getScan(a.ScanID)
	if err != nil {
		return nil, err
	}

	sub, err := tiles.Refine(parent.Result.Accepted, parent.Result.Level0.Width, parent.Result.Level0.Height, parent.Result.PatchSize, a.TileSize)
	if err != nil {
		return nil, err
	}
	p := parent.Params
	if a.Threshold != nil {
		p.Threshold = *a.Threshold
	}

	res, err := scan.ScanCoords(ctx, s.exec, s.opener(parent.SlidePath), sub, a.TileSize, a.Level, p)
	if err != nil {
		return nil, err
	}
	p.PatchSize = a.TileSize
	p.Level = a.Level
	return s.record(ctx, &scanEntry{SlidePath: parent.SlidePath, Params: p, Result: res, Parent: parent.ID})
}

// === Mask and Graph Handlers ===

type slideMaskArgs struct {
	ScanID       string   `json:"scan_id"`
	DisplayLevel *int     `json:"display_level"`
	Scale        int      `json:"scale"`
	Overlay      *bool    `json:"overlay"`
	ShowGrid     bool     `json:"show_grid"`
	Color        string   `json:"color"`
	Alpha        *float64 `json:"alpha"`
}

// MaskResult is a rendered mask.
type MaskResult struct {
	ScanID       string             `json:"scan_id"`
	DisplayLevel int                `json:"display_level"`
	Rows         int                `json:"rows"`
	Cols         int                `json:"cols"`
	Count        int                `json:"count"`
	Cells        [][]int            `json:"cells"`
	Mask         *mask.EncodedImage `json:"mask"`
	Overlay      *mask.EncodedImage `json:"overlay,omitempty"`
}

func (s *Server) handleSlideMask(args json.RawMessage) (interface{}, error) {
	var a slideMaskArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 4
	}
	e, err := s.getScan(a.ScanID)
	if err != nil {
		return nil, err
	}

	slide, err := s.openSlide(e.SlidePath)
	if err != nil {
		return nil, err
	}
	defer slide.Close()

	level, err := mask.DefaultDisplayLevel(slide, e.Result.PatchSize)
	if err != nil {
		return nil, err
	}
	if a.DisplayLevel != nil && *a.DisplayLevel >= 0 {
		level = *a.DisplayLevel
	}
	m, err := mask.ForLevel(slide, e.Result.Accepted, level, e.Result.PatchSize)
	if err != nil {
		return nil, err
	}
	if err := m.Renderable(); err != nil {
		return nil, fmt.Errorf("display level %d: %w", level, err)
	}

	out := &MaskResult{
		ScanID:       e.ID,
		DisplayLevel: level,
		Rows:         m.Rows(),
		Cols:         m.Cols(),
		Count:        m.Count(),
		Cells:        m.Ints(),
	}
	if out.Mask, err = mask.EncodePNG(m.Image(a.Scale)); err != nil {
		return nil, err
	}

	if a.Overlay == nil || *a.Overlay {
		thumb, err := slide.Thumbnail(level)
		if err != nil {
			return nil, err
		}
		opts := mask.OverlayOptions{
			Color: s.cfg.Output.OverlayColor,
			Alpha: s.cfg.Output.OverlayAlpha,
			Cell:  e.Result.PatchSize,
			Grid:  a.ShowGrid,
		}
		if a.Color != "" {
			opts.Color = a.Color
		}
		if a.Alpha != nil {
			opts.Alpha = *a.Alpha
		}
		img, err := mask.Overlay(thumb, m, opts)
		if err != nil {
			return nil, err
		}
		if out.Overlay, err = mask.EncodePNG(img); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type slideTileGraphArgs struct {
	ScanID      string   `json:"scan_id"`
	Neighbors   int      `json:"neighbors"`
	MaxDistance *float64 `json:"max_distance"`
}

// GraphResult is a kNN graph with core numbers.
type GraphResult struct {
	Nodes          []neighbors.Node `json:"nodes"`
	Edges          []neighbors.Edge `json:"edges"`
	CoreNumbers    []int            `json:"core_numbers"`
	MeanCoreNumber float64          `json:"mean_core_number"`
}

func (s *Server) handleSlideTileGraph(args json.RawMessage) (interface{}, error) {
	var a slideTileGraphArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Neighbors == 0 {
		a.Neighbors = s.cfg.Graph.Neighbors
	}
	maxDistance := s.cfg.Graph.MaxDistance
	if a.MaxDistance != nil {
		maxDistance = *a.MaxDistance
	}

	e, err := s.getScan(a.ScanID)
	if err != nil {
		return nil, err
	}
	g, err := neighbors.TileGraph(e.Result.Accepted, a.Neighbors, maxDistance)
	if err != nil {
		return nil, err
	}
	return &GraphResult{
		Nodes:          g.Nodes,
		Edges:          g.Edges,
		CoreNumbers:    g.CoreNumbers(),
		MeanCoreNumber: g.MeanCoreNumber(),
	}, nil
}

type nucleusInstanceArgs struct {
	CX   float64 `json:"cx"`
	CY   float64 `json:"cy"`
	Type int     `json:"type"`
}

type nucleusTileArgs struct {
	X         int                   `json:"x"`
	Y         int                   `json:"y"`
	Instances []nucleusInstanceArgs `json:"instances"`
}

type slideNucleusMetricsArgs struct {
	ROIX        int               `json:"roi_x"`
	ROIY        int               `json:"roi_y"`
	Tiles       []nucleusTileArgs `json:"tiles"`
	Neighbors   int               `json:"neighbors"`
	MaxDistance *float64          `json:"max_distance"`
}

// NucleusMetricsResult reports core numbers per nucleus type.
type NucleusMetricsResult struct {
	Nuclei int                    `json:"nuclei"`
	Types  []neighbors.TypeMetric `json:"types"`
}

func (s *Server) handleSlideNucleusMetrics(args json.RawMessage) (interface{}, error) {
	var a slideNucleusMetricsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Neighbors == 0 {
		a.Neighbors = s.cfg.Graph.Neighbors
	}
	maxDistance := 20.0
	if a.MaxDistance != nil {
		maxDistance = *a.MaxDistance
	}

	roi := image.Point{X: a.ROIX, Y: a.ROIY}
	var nuclei []neighbors.Nucleus
	for _, t := range a.Tiles {
		inst := make([]neighbors.Instance, len(t.Instances))
		for i, in := range t.Instances {
			inst[i] = neighbors.Instance{Centroid: neighbors.Point{X: in.CX, Y: in.CY}, Type: in.Type}
		}
		nuclei = append(nuclei, neighbors.Translate(inst, image.Point{X: t.X, Y: t.Y}, roi)...)
	}

	metrics, err := neighbors.MeanCoreByType(nuclei, a.Neighbors, maxDistance)
	if err != nil {
		return nil, err
	}
	return &NucleusMetricsResult{Nuclei: len(nuclei), Types: metrics}, nil
}

// === Persistence Handlers ===

type slideExportArgs struct {
	ScanID string `json:"scan_id"`
	Path   string `json:"path"`
}

// ExportResult reports a written tile export.
type ExportResult struct {
	Path      string `json:"path"`
	Tiles     int    `json:"tiles"`
	SizeBytes int64  `json:"size_bytes"`
}

func (s *Server) handleSlideExportTiles(args json.RawMessage) (interface{}, error) {
	var a slideExportArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	e, err := s.getScan(a.ScanID)
	if err != nil {
		return nil, err
	}
	if a.Path == "" {
		a.Path = filepath.Join(s.cfg.Output.Dir, e.ID+".tiles.json.zst")
	}

	if err := store.WriteTiles(a.Path, store.NewExport(e.SlidePath, e.Result)); err != nil {
		return nil, err
	}
	info, err := os.Stat(a.Path)
	if err != nil {
		return nil, err
	}
	return &ExportResult{Path: a.Path, Tiles: len(e.Result.Accepted), SizeBytes: info.Size()}, nil
}

type slideScanHistoryArgs struct {
	Limit *int `json:"limit"`
}

func (s *Server) handleSlideScanHistory(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a slideScanHistoryArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, errNoStore
	}
	limit := 20
	if a.Limit != nil {
		limit = *a.Limit
	}
	scans, err := s.store.ListScans(ctx, limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"scans": scans}, nil
}

type slideScanLoadArgs struct {
	StoreID int64 `json:"store_id"`
}

func (s *Server) handleSlideScanLoad(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a slideScanLoadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, errNoStore
	}
	rec, err := s.store.LoadScan(ctx, a.StoreID)
	if err != nil {
		return nil, err
	}

	p := s.cfg.ScanParams()
	p.PatchSize = rec.Result.PatchSize
	p.Level = rec.Result.Level
	p.Threshold = rec.Result.Threshold

	e := &scanEntry{SlidePath: rec.SlidePath, Params: p, Result: rec.Result, StoreID: rec.ID}
	s.addScan(e)
	return summarize(e), nil
}
