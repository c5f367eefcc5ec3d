package server

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anthonynsimon/bild/noise"

	"github.com/ironsheep/wsi-tools-mcp/internal/store"
)

// callTool sends a tools/call request and returns the response.
func callTool(t *testing.T, s *Server, name string, args map[string]interface{}) *MCPResponse {
	t.Helper()
	params := map[string]interface{}{
		"name":      name,
		"arguments": args,
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("failed to encode params: %v", err)
	}
	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  paramsJSON,
	})
	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	return resp
}

// decodeResult unwraps the text content of a successful tool response into v.
func decodeResult(t *testing.T, resp *MCPResponse, v interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Result type = %T", resp.Result)
	}
	content, ok := result["content"].([]map[string]interface{})
	if !ok || len(content) != 1 {
		t.Fatalf("content = %v", result["content"])
	}
	if content[0]["type"] != "text" {
		t.Fatalf("content type = %v", content[0]["type"])
	}
	if err := json.Unmarshal([]byte(content[0]["text"].(string)), v); err != nil {
		t.Fatalf("failed to decode tool result: %v", err)
	}
}

func wantToolError(t *testing.T, resp *MCPResponse, code int, substr string) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error code %d, got result %v", code, resp.Result)
	}
	if resp.Error.Code != code {
		t.Errorf("error code = %d, want %d (%v)", resp.Error.Code, code, resp.Error.Data)
	}
	if data, _ := resp.Error.Data.(string); !strings.Contains(data, substr) {
		t.Errorf("error data = %q, want it to contain %q", data, substr)
	}
}

// scanTestSlide scans the test slide at level 1 and returns the summary.
func scanTestSlide(t *testing.T, s *Server, path string) ScanSummary {
	t.Helper()
	var sum ScanSummary
	decodeResult(t, callTool(t, s, "slide_scan", map[string]interface{}{
		"path":  path,
		"level": 1,
	}), &sum)
	return sum
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.handleToolsCall(context.Background(), &MCPRequest{ID: 1, Params: json.RawMessage(`[1,2]`)})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v, want code %d", resp.Error, codeInvalidParams)
	}
}

func TestHandleToolsCall_SchemaViolation(t *testing.T) {
	s := newTestServer(t, nil)
	resp := callTool(t, s, "slide_scan", map[string]interface{}{"path": "/x.png", "patch_size": 0})
	wantToolError(t, resp, codeInvalidParams, "patch_size")
}

func TestHandleToolsCall_UnknownTool(t *testing.T) {
	s := newTestServer(t, nil)
	resp := callTool(t, s, "slide_delete", map[string]interface{}{})
	wantToolError(t, resp, codeToolFailed, "unknown tool")
}

func TestHandleToolsCall_NonExistentFile(t *testing.T) {
	s := newTestServer(t, nil)
	resp := callTool(t, s, "slide_open", map[string]interface{}{"path": "/nonexistent/slide.png"})
	if resp.Error == nil || resp.Error.Code != codeToolFailed {
		t.Fatalf("error = %+v, want code %d", resp.Error, codeToolFailed)
	}
}

func TestHandleToolsCall_SlideOpen(t *testing.T) {
	s := newTestServer(t, nil)
	path := writeTestSlide(t)

	var info struct {
		Path       string `json:"path"`
		LevelCount int    `json:"level_count"`
		Levels     []struct {
			Width      int     `json:"width"`
			Height     int     `json:"height"`
			Downsample float64 `json:"downsample"`
		} `json:"levels"`
		FileSizeBytes int64 `json:"file_size_bytes"`
	}
	decodeResult(t, callTool(t, s, "slide_open", map[string]interface{}{"path": path}), &info)

	if info.LevelCount != 3 {
		t.Fatalf("level_count = %d, want 3", info.LevelCount)
	}
	want := [][2]int{{656, 328}, {328, 164}, {164, 82}}
	for i, w := range want {
		if info.Levels[i].Width != w[0] || info.Levels[i].Height != w[1] {
			t.Errorf("level %d = %dx%d, want %dx%d", i, info.Levels[i].Width, info.Levels[i].Height, w[0], w[1])
		}
	}
	if info.Levels[2].Downsample != 4 {
		t.Errorf("level 2 downsample = %v, want 4", info.Levels[2].Downsample)
	}
	if info.FileSizeBytes <= 0 {
		t.Error("file_size_bytes should be positive")
	}
}

func TestHandleToolsCall_ReadRegion(t *testing.T) {
	s := newTestServer(t, nil)
	path := writeTestSlide(t)

	var region RegionResult
	decodeResult(t, callTool(t, s, "slide_read_region", map[string]interface{}{
		"path":   path,
		"x":      600,
		"y":      300,
		"width":  50,
		"height": 20,
		"level":  1,
	}), &region)

	if region.EncodedImage == nil {
		t.Fatal("missing image")
	}
	if region.Width != 50 || region.Height != 20 {
		t.Errorf("size = %dx%d, want 50x20", region.Width, region.Height)
	}
	if region.MimeType != "image/png" || region.ImageBase64 == "" {
		t.Errorf("mime = %q, image empty = %v", region.MimeType, region.ImageBase64 == "")
	}
	if region.Level != 1 || region.X != 600 {
		t.Errorf("level = %d x = %d", region.Level, region.X)
	}
}

func TestHandleToolsCall_TimeLevel(t *testing.T) {
	s := newTestServer(t, nil)
	path := writeTestSlide(t)

	var timing TimingResult
	decodeResult(t, callTool(t, s, "slide_time_level", map[string]interface{}{
		"path":   path,
		"level":  0,
		"strips": 3,
	}), &timing)

	if timing.Dimensions.Width != 656 || timing.Dimensions.Height != 328 {
		t.Errorf("dimensions = %+v", timing.Dimensions)
	}
	if timing.Strips != 3 {
		t.Errorf("strips = %d, want 3", timing.Strips)
	}
	if timing.SequentialMs < 0 || timing.ParallelMs < 0 {
		t.Errorf("negative timings: %+v", timing)
	}
}

func TestHandleToolsCall_ScanAndFollowUps(t *testing.T) {
	s := newTestServer(t, nil)
	path := writeTestSlide(t)

	sum := scanTestSlide(t, s, path)
	if sum.ScanID != "scan-1" {
		t.Errorf("scan_id = %q, want scan-1", sum.ScanID)
	}
	if sum.StoreID != 0 {
		t.Errorf("store_id = %d without a store", sum.StoreID)
	}
	if sum.Tiles != 8 {
		t.Errorf("tiles = %d, want 8", sum.Tiles)
	}
	if sum.Level != 1 || sum.Downsample != 2 || sum.ReadSize != 82 {
		t.Errorf("level = %d downsample = %v read_size = %d", sum.Level, sum.Downsample, sum.ReadSize)
	}
	want := []struct{ x, y int }{{328, 0}, {492, 0}, {328, 164}, {492, 164}}
	if len(sum.Accepted) != len(want) {
		t.Fatalf("accepted = %v, want %v", sum.Accepted, want)
	}
	for i, w := range want {
		if sum.Accepted[i].X != w.x || sum.Accepted[i].Y != w.y {
			t.Errorf("accepted[%d] = %+v, want (%d,%d)", i, sum.Accepted[i], w.x, w.y)
		}
	}
	if len(sum.Chunks) != 3 {
		t.Errorf("chunks = %d, want 3", len(sum.Chunks))
	}

	t.Run("mask", func(t *testing.T) {
		var m MaskResult
		decodeResult(t, callTool(t, s, "slide_mask", map[string]interface{}{
			"scan_id":       sum.ScanID,
			"display_level": 0,
			"scale":         2,
			"show_grid":     true,
		}), &m)

		if m.Rows != 2 || m.Cols != 4 || m.Count != 4 {
			t.Fatalf("mask %dx%d count %d, want 2x4 count 4", m.Rows, m.Cols, m.Count)
		}
		wantRow := []int{0, 0, 1, 1}
		for i, row := range m.Cells {
			for j, v := range row {
				if v != wantRow[j] {
					t.Errorf("cell (%d,%d) = %d, want %d", i, j, v, wantRow[j])
				}
			}
		}
		if m.Mask == nil || m.Mask.Width != 8 || m.Mask.Height != 4 {
			t.Errorf("mask image = %+v, want 8x4", m.Mask)
		}
		if m.Overlay == nil || m.Overlay.Width != 656 || m.Overlay.Height != 328 {
			t.Errorf("overlay image = %+v, want 656x328", m.Overlay)
		}
	})

	t.Run("mask default level without overlay", func(t *testing.T) {
		// Level 2 (164x82) has no full row of 164px patches, so level 1 is used.
		var m MaskResult
		decodeResult(t, callTool(t, s, "slide_mask", map[string]interface{}{
			"scan_id": sum.ScanID,
			"overlay": false,
		}), &m)
		if m.DisplayLevel != 1 {
			t.Errorf("display_level = %d, want 1", m.DisplayLevel)
		}
		if m.Rows != 1 || m.Cols != 2 || m.Count != 1 {
			t.Errorf("mask %dx%d count %d, want 1x2 count 1", m.Rows, m.Cols, m.Count)
		}
		if m.Overlay != nil {
			t.Error("overlay should be omitted")
		}
	})

	t.Run("refine", func(t *testing.T) {
		var sub ScanSummary
		decodeResult(t, callTool(t, s, "slide_refine", map[string]interface{}{
			"scan_id":   sum.ScanID,
			"tile_size": 82,
		}), &sub)
		if sub.Parent != sum.ScanID {
			t.Errorf("parent = %q, want %q", sub.Parent, sum.ScanID)
		}
		if sub.Tiles != 16 || len(sub.Accepted) != 16 {
			t.Errorf("tiles = %d accepted = %d, want 16 and 16", sub.Tiles, len(sub.Accepted))
		}
		if sub.PatchSize != 82 || sub.Level != 0 {
			t.Errorf("patch_size = %d level = %d", sub.PatchSize, sub.Level)
		}
	})

	t.Run("refine larger than patch", func(t *testing.T) {
		resp := callTool(t, s, "slide_refine", map[string]interface{}{
			"scan_id":   sum.ScanID,
			"tile_size": 200,
		})
		if resp.Error == nil || resp.Error.Code != codeToolFailed {
			t.Fatalf("error = %+v, want tool failure", resp.Error)
		}
	})

	t.Run("tile graph", func(t *testing.T) {
		var g GraphResult
		decodeResult(t, callTool(t, s, "slide_tile_graph", map[string]interface{}{
			"scan_id": sum.ScanID,
		}), &g)
		// Four patch origins on a square, each linked to the other three.
		if len(g.Nodes) != 4 || len(g.Edges) != 6 {
			t.Fatalf("nodes = %d edges = %d, want 4 and 6", len(g.Nodes), len(g.Edges))
		}
		if g.MeanCoreNumber != 3 {
			t.Errorf("mean core number = %v, want 3", g.MeanCoreNumber)
		}
	})

	t.Run("tile graph with max distance", func(t *testing.T) {
		var g GraphResult
		decodeResult(t, callTool(t, s, "slide_tile_graph", map[string]interface{}{
			"scan_id":      sum.ScanID,
			"max_distance": 200,
		}), &g)
		// The diagonals are longer than 200.
		if len(g.Edges) != 4 || g.MeanCoreNumber != 2 {
			t.Errorf("edges = %d mean core = %v, want 4 and 2", len(g.Edges), g.MeanCoreNumber)
		}
	})

	t.Run("export", func(t *testing.T) {
		var exp ExportResult
		decodeResult(t, callTool(t, s, "slide_export_tiles", map[string]interface{}{
			"scan_id": sum.ScanID,
		}), &exp)
		if filepath.Base(exp.Path) != "scan-1.tiles.json.zst" {
			t.Errorf("path = %q", exp.Path)
		}
		if exp.Tiles != 4 || exp.SizeBytes <= 0 {
			t.Errorf("tiles = %d size = %d", exp.Tiles, exp.SizeBytes)
		}

		back, err := store.ReadTiles(exp.Path)
		if err != nil {
			t.Fatalf("ReadTiles failed: %v", err)
		}
		if back.SlidePath != path || len(back.Accepted) != 4 {
			t.Errorf("export = %+v", back)
		}
	})
}

func TestHandleToolsCall_UnknownScanID(t *testing.T) {
	s := newTestServer(t, nil)
	for _, tool := range []string{"slide_mask", "slide_tile_graph", "slide_export_tiles"} {
		t.Run(tool, func(t *testing.T) {
			resp := callTool(t, s, tool, map[string]interface{}{"scan_id": "scan-99"})
			wantToolError(t, resp, codeToolFailed, "unknown scan_id: scan-99")
		})
	}
}

func TestHandleToolsCall_ScanInvalidLevel(t *testing.T) {
	s := newTestServer(t, nil)
	path := writeTestSlide(t)
	resp := callTool(t, s, "slide_scan", map[string]interface{}{"path": path, "level": 9})
	if resp.Error == nil || resp.Error.Code != codeToolFailed {
		t.Fatalf("error = %+v, want tool failure", resp.Error)
	}
	if len(s.scans) != 0 {
		t.Errorf("failed scan was registered")
	}
}

func TestHandleToolsCall_StoreWorkflow(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Path = filepath.Join(t.TempDir(), "scans.db")
	s := newTestServer(t, cfg)
	path := writeTestSlide(t)

	first := scanTestSlide(t, s, path)
	second := scanTestSlide(t, s, path)
	if first.StoreID == 0 || second.StoreID <= first.StoreID {
		t.Fatalf("store ids = %d, %d", first.StoreID, second.StoreID)
	}

	var history struct {
		Scans []store.Summary `json:"scans"`
	}
	decodeResult(t, callTool(t, s, "slide_scan_history", map[string]interface{}{"limit": 1}), &history)
	if len(history.Scans) != 1 || history.Scans[0].ID != second.StoreID {
		t.Fatalf("history = %+v, want only store id %d", history.Scans, second.StoreID)
	}
	if history.Scans[0].Accepted != 4 || !history.Scans[0].Complete {
		t.Errorf("summary = %+v", history.Scans[0])
	}

	var loaded ScanSummary
	decodeResult(t, callTool(t, s, "slide_scan_load", map[string]interface{}{"store_id": first.StoreID}), &loaded)
	if loaded.ScanID != "scan-3" {
		t.Errorf("scan_id = %q, want scan-3", loaded.ScanID)
	}
	if loaded.StoreID != first.StoreID || len(loaded.Accepted) != 4 || loaded.SlidePath != path {
		t.Errorf("loaded = %+v", loaded)
	}

	// A loaded scan feeds the same follow-up tools.
	var m MaskResult
	decodeResult(t, callTool(t, s, "slide_mask", map[string]interface{}{
		"scan_id":       loaded.ScanID,
		"display_level": 0,
		"overlay":       false,
	}), &m)
	if m.Count != 4 {
		t.Errorf("mask count = %d, want 4", m.Count)
	}

	resp := callTool(t, s, "slide_scan_load", map[string]interface{}{"store_id": 999})
	wantToolError(t, resp, codeToolFailed, "not found")
}

func TestHandleToolsCall_HistoryWithoutStore(t *testing.T) {
	s := newTestServer(t, nil)
	for _, tc := range []struct {
		tool string
		args map[string]interface{}
	}{
		{"slide_scan_history", map[string]interface{}{}},
		{"slide_scan_load", map[string]interface{}{"store_id": 1}},
	} {
		resp := callTool(t, s, tc.tool, tc.args)
		wantToolError(t, resp, codeToolFailed, "store not configured")
	}
}

func TestHandleToolsCall_NucleusMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	var res NucleusMetricsResult
	decodeResult(t, callTool(t, s, "slide_nucleus_metrics", map[string]interface{}{
		"roi_x": 1000,
		"roi_y": 2000,
		"tiles": []map[string]interface{}{
			{
				"x": 1000, "y": 2000,
				"instances": []map[string]interface{}{
					{"cx": 0.5, "cy": 0.5, "type": 1},
					{"cx": 10, "cy": 0, "type": 1},
				},
			},
			{
				"x": 1000, "y": 2010,
				"instances": []map[string]interface{}{
					{"cx": 0, "cy": 0, "type": 1},
					{"cx": 80, "cy": 80, "type": 2},
				},
			},
		},
	}), &res)

	if res.Nuclei != 4 {
		t.Errorf("nuclei = %d, want 4", res.Nuclei)
	}
	if len(res.Types) != 2 {
		t.Fatalf("types = %+v", res.Types)
	}
	// Type 1 forms a triangle under the default 20 pixel limit.
	if tm := res.Types[0]; tm.Type != 1 || tm.Count != 3 || tm.Edges != 3 || tm.MeanCoreNumber != 2 {
		t.Errorf("type 1 = %+v", tm)
	}
	if tm := res.Types[1]; tm.Type != 2 || tm.Count != 1 || tm.Edges != 0 || tm.MeanCoreNumber != 0 {
		t.Errorf("type 2 = %+v", tm)
	}
}

func TestHandleToolsCall_ExportCustomPath(t *testing.T) {
	s := newTestServer(t, nil)
	path := writeTestSlide(t)
	sum := scanTestSlide(t, s, path)

	out := filepath.Join(t.TempDir(), "nested", "tiles.zst")
	var exp ExportResult
	decodeResult(t, callTool(t, s, "slide_export_tiles", map[string]interface{}{
		"scan_id": sum.ScanID,
		"path":    out,
	}), &exp)
	if exp.Path != out {
		t.Errorf("path = %q, want %q", exp.Path, out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("export missing: %v", err)
	}
}

func TestSlideMask_DefaultDisplayLevel(t *testing.T) {
	s := newTestServer(t, nil)
	path := writeSlideImage(t, noise.Generate(1000, 1000, &noise.Options{NoiseFn: noise.Uniform}))

	var sum ScanSummary
	decodeResult(t, callTool(t, s, "slide_scan", map[string]interface{}{"path": path}), &sum)

	// Levels are 1000, 500, 250 and 125 pixels; 125 is narrower than a 164px patch.
	var m MaskResult
	decodeResult(t, callTool(t, s, "slide_mask", map[string]interface{}{"scan_id": sum.ScanID}), &m)
	if m.DisplayLevel != 2 {
		t.Errorf("display_level = %d, want 2", m.DisplayLevel)
	}
	if m.Rows != 1 || m.Cols != 1 || m.Count != 1 {
		t.Errorf("mask %dx%d count %d, want 1x1 count 1", m.Rows, m.Cols, m.Count)
	}
	if m.Mask == nil || m.Mask.Width != 4 || m.Mask.Height != 4 {
		t.Errorf("mask image = %+v, want 4x4", m.Mask)
	}
	if m.Overlay == nil || m.Overlay.Width != 250 || m.Overlay.Height != 250 {
		t.Errorf("overlay image = %+v, want 250x250", m.Overlay)
	}

	resp := callTool(t, s, "slide_mask", map[string]interface{}{
		"scan_id":       sum.ScanID,
		"display_level": 3,
	})
	wantToolError(t, resp, codeToolFailed, "no cells")
}
