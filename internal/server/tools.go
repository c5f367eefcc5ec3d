package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Slide Information
		{
			Name:        "slide_open",
			Description: "Open a slide (a single raster, or a directory of level_<N> rasters) and return its pyramid levels, dimensions and downsample factors.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"minLength":   1,
						"description": "Absolute path to the slide file or level directory",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "slide_read_region",
			Description: "Read a region at a pyramid level and return it as base64-encoded PNG. The location is in level-0 pixels; width and height are in pixels of the requested level. Pixels outside the slide are padded.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"minLength":   1,
						"description": "Absolute path to the slide",
					},
					"x": map[string]interface{}{
						"type":        "integer",
						"description": "Left edge in level-0 pixels",
					},
					"y": map[string]interface{}{
						"type":        "integer",
						"description": "Top edge in level-0 pixels",
					},
					"width": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"description": "Region width in level pixels",
					},
					"height": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"description": "Region height in level pixels",
					},
					"level": map[string]interface{}{
						"type":        "integer",
						"minimum":     0,
						"description": "Pyramid level. Default 0",
						"default":     0,
					},
				},
				"required": []string{"path", "x", "y", "width", "height"},
			},
		},
		{
			Name:        "slide_time_level",
			Description: "Time reading a whole pyramid level, optionally also split into vertical strips read concurrently through separate handles.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"minLength":   1,
						"description": "Absolute path to the slide",
					},
					"level": map[string]interface{}{
						"type":        "integer",
						"minimum":     0,
						"description": "Pyramid level to read",
					},
					"strips": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"description": "Number of concurrent strips. Default 1 (sequential only)",
						"default":     1,
					},
				},
				"required": []string{"path", "level"},
			},
		},

		// Foreground Scan
		{
			Name:        "slide_scan",
			Description: "Scan the slide for tissue: split level 0 into fixed-size patches, read each at a reduced level, and accept patches whose pixel variance exceeds the threshold. Returns a scan_id for slide_mask, slide_refine, slide_tile_graph and slide_export_tiles.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"minLength":   1,
						"description": "Absolute path to the slide",
					},
					"patch_size": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"description": "Patch side in level-0 pixels. Default from config (164)",
					},
					"chunks": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"description": "Number of work units. Default from config (32)",
					},
					"level": map[string]interface{}{
						"type":        "integer",
						"minimum":     -1,
						"description": "Level tiles are read at; -1 picks the coarsest usable level",
					},
					"threshold": map[string]interface{}{
						"type":        "number",
						"minimum":     0,
						"description": "Variance threshold. Default 80",
					},
					"retries": map[string]interface{}{
						"type":        "integer",
						"minimum":     0,
						"description": "Extra attempts per failing chunk. Default 0",
					},
					"continue_on_failure": map[string]interface{}{
						"type":        "boolean",
						"description": "Keep scanning other chunks after one fails. Default false",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "slide_refine",
			Description: "Split every accepted patch of a scan into smaller sub-tiles and classify those, producing a finer scan.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"scan_id": map[string]interface{}{
						"type":        "string",
						"description": "Scan to refine",
					},
					"tile_size": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"description": "Sub-tile side in level-0 pixels, at most the scan's patch size",
					},
					"level": map[string]interface{}{
						"type":        "integer",
						"minimum":     0,
						"description": "Level sub-tiles are read at. Default 0",
						"default":     0,
					},
					"threshold": map[string]interface{}{
						"type":        "number",
						"minimum":     0,
						"description": "Variance threshold. Default: the parent scan's",
					},
				},
				"required": []string{"scan_id", "tile_size"},
			},
		},

		// Mask and Graph Output
		{
			Name:        "slide_mask",
			Description: "Project a scan's accepted patches onto a boolean grid at a display level. Returns the grid, a PNG of the mask and a PNG of the level thumbnail with accepted cells tinted.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"scan_id": map[string]interface{}{
						"type":        "string",
						"description": "Scan to render",
					},
					"display_level": map[string]interface{}{
						"type":        "integer",
						"minimum":     -1,
						"description": "Level the grid is built at; -1 picks the coarsest level holding a full patch. Default -1",
						"default":     -1,
					},
					"scale": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"description": "Pixels per cell in the mask PNG. Default 4",
						"default":     4,
					},
					"overlay": map[string]interface{}{
						"type":        "boolean",
						"description": "Include the tinted thumbnail. Default true",
						"default":     true,
					},
					"show_grid": map[string]interface{}{
						"type":        "boolean",
						"description": "Draw cell boundaries on the overlay. Default false",
						"default":     false,
					},
					"color": map[string]interface{}{
						"type":        "string",
						"pattern":     "^#[0-9A-Fa-f]{6}$",
						"description": "Overlay tint as #RRGGBB. Default from config",
					},
					"alpha": map[string]interface{}{
						"type":        "number",
						"minimum":     0,
						"maximum":     1,
						"description": "Overlay tint weight. Default from config",
					},
				},
				"required": []string{"scan_id"},
			},
		},
		{
			Name:        "slide_tile_graph",
			Description: "Build the k-nearest-neighbour graph over a scan's accepted patch origins. Returns node and edge tables and per-vertex core numbers.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"scan_id": map[string]interface{}{
						"type":        "string",
						"description": "Scan whose accepted patches are the vertices",
					},
					"neighbors": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"description": "Neighbours per vertex. Default from config (4)",
					},
					"max_distance": map[string]interface{}{
						"type":        "number",
						"minimum":     0,
						"description": "Drop edges at least this long; 0 keeps all. Default from config",
					},
				},
				"required": []string{"scan_id"},
			},
		},
		{
			Name:        "slide_nucleus_metrics",
			Description: "Place per-tile nucleus centroids into region-of-interest space and report the mean core number of the kNN graph of each nucleus type.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"roi_x": map[string]interface{}{
						"type":        "integer",
						"description": "Region of interest left edge in level-0 pixels",
					},
					"roi_y": map[string]interface{}{
						"type":        "integer",
						"description": "Region of interest top edge in level-0 pixels",
					},
					"tiles": map[string]interface{}{
						"type": "array",
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"x": map[string]interface{}{"type": "integer"},
								"y": map[string]interface{}{"type": "integer"},
								"instances": map[string]interface{}{
									"type": "array",
									"items": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"cx":   map[string]interface{}{"type": "number"},
											"cy":   map[string]interface{}{"type": "number"},
											"type": map[string]interface{}{"type": "integer"},
										},
										"required": []string{"cx", "cy", "type"},
									},
								},
							},
							"required": []string{"x", "y", "instances"},
						},
						"description": "Tiles with their level-0 location and detected instances (centroids in tile pixels)",
					},
					"neighbors": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"description": "Neighbours per nucleus. Default from config (4)",
					},
					"max_distance": map[string]interface{}{
						"type":        "number",
						"minimum":     0,
						"description": "Drop edges at least this long; 0 keeps all. Default 20",
						"default":     20,
					},
				},
				"required": []string{"tiles"},
			},
		},

		// Persistence
		{
			Name:        "slide_export_tiles",
			Description: "Write a scan's accepted patches to a zstd-compressed JSON file.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"scan_id": map[string]interface{}{
						"type":        "string",
						"description": "Scan to export",
					},
					"path": map[string]interface{}{
						"type":        "string",
						"minLength":   1,
						"description": "Output file path. Default <output dir>/<scan_id>.tiles.json.zst",
					},
				},
				"required": []string{"scan_id"},
			},
		},
		{
			Name:        "slide_scan_history",
			Description: "List scans recorded in the results store, newest first. Requires store.path in the config.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit": map[string]interface{}{
						"type":        "integer",
						"minimum":     0,
						"description": "Maximum entries; 0 lists all. Default 20",
						"default":     20,
					},
				},
			},
		},
		{
			Name:        "slide_scan_load",
			Description: "Load a stored scan from the results store and make it available under a new scan_id.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"store_id": map[string]interface{}{
						"type":        "integer",
						"minimum":     1,
						"description": "Scan id in the results store",
					},
				},
				"required": []string{"store_id"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
