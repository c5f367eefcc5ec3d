// Package server implements the MCP (Model Context Protocol) server for
// whole-slide image tools.
//
// The server exposes slide inspection, parallel foreground scanning, mask
// rendering and neighbour-graph metrics as MCP tools over JSON-RPC 2.0.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Slide Information:
//   - slide_open: Pyramid levels, dimensions and downsample factors
//   - slide_read_region: Read a padded region at a level as PNG
//   - slide_time_level: Time sequential and strip-parallel level reads
//
// Foreground Scan:
//   - slide_scan: Classify every level-0 patch in parallel chunks
//   - slide_refine: Re-classify sub-tiles of accepted patches
//
// Mask and Graph Output:
//   - slide_mask: Boolean grid, mask PNG and tinted thumbnail
//   - slide_tile_graph: kNN graph and core numbers over accepted patches
//   - slide_nucleus_metrics: Mean core number per nucleus type
//
// Persistence:
//   - slide_export_tiles: Write accepted patches as zstd-compressed JSON
//   - slide_scan_history: List scans in the results store
//   - slide_scan_load: Reload a stored scan
//
// # Scan Results
//
// Every finished scan is kept in memory under a scan_id ("scan-1", "scan-2",
// ...) for the follow-up tools. When store.path is configured the scan is also
// written to a SQLite database and its store_id returned.
//
// # Arguments
//
// Tool arguments are validated against the tool's input schema before the
// handler runs. Schema failures return code -32602.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: Additional error details (typically the Go error string)
//
// # Usage
//
//	srv, err := server.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer srv.Close()
//	return srv.Run(ctx, os.Stdin, os.Stdout)
package server
