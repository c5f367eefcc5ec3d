package server

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGetToolDefinitions(t *testing.T) {
	tools := GetToolDefinitions()

	expectedTools := []string{
		"slide_open",
		"slide_read_region",
		"slide_time_level",
		"slide_scan",
		"slide_refine",
		"slide_mask",
		"slide_tile_graph",
		"slide_nucleus_metrics",
		"slide_export_tiles",
		"slide_scan_history",
		"slide_scan_load",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("got %d tools, want %d", len(tools), len(expectedTools))
	}

	toolMap := make(map[string]Tool)
	for _, tool := range tools {
		if _, dup := toolMap[tool.Name]; dup {
			t.Errorf("duplicate tool %s", tool.Name)
		}
		toolMap[tool.Name] = tool
	}

	for _, name := range expectedTools {
		tool, ok := toolMap[name]
		if !ok {
			t.Errorf("missing tool: %s", name)
			continue
		}
		if tool.Description == "" {
			t.Errorf("tool %s has empty description", name)
		}
		if tool.InputSchema["type"] != "object" {
			t.Errorf("tool %s schema type = %v, want object", name, tool.InputSchema["type"])
		}
		if _, ok := tool.InputSchema["properties"]; !ok {
			t.Errorf("tool %s schema has no properties", name)
		}
	}
}

func TestToolDefinitions_RequiredFieldsAreProperties(t *testing.T) {
	for _, tool := range GetToolDefinitions() {
		required, ok := tool.InputSchema["required"].([]string)
		if !ok {
			continue
		}
		props := tool.InputSchema["properties"].(map[string]interface{})
		for _, r := range required {
			if _, ok := props[r]; !ok {
				t.Errorf("tool %s requires undeclared property %s", tool.Name, r)
			}
		}
	}
}

func TestToolDefinitions_JSON(t *testing.T) {
	b, err := json.Marshal(GetToolDefinitions())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(b), `"inputSchema"`) {
		t.Error("tool JSON should use the inputSchema key")
	}
}

func TestCompileSchemas(t *testing.T) {
	schemas, err := compileSchemas(GetToolDefinitions())
	if err != nil {
		t.Fatalf("compileSchemas failed: %v", err)
	}
	if len(schemas) != len(GetToolDefinitions()) {
		t.Errorf("got %d schemas", len(schemas))
	}
}

func TestCompileSchemas_Invalid(t *testing.T) {
	bad := []Tool{{
		Name:        "broken",
		InputSchema: map[string]interface{}{"type": 42},
	}}
	if _, err := compileSchemas(bad); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestValidateArguments(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name    string
		tool    string
		args    string
		wantErr bool
	}{
		{"valid open", "slide_open", `{"path":"/x.png"}`, false},
		{"missing path", "slide_open", `{}`, true},
		{"empty path", "slide_open", `{"path":""}`, true},
		{"path wrong type", "slide_open", `{"path":3}`, true},
		{"nil arguments", "slide_open", ``, true},
		{"null arguments", "slide_scan_history", `null`, false},
		{"integer level", "slide_read_region", `{"path":"/x","x":0,"y":0,"width":4,"height":4,"level":1}`, false},
		{"fractional level", "slide_read_region", `{"path":"/x","x":0,"y":0,"width":4,"height":4,"level":1.5}`, true},
		{"zero width", "slide_read_region", `{"path":"/x","x":0,"y":0,"width":0,"height":4}`, true},
		{"auto level", "slide_scan", `{"path":"/x","level":-1}`, false},
		{"level below auto", "slide_scan", `{"path":"/x","level":-2}`, true},
		{"valid color", "slide_mask", `{"scan_id":"scan-1","color":"#00ff00"}`, false},
		{"short color", "slide_mask", `{"scan_id":"scan-1","color":"#0f0"}`, true},
		{"alpha above one", "slide_mask", `{"scan_id":"scan-1","alpha":1.5}`, true},
		{"nested instance", "slide_nucleus_metrics", `{"tiles":[{"x":0,"y":0,"instances":[{"cx":1,"cy":2,"type":1}]}]}`, false},
		{"instance without type", "slide_nucleus_metrics", `{"tiles":[{"x":0,"y":0,"instances":[{"cx":1,"cy":2}]}]}`, true},
		{"store id zero", "slide_scan_load", `{"store_id":0}`, true},
		{"malformed json", "slide_open", `{"path":`, true},
		{"unknown tool", "no_such_tool", `{"anything":true}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.validateArguments(tt.tool, json.RawMessage(tt.args))
			if (err != nil) != tt.wantErr {
				t.Errorf("validateArguments() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
