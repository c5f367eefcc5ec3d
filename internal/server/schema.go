package server

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compileSchemas compiles every tool's input schema once.
func compileSchemas(tools []Tool) (map[string]*jsonschema.Schema, error) {
	out := make(map[string]*jsonschema.Schema, len(tools))
	for _, t := range tools {
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: failed to encode schema: %w", t.Name, err)
		}
		sch, err := jsonschema.CompileString("tool://"+t.Name+".json", string(raw))
		if err != nil {
			return nil, fmt.Errorf("tool %s: failed to compile schema: %w", t.Name, err)
		}
		out[t.Name] = sch
	}
	return out, nil
}

// validateArguments checks args against the named tool's schema. Missing
// arguments are treated as an empty object. Unknown tools are not checked
// here.
func (s *Server) validateArguments(name string, args json.RawMessage) error {
	sch, ok := s.schemas[name]
	if !ok {
		return nil
	}

	var v interface{} = map[string]interface{}{}
	if trimmed := bytes.TrimSpace(args); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("arguments are not valid JSON: %w", err)
		}
	}
	return sch.Validate(v)
}
