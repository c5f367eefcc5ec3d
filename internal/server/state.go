package server

import (
	"fmt"

	"github.com/ironsheep/wsi-tools-mcp/internal/pyramid"
	"github.com/ironsheep/wsi-tools-mcp/internal/scan"
)

// scanEntry is a finished scan kept for follow-up tools.
type scanEntry struct {
	ID        string
	SlidePath string
	Params    scan.Params
	Result    *scan.Result
	StoreID   int64
	Parent    string
}

func (s *Server) addScan(e *scanEntry) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = fmt.Sprintf("scan-%d", s.nextID)
	s.scans[e.ID] = e
	return e.ID
}

func (s *Server) getScan(id string) (*scanEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.scans[id]
	if !ok {
		return nil, fmt.Errorf("unknown scan_id: %s", id)
	}
	return e, nil
}

// opener returns an opener for path using the configured pyramid options.
func (s *Server) opener(path string) pyramid.Opener {
	return pyramid.NewOpener(path, s.cfg.PyramidOptions(s.cache))
}

// openSlide opens one handle for a request.
func (s *Server) openSlide(path string) (*pyramid.Slide, error) {
	return pyramid.Open(path, s.cfg.PyramidOptions(s.cache))
}
