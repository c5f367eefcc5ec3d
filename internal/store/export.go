package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/ironsheep/wsi-tools-mcp/internal/pyramid"
	"github.com/ironsheep/wsi-tools-mcp/internal/scan"
	"github.com/ironsheep/wsi-tools-mcp/internal/tiles"
)

// ExportVersion is written into every tile export.
const ExportVersion = 1

// Export is the on-disk form of a scan's accepted tiles.
type Export struct {
	Version   int          `json:"version"`
	SlidePath string       `json:"slide_path"`
	Level0    pyramid.Size `json:"level0"`
	Level     int          `json:"level"`
	PatchSize int          `json:"patch_size"`
	Threshold float64      `json:"threshold"`
	Complete  bool         `json:"complete"`
	Accepted  tiles.List   `json:"accepted"`
}

// NewExport captures the parts of res needed to rebuild a mask.
func NewExport(slidePath string, res *scan.Result) *Export {
	return &Export{
		Version:   ExportVersion,
		SlidePath: slidePath,
		Level0:    res.Level0,
		Level:     res.Level,
		PatchSize: res.PatchSize,
		Threshold: res.Threshold,
		Complete:  res.Complete,
		Accepted:  res.Accepted,
	}
}

// WriteTiles writes exp to path as zstd-compressed JSON.
func WriteTiles(path string, exp *Export) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := EncodeTiles(f, exp); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// EncodeTiles writes exp to w as zstd-compressed JSON.
func EncodeTiles(w io.Writer, exp *Export) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	if err := json.NewEncoder(bw).Encode(exp); err != nil {
		enc.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// ReadTiles reads an export written by WriteTiles.
func ReadTiles(path string) (*Export, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeTiles(f)
}

// DecodeTiles reads an export from r.
func DecodeTiles(r io.Reader) (*Export, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var exp Export
	if err := json.NewDecoder(bufio.NewReaderSize(dec, 64*1024)).Decode(&exp); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	if exp.Version != ExportVersion {
		return nil, fmt.Errorf("unsupported export version %d", exp.Version)
	}
	return &exp, nil
}
