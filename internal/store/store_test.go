package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ironsheep/wsi-tools-mcp/internal/pyramid"
	"github.com/ironsheep/wsi-tools-mcp/internal/scan"
	"github.com/ironsheep/wsi-tools-mcp/internal/tiles"
)

func sampleResult() *scan.Result {
	return &scan.Result{
		Level0:     pyramid.Size{Width: 1000, Height: 800},
		Level:      2,
		Downsample: 4,
		PatchSize:  164,
		ReadSize:   41,
		Threshold:  80,
		Tiles:      42,
		Accepted:   tiles.List{{X: 164, Y: 0}, {X: 0, Y: 164}, {X: 328, Y: 164}},
		Chunks: []scan.ChunkReport{
			{Chunk: 0, Tiles: 21, Accepted: 1, Attempts: 1, Status: scan.ChunkOK},
			{Chunk: 1, Tiles: 21, Accepted: 2, Attempts: 2, Status: scan.ChunkRetried},
		},
		Complete: true,
		Duration: 1500 * time.Millisecond,
	}
}

func openStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db", "scans.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestSQLiteStore_SaveLoad(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	res := sampleResult()

	id, err := s.SaveScan(ctx, "/slides/a.tif", res)
	if err != nil {
		t.Fatalf("SaveScan: %v", err)
	}

	rec, err := s.LoadScan(ctx, id)
	if err != nil {
		t.Fatalf("LoadScan: %v", err)
	}
	if rec.SlidePath != "/slides/a.tif" {
		t.Errorf("SlidePath: got %q", rec.SlidePath)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	got := rec.Result
	if got.Level != 2 || got.PatchSize != 164 || got.Tiles != 42 || !got.Complete {
		t.Errorf("result fields: got %+v", got)
	}
	if got.Duration != res.Duration {
		t.Errorf("Duration: got %v, want %v", got.Duration, res.Duration)
	}
	if len(got.Chunks) != 2 || got.Chunks[1].Status != scan.ChunkRetried {
		t.Errorf("chunk reports: got %+v", got.Chunks)
	}

	// Row-major order: (164,0) first, then the y=164 row.
	want := tiles.List{{X: 164, Y: 0}, {X: 0, Y: 164}, {X: 328, Y: 164}}
	if len(got.Accepted) != len(want) {
		t.Fatalf("accepted: got %v, want %v", got.Accepted, want)
	}
	for i := range want {
		if got.Accepted[i] != want[i] {
			t.Errorf("accepted[%d]: got %+v, want %+v", i, got.Accepted[i], want[i])
		}
	}
}

func TestSQLiteStore_LoadMissing(t *testing.T) {
	s, _ := openStore(t)
	if _, err := s.LoadScan(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_ListScans(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	incomplete := sampleResult()
	incomplete.Complete = false
	incomplete.Accepted = nil

	first, _ := s.SaveScan(ctx, "/slides/a.tif", sampleResult())
	second, _ := s.SaveScan(ctx, "/slides/b.tif", incomplete)

	all, err := s.ListScans(ctx, 0)
	if err != nil {
		t.Fatalf("ListScans: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d summaries, want 2", len(all))
	}
	if all[0].ID != second || all[1].ID != first {
		t.Errorf("order: got ids %d,%d, want %d,%d", all[0].ID, all[1].ID, second, first)
	}
	if all[0].Complete || all[0].Accepted != 0 {
		t.Errorf("incomplete summary: got %+v", all[0])
	}
	if !all[1].Complete || all[1].Accepted != 3 {
		t.Errorf("complete summary: got %+v", all[1])
	}

	limited, _ := s.ListScans(ctx, 1)
	if len(limited) != 1 || limited[0].ID != second {
		t.Errorf("limit 1: got %+v", limited)
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	s, path := openStore(t)
	id, err := s.SaveScan(context.Background(), "/slides/a.tif", sampleResult())
	if err != nil {
		t.Fatalf("SaveScan: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM tiles WHERE scan_id = ?`, id).Scan(&n); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 3 {
		t.Errorf("tile rows: got %d, want 3", n)
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestWriteReadTiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "tiles.json.zst")
	exp := NewExport("/slides/a.tif", sampleResult())

	if err := WriteTiles(path, exp); err != nil {
		t.Fatalf("WriteTiles: %v", err)
	}
	got, err := ReadTiles(path)
	if err != nil {
		t.Fatalf("ReadTiles: %v", err)
	}
	if got.SlidePath != exp.SlidePath || got.PatchSize != 164 || got.Level0 != exp.Level0 {
		t.Errorf("header: got %+v", got)
	}
	if len(got.Accepted) != 3 || got.Accepted[2] != (tiles.Coord{X: 328, Y: 164}) {
		t.Errorf("accepted: got %v", got.Accepted)
	}
}

func TestDecodeTiles_RejectsGarbage(t *testing.T) {
	if _, err := DecodeTiles(bytes.NewReader([]byte("not zstd"))); err == nil {
		t.Error("expected error for non-zstd input")
	}
}

func TestDecodeTiles_RejectsVersion(t *testing.T) {
	var buf bytes.Buffer
	exp := NewExport("x", sampleResult())
	exp.Version = 99
	if err := EncodeTiles(&buf, exp); err != nil {
		t.Fatalf("EncodeTiles: %v", err)
	}
	if _, err := DecodeTiles(&buf); err == nil {
		t.Error("expected error for unknown version")
	}
}
