package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/rs/zerolog"

	"github.com/ironsheep/wsi-tools-mcp/internal/config"
	"github.com/ironsheep/wsi-tools-mcp/internal/logging"
	"github.com/ironsheep/wsi-tools-mcp/internal/mask"
	"github.com/ironsheep/wsi-tools-mcp/internal/pyramid"
	"github.com/ironsheep/wsi-tools-mcp/internal/scan"
	"github.com/ironsheep/wsi-tools-mcp/internal/store"
)

func main() {
	var (
		configPath   = flag.String("config", os.Getenv(config.EnvPath), "YAML configuration file")
		logLevel     = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		patch        = flag.Int("patch", 0, "patch side in level-0 pixels (default from config)")
		chunks       = flag.Int("chunks", 0, "number of work units (default from config)")
		level        = flag.Int("level", -1, "level tiles are read at; -1 picks the coarsest usable level")
		threshold    = flag.Float64("threshold", 0, "variance threshold (default from config)")
		retries      = flag.Int("retries", 0, "extra attempts per failing chunk")
		workers      = flag.Int("workers", 0, "concurrent chunks (default from config)")
		keepGoing    = flag.Bool("continue", false, "keep scanning after a chunk fails")
		displayLevel = flag.Int("display-level", -1, "mask level; -1 picks the coarsest level holding a full patch")
		scale        = flag.Int("scale", 4, "pixels per cell in mask.png")
		outDir       = flag.String("out", "", "output directory (default from config)")
		storePath    = flag.String("store", "", "SQLite results database (default from config)")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <slide>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	slidePath := flag.Arg(0)

	log := logging.Console(logging.ParseLevel(*logLevel))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "patch":
			cfg.Scan.PatchSize = *patch
		case "chunks":
			cfg.Scan.Chunks = *chunks
		case "level":
			cfg.Scan.Level = *level
		case "threshold":
			cfg.Scan.Threshold = *threshold
		case "retries":
			cfg.Scan.Retries = *retries
		case "workers":
			cfg.Scan.Workers = *workers
		case "continue":
			cfg.Scan.ContinueOnFailure = *keepGoing
		case "out":
			cfg.Output.Dir = *outDir
		case "store":
			cfg.Store.Path = *storePath
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid options")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, cfg, slidePath, *displayLevel, *scale); err != nil {
		log.Error().Err(err).Msg("scan failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, log zerolog.Logger, cfg *config.Config, slidePath string, displayLevel, scale int) error {
	exec := scan.NewExecutor(cfg.Scan.Workers, log)
	if err := exec.Open(); err != nil {
		return err
	}
	defer exec.Close()

	opts := cfg.PyramidOptions(pyramid.NewCache())
	res, scanErr := scan.Scan(ctx, exec, pyramid.NewOpener(slidePath, opts), cfg.ScanParams())
	if res == nil {
		return scanErr
	}

	log.Info().
		Int("level", res.Level).
		Int("tiles", res.Tiles).
		Int("accepted", len(res.Accepted)).
		Bool("complete", res.Complete).
		Dur("elapsed", res.Duration).
		Msg("scan finished")
	var se *scan.ScanError
	if errors.As(scanErr, &se) {
		log.Warn().Ints("chunks", se.Chunks()).Msg("chunks failed; writing partial results")
	}

	if err := writeOutputs(cfg, opts, slidePath, res, displayLevel, scale); err != nil {
		return err
	}

	if cfg.Store.Path != "" {
		st, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		id, err := st.SaveScan(ctx, slidePath, res)
		if err != nil {
			return err
		}
		log.Info().Int64("store_id", id).Str("path", cfg.Store.Path).Msg("scan stored")
	}

	fmt.Printf("slide=%s level=%d downsample=%.2f tiles=%d accepted=%d complete=%v\n",
		slidePath, res.Level, res.Downsample, res.Tiles, len(res.Accepted), res.Complete)
	return scanErr
}

// outputNames returns the file names for the rendered mask and overlay.
// Renders of an incomplete scan get a .partial.png suffix.
func outputNames(complete bool) (maskName, overlayName string) {
	if complete {
		return "mask.png", "overlay.png"
	}
	return "mask.partial.png", "overlay.partial.png"
}

// writeOutputs renders the mask and overlay at the display level and exports
// the accepted tiles.
func writeOutputs(cfg *config.Config, opts pyramid.Options, slidePath string, res *scan.Result, displayLevel, scale int) error {
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return err
	}

	slide, err := pyramid.Open(slidePath, opts)
	if err != nil {
		return err
	}
	defer slide.Close()

	if displayLevel < 0 {
		if displayLevel, err = mask.DefaultDisplayLevel(slide, res.PatchSize); err != nil {
			return err
		}
	}
	m, err := mask.ForLevel(slide, res.Accepted, displayLevel, res.PatchSize)
	if err != nil {
		return err
	}
	if err := m.Renderable(); err != nil {
		return fmt.Errorf("display level %d: %w", displayLevel, err)
	}

	maskName, overlayName := outputNames(res.Complete)
	if err := imgio.Save(filepath.Join(cfg.Output.Dir, maskName), m.Image(scale), imgio.PNGEncoder()); err != nil {
		return fmt.Errorf("failed to write mask: %w", err)
	}

	thumb, err := slide.Thumbnail(displayLevel)
	if err != nil {
		return err
	}
	overlay, err := mask.Overlay(thumb, m, mask.OverlayOptions{
		Color: cfg.Output.OverlayColor,
		Alpha: cfg.Output.OverlayAlpha,
		Cell:  res.PatchSize,
	})
	if err != nil {
		return err
	}
	if err := imgio.Save(filepath.Join(cfg.Output.Dir, overlayName), overlay, imgio.PNGEncoder()); err != nil {
		return fmt.Errorf("failed to write overlay: %w", err)
	}

	return store.WriteTiles(filepath.Join(cfg.Output.Dir, "tiles.json.zst"), store.NewExport(slidePath, res))
}
