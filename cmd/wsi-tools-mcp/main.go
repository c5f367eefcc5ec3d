package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ironsheep/wsi-tools-mcp/internal/config"
	"github.com/ironsheep/wsi-tools-mcp/internal/logging"
	"github.com/ironsheep/wsi-tools-mcp/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("wsi-tools-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("wsi-tools-mcp - MCP server for whole-slide image scanning")
			fmt.Println()
			fmt.Println("Usage: wsi-tools-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables:")
			fmt.Println("  WSI_MCP_LOG_LEVEL=debug          Log level (debug, info, warn, error)")
			fmt.Printf("  %s=/path/config.yaml     YAML configuration file\n", config.EnvPath)
			fmt.Println()
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			return
		}
	}

	// Logs go to stderr; stdout is for MCP protocol
	log := logging.New(os.Stderr, logging.ParseLevel(os.Getenv("WSI_MCP_LOG_LEVEL")))
	log.Debug().
		Str("version", Version).
		Str("built", BuildTime).
		Str("commit", GitCommit).
		Msg("starting wsi-tools-mcp")

	cfg, err := config.LoadConfig(os.Getenv(config.EnvPath))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if Version != "dev" {
		server.Version = Version
	}
	srv, err := server.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := srv.Run(ctx, os.Stdin, os.Stdout)
	if err := srv.Close(); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
	if runErr != nil && runErr != context.Canceled {
		log.Fatal().Err(runErr).Msg("server error")
	}
}
