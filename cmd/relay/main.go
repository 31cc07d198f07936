// relay: audio relay server for btmic clients
// Broadcasts each client's audio to every other client and echoes latency probes
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-btmic/internal/config"
	"github.com/teslashibe/go-btmic/internal/log"
	"github.com/teslashibe/go-btmic/pkg/relay"
)

var (
	version   = "dev"
	port      = flag.Int("port", 0, "HTTP server port (overrides PORT)")
	staticDir = flag.String("static", "", "Static asset directory (overrides STATIC_DIR)")
	debug     = flag.Bool("debug", false, "Enable HTTP access logging")
	logLevel  = flag.String("log-level", "", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	// Flags override environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "static":
			cfg.StaticDir = *staticDir
		case "debug":
			cfg.Debug = *debug
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	log.Init(cfg.LogLevel)
	logger := log.Component("relay")

	fmt.Println()
	fmt.Println("🎙️  btmic relay v" + version)
	fmt.Println("   Microphone audio relay")
	fmt.Println()

	srv, err := relay.New(cfg.Relay(version), logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting server",
		"addr", fmt.Sprintf(":%d", cfg.Port),
		"socket", fmt.Sprintf("ws://localhost:%d/socket", cfg.Port),
		"health", fmt.Sprintf("http://localhost:%d/health", cfg.Port),
		"static", cfg.StaticDir,
	)

	// Wait for shutdown signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	fmt.Println("👋 Goodbye!")
}
