// btmic: microphone relay client
// Captures the microphone and streams it to a relay, or plays what other clients send
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-btmic/internal/config"
	"github.com/teslashibe/go-btmic/internal/log"
	"github.com/teslashibe/go-btmic/pkg/audioio"
	"github.com/teslashibe/go-btmic/pkg/channel"
	"github.com/teslashibe/go-btmic/pkg/latency"
	"github.com/teslashibe/go-btmic/pkg/session"
)

var (
	version        = "dev"
	mode           = flag.String("mode", "capture", "capture or receive")
	server         = flag.String("server", "", "Relay websocket URL (overrides RELAY_URL)")
	backend        = flag.String("backend", "", "Audio backend: auto, device, mock (overrides AUDIO_BACKEND)")
	device         = flag.String("device", "", "Capture device ID (overrides AUDIO_DEVICE)")
	btDevice       = flag.String("bt-device", "", "Name of the paired Bluetooth output device")
	requireBT      = flag.Bool("require-bluetooth", false, "Refuse to capture without a Bluetooth device")
	binary         = flag.Bool("binary", false, "Send audio as binary frames")
	statsOnly      = flag.Bool("stats", false, "Print relay statistics and exit")
	statusInterval = flag.Duration("status", time.Second, "Status line refresh interval")
	logLevel       = flag.String("log-level", "", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.LogLevel)
	logger := log.Component("btmic")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *statsOnly {
		if err := printRelayStats(ctx, cfg.RelayURL); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("btmic failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("\n👋 Goodbye!")
}

func applyFlags(cfg *config.Client) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			cfg.RelayURL = *server
		case "backend":
			cfg.Audio.Backend = audioio.Backend(*backend)
		case "device":
			cfg.Audio.Device = *device
		case "require-bluetooth":
			cfg.RequireBluetooth = *requireBT
		case "binary":
			cfg.BinaryAudio = *binary
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
}

func run(ctx context.Context, cfg *config.Client, logger *slog.Logger) error {
	locale, err := cfg.Locale()
	if err != nil {
		return err
	}

	receiving := *mode == "receive"
	if !receiving && *mode != "capture" {
		return fmt.Errorf("unknown mode %q", *mode)
	}

	fmt.Println()
	fmt.Println("🎙️  btmic v" + version)
	fmt.Printf("   Relay:   %s\n", cfg.RelayURL)
	fmt.Printf("   Mode:    %s\n", *mode)
	fmt.Printf("   Backend: %s (available: %v)\n", cfg.Audio.Backend, audioio.AvailableBackends())
	fmt.Println()

	ch := channel.New(cfg.Channel(), channel.WithLogger(log.Component("channel")))
	if err := ch.Start(ctx); err != nil {
		return err
	}
	defer ch.Stop()

	src, err := audioio.NewSource(cfg.Audio, log.Component("audio"))
	if err != nil {
		return err
	}
	defer src.Close()

	var sink audioio.Sink
	if receiving {
		sink, err = audioio.NewSink(cfg.Audio, log.Component("audio"))
		if err != nil {
			return err
		}
		defer sink.Close()
	}

	sess := session.New(session.Config{
		RequireBluetooth: cfg.RequireBluetooth,
		ReceiverMode:     cfg.ReceiverMode,
		Locale:           locale,
		Monitor: latency.New(
			latency.WithInterval(cfg.ProbeInterval),
			latency.WithLogger(logger),
		),
		Logger: logger,
	}, ch, src, sink)
	defer sess.Close()

	go sess.Run(ctx)

	if *btDevice != "" {
		sess.SetDevice(&session.Device{ID: *btDevice, Name: *btDevice, Connected: true})
	}

	start := func() {
		var err error
		if receiving {
			err = sess.StartReceiving(ctx)
		} else {
			err = sess.StartCapture(ctx)
		}
		if err != nil {
			// Surfaced on the status line; SIGHUP retries, Ctrl-C exits
			logger.Warn("start failed", "mode", *mode, "error", err)
		}
	}
	start()

	// SIGHUP is a fresh start: it redials a relay that was given up on
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	ticker := time.NewTicker(*statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-hup:
			logger.Info("restart requested", "mode", *mode)
			start()
		case <-ticker.C:
			fmt.Printf("\r\033[K%s", statusLine(sess.Status()))
		}
	}
}
