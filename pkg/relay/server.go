package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/teslashibe/go-btmic/pkg/hub"
)

// shutdownTimeout bounds graceful HTTP shutdown
const shutdownTimeout = 5 * time.Second

// Server is the relay HTTP server
type Server struct {
	cfg     Config
	app     *fiber.App
	hub     *hub.Hub
	logger  *slog.Logger
	running atomic.Bool
	started time.Time
}

// New creates a relay server. A nil logger uses slog.Default().
func New(cfg Config, log *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		hub:    hub.New("relay", log),
		logger: log.With("component", "relay"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "btmic-relay",
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	if cfg.Debug {
		app.Use(logger.New())
	}

	s.app = app
	s.registerRoutes()
	return s, nil
}

// registerRoutes wires the websocket, API and static routes
func (s *Server) registerRoutes() {
	// WebSocket upgrade middleware
	s.app.Use("/socket", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/socket", websocket.New(s.handleSocket))

	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", s.handleMetrics)

	api := s.app.Group("/api/relay")
	api.Get("/stats", s.handleStats)
	api.Get("/clients", s.handleClients)

	if s.cfg.StaticDir != "" {
		s.app.Static("/", s.cfg.StaticDir)
	}
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the relay hub
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// ListenAndServe listens on the configured port and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hub and serves HTTP on ln until ctx is done, then shuts
// down gracefully. Live connections are closed by the hub on shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	s.started = time.Now()
	s.logger.Info("relay listening", "addr", ln.Addr().String(), "static", s.cfg.StaticDir)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopHub()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("relay: shutdown: %w", err)
	}
	s.logger.Info("relay stopped")
	return nil
}

// handleSocket serves one relay connection until it closes
func (s *Server) handleSocket(c *websocket.Conn) {
	client := hub.NewClient(s.hub, c, s.cfg.QueueSize)
	s.logger.Debug("socket opened", "id", client.ID())
	client.Run()
	s.logger.Debug("socket closed", "id", client.ID())
}
