package relay

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// handleHealth reports liveness and the live client count
func (s *Server) handleHealth(c *fiber.Ctx) error {
	uptime := time.Duration(0)
	if !s.started.IsZero() {
		uptime = time.Since(s.started).Truncate(time.Second)
	}
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": s.cfg.Version,
		"clients": s.hub.ClientCount(),
		"uptime":  uptime.String(),
	})
}

// handleStats returns hub counters
func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.hub.GetStats())
}

// handleClients lists live connection IDs
func (s *Server) handleClients(c *fiber.Ctx) error {
	ids := s.hub.Registry().IDs()
	return c.JSON(fiber.Map{
		"clients": ids,
		"count":   len(ids),
	})
}

// handleMetrics renders hub counters in Prometheus text format
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	stats := s.hub.GetStats()
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(fmt.Sprintf(`# HELP btmic_relay_clients Connected client count
# TYPE btmic_relay_clients gauge
btmic_relay_clients %d

# HELP btmic_relay_messages_received Total frames received from clients
# TYPE btmic_relay_messages_received counter
btmic_relay_messages_received %d

# HELP btmic_relay_messages_sent Total frames queued to clients
# TYPE btmic_relay_messages_sent counter
btmic_relay_messages_sent %d

# HELP btmic_relay_chunks_relayed Total audio chunks relayed
# TYPE btmic_relay_chunks_relayed counter
btmic_relay_chunks_relayed %d

# HELP btmic_relay_probes_echoed Total latency probes echoed
# TYPE btmic_relay_probes_echoed counter
btmic_relay_probes_echoed %d

# HELP btmic_relay_dropped Total messages dropped for slow clients
# TYPE btmic_relay_dropped counter
btmic_relay_dropped %d
`, stats.Clients, stats.MessagesReceived, stats.MessagesSent, stats.ChunksRelayed, stats.ProbesEchoed, stats.Dropped))
}
