package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/teslashibe/go-btmic/internal/httpc"
	"github.com/teslashibe/go-btmic/pkg/hub"
	"github.com/teslashibe/go-btmic/pkg/session"
)

const meterWidth = 10

// statusLine renders one line of session state
func statusLine(st session.Status) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s | server: %s", st.Mode, serverState(st))

	if st.Device != nil {
		state := "Disconnected"
		if st.Device.Connected {
			state = "Connected"
		}
		fmt.Fprintf(&b, " | device: %s (%s)", st.Device.Name, state)
	}

	switch st.Mode {
	case session.ModeCapturing:
		fmt.Fprintf(&b, " | %s | sent %d dropped %d | %s",
			meter(st.Volume), st.Capture.Sent, st.Capture.Dropped, st.Latency)
	case session.ModeReceiving:
		fmt.Fprintf(&b, " | played %d", st.Playback.Played)
	}

	if st.Message != "" {
		fmt.Fprintf(&b, " | ⚠️  %s", st.Message)
	}
	return b.String()
}

func serverState(st session.Status) string {
	switch {
	case st.Connected:
		return "Connected"
	case st.Reconnecting:
		return fmt.Sprintf("Reconnecting (attempt %d)", st.Attempt)
	default:
		return "Disconnected"
	}
}

// meter draws volume in [0, 1] as a fixed-width bar
func meter(volume float64) string {
	filled := int(volume*meterWidth + 0.5)
	if filled > meterWidth {
		filled = meterWidth
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", meterWidth-filled) + "]"
}

// statsURL maps the relay websocket URL onto its stats endpoint
func statsURL(relayURL string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/api/relay/stats"
	u.RawQuery = ""
	return u.String(), nil
}

func printRelayStats(ctx context.Context, relayURL string) error {
	endpoint, err := statsURL(relayURL)
	if err != nil {
		return err
	}

	var stats hub.Stats
	if err := httpc.GetJSON(ctx, endpoint, &stats); err != nil {
		return err
	}

	fmt.Printf("📊 Relay %s\n", endpoint)
	fmt.Printf("   Clients:          %d\n", stats.Clients)
	fmt.Printf("   Messages in/out:  %d / %d\n", stats.MessagesReceived, stats.MessagesSent)
	fmt.Printf("   Chunks relayed:   %d\n", stats.ChunksRelayed)
	fmt.Printf("   Probes echoed:    %d\n", stats.ProbesEchoed)
	fmt.Printf("   Dropped/invalid:  %d / %d\n", stats.Dropped, stats.Invalid)
	return nil
}
