// Package relay implements signaling between two test peers running in
// different processes, relayed through a websocket server.
//
// Each test gets its own relay channel, addressed by the URL path
// /<testIndex>/<role> where role is 0 or 1. Frames sent by one role are
// forwarded verbatim to the other, and are buffered in order while the
// other role is not yet connected. A dedicated channel, /are-you-there,
// carries the one-time rendezvous exchange performed before any test
// runs.
//
// Frames are single JSON objects {"type": ..., "value": ...}. The relay
// itself never inspects them.
package relay

import (
	"fmt"
	"strings"
)

// rendezvousChannel is the reserved channel name for the pre-test
// rendezvous exchange.
const rendezvousChannel = "are-you-there"

// TestURL returns the relay URL for one role of a test. base is the
// server's ws:// URL.
func TestURL(base string, testIndex int, role int) string {
	return fmt.Sprintf("%s/%d/%d", strings.TrimSuffix(base, "/"), testIndex, role)
}

// RendezvousURL returns the relay URL for one role of the rendezvous
// exchange.
func RendezvousURL(base string, role int) string {
	return fmt.Sprintf("%s/%s/%d", strings.TrimSuffix(base, "/"), rendezvousChannel, role)
}
