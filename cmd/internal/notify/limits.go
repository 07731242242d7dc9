package notify

import "time"

// Security/performance limits for the event stream. Inbound frames are tiny
// control messages (hello/subscribe), so the read limit stays small.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 8 << 10 // 8 KiB
)

const (
	// Heartbeat defaults (overridable by env in gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (control messages per window). Subscribers
	// mostly listen, so the budget is deliberately tight.
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
