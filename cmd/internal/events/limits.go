package events

import "time"

// Security/performance limits for the feed protocol.
const (
	// Max bytes per websocket frame read. Inbound traffic is the hello frame
	// and small control messages, so this is deliberately tight.
	maxFrameBytes = 32 << 10 // 32 KiB
)

const (
	// How long a fresh connection may take to present its hello frame.
	helloTimeout = 10 * time.Second

	// Heartbeat defaults (can be overridden by env in gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (client frames per window). Feed clients
	// mostly listen, so anything chattier than this is misbehaving.
	rateLimitEvents = 20
	rateLimitWindow = 10 * time.Second
)
