package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"tally/cmd/identity/ids"
	"tally/cmd/internal/auth/session"

	v1 "tally/shared/contracts/events/v1"

	"github.com/coder/websocket"
)

const (
	feedSubprotocolV1 = "tally.events.v1"

	wsDefaultSendQueueSize = 64
	wsMinSendQueueSize     = 8

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Gateway is the WebSocket entrypoint for the Tally events feed.
//
// It enforces origin policy, subprotocol selection, the hello handshake, rate
// limits, and heartbeats, and attaches authenticated connections to the Hub.
// Authentication is mandatory: the first frame must be a hello carrying an
// access token the session manager accepts, so revoked sessions cannot open
// new feed connections.
type Gateway struct {
	log      *slog.Logger
	hub      *Hub
	sessions *session.Manager

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	helloWithin time.Duration

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with secure defaults. The session manager is
// required; a nil hub falls back to a hub of its own.
func NewGateway(log *slog.Logger, sessions *session.Manager, hub *Hub) (*Gateway, error) {
	if sessions == nil {
		return nil, errors.New("events: nil session manager")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log, nil)
	}

	g := &Gateway{log: log, hub: hub, sessions: sessions}

	// NOTE: InsecureSkipVerify is a dev-only knob. It disables Accept's own
	// origin verification; enforceOrigin above it still runs.
	g.devInsecure = envBool("TALLY_WS_DEV_INSECURE", false)

	g.originRequired = envBool("TALLY_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSV("TALLY_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatterns(g.allowedOrigins)

	g.writeTimeout = envDuration("TALLY_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDuration("TALLY_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envInt("TALLY_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.helloWithin = envDuration("TALLY_WS_HELLO_TIMEOUT", helloTimeout)

	g.heartbeatEvery = envDuration("TALLY_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDuration("TALLY_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envInt("TALLY_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDuration("TALLY_WS_RATE_WINDOW", rateLimitWindow)

	return g, nil
}

// Hub returns the hub this gateway attaches connections to.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket connection, authenticates
// it, and runs the feed loop until either side closes.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{feedSubprotocolV1},

		// Authorize allowed origin hosts (e.g. localhost) for cross-origin requests.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != feedSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", feedSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	principal, err := g.awaitHello(ctx, conn)
	if err != nil {
		g.log.Info("ws.hello.fail", "err", err, "remote", r.RemoteAddr)
		g.writeErrorDirect(ctx, conn, "hello_failed", err.Error())
		_ = conn.Close(websocket.StatusPolicyViolation, "hello failed")
		return
	}

	connID, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "id generation failed")
		return
	}

	sub := NewSubscriber(principal.UserID, connID, g.sendQueueSize)
	g.hub.Attach(sub)

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close sub.Send.
	// Publish safety: sub.Send remains open and feed removal happens inside Detach
	// before the subscriber is signalled to stop.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Detach(sub)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case env := <-sub.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{UserID: principal.UserID})
	if !g.enqueue(ctx, sub, newEnvelope(v1.TypeHelloAck, ackPayload, time.Now().UTC())) {
		shutdown(websocket.StatusAbnormalClosure, "backpressure: hello.ack")
	}

	rl := newConnLimiter(g.rateEvents, g.rateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, sub, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now().UTC()) {
			g.trySendError(ctx, sub, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, sub, "bad_envelope", err.Error())
			continue readLoop
		}

		// The feed is one-directional after the handshake: clients listen.
		switch env.Type {
		case v1.TypeHello:
			g.trySendError(ctx, sub, "already_authenticated", "hello already completed")
		default:
			g.trySendError(ctx, sub, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- hello handshake ----

// awaitHello reads the first frame and authenticates it. The error returned is
// safe to echo to the peer.
func (g *Gateway) awaitHello(parent context.Context, conn *websocket.Conn) (session.Principal, error) {
	ctx, cancel := context.WithTimeout(parent, g.helloWithin)
	defer cancel()

	env, err := readEnvelope(ctx, conn)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return session.Principal{}, errors.New("hello timed out")
		}
		return session.Principal{}, errors.New("hello not received")
	}
	if err := env.Validate(); err != nil {
		return session.Principal{}, err
	}
	if env.Type != v1.TypeHello {
		return session.Principal{}, fmt.Errorf("expected %s, got %s", v1.TypeHello, env.Type)
	}

	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return session.Principal{}, errors.New("invalid hello payload")
	}

	token := strings.TrimSpace(p.AccessToken)
	if token == "" {
		return session.Principal{}, errors.New("missing access_token")
	}

	principal, err := g.sessions.AuthenticateToken(ctx, time.Now().UTC(), token)
	if err != nil {
		// Do not echo token validation detail to the peer.
		return session.Principal{}, errors.New("invalid or revoked token")
	}
	return principal, nil
}

// ---- send helpers ----

func (g *Gateway) trySendError(ctx context.Context, sub *Subscriber, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, time.Now().UTC())
	_ = g.enqueue(ctx, sub, env)
}

// writeErrorDirect writes an error envelope on the connection itself. Used
// before a subscriber exists, i.e. during the hello handshake.
func (g *Gateway) writeErrorDirect(ctx context.Context, conn *websocket.Conn, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, time.Now().UTC())
	_ = writeEnvelope(ctx, conn, env, g.writeTimeout)
}

func (g *Gateway) enqueue(ctx context.Context, sub *Subscriber, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-sub.Done():
		return false
	case sub.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	// ULID generation only fails when the entropy source does; tolerate an
	// empty id on outbound envelopes rather than dropping the event.
	id, _ := ids.NewULID(ts)
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatterns(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSV(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
