package notify

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
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "huddle/contracts/collab/v1"
)

const (
	wsSubprotocolV1 = "huddle.collab.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 5 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// MembershipChecker answers whether a user may watch a chat's event stream.
// The coordinator implements it.
type MembershipChecker interface {
	Membership(ctx context.Context, chatID, userID string) (bool, error)
}

// CallerFunc resolves the authenticated user id from the upgrade request.
// Authentication itself happens upstream; this only extracts the identity.
type CallerFunc func(r *http.Request) (string, error)

// Gateway is the WebSocket entrypoint for coordinator events.
//
// It enforces origin policy, subprotocol selection, caller identity, and
// membership-gated subscriptions, then streams coordinator events from the
// Hub to the client. Clients never mutate state over this channel; all
// writes go through the HTTP API.
type Gateway struct {
	log        *slog.Logger
	hub        *Hub
	membership MembershipChecker
	caller     CallerFunc

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks. Accept authorizes
	// same-host origins by default; cross-origin needs OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(log *slog.Logger, hub *Hub, membership MembershipChecker, caller CallerFunc) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}

	g := &Gateway{log: log, hub: hub, membership: membership, caller: caller}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification), not an
	// origin policy.
	g.devInsecure = envBoolWS("HUDDLE_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("HUDDLE_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("HUDDLE_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatterns(g.allowedOrigins)

	g.writeTimeout = envDurationWS("HUDDLE_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("HUDDLE_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("HUDDLE_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("HUDDLE_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("HUDDLE_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("HUDDLE_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("HUDDLE_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the event-stream loop until the
// client disconnects.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	userID := ""
	if g.caller != nil {
		uid, err := g.caller(r)
		if err != nil || strings.TrimSpace(uid) == "" {
			g.log.Info("ws.reject.caller", "err", err, "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID = strings.TrimSpace(uid)
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID := newRandomHex(10)
	sub := newSession(userID, sessionID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// watched is written by the read loop and read by shutdown, which the
	// writer and heartbeat goroutines may also invoke.
	var (
		closeOnce sync.Once
		watchedMu sync.Mutex
		watched   *topic
	)

	setWatched := func(t *topic) {
		watchedMu.Lock()
		watched = t
		watchedMu.Unlock()
	}
	takeWatched := func() *topic {
		watchedMu.Lock()
		t := watched
		watched = nil
		watchedMu.Unlock()
		return t
	}

	// shutdown is idempotent and never closes sub.send: membership removal
	// happens before sub.stop so broadcasters cannot race a closing queue.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if t := takeWatched(); t != nil {
				t.unsubscribe(sessionID)
				g.hub.drop(t.chatID)
			}

			sub.stop()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := newRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.stopped():
				return
			case env := <-sub.send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
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
			case <-sub.stopped():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
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

	// ?chat_id= attaches the stream at upgrade time; the client can still
	// switch chats later with chat.subscribe frames.
	if initial := strings.TrimSpace(r.URL.Query().Get("chat_id")); initial != "" {
		t, err := g.subscribeChat(ctx, sub, initial)
		if err != nil {
			g.trySendError(ctx, sub, "subscribe_failed", err.Error())
			shutdown(websocket.StatusPolicyViolation, "subscribe failed")
			<-writerDone
			return
		}
		setWatched(t)
	}

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
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.allow(now) {
			g.trySendError(ctx, sub, "rate_limited", "too many control messages")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, sub, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			if err := g.onHello(ctx, sub); err != nil {
				g.trySendError(ctx, sub, "hello_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}

		case v1.TypeSubscribe:
			t, err := g.onSubscribe(ctx, sub, env)
			if err != nil {
				g.trySendError(ctx, sub, "subscribe_failed", err.Error())
				continue readLoop
			}

			// One chat per connection: leave the old topic before switching.
			if old := takeWatched(); old != nil && old.chatID != t.chatID {
				old.unsubscribe(sessionID)
				g.hub.drop(old.chatID)
			}
			setWatched(t)

		case v1.TypeUnsubscribe:
			if t := takeWatched(); t != nil {
				t.unsubscribe(sessionID)
				g.hub.drop(t.chatID)
			}

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

// ---- handlers ----

func (g *Gateway) onHello(ctx context.Context, sub *session) error {
	ackPayload, _ := json.Marshal(v1.HelloAckPayload{SessionID: sub.id})
	ack := serverEnvelope(v1.TypeHelloAck, "", ackPayload, time.Now().UTC())

	if !g.enqueue(ctx, sub, ack) {
		return errors.New("backpressure: hello.ack")
	}
	return nil
}

func (g *Gateway) onSubscribe(ctx context.Context, sub *session, env v1.Envelope) (*topic, error) {
	var p v1.SubscribePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return g.subscribeChat(ctx, sub, p.ChatID)
}

func (g *Gateway) subscribeChat(ctx context.Context, sub *session, rawChatID string) (*topic, error) {
	chatID := strings.TrimSpace(rawChatID)
	if chatID == "" {
		return nil, errors.New("missing chat_id")
	}

	// Only accepted members may watch a chat's stream. This re-runs on every
	// subscribe; a removed participant keeps the socket but loses the feed
	// the next time it tries to attach.
	if g.membership != nil {
		ok, err := g.membership.Membership(ctx, chatID, sub.userID)
		if err != nil {
			return nil, errors.New("membership check unavailable")
		}
		if !ok {
			return nil, errors.New("not a participant")
		}
	}

	t := g.hub.get(chatID)
	t.subscribe(sub)

	echoPayload, _ := json.Marshal(v1.SubscribedPayload{ChatID: chatID})
	echo := serverEnvelope(v1.TypeSubscribed, chatID, echoPayload, time.Now().UTC())

	if !g.enqueue(ctx, sub, echo) {
		t.unsubscribe(sub.id)
		g.hub.drop(chatID)
		return nil, errors.New("backpressure: subscribe echo")
	}
	return t, nil
}

// ---- send helpers ----

func (g *Gateway) trySendError(ctx context.Context, sub *session, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := serverEnvelope(v1.TypeError, "", p, time.Now().UTC())
	_ = g.enqueue(ctx, sub, env)
}

func (g *Gateway) enqueue(ctx context.Context, sub *session, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-sub.stopped():
		return false
	case sub.send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func serverEnvelope(typ, chatID string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      newRandomHex(10),
		ChatID:  chatID,
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

	// JSON decode errors surface from json.Unmarshal, not conn.Read. This
	// fallback exists for robustness when error strings are propagated.
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
	// websocket.Accept matches OriginPatterns against the origin host using
	// filepath.Match patterns; only hosts from the allowlist are accepted.
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
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
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

func envIntWS(key string, def int) int {
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

func envDurationWS(key string, def time.Duration) time.Duration {
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

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
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
