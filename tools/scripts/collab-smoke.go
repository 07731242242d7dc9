// Package main provides a CI-friendly smoke test for the Huddle coordinator.
//
// It validates:
//   - convert over HTTP (owner gets session + invite code)
//   - join over HTTP (guest admitted with a distinct color)
//   - WS handshake + subprotocol selection
//   - hello/ack session establishment
//   - chat.subscribe gated by membership
//   - lock acquire/release fanout to the subscribed guest
package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "huddle/contracts/collab/v1"
)

const (
	defaultSubprotocol = "huddle.collab.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		apiURL  = flag.String("api", "http://127.0.0.1:8080", "HTTP API base URL")
		wsURL   = flag.String("ws", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like handshake)")
		chatID  = flag.String("chat", fmt.Sprintf("smoke-chat-%d", time.Now().UnixNano()), "Chat ID to convert")
		owner   = flag.String("owner", "smoke-owner", "Owner user id")
		guest   = flag.String("guest", "smoke-guest", "Guest user id")
		hmacKey = flag.String("hmac", "", "Caller HMAC key (when the server enforces X-Huddle-Sig)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -ws: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	hc := &http.Client{Timeout: *timeout}

	code := mustConvert(hc, *apiURL, *owner, *hmacKey, *chatID)
	if *verbose {
		fmt.Printf("converted: chat=%s invite_code=%s...\n", *chatID, code[:8])
	}

	color := mustJoin(hc, *apiURL, *guest, *hmacKey, code)
	if color == 0 {
		fatalf("guest color index must not be the owner's (0)")
	}

	g := mustConnect(root, "guest", *wsURL, *origin, *guest, *hmacKey, *timeout)
	defer closeWS(g.conn)
	if *verbose {
		fmt.Printf("connected: guest session=%s\n", g.sessionID)
	}

	mustSubscribe(root, g, *chatID, *timeout)

	mustAcquire(hc, *apiURL, *owner, *hmacKey, *chatID)

	env := g.mustReadUntilType(root, v1.TypeLockAcquired, *timeout, nil)
	var lp v1.LockPayload
	if err := json.Unmarshal(env.Payload, &lp); err != nil {
		fatalf("unmarshal lock_acquired payload: %v", err)
	}
	if lp.HeldBy != *owner {
		fatalf("lock_acquired holder mismatch: got=%q want=%q", lp.HeldBy, *owner)
	}
	if lp.ExpiresAt.IsZero() || !lp.ExpiresAt.After(time.Now().Add(-time.Minute)) {
		fatalf("lock_acquired has no usable expiry: %v", lp.ExpiresAt)
	}

	mustRelease(hc, *apiURL, *owner, *hmacKey, *chatID)
	_ = g.mustReadUntilType(root, v1.TypeLockReleased, *timeout, nil)

	fmt.Printf("OK: chat=%s owner=%s guest=%s guest_color=%d ws_session=%s\n",
		*chatID, *owner, *guest, color, g.sessionID)
}

// ---- HTTP steps ----

func mustConvert(hc *http.Client, apiURL, owner, hmacKey, chatID string) (inviteCode string) {
	var out struct {
		Invite struct {
			Code string `json:"code"`
		} `json:"invite"`
	}
	mustPostJSON(hc, apiURL+"/collab/convert", owner, hmacKey,
		map[string]any{"chat_id": chatID}, &out)
	if strings.TrimSpace(out.Invite.Code) == "" {
		fatalf("convert response missing invite code")
	}
	return out.Invite.Code
}

func mustJoin(hc *http.Client, apiURL, guest, hmacKey, code string) (colorIndex int) {
	var out struct {
		Participant struct {
			ColorIndex int `json:"color_index"`
		} `json:"participant"`
	}
	mustPostJSON(hc, apiURL+"/collab/join", guest, hmacKey,
		map[string]any{"code": code}, &out)
	return out.Participant.ColorIndex
}

func mustAcquire(hc *http.Client, apiURL, owner, hmacKey, chatID string) {
	var out struct {
		Acquired bool `json:"acquired"`
	}
	mustPostJSON(hc, apiURL+"/collab/lock/acquire", owner, hmacKey,
		map[string]any{"chat_id": chatID}, &out)
	if !out.Acquired {
		fatalf("expected fresh lock acquire to succeed")
	}
}

func mustRelease(hc *http.Client, apiURL, owner, hmacKey, chatID string) {
	var out struct {
		OK bool `json:"ok"`
	}
	mustPostJSON(hc, apiURL+"/collab/lock/release", owner, hmacKey,
		map[string]any{"chat_id": chatID}, &out)
	if !out.OK {
		fatalf("release did not report ok")
	}
}

func mustPostJSON(hc *http.Client, endpoint, userID, hmacKey string, in any, out any) {
	body, err := json.Marshal(in)
	if err != nil {
		fatalf("marshal request: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setCallerHeaders(req.Header, userID, hmacKey)

	resp, err := hc.Do(req)
	if err != nil {
		fatalf("POST %s: %v", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != http.StatusOK {
		fatalf("POST %s: status=%d body=%s", endpoint, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			fatalf("decode %s response: %v", endpoint, err)
		}
	}
}

// setCallerHeaders mirrors the countersignature the auth layer attaches.
func setCallerHeaders(h http.Header, userID, hmacKey string) {
	h.Set("X-Huddle-User", userID)
	if strings.TrimSpace(hmacKey) != "" {
		mac := hmac.New(sha256.New, []byte(hmacKey))
		mac.Write([]byte(userID))
		h.Set("X-Huddle-Sig", hex.EncodeToString(mac.Sum(nil)))
	}
}

// ---- WS steps ----

func mustConnect(parent context.Context, name, wsURL, origin, userID, hmacKey string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	setCallerHeaders(h, userID, hmacKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello.ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello.ack missing session_id (%s)", name)
	}
	c.sessionID = p.SessionID

	return c
}

func mustSubscribe(parent context.Context, c *smokeClient, chatID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeSubscribe,
		ID:      fmt.Sprintf("%s-subscribe", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.SubscribePayload{ChatID: chatID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	echo := c.mustReadUntilType(parent, v1.TypeSubscribed, stepTimeout, nil)

	var p v1.SubscribedPayload
	if err := json.Unmarshal(echo.Payload, &p); err != nil {
		fatalf("unmarshal chat.subscribed payload (%s): %v", c.name, err)
	}
	if p.ChatID != chatID {
		fatalf("chat.subscribed chat_id mismatch (%s): got=%q want=%q", c.name, p.ChatID, chatID)
	}
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

// ---- small helpers ----

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
