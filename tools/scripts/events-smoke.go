// Package main provides a CI-friendly smoke test for the tally events feed.
//
// It validates:
//   - register/login over the REST API
//   - handshake + subprotocol selection
//   - hello/ack authentication on the feed
//   - expense.created fanout to every connection of the owner
//   - expense.updated and expense.deleted delivery
package main

import (
	"bytes"
	"context"
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

	v1 "tally/shared/contracts/events/v1"

	"github.com/coder/websocket"
)

const (
	feedSubprotocol = "tally.events.v1"
	maxReadBytes    = 1 << 20 // 1MiB
)

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		apiURL  = flag.String("api", "http://127.0.0.1:8080", "HTTP API base URL")
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		email   = flag.String("email", "", "Account email (default: generated throwaway)")
		pass    = flag.String("password", "smoke-secret-1", "Account password")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	account := *email
	if account == "" {
		account = fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano())
	}

	root := context.Background()

	token, userID := mustAuthenticate(root, *apiURL, account, *pass, *timeout)
	if *verbose {
		fmt.Printf("authenticated: email=%s user_id=%s\n", account, userID)
	}

	// Two connections for the same user: fanout must reach both.
	a := mustConnect(root, "A", *wsURL, *origin, token, userID, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, token, userID, *timeout)
	defer closeWS(b.conn)

	expenseID := mustCreateExpense(root, *apiURL, token, *timeout)
	if *verbose {
		fmt.Printf("created: expense_id=%s\n", expenseID)
	}

	mustAssertExpenseEvent(root, a, v1.TypeExpenseCreated, expenseID, *timeout)
	mustAssertExpenseEvent(root, b, v1.TypeExpenseCreated, expenseID, *timeout)

	mustUpdateExpense(root, *apiURL, token, expenseID, *timeout)
	mustAssertExpenseEvent(root, a, v1.TypeExpenseUpdated, expenseID, *timeout)
	mustAssertExpenseEvent(root, b, v1.TypeExpenseUpdated, expenseID, *timeout)

	mustDeleteExpense(root, *apiURL, token, expenseID, *timeout)
	mustAssertExpenseEvent(root, a, v1.TypeExpenseDeleted, expenseID, *timeout)
	mustAssertExpenseEvent(root, b, v1.TypeExpenseDeleted, expenseID, *timeout)

	fmt.Printf("OK: user_id=%s expense_id=%s\n", userID, expenseID)
}

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

// mustAuthenticate registers the account, falling back to login when it
// already exists, and returns the bearer token with the user id.
func mustAuthenticate(parent context.Context, apiURL, email, password string, stepTimeout time.Duration) (token, userID string) {
	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)

	status, resp := mustHTTP(parent, http.MethodPost, apiURL+"/api/v1/auth/register", "", body, stepTimeout)
	if status == http.StatusConflict {
		status, resp = mustHTTP(parent, http.MethodPost, apiURL+"/api/v1/auth/login", "", body, stepTimeout)
	}
	if status != http.StatusCreated && status != http.StatusOK {
		fatalf("authenticate: status=%d body=%s", status, resp)
	}

	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		fatalf("decode auth response: %v", err)
	}
	if out.Session.AccessToken == "" || out.User.ID == "" {
		fatalf("incomplete auth response: %s", resp)
	}
	return out.Session.AccessToken, out.User.ID
}

func mustCreateExpense(parent context.Context, apiURL, token string, stepTimeout time.Duration) string {
	body := fmt.Sprintf(`{"amount_cents":4200,"currency":"EUR","category":"smoke","note":"events smoke","spent_at":%q}`,
		time.Now().UTC().Format(time.RFC3339))

	status, resp := mustHTTP(parent, http.MethodPost, apiURL+"/api/v1/expenses", token, body, stepTimeout)
	if status != http.StatusCreated {
		fatalf("create expense: status=%d body=%s", status, resp)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &out); err != nil || out.ID == "" {
		fatalf("decode expense response: err=%v body=%s", err, resp)
	}
	return out.ID
}

func mustUpdateExpense(parent context.Context, apiURL, token, expenseID string, stepTimeout time.Duration) {
	body := fmt.Sprintf(`{"amount_cents":4300,"currency":"EUR","category":"smoke","note":"events smoke updated","spent_at":%q}`,
		time.Now().UTC().Format(time.RFC3339))

	status, resp := mustHTTP(parent, http.MethodPut, apiURL+"/api/v1/expenses/"+expenseID, token, body, stepTimeout)
	if status != http.StatusOK {
		fatalf("update expense: status=%d body=%s", status, resp)
	}
}

func mustDeleteExpense(parent context.Context, apiURL, token, expenseID string, stepTimeout time.Duration) {
	status, resp := mustHTTP(parent, http.MethodDelete, apiURL+"/api/v1/expenses/"+expenseID, token, "", stepTimeout)
	if status != http.StatusNoContent {
		fatalf("delete expense: status=%d body=%s", status, resp)
	}
}

func mustHTTP(parent context.Context, method, target, token, body string, stepTimeout time.Duration) (int, []byte) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	var rd io.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		fatalf("build request %s %s: %v", method, target, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("read response body: %v", err)
	}
	return resp.StatusCode, b
}

func mustConnect(parent context.Context, name, wsURL, origin, token, wantUserID string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{feedSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, feedSubprotocol)

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
		Payload: mustJSON(v1.HelloPayload{AccessToken: token}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello.ack payload (%s): %v", name, err)
	}
	if p.UserID != wantUserID {
		fatalf("hello.ack user_id mismatch (%s): got=%q want=%q", name, p.UserID, wantUserID)
	}

	return c
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

// mustAssertExpenseEvent waits for an envelope of wantType carrying the
// expense id. Other event types for the same user are skipped, so a prior
// step's stragglers do not fail the run.
func mustAssertExpenseEvent(parent context.Context, c *smokeClient, wantType, expenseID string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type != wantType {
				continue
			}

			var got struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(env.Payload, &got); err != nil {
				fatalf("unmarshal %s payload (%s): %v", wantType, c.name, err)
			}
			if got.ID != expenseID {
				continue
			}
			return
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
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
