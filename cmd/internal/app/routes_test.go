package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestApp builds a fully wired memory-mode App. Hashing is tuned down and
// secrets come from the environment, so tests mirror real startup wiring.
func newTestApp(t *testing.T, mutate ...func(*Config)) *App {
	t.Helper()

	t.Setenv("TALLY_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("TALLY_ARGON2_ITERATIONS", "1")
	t.Setenv("TALLY_AUTH_ACCESS_SECRET", strings.Repeat("a", 32))
	t.Setenv("TALLY_AUTH_REFRESH_SECRET", strings.Repeat("r", 32))
	t.Setenv("TALLY_TOKEN_HMAC_KEY", "")
	t.Setenv("TALLY_DATABASE_URL", "")

	cfg := Config{
		Env:               "dev",
		RateGeneralMax:    1000,
		RateGeneralWindow: time.Minute,
		RateAuthMax:       1000,
		RateAuthWindow:    time.Minute,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	a, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		a.generalLimiter.Stop()
		a.authLimiter.Stop()
		a.cache.Stop()
	})
	return a
}

// do sends one JSON request, optionally with a bearer token, and returns the
// response with its fully read body.
func do(t *testing.T, method, url, token, body string) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, b
}

func registerUser(t *testing.T, baseURL, email string) (userID, accessToken string) {
	t.Helper()

	resp, body := do(t, http.MethodPost, baseURL+"/api/v1/auth/register", "",
		`{"email":"`+email+`","password":"secret1"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status=%d body=%s", email, resp.StatusCode, body)
	}

	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if out.User.ID == "" || out.Session.AccessToken == "" {
		t.Fatalf("incomplete register response: %s", body)
	}
	return out.User.ID, out.Session.AccessToken
}

func TestAppHealthReadyAndMetrics(t *testing.T) {
	a := newTestApp(t)
	ts := httptest.NewServer(a.routes())
	defer ts.Close()

	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "", "")
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Fatalf("healthz: status=%d body=%q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("security headers not applied: %q", got)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/readyz", "", "")
	if resp.StatusCode != http.StatusOK || string(body) != "ready\n" {
		t.Fatalf("readyz: status=%d body=%q", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/metrics", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: status=%d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "tally_http_requests_total") {
		t.Fatalf("metrics exposition missing request counter:\n%s", body)
	}
}

func TestAppReadyzRequiresDBWhenConfigured(t *testing.T) {
	a := newTestApp(t, func(cfg *Config) { cfg.ReadinessRequireDB = true })
	ts := httptest.NewServer(a.routes())
	defer ts.Close()

	resp, _ := do(t, http.MethodGet, ts.URL+"/readyz", "", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz without DB: status=%d want 503", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodGet, ts.URL+"/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz must stay live: status=%d", resp.StatusCode)
	}
}

func TestAppProtectedRoutesRequireBearer(t *testing.T) {
	a := newTestApp(t)
	ts := httptest.NewServer(a.routes())
	defer ts.Close()

	for _, path := range []string{
		"/api/v1/expenses",
		"/api/v1/reports/summary",
		"/api/v1/auth/me",
	} {
		resp, _ := do(t, http.MethodGet, ts.URL+path, "", "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s without token: status=%d want 401", path, resp.StatusCode)
		}
	}
}

func TestAppExpenseFlowEndToEnd(t *testing.T) {
	a := newTestApp(t)
	ts := httptest.NewServer(a.routes())
	defer ts.Close()

	_, alice := registerUser(t, ts.URL, "alice@example.com")

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/expenses", alice,
		`{"amount_cents":2350,"currency":"EUR","category":"food","note":"team lunch","spent_at":"2026-02-10T12:00:00Z"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create expense: status=%d body=%s", resp.StatusCode, body)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		t.Fatalf("create response: err=%v body=%s", err, body)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/expenses", alice, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status=%d", resp.StatusCode)
	}
	var list struct {
		Expenses []json.RawMessage `json:"expenses"`
	}
	if err := json.Unmarshal(body, &list); err != nil || len(list.Expenses) != 1 {
		t.Fatalf("list response: err=%v body=%s", err, body)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/reports/summary", alice, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary: status=%d", resp.StatusCode)
	}
	var sum struct {
		TotalCents int64 `json:"total_cents"`
		Count      int64 `json:"count"`
	}
	if err := json.Unmarshal(body, &sum); err != nil || sum.TotalCents != 2350 || sum.Count != 1 {
		t.Fatalf("summary response: err=%v body=%s", err, body)
	}

	// A foreign expense and a nonexistent one must be indistinguishable.
	_, bob := registerUser(t, ts.URL, "bob@example.com")
	foreignResp, foreignBody := do(t, http.MethodGet, ts.URL+"/api/v1/expenses/"+created.ID, bob, "")
	missingResp, missingBody := do(t, http.MethodGet, ts.URL+"/api/v1/expenses/01ARZ3NDEKTSV4RRFFQ69G5FAV", bob, "")
	if foreignResp.StatusCode != http.StatusNotFound || missingResp.StatusCode != http.StatusNotFound {
		t.Fatalf("statuses: foreign=%d missing=%d want 404/404", foreignResp.StatusCode, missingResp.StatusCode)
	}
	if string(foreignBody) != string(missingBody) {
		t.Fatalf("foreign and missing bodies differ:\n%s\n%s", foreignBody, missingBody)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/v1/auth/logout", alice, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: status=%d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/auth/me", alice, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout: status=%d want 401", resp.StatusCode)
	}
}

func TestAppAuthRateLimiterBites(t *testing.T) {
	a := newTestApp(t, func(cfg *Config) {
		cfg.RateAuthMax = 2
		cfg.RateAuthWindow = time.Minute
	})
	ts := httptest.NewServer(a.routes())
	defer ts.Close()

	login := func() (*http.Response, []byte) {
		return do(t, http.MethodPost, ts.URL+"/api/v1/auth/login", "",
			`{"email":"ghost@example.com","password":"wrong"}`)
	}

	resp, _ := login()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first login: status=%d want 401", resp.StatusCode)
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "" {
		t.Fatalf("remaining-quota header missing on admitted request")
	}
	if resp, _ = login(); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("second login: status=%d want 401", resp.StatusCode)
	}

	resp, body := login()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third login: status=%d want 429 body=%s", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("429 without Retry-After header")
	}

	// The narrow limiter must not spill onto unlimited routes.
	if resp, _ = do(t, http.MethodGet, ts.URL+"/healthz", "", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz throttled: status=%d", resp.StatusCode)
	}
}
