package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-dmx/internal/driver"
	"github.com/nerrad567/gray-logic-dmx/internal/engine"
	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-dmx/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-dmx/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

var testScripts = map[string]string{
	"short.dmx":   "set 1 255\nsend\n",
	"forever.dmx": "do-forever\nset 1 100\nsend\npause 00:00:01\ndo-forever-end\n",
	"broken.dmx":  "set 1 255\nstep-end\n",
}

type testEnv struct {
	srv    *Server
	router http.Handler
	engine *engine.Engine
	nullDr *driver.NullDriver
}

type failingChecker struct{}

func (failingChecker) HealthCheck(context.Context) error { return errors.New("broker unreachable") }

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

// testServer builds a server over a real engine, a null driver and a
// migrated SQLite run history. An empty secret disables authentication.
func testServer(t *testing.T, secret string, health map[string]HealthChecker) *testEnv {
	t.Helper()

	dir := t.TempDir()
	for name, content := range testScripts {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "api.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	log := testLogger()
	hub := NewHub(testWSConfig(), log)
	nullDr := driver.NewNullDriver()

	eng := engine.NewEngine(engine.Config{
		ScriptDir:   dir,
		StopTimeout: 5 * time.Second,
		DriverName:  "null",
	}, nullDr, engine.NewSQLiteRepository(db.DB), log)
	eng.SetHub(hub)
	t.Cleanup(func() { eng.Close() })

	if health == nil {
		health = map[string]HealthChecker{"database": db}
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: testWSConfig(),
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: secret, AccessTokenTTL: 15},
		},
		Logger:  log,
		Engine:  eng,
		Hub:     hub,
		Health:  health,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	return &testEnv{srv: srv, router: srv.buildRouter(), engine: eng, nullDr: nullDr}
}

// do sends a request through the router. token may be empty.
func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── Health & Middleware ───────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t, testSecret, nil)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
	components, _ := resp["components"].(map[string]any)
	if components["database"] != "ok" {
		t.Errorf("components = %v", components)
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := testServer(t, "", map[string]HealthChecker{"mqtt": failingChecker{}})

	w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d, want 503", w.Code)
	}
	resp := decode[map[string]any](t, w)
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
	components, _ := resp["components"].(map[string]any)
	if components["mqtt"] != "broker unreachable" {
		t.Errorf("components = %v", components)
	}
}

func TestRequestID(t *testing.T) {
	env := testServer(t, "", nil)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if id := w.Header().Get("X-Request-ID"); len(id) != 2*requestIDBytes {
		t.Errorf("generated X-Request-ID = %q", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if id := rec.Header().Get("X-Request-ID"); id != "client-id" {
		t.Errorf("X-Request-ID = %q, want client-id", id)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t, "", nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/engine/start", nil)
	req.Header.Set("Origin", "http://console.local")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://console.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t, "", nil)
	if w := env.do(t, http.MethodGet, "/api/v1/nope", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := testServer(t, testSecret, nil)

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	m := decode[SystemMetrics](t, w)
	if m.Version != "test" || m.Engine.Driver != "null" || m.Engine.Running {
		t.Errorf("metrics = %+v", m)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime goroutines not reported")
	}
}

// ─── Authentication ────────────────────────────────────────────────

func TestAuth(t *testing.T) {
	env := testServer(t, testSecret, nil)

	valid, err := IssueToken(testSecret, "console", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	expired, _ := IssueToken(testSecret, "console", -time.Minute)
	foreign, _ := IssueToken("another-secret-key-at-least-32-characters", "console", time.Minute)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic YWRtaW46YWRtaW4=", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/engine", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAuth_DisabledWithoutSecret(t *testing.T) {
	env := testServer(t, "", nil)
	if w := env.do(t, http.MethodGet, "/api/v1/engine", "", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", w.Code)
	}
}

func TestIssueToken_NoSecret(t *testing.T) {
	if _, err := IssueToken("", "console", time.Minute); !errors.Is(err, ErrNoSecret) {
		t.Errorf("IssueToken() error = %v, want ErrNoSecret", err)
	}
}

func TestParseToken_Subject(t *testing.T) {
	token, err := IssueToken(testSecret, "lighting-desk", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := parseToken(token, testSecret)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if claims.Subject != "lighting-desk" || claims.Issuer != tokenIssuer {
		t.Errorf("claims = %+v", claims)
	}
}

// ─── Scripts ───────────────────────────────────────────────────────

func TestListScripts(t *testing.T) {
	env := testServer(t, "", nil)

	w := env.do(t, http.MethodGet, "/api/v1/scripts", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[struct {
		Scripts []engine.ScriptInfo `json:"scripts"`
		Count   int                 `json:"count"`
	}](t, w)
	if resp.Count != 3 || len(resp.Scripts) != 3 {
		t.Fatalf("scripts = %+v", resp)
	}
	if resp.Scripts[0].Name != "broken.dmx" {
		t.Errorf("first script = %q, want broken.dmx", resp.Scripts[0].Name)
	}
}

func TestCheckScript(t *testing.T) {
	env := testServer(t, "", nil)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"valid", `{"script":"short.dmx"}`, http.StatusOK, ""},
		{"compile error", `{"script":"broken.dmx"}`, http.StatusUnprocessableEntity, ErrCodeCompile},
		{"missing", `{"script":"nope.dmx"}`, http.StatusNotFound, ErrCodeNotFound},
		{"escaping", `{"script":"../short.dmx"}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"no script", `{}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"invalid json", `short.dmx`, http.StatusBadRequest, ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/scripts/check", tt.body, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantErr == "" {
				resp := decode[map[string]any](t, w)
				if resp["valid"] != true || resp["statements"] != float64(2) {
					t.Errorf("check = %v", resp)
				}
				return
			}
			if apiErr := decode[Error](t, w); apiErr.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantErr)
			}
		})
	}
}

func TestCheckScript_CompileErrorDetails(t *testing.T) {
	env := testServer(t, "", nil)

	w := env.do(t, http.MethodPost, "/api/v1/scripts/check", `{"script":"broken.dmx"}`, "")
	apiErr := decode[Error](t, w)
	if len(apiErr.Details) != 3 {
		t.Fatalf("details = %q, want location, source and message", apiErr.Details)
	}
	if !strings.Contains(apiErr.Details[0], "line 2") {
		t.Errorf("details[0] = %q, want line 2", apiErr.Details[0])
	}
	if apiErr.Details[1] != "step-end" {
		t.Errorf("details[1] = %q, want the offending source", apiErr.Details[1])
	}
}

// ─── Engine & Runs ─────────────────────────────────────────────────

func TestStartStopScript(t *testing.T) {
	env := testServer(t, "", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/engine/start", strings.NewReader(`{"script":"forever.dmx"}`))
	req.Header.Set("X-Request-ID", "req-start")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d (%s)", w.Code, w.Body.String())
	}

	waitFor(t, "first frame", func() bool { return env.nullDr.Frames() > 0 })

	status := decode[engine.Status](t, env.do(t, http.MethodGet, "/api/v1/engine", "", ""))
	if !status.Running || status.Script != "forever.dmx" || status.RunID == "" {
		t.Fatalf("engine status = %+v", status)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/engine/stop", "", ""); w.Code != http.StatusOK {
		t.Fatalf("stop status = %d", w.Code)
	}

	list := decode[struct {
		Runs  []engine.Run `json:"runs"`
		Count int          `json:"count"`
	}](t, env.do(t, http.MethodGet, "/api/v1/runs?script=forever.dmx", "", ""))
	if list.Count != 1 || list.Runs[0].ID != status.RunID {
		t.Fatalf("runs = %+v", list)
	}

	w = env.do(t, http.MethodGet, "/api/v1/runs/"+status.RunID, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get run status = %d", w.Code)
	}
	run := decode[engine.Run](t, w)
	if run.Status != engine.StatusStopped || run.TriggerType != engine.TriggerAPI {
		t.Errorf("run = %+v", run)
	}
	if run.TriggerSource == nil || *run.TriggerSource != "req-start" {
		t.Errorf("TriggerSource = %v, want req-start", run.TriggerSource)
	}
}

func TestStartScript_Errors(t *testing.T) {
	env := testServer(t, "", nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"compile error", `{"script":"broken.dmx"}`, http.StatusUnprocessableEntity},
		{"missing", `{"script":"nope.dmx"}`, http.StatusNotFound},
		{"absolute", `{"script":"/etc/passwd"}`, http.StatusBadRequest},
		{"empty", `{"script":"  "}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPost, "/api/v1/engine/start", tt.body, ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	if env.engine.IsRunning() {
		t.Error("engine running after failed starts")
	}
}

func TestStopScript_Idle(t *testing.T) {
	env := testServer(t, "", nil)
	if w := env.do(t, http.MethodPost, "/api/v1/engine/stop", "", ""); w.Code != http.StatusOK {
		t.Errorf("stop status = %d, want 200", w.Code)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	env := testServer(t, "", nil)
	if w := env.do(t, http.MethodGet, "/api/v1/runs/missing", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListRuns_Limit(t *testing.T) {
	env := testServer(t, "", nil)

	tests := []struct {
		query string
		want  int
	}{
		{"", http.StatusOK},
		{"?limit=5", http.StatusOK},
		{"?limit=0", http.StatusBadRequest},
		{"?limit=-3", http.StatusBadRequest},
		{"?limit=ten", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if w := env.do(t, http.MethodGet, "/api/v1/runs"+tt.query, "", ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// ─── WebSocket Tickets ─────────────────────────────────────────────

func TestWSTicket_SingleUse(t *testing.T) {
	env := testServer(t, testSecret, nil)
	token, _ := IssueToken(testSecret, "console", time.Minute)

	w := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode[map[string]any](t, w)
	ticket, ok := resp["ticket"].(string)
	if !ok || ticket == "" {
		t.Fatal("expected ticket to be a non-empty string")
	}

	entry, ok := env.srv.tickets.validate(ticket)
	if !ok {
		t.Fatal("ticket should be valid on first use")
	}
	if entry.subject != "console" {
		t.Errorf("subject = %q, want console", entry.subject)
	}
	if _, ok := env.srv.tickets.validate(ticket); ok {
		t.Error("ticket should not be valid on second use")
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	store := newTicketStore()
	ticket := store.issue("console")

	store.mu.Lock()
	store.tickets[ticket] = ticketEntry{expiresAt: time.Now().Add(-time.Second)}
	store.mu.Unlock()

	if _, ok := store.validate(ticket); ok {
		t.Error("expired ticket should not be valid")
	}
}

func TestWSTicket_Clean(t *testing.T) {
	store := newTicketStore()
	store.issue("a")
	store.issue("b")

	store.clean(time.Now())
	if store.count() != 2 {
		t.Errorf("fresh tickets removed: count = %d", store.count())
	}
	store.clean(time.Now().Add(2 * ticketTTL))
	if store.count() != 0 {
		t.Errorf("expired tickets kept: count = %d", store.count())
	}
}

// ─── Server Lifecycle ──────────────────────────────────────────────

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestServer_StartAndClose(t *testing.T) {
	env := testServer(t, "", nil)
	port := freePort(t)
	env.srv.cfg.Port = port

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil before Start")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start = %v", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	waitFor(t, "listener", func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get(url); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without engine succeeded")
	}
}

// ─── Console ───────────────────────────────────────────────────────

func TestPanel(t *testing.T) {
	env := testServer(t, testSecret, nil)

	w := env.do(t, http.MethodGet, "/", "", "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/panel/" {
		t.Errorf("GET / = %d %q, want redirect to /panel/", w.Code, w.Header().Get("Location"))
	}

	w = env.do(t, http.MethodGet, "/panel/", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<!DOCTYPE html>") {
		t.Errorf("GET /panel/ = %d, want console page without a token", w.Code)
	}

	w = env.do(t, http.MethodGet, "/panel/console.js", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("GET /panel/console.js = %d", w.Code)
	}
}
