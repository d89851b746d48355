package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"perp-trading-agent/config"
	"perp-trading-agent/internal/auth"
	"perp-trading-agent/internal/bot"
	"perp-trading-agent/internal/decision"
	"perp-trading-agent/internal/events"
	"perp-trading-agent/internal/logging"
	"perp-trading-agent/internal/tracker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeBots struct {
	mu       sync.Mutex
	statuses []bot.Status
	trades   map[string][]tracker.TradeRecord
	started  []string
	stopped  []string
	resets   []string
	failWith error
}

func newFakeBots() *fakeBots {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return &fakeBots{
		statuses: []bot.Status{
			{Name: "BTC-BOT", Symbol: "BTCUSDT", Running: true, Stats: tracker.Stats{TotalTrades: 4, CorrectPredictions: 3, TotalPnLUSD: 120}},
			{Name: "ETH-BOT", Symbol: "ETHUSDT", Stats: tracker.Stats{TotalTrades: 6, CorrectPredictions: 2, TotalPnLUSD: -20, OpenTrades: 1}},
		},
		trades: map[string][]tracker.TradeRecord{
			"BTC-BOT": {{ID: "b1", Bot: "BTC-BOT", OpenedAt: base}},
			"ETH-BOT": {{ID: "e1", Bot: "ETH-BOT", OpenedAt: base.Add(time.Hour)}},
		},
	}
}

func (f *fakeBots) Statuses() []bot.Status { return f.statuses }

func (f *fakeBots) Status(name string) (bot.Status, error) {
	for _, st := range f.statuses {
		if st.Name == name {
			return st, nil
		}
	}
	return bot.Status{}, fmt.Errorf("%w: %s", bot.ErrUnknownBot, name)
}

func (f *fakeBots) StartBot(name string) error {
	if _, err := f.Status(name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, name)
	return nil
}

func (f *fakeBots) StopBot(name string) error {
	if _, err := f.Status(name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeBots) ResetBreaker(name string) error {
	if _, err := f.Status(name); err != nil {
		return err
	}
	if name == "ETH-BOT" {
		return fmt.Errorf("%w: %s", bot.ErrNoBreaker, name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, name)
	return nil
}

func (f *fakeBots) Decisions(ctx context.Context, name string, limit int) ([]decision.LogEntry, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if _, err := f.Status(name); err != nil {
		return nil, err
	}
	return []decision.LogEntry{{ID: "d1", Bot: name}}, nil
}

func (f *fakeBots) Trades(name string, limit int) ([]tracker.TradeRecord, error) {
	if _, err := f.Status(name); err != nil {
		return nil, err
	}
	return f.trades[name], nil
}

type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(ctx context.Context) error { return s.err }

func newTestServer(t *testing.T, bots Bots, withJWT bool, opts ...Option) (*Server, *auth.JWTManager) {
	t.Helper()
	var jwtManager *auth.JWTManager
	if withJWT {
		m, err := auth.NewJWTManager("test-secret", time.Hour)
		if err != nil {
			t.Fatalf("NewJWTManager failed: %v", err)
		}
		jwtManager = m
	}
	s := NewServer(config.ServerConfig{AllowedOrigins: "http://localhost:5173"}, bots, events.NewEventBus(), jwtManager, logging.Nop(), opts...)
	t.Cleanup(s.hub.Close)
	return s, jwtManager
}

func do(s *Server, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	return body
}

// ===== TEST CASES: READ ENDPOINTS =====

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		checker    HealthChecker
		wantStatus int
		wantBody   string
	}{
		{"healthy", stubHealth{}, http.StatusOK, "healthy"},
		{"database down", stubHealth{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, newFakeBots(), false, WithHealthCheck("database", tt.checker))
			w := do(s, http.MethodGet, "/health", "")

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			body := decode(t, w)
			if body["status"] != tt.wantBody {
				t.Errorf("Expected status '%s', got '%v'", tt.wantBody, body["status"])
			}
			if body["bots_running"] != float64(1) {
				t.Errorf("Expected 1 running bot, got %v", body["bots_running"])
			}
		})
	}
}

func TestBotEndpoints(t *testing.T) {
	s, _ := newTestServer(t, newFakeBots(), false)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/api/bots", http.StatusOK},
		{"/api/bots/BTC-BOT", http.StatusOK},
		{"/api/bots/NOPE", http.StatusNotFound},
		{"/api/bots/BTC-BOT/decisions?limit=5", http.StatusOK},
		{"/api/bots/NOPE/decisions", http.StatusNotFound},
		{"/api/trades", http.StatusOK},
		{"/api/trades?bot=NOPE", http.StatusNotFound},
		{"/api/stats", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(s, http.MethodGet, tt.path, "")
			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestDecisionsInternalError(t *testing.T) {
	bots := newFakeBots()
	bots.failWith = errors.New("redis down")
	s, _ := newTestServer(t, bots, false)

	w := do(s, http.MethodGet, "/api/bots/BTC-BOT/decisions", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func TestTradesMergedNewestFirst(t *testing.T) {
	s, _ := newTestServer(t, newFakeBots(), false)

	w := do(s, http.MethodGet, "/api/trades", "")
	var body struct {
		Data []tracker.TradeRecord `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(body.Data) != 2 {
		t.Fatalf("Expected 2 trades, got %d", len(body.Data))
	}
	if body.Data[0].ID != "e1" {
		t.Errorf("Expected newest trade e1 first, got %s", body.Data[0].ID)
	}

	w = do(s, http.MethodGet, "/api/trades?limit=1", "")
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(body.Data) != 1 {
		t.Errorf("Expected 1 trade with limit=1, got %d", len(body.Data))
	}
}

func TestSummarize(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sum := Summarize(newFakeBots().Statuses(), now)

	if sum.Bots != 2 || sum.Running != 1 {
		t.Errorf("Expected 2 bots and 1 running, got %d/%d", sum.Bots, sum.Running)
	}
	if sum.TotalTrades != 10 || sum.OpenTrades != 1 {
		t.Errorf("Expected 10 trades and 1 open, got %d/%d", sum.TotalTrades, sum.OpenTrades)
	}
	if sum.WinRate != 0.5 {
		t.Errorf("Expected weighted win rate 0.5, got %v", sum.WinRate)
	}
	if sum.TotalPnLUSD != 100 {
		t.Errorf("Expected total pnl 100, got %v", sum.TotalPnLUSD)
	}

	empty := Summarize(nil, now)
	if empty.WinRate != 0 {
		t.Errorf("Expected zero win rate without trades, got %v", empty.WinRate)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, newFakeBots(), false)
	w := do(s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, newFakeBots(), false, WithRateLimit(1, 2))

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = do(s, http.MethodGet, "/api/bots", "").Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("Expected burst of 2 allowed, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected third request limited, got %d", codes[2])
	}
}

// ===== TEST CASES: CONTROL ENDPOINTS =====

func TestControlEndpoints(t *testing.T) {
	bots := newFakeBots()
	s, jwtManager := newTestServer(t, bots, true)
	operator, _ := jwtManager.GenerateToken("alice", auth.RoleOperator)
	viewer, _ := jwtManager.GenerateToken("carol", auth.RoleViewer)

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
	}{
		{"no token", "/api/bots/BTC-BOT/stop", "", http.StatusUnauthorized},
		{"viewer", "/api/bots/BTC-BOT/stop", viewer, http.StatusForbidden},
		{"operator stop", "/api/bots/BTC-BOT/stop", operator, http.StatusOK},
		{"operator start", "/api/bots/ETH-BOT/start", operator, http.StatusOK},
		{"unknown bot", "/api/bots/NOPE/start", operator, http.StatusNotFound},
		{"reset breaker", "/api/bots/BTC-BOT/reset-breaker", operator, http.StatusOK},
		{"no breaker", "/api/bots/ETH-BOT/reset-breaker", operator, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, http.MethodPost, tt.path, tt.token)
			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}

	if len(bots.stopped) != 1 || bots.stopped[0] != "BTC-BOT" {
		t.Errorf("Expected BTC-BOT stopped once, got %v", bots.stopped)
	}
	if len(bots.started) != 1 || bots.started[0] != "ETH-BOT" {
		t.Errorf("Expected ETH-BOT started once, got %v", bots.started)
	}
	if len(bots.resets) != 1 || bots.resets[0] != "BTC-BOT" {
		t.Errorf("Expected BTC-BOT breaker reset once, got %v", bots.resets)
	}
}

func TestControlDisabledWithoutSecret(t *testing.T) {
	s, _ := newTestServer(t, newFakeBots(), false)
	w := do(s, http.MethodPost, "/api/bots/BTC-BOT/stop", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestAllowedOrigins(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", []string{"http://localhost:5173"}},
		{"https://a.example, https://b.example", []string{"https://a.example", "https://b.example"}},
		{" , ", []string{"http://localhost:5173"}},
	}

	for _, tt := range tests {
		got := allowedOrigins(tt.raw)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("allowedOrigins(%q): expected %v, got %v", tt.raw, tt.want, got)
		}
	}
}

// ===== TEST CASES: WEBSOCKET =====

func TestWebSocketStreamsEvents(t *testing.T) {
	bus := events.NewEventBus()
	s := NewServer(config.ServerConfig{}, newFakeBots(), bus, nil, logging.Nop())
	defer s.hub.Close()

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.GetClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.hub.GetClientCount() != 1 {
		t.Fatalf("Expected 1 client, got %d", s.hub.GetClientCount())
	}

	bus.PublishDecision("BTC-BOT", "BTCUSDT", "long", 80, "breakout", "llm")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	var event events.Event
	if err := json.Unmarshal(msg, &event); err != nil {
		t.Fatalf("Failed to parse event: %v", err)
	}
	if event.Type != events.EventDecision || event.Bot != "BTC-BOT" {
		t.Errorf("Expected DECISION from BTC-BOT, got %s from %s", event.Type, event.Bot)
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub := NewWSHub(logging.Nop())
	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	client := &WSClient{out: make(chan []byte, 1), gone: make(chan struct{}), hub: hub}
	if !hub.join(client) {
		t.Fatal("Expected client registered")
	}

	hub.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Run to return after Close")
	}

	if _, ok := <-client.out; ok {
		t.Error("Expected client queue closed")
	}
	if hub.join(client) {
		t.Error("Expected add to fail after Close")
	}
	hub.Close()
}

func TestHubBotFilter(t *testing.T) {
	hub := NewWSHub(logging.Nop())
	all := &WSClient{out: make(chan []byte, 4)}
	eth := &WSClient{bot: "ETH-BOT", out: make(chan []byte, 4)}
	slow := &WSClient{out: make(chan []byte)}
	hub.clients[all] = struct{}{}
	hub.clients[eth] = struct{}{}
	hub.clients[slow] = struct{}{}

	hub.deliver(frame{bot: "BTC-BOT", payload: []byte("btc")})
	hub.deliver(frame{bot: "ETH-BOT", payload: []byte("eth")})
	hub.deliver(frame{payload: []byte("global")})

	if len(all.out) != 3 {
		t.Errorf("Expected unfiltered client to get 3 frames, got %d", len(all.out))
	}
	if len(eth.out) != 2 {
		t.Errorf("Expected ETH-BOT client to get 2 frames, got %d", len(eth.out))
	}
	if got := string(<-eth.out); got != "eth" {
		t.Errorf("Expected first ETH-BOT frame eth, got %s", got)
	}
	if hub.GetClientCount() != 2 {
		t.Errorf("Expected slow client dropped, got %d clients", hub.GetClientCount())
	}
	if _, ok := <-slow.out; ok {
		t.Error("Expected slow client queue closed")
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:5173"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Errorf("origin %q: expected %v, got %v", tt.origin, tt.want, got)
		}
	}
	if !originChecker([]string{"*"})(func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Origin", "http://any.example")
		return r
	}()) {
		t.Error("Expected wildcard to accept any origin")
	}
}
