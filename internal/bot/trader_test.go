package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"perp-trading-agent/internal/account"
	"perp-trading-agent/internal/circuit"
	"perp-trading-agent/internal/decision"
	"perp-trading-agent/internal/exchange"
	"perp-trading-agent/internal/execution"
	"perp-trading-agent/internal/gate"
	"perp-trading-agent/internal/logging"
	"perp-trading-agent/internal/market"
	"perp-trading-agent/internal/metrics"
	"perp-trading-agent/internal/portfolio"
	"perp-trading-agent/internal/risk"
	"perp-trading-agent/internal/sizing"
	"perp-trading-agent/internal/tracker"
)

const testSymbol = "BTCUSDT"

// ===== TEST HELPERS =====

type scriptedSource struct {
	mu     sync.Mutex
	d      decision.Decision
	err    error
	panics bool
	calls  int
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Decide(ctx context.Context, m *market.Snapshot, p *portfolio.Snapshot) (decision.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panics {
		panic("decision source exploded")
	}
	return s.d, s.err
}

func (s *scriptedSource) set(action decision.Action, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d = decision.Decision{Action: action, Symbol: testSymbol, Confidence: confidence, Reasoning: "test"}
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memoryEntries struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newMemoryEntries() *memoryEntries {
	return &memoryEntries{entries: make(map[string]time.Time)}
}

func (m *memoryEntries) SaveEntry(ctx context.Context, bot, symbol string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[bot+":"+symbol] = at
	return nil
}

func (m *memoryEntries) LoadEntry(ctx context.Context, bot, symbol string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.entries[bot+":"+symbol]
	return at, ok, nil
}

func (m *memoryEntries) DeleteEntry(ctx context.Context, bot, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, bot+":"+symbol)
	return nil
}

func (m *memoryEntries) has(bot, symbol string) bool {
	_, ok, _ := m.LoadEntry(context.Background(), bot, symbol)
	return ok
}

type harness struct {
	trader  *Trader
	mock    *exchange.MockClient
	source  *scriptedSource
	entries *memoryEntries
	tracker *tracker.Tracker
}

func newHarness(t *testing.T, balance float64, opts ...func(*Deps)) *harness {
	t.Helper()

	mock := exchange.NewMockClient(balance, nil)
	mock.SetPrice(testSymbol, 100)
	cache := account.NewSharedCache(mock, 0, zerolog.Nop())
	tr := tracker.New("TEST-BOT", zerolog.Nop())
	src := &scriptedSource{}
	src.set(decision.ActionHold, 50)
	entries := newMemoryEntries()

	deps := Deps{
		Client:    mock,
		Market:    market.NewProvider(mock),
		Portfolio: portfolio.NewProvider(cache, mock, tr, nil),
		Source:    src,
		Tracker:   tr,
		Sizer:     sizing.New(sizing.DefaultConfig()),
		Gate:      gate.New(gate.DefaultConfig()),
		Risk:      risk.NewManager(risk.DefaultConfig(), nil),
		Entries:   entries,
		Logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	trader, err := NewTrader(TraderConfig{
		Name:     "TEST-BOT",
		Symbol:   testSymbol,
		Leverage: 5,
		Interval: time.Hour,
	}, deps)
	if err != nil {
		t.Fatalf("NewTrader failed: %v", err)
	}
	return &harness{trader: trader, mock: mock, source: src, entries: entries, tracker: tr}
}

func (h *harness) openOrders(t *testing.T) []exchange.Order {
	t.Helper()
	orders, err := h.mock.GetOpenOrders(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("GetOpenOrders failed: %v", err)
	}
	return orders
}

// ===== TEST CASES: CYCLE =====

func TestCycleOpensProtectedPosition(t *testing.T) {
	h := newHarness(t, 10000)
	h.source.set(decision.ActionLong, 80)

	res := h.trader.RunCycle(context.Background())

	if res.Result != metrics.CycleOK {
		t.Fatalf("Expected ok cycle, got %s (%v)", res.Result, res.Err)
	}
	if res.Outcome == nil || !res.Outcome.Executed {
		t.Fatalf("Expected executed open, got %+v", res.Outcome)
	}
	if !res.Outcome.StopPlaced || !res.Outcome.TargetPlaced {
		t.Errorf("Expected stop and target placed, got %+v", res.Outcome)
	}
	if n := len(h.openOrders(t)); n != 2 {
		t.Errorf("Expected 2 protective orders, got %d", n)
	}
	if _, ok := h.tracker.OpenTrade(testSymbol); !ok {
		t.Error("Expected an open trade record")
	}
	if _, ok := h.trader.Positions().EntryTime(testSymbol); !ok {
		t.Error("Expected entry time recorded")
	}
	if !h.entries.has("TEST-BOT", testSymbol) {
		t.Error("Expected entry time persisted")
	}

	logged, err := h.trader.Decisions(context.Background(), 10)
	if err != nil {
		t.Fatalf("Decisions failed: %v", err)
	}
	if len(logged) != 1 || !logged[0].Executed {
		t.Errorf("Expected one executed decision logged, got %+v", logged)
	}
}

func TestCycleRepairsNakedPosition(t *testing.T) {
	h := newHarness(t, 10000)
	h.mock.SetPosition(exchange.Position{Symbol: testSymbol, PositionAmt: 2, EntryPrice: 100, Leverage: 5})

	res := h.trader.RunCycle(context.Background())

	if !res.Repair.StopPlaced || !res.Repair.TargetPlaced {
		t.Fatalf("Expected stop and target repaired, got %+v", res.Repair)
	}
	orders := h.openOrders(t)
	if len(orders) != 2 {
		t.Fatalf("Expected 2 orders after repair, got %d", len(orders))
	}
	for _, o := range orders {
		if o.Side != string(exchange.SideSell) {
			t.Errorf("Expected SELL protective order, got %s", o.Side)
		}
		if o.OrigQty != 2 {
			t.Errorf("Expected quantity 2, got %v", o.OrigQty)
		}
	}
}

func TestCycleSkipsProtectionWhenOrdersUnknown(t *testing.T) {
	h := newHarness(t, 10000)
	h.mock.SetPosition(exchange.Position{Symbol: testSymbol, PositionAmt: 2, EntryPrice: 100, Leverage: 5})

	h.trader.RunCycle(context.Background())
	if n := len(h.openOrders(t)); n != 2 {
		t.Fatalf("Expected 2 orders after first repair, got %d", n)
	}
	placed := len(h.mock.PlacedOrders())

	h.mock.SetFailure("GetOpenOrders", errors.New("502 bad gateway"))
	res := h.trader.RunCycle(context.Background())
	h.mock.SetFailure("GetOpenOrders", nil)

	if res.Repair.StopPlaced || res.Repair.TargetPlaced {
		t.Errorf("Expected no repair while orders are unknown, got %+v", res.Repair)
	}
	if n := len(h.mock.PlacedOrders()); n != placed {
		t.Errorf("Expected no orders placed while orders are unknown, got %d new", n-placed)
	}
	if res.Result != metrics.CycleOK {
		t.Errorf("Expected ok cycle, got %s (%v)", res.Result, res.Err)
	}
	if n := len(h.openOrders(t)); n != 2 {
		t.Errorf("Expected exactly one stop and one target, got %d orders", n)
	}
}

func TestCycleCancelsOrphanedOrders(t *testing.T) {
	h := newHarness(t, 10000)
	h.mock.AddOpenOrder(exchange.Order{Symbol: testSymbol, Type: "STOP_MARKET", Side: "SELL", OrigQty: 1, StopPrice: 90})

	res := h.trader.RunCycle(context.Background())

	if res.Repair.OrphansCancelled != 1 {
		t.Errorf("Expected 1 orphan cancelled, got %d", res.Repair.OrphansCancelled)
	}
	if n := len(h.openOrders(t)); n != 0 {
		t.Errorf("Expected no orders left, got %d", n)
	}
	if placed := h.mock.PlacedOrders(); len(placed) != 0 {
		t.Errorf("Expected no new orders, got %d", len(placed))
	}
}

func TestCycleSyncsStopLossHit(t *testing.T) {
	h := newHarness(t, 10000)
	h.source.set(decision.ActionLong, 80)
	ctx := context.Background()

	if res := h.trader.RunCycle(ctx); res.Outcome == nil || !res.Outcome.Executed {
		t.Fatalf("Expected open on first cycle, got %+v", res)
	}

	h.source.set(decision.ActionHold, 50)
	h.mock.SetPrice(testSymbol, 80)

	res := h.trader.RunCycle(ctx)

	if res.ExternalClose == nil {
		t.Fatal("Expected exchange-side close to be finalized")
	}
	if res.ExternalClose.ExitReason != tracker.ExitStopLoss {
		t.Errorf("Expected exit reason %s, got %s", tracker.ExitStopLoss, res.ExternalClose.ExitReason)
	}
	if res.ExternalClose.PnLUSD >= 0 {
		t.Errorf("Expected a loss, got %v", res.ExternalClose.PnLUSD)
	}
	if _, ok := h.tracker.OpenTrade(testSymbol); ok {
		t.Error("Expected no open trade after sync")
	}
	if _, ok := h.trader.Positions().EntryTime(testSymbol); ok {
		t.Error("Expected entry time cleared")
	}
	if h.entries.has("TEST-BOT", testSymbol) {
		t.Error("Expected persisted entry time deleted")
	}
	if res.Repair.OrphansCancelled != 1 {
		t.Errorf("Expected leftover target cancelled, got %d", res.Repair.OrphansCancelled)
	}
}

func TestCycleBreakerBlocksOpenAfterLoss(t *testing.T) {
	cfg := circuit.DefaultConfig()
	cfg.MaxConsecutiveLosses = 1
	breaker := circuit.New("TEST-BOT", cfg, logging.Nop())
	h := newHarness(t, 10000, func(d *Deps) {
		d.Breaker = breaker
		d.Risk = nil
	})
	ctx := context.Background()

	h.source.set(decision.ActionLong, 80)
	if res := h.trader.RunCycle(ctx); res.Outcome == nil || !res.Outcome.Executed {
		t.Fatalf("Expected open on first cycle, got %+v", res)
	}

	h.mock.SetPrice(testSymbol, 80)
	h.source.set(decision.ActionHold, 50)
	if res := h.trader.RunCycle(ctx); res.ExternalClose == nil {
		t.Fatal("Expected the stop-loss close to be finalized")
	}
	if breaker.State() != circuit.StateOpen {
		t.Fatalf("Expected breaker open after a loss, got %s", breaker.State())
	}

	h.source.set(decision.ActionLong, 80)
	res := h.trader.RunCycle(ctx)
	if res.Outcome == nil || res.Outcome.Executed {
		t.Fatalf("Expected open to be refused, got %+v", res.Outcome)
	}
	if res.Outcome.Skipped != execution.SkipRisk || !errors.Is(res.Outcome.Err, circuit.ErrTripped) {
		t.Errorf("Expected risk skip from the breaker, got %s (%v)", res.Outcome.Skipped, res.Outcome.Err)
	}
	if st := h.trader.Status(); st.Breaker == nil || st.Breaker.State != circuit.StateOpen {
		t.Errorf("Expected breaker state in status, got %+v", st.Breaker)
	}

	if !h.trader.ResetBreaker() {
		t.Fatal("Expected reset to report a breaker")
	}
	if res := h.trader.RunCycle(ctx); res.Outcome == nil || !res.Outcome.Executed {
		t.Errorf("Expected open after reset, got %+v", res.Outcome)
	}
}

func TestCycleGateRejectsLowConfidence(t *testing.T) {
	h := newHarness(t, 10000)
	h.source.set(decision.ActionLong, 55)

	res := h.trader.RunCycle(context.Background())

	if res.Verdict == nil || res.Verdict.Execute {
		t.Fatalf("Expected gate rejection, got %+v", res.Verdict)
	}
	if res.Verdict.Reason != gate.ReasonLowConfidence {
		t.Errorf("Expected reason %s, got %s", gate.ReasonLowConfidence, res.Verdict.Reason)
	}
	if n := h.mock.CallCount("PlaceOrder"); n != 0 {
		t.Errorf("Expected no orders, got %d PlaceOrder calls", n)
	}

	logged, _ := h.trader.Decisions(context.Background(), 1)
	if len(logged) != 1 || logged[0].SkipReason != gate.ReasonLowConfidence {
		t.Errorf("Expected logged skip reason %s, got %+v", gate.ReasonLowConfidence, logged)
	}
}

func TestCycleSkipsWithoutBalance(t *testing.T) {
	h := newHarness(t, 0)
	h.source.set(decision.ActionLong, 90)

	res := h.trader.RunCycle(context.Background())

	if res.Result != metrics.CycleSkipped {
		t.Errorf("Expected skipped cycle, got %s", res.Result)
	}
	if !errors.Is(res.Err, portfolio.ErrBalanceUnavailable) {
		t.Errorf("Expected ErrBalanceUnavailable, got %v", res.Err)
	}
	if n := h.source.callCount(); n != 0 {
		t.Errorf("Expected decision source not consulted, got %d calls", n)
	}
}

func TestCycleRecoversFromPanic(t *testing.T) {
	h := newHarness(t, 10000)
	h.source.panics = true

	res := h.trader.RunCycle(context.Background())

	if res.Result != metrics.CyclePanic {
		t.Errorf("Expected panic result, got %s", res.Result)
	}
	status := h.trader.Status()
	if status.Cycles != 1 || status.Errors != 1 {
		t.Errorf("Expected 1 cycle with 1 error, got %d/%d", status.Cycles, status.Errors)
	}
}

func TestCycleSourceErrorHolds(t *testing.T) {
	h := newHarness(t, 10000)
	h.source.d = decision.Decision{Action: decision.ActionLong, Confidence: 95}
	h.source.err = errors.New("provider down")

	res := h.trader.RunCycle(context.Background())

	if res.Decision == nil || res.Decision.Action != decision.ActionHold {
		t.Fatalf("Expected hold decision, got %+v", res.Decision)
	}
	if res.Decision.Confidence != 0 || res.Decision.Reasoning != "provider down" {
		t.Errorf("Expected zero-confidence hold with the error as reason, got %+v", res.Decision)
	}
	if res.Decision.Symbol != testSymbol {
		t.Errorf("Expected symbol %s, got %s", testSymbol, res.Decision.Symbol)
	}
	if res.Result != metrics.CycleOK {
		t.Errorf("Expected ok cycle, got %s", res.Result)
	}
	if n := h.mock.CallCount("PlaceOrder"); n != 0 {
		t.Errorf("Expected no orders, got %d", n)
	}
}

func TestCycleSourceErrorWithZeroDecision(t *testing.T) {
	h := newHarness(t, 10000)
	h.source.d = decision.Decision{}
	h.source.err = errors.New("timeout")

	res := h.trader.RunCycle(context.Background())

	if res.Decision == nil || res.Decision.Action != decision.ActionHold {
		t.Fatalf("Expected hold instead of empty action, got %+v", res.Decision)
	}
	if res.Decision.Source != "scripted" {
		t.Errorf("Expected source scripted, got %s", res.Decision.Source)
	}
}

// ===== TEST CASES: PREPARE =====

func TestPrepareRestoresEntryTime(t *testing.T) {
	h := newHarness(t, 10000)
	openedAt := time.Now().Add(-10 * time.Minute).Truncate(time.Second)
	h.entries.SaveEntry(context.Background(), "TEST-BOT", testSymbol, openedAt)
	h.mock.SetFailure("SetLeverage", errors.New("leverage locked"))

	h.trader.Prepare(context.Background())

	got, ok := h.trader.Positions().EntryTime(testSymbol)
	if !ok {
		t.Fatal("Expected entry time restored")
	}
	if !got.Equal(openedAt) {
		t.Errorf("Expected %v, got %v", openedAt, got)
	}
	if n := h.mock.CallCount("SetLeverage"); n != 1 {
		t.Errorf("Expected one SetLeverage call, got %d", n)
	}
}

func TestPrepareFallsBackToOpenTrade(t *testing.T) {
	h := newHarness(t, 10000)
	trade := h.tracker.StartTrade(context.Background(), tracker.StartParams{
		Symbol: testSymbol, Action: "long", EntryPrice: 100, Size: 200, Leverage: 5,
	})

	h.trader.Prepare(context.Background())

	got, ok := h.trader.Positions().EntryTime(testSymbol)
	if !ok || !got.Equal(trade.OpenedAt) {
		t.Errorf("Expected entry time %v from trade record, got %v (%v)", trade.OpenedAt, got, ok)
	}
}

// ===== TEST CASES: EXIT REASON =====

func TestExitReason(t *testing.T) {
	tests := []struct {
		name   string
		action string
		exit   float64
		want   string
	}{
		{"long above entry", "long", 110, tracker.ExitTakeProfit},
		{"long below entry", "long", 90, tracker.ExitStopLoss},
		{"long at entry", "long", 100, tracker.ExitStopLoss},
		{"short below entry", "short", 90, tracker.ExitTakeProfit},
		{"short above entry", "short", 110, tracker.ExitStopLoss},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExitReason(tracker.TradeRecord{Action: tt.action, EntryPrice: 100}, tt.exit)
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

// ===== TEST CASES: CONSTRUCTION =====

func TestNewTraderValidation(t *testing.T) {
	if _, err := NewTrader(TraderConfig{Symbol: testSymbol}, Deps{}); err == nil {
		t.Error("Expected error for missing name")
	}
	if _, err := NewTrader(TraderConfig{Name: "X", Symbol: testSymbol}, Deps{}); err == nil {
		t.Error("Expected error for missing collaborators")
	}
}
