package tracker

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type memoryRepo struct {
	mu     sync.Mutex
	saved  map[string]TradeRecord
	saves  int
	failOn error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{saved: make(map[string]TradeRecord)}
}

func (m *memoryRepo) SaveTrade(ctx context.Context, trade *TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failOn != nil {
		return m.failOn
	}
	m.saved[trade.ID] = *trade
	return nil
}

func (m *memoryRepo) LoadTrades(ctx context.Context, bot string) ([]TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TradeRecord
	for _, t := range m.saved {
		if t.Bot == bot {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(repo Repository) (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts := []Option{WithClock(clock.Now)}
	if repo != nil {
		opts = append(opts, WithRepository(repo))
	}
	return New("BTC-BOT", zerolog.Nop(), opts...), clock
}

func start(tr *Tracker, action string, entry, confidence float64) TradeRecord {
	return tr.StartTrade(context.Background(), StartParams{
		Symbol:     "BTCUSDT",
		Action:     action,
		Confidence: confidence,
		EntryPrice: entry,
		Size:       500,
		Leverage:   5,
	})
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// ===== TEST CASES: ROUND TRIP =====

func TestRoundTripLongWin(t *testing.T) {
	repo := newMemoryRepo()
	tr, clock := newTestTracker(repo)

	opened := start(tr, "long", 100, 75)
	if opened.PredictedDirection != DirectionUp {
		t.Errorf("Expected predicted up, got %s", opened.PredictedDirection)
	}

	clock.Advance(45 * time.Minute)
	closed, err := tr.CloseTrade(context.Background(), "BTCUSDT", 103, ExitAIClose)
	if err != nil {
		t.Fatalf("CloseTrade failed: %v", err)
	}

	if !near(closed.PnLPercent, 3) {
		t.Errorf("Expected 3%% pnl, got %v", closed.PnLPercent)
	}
	// 3% of 500 notional at 5x
	if !near(closed.PnLUSD, 75) {
		t.Errorf("Expected pnl 75 USD, got %v", closed.PnLUSD)
	}
	if !closed.WasCorrect {
		t.Error("Expected long closed higher to be correct")
	}
	if closed.Quality != QualityExcellent || !closed.ShouldRepeat {
		t.Errorf("Expected excellent/repeat, got %s/%v", closed.Quality, closed.ShouldRepeat)
	}
	if closed.DurationMinutes != 45 {
		t.Errorf("Expected 45 minute duration, got %v", closed.DurationMinutes)
	}
	if closed.ExitReason != ExitAIClose {
		t.Errorf("Expected exit reason %s, got %s", ExitAIClose, closed.ExitReason)
	}

	all := tr.Trades(0)
	if len(all) != 1 || all[0].IsOpen() {
		t.Fatalf("Expected exactly one finalized record, got %+v", all)
	}
	if _, ok := tr.OpenTrade("BTCUSDT"); ok {
		t.Error("Expected no open trade after close")
	}
	if got := repo.saved[closed.ID]; got.ClosedAt == nil {
		t.Error("Expected persisted record to be closed")
	}
}

func TestRoundTripShortWrongDirection(t *testing.T) {
	tr, _ := newTestTracker(nil)
	start(tr, "short", 100, 85)

	closed, err := tr.CloseTrade(context.Background(), "BTCUSDT", 101, ExitAIClose)
	if err != nil {
		t.Fatalf("CloseTrade failed: %v", err)
	}
	if closed.WasCorrect {
		t.Error("Expected short closed higher to be incorrect")
	}
	if !near(closed.PnLPercent, -1) {
		t.Errorf("Expected -1%% pnl, got %v", closed.PnLPercent)
	}
	if closed.Quality != QualityBad {
		t.Errorf("Expected bad quality, got %s", closed.Quality)
	}
	if len(closed.Lessons) != 2 || closed.Lessons[1] != "Overconfident wrong prediction" {
		t.Errorf("Expected overconfidence lesson, got %v", closed.Lessons)
	}
}

func TestCloseWithoutOpenTrade(t *testing.T) {
	tr, _ := newTestTracker(nil)
	_, err := tr.CloseTrade(context.Background(), "BTCUSDT", 100, ExitAIClose)
	if !errors.Is(err, ErrNoOpenTrade) {
		t.Errorf("Expected ErrNoOpenTrade, got %v", err)
	}
}

func TestStartSupersedesOpenTrade(t *testing.T) {
	tr, _ := newTestTracker(nil)
	first := start(tr, "long", 100, 70)
	second := start(tr, "short", 102, 70)

	trades := tr.Trades(0)
	if len(trades) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(trades))
	}
	for _, rec := range trades {
		if rec.ID == first.ID && (rec.IsOpen() || rec.ExitReason != ExitSuperseded) {
			t.Errorf("Expected first trade superseded, got %+v", rec)
		}
	}
	open, ok := tr.OpenTrade("BTCUSDT")
	if !ok || open.ID != second.ID {
		t.Error("Expected the second trade to be the only open one")
	}
}

// ===== TEST CASES: LABELS =====

func TestLabelQuality(t *testing.T) {
	tests := []struct {
		name       string
		pnl        float64
		correct    bool
		confidence float64
		quality    Quality
		lesson     string
	}{
		{"excellent", 2.5, true, 70, QualityExcellent, ""},
		{"good", 1, true, 70, QualityGood, ""},
		{"neutral loss right direction", -0.2, true, 70, QualityNeutral, "Right direction but exit too early"},
		{"bad", -1, false, 70, QualityBad, ""},
		{"terrible overconfident", -3, false, 90, QualityTerrible, "Overconfident wrong prediction"},
		{"underconfident", 1, true, 55, QualityGood, "Underconfident correct prediction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _, lessons := label(tt.pnl, tt.correct, tt.confidence)
			if q != tt.quality {
				t.Errorf("Expected %s, got %s", tt.quality, q)
			}
			if tt.lesson == "" && len(lessons) != 1 {
				t.Errorf("Expected only the quality lesson, got %v", lessons)
			}
			if tt.lesson != "" && (len(lessons) != 2 || lessons[1] != tt.lesson) {
				t.Errorf("Expected lesson %q, got %v", tt.lesson, lessons)
			}
		})
	}
}

// ===== TEST CASES: STATS =====

func TestStatsAndRecentPerformance(t *testing.T) {
	tr, clock := newTestTracker(nil)
	ctx := context.Background()

	// Two days ago: losing short
	start(tr, "short", 100, 70)
	tr.CloseTrade(ctx, "BTCUSDT", 102, ExitStopLoss)

	clock.Advance(48 * time.Hour)

	start(tr, "long", 100, 70)
	tr.CloseTrade(ctx, "BTCUSDT", 104, ExitTakeProfit)
	start(tr, "long", 100, 70)
	tr.CloseTrade(ctx, "BTCUSDT", 101, ExitAIClose)
	start(tr, "long", 100, 70)

	stats := tr.Stats()
	if stats.TotalTrades != 3 || stats.OpenTrades != 1 {
		t.Fatalf("Expected 3 closed and 1 open, got %+v", stats)
	}
	if !near(stats.WinRate, 2.0/3.0) {
		t.Errorf("Expected win rate 2/3, got %v", stats.WinRate)
	}
	if !near(stats.AvgWinPercent, 2.5) {
		t.Errorf("Expected avg win 2.5%%, got %v", stats.AvgWinPercent)
	}
	if !near(stats.AvgLossPercent, 2) {
		t.Errorf("Expected avg loss 2%%, got %v", stats.AvgLossPercent)
	}
	// (-2% + 4% + 1%) of 500 at 5x
	if !near(stats.TotalPnLUSD, 75) {
		t.Errorf("Expected total pnl 75, got %v", stats.TotalPnLUSD)
	}

	perf := tr.RecentPerformance(24)
	if perf.Trades != 2 || perf.Wins != 2 || perf.WinRate != 1 {
		t.Errorf("Expected 2 winning trades in the last 24h, got %+v", perf)
	}
	if !near(perf.PnLUSD, 125) {
		t.Errorf("Expected recent pnl 125, got %v", perf.PnLUSD)
	}

	if got := len(tr.TrainingData(QualityExcellent)); got != 1 {
		t.Errorf("Expected 1 excellent trade, got %d", got)
	}
}

func TestEmptyStats(t *testing.T) {
	tr, _ := newTestTracker(nil)
	stats := tr.Stats()
	if stats.TotalTrades != 0 || stats.WinRate != 0 {
		t.Errorf("Expected empty stats, got %+v", stats)
	}
}

// ===== TEST CASES: PERSISTENCE =====

func TestLoadRestoresOpenTrade(t *testing.T) {
	repo := newMemoryRepo()
	tr, _ := newTestTracker(repo)
	opened := start(tr, "long", 100, 70)

	restored, _ := newTestTracker(repo)
	if err := restored.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	open, ok := restored.OpenTrade("BTCUSDT")
	if !ok || open.ID != opened.ID {
		t.Errorf("Expected restored open trade %s, got %+v", opened.ID, open)
	}
}

func TestPersistFailureDoesNotBlock(t *testing.T) {
	repo := newMemoryRepo()
	repo.failOn = errors.New("db down")
	tr, _ := newTestTracker(repo)

	start(tr, "long", 100, 70)
	if _, err := tr.CloseTrade(context.Background(), "BTCUSDT", 101, ExitAIClose); err != nil {
		t.Errorf("Expected close to succeed despite persistence failure, got %v", err)
	}
	if repo.saves != 2 {
		t.Errorf("Expected 2 save attempts, got %d", repo.saves)
	}
}
