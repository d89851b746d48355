package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"perp-trading-agent/internal/exchange"
)

type countingMarket struct {
	*exchange.MockClient
	mu         sync.Mutex
	klineCalls map[string]int
}

func (m *countingMarket) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	m.mu.Lock()
	m.klineCalls[interval]++
	m.mu.Unlock()
	return m.MockClient.GetKlines(ctx, symbol, interval, limit)
}

func newMarket() *countingMarket {
	mock := exchange.NewMockClient(1000, nil)
	mock.SetPrice("BTCUSDT", 50000)
	return &countingMarket{MockClient: mock, klineCalls: make(map[string]int)}
}

func TestSnapshotGathersAllTimeframes(t *testing.T) {
	m := newMarket()
	p := NewProvider(m)

	snap, err := p.Snapshot(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if snap.Price != 50000 {
		t.Errorf("Expected price 50000, got %v", snap.Price)
	}
	for tf, limit := range DefaultLimits {
		if got := len(snap.Candles[tf]); got != limit {
			t.Errorf("Expected %d candles for %s, got %d", limit, tf, got)
		}
		if _, ok := snap.TimeframeTrends[tf]; !ok {
			t.Errorf("Expected a trend for %s", tf)
		}
	}
	if snap.Analysis == nil || snap.ATR() <= 0 {
		t.Fatalf("Expected analysis with positive ATR, got %+v", snap.Analysis)
	}
}

func TestSnapshotUsesCandleCache(t *testing.T) {
	m := newMarket()
	p := NewProvider(m)

	ctx := context.Background()
	if _, err := p.Snapshot(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if _, err := p.Snapshot(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if m.klineCalls["5m"] != 1 {
		t.Errorf("Expected cached 5m candles on second snapshot, got %d fetches", m.klineCalls["5m"])
	}

	// Move past every TTL
	base := time.Now()
	p.now = func() time.Time { return base.Add(2 * time.Minute) }
	p.timeframes.now = p.now
	if _, err := p.Snapshot(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if m.klineCalls["5m"] != 2 {
		t.Errorf("Expected refetch after TTL, got %d fetches", m.klineCalls["5m"])
	}
}

func TestSnapshotTickerError(t *testing.T) {
	m := newMarket()
	m.SetFailure("GetTicker", errors.New("boom"))

	if _, err := NewProvider(m).Snapshot(context.Background(), "BTCUSDT"); err == nil {
		t.Error("Expected error when ticker fails")
	}
}

func TestSnapshotInsufficientData(t *testing.T) {
	m := newMarket()
	p := NewProvider(m)
	p.limits = map[Timeframe]int{TF5m: 1}

	_, err := p.Snapshot(context.Background(), "BTCUSDT")
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Expected ErrInsufficientData, got %v", err)
	}
}

func TestSnapshotATRNilSafe(t *testing.T) {
	var s *Snapshot
	if s.ATR() != 0 {
		t.Error("Expected 0 ATR on nil snapshot")
	}
}
