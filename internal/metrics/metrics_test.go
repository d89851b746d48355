package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	IncCycle("T1", CycleOK)
	IncCycle("T1", CycleOK)
	if got := testutil.ToFloat64(cycles.WithLabelValues("T1", CycleOK)); got != 2 {
		t.Errorf("Expected 2 cycles, got %v", got)
	}

	IncOrder(OrderStop, nil)
	IncOrder(OrderStop, errors.New("rejected"))
	if got := testutil.ToFloat64(orders.WithLabelValues(OrderStop, "error")); got != 1 {
		t.Errorf("Expected 1 failed stop, got %v", got)
	}

	AddRealizedPnL("T1", 12.5)
	AddRealizedPnL("T1", -20)
	if got := testutil.ToFloat64(realizedPnL.WithLabelValues("T1")); got != -7.5 {
		t.Errorf("Expected realized PnL -7.5, got %v", got)
	}

	SetBalance("T1", 1000)
	if got := testutil.ToFloat64(balance.WithLabelValues("T1")); got != 1000 {
		t.Errorf("Expected balance 1000, got %v", got)
	}
}

func TestHistogramsCollect(t *testing.T) {
	ObserveSize("T2", 799.5)
	ObserveCycle("T2", 1.2)
	if n := testutil.CollectAndCount(sizedNotional); n < 1 {
		t.Errorf("Expected sized notional series, got %d", n)
	}
}

func TestTradeStats(t *testing.T) {
	SetTradeStats("T3", 0.6, 12)
	if got := testutil.ToFloat64(winRate.WithLabelValues("T3")); got != 0.6 {
		t.Errorf("Expected win rate 0.6, got %v", got)
	}
	if got := testutil.ToFloat64(closedTrades.WithLabelValues("T3")); got != 12 {
		t.Errorf("Expected 12 trades, got %v", got)
	}
}
