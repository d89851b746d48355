package protection

import (
	"context"
	"fmt"
	"math"

	"perp-trading-agent/internal/exchange"
	"perp-trading-agent/internal/logging"
)

const (
	StopATRMultiple           = 2.0
	TargetFromPriceATR        = 1.5 // long already in profit
	TargetFromEntryATR        = 3.0 // flat or losing position
	ShortLockOffsetATR        = 0.5 // short in profit, below the entry/price midpoint
	FallbackATRPercentOfPrice = 0.02
)

// OrderClient is the exchange surface the reconciler drives
type OrderClient interface {
	SetStopLoss(ctx context.Context, symbol string, stopPrice, quantity float64, side exchange.OrderSide) (*exchange.OrderResponse, error)
	SetTakeProfit(ctx context.Context, symbol string, targetPrice, quantity float64, side exchange.OrderSide) (*exchange.OrderResponse, error)
	CancelAllOrders(ctx context.Context, symbol string) error
}

// Input is the observed state of one symbol at the start of a cycle
type Input struct {
	Symbol   string
	Position *exchange.Position // nil when flat
	Orders   []exchange.Order
	Price    float64 // 0 falls back to entry price
	ATR      float64 // 0 falls back to 2% of price
}

// Report describes what one reconciliation pass found and did
type Report struct {
	Symbol           string   `json:"symbol"`
	State            State    `json:"state"`
	OrphansCancelled int      `json:"orphans_cancelled,omitempty"`
	StopPlaced       bool     `json:"stop_placed"`
	StopPrice        float64  `json:"stop_price,omitempty"`
	TargetPlaced     bool     `json:"target_placed"`
	TargetPrice      float64  `json:"target_price,omitempty"`
	Failures         int      `json:"failures"`
	Errors           []string `json:"errors,omitempty"`
}

// Repaired reports whether the pass submitted or cancelled anything
func (r Report) Repaired() bool {
	return r.OrphansCancelled > 0 || r.StopPlaced || r.TargetPlaced
}

func (r *Report) fail(err error) {
	r.Failures++
	r.Errors = append(r.Errors, err.Error())
}

// Reconciler repairs protective orders. It never returns an error: failures
// are logged, counted in the report and retried on the next cycle.
type Reconciler struct {
	client OrderClient
	logger *logging.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(client OrderClient, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Reconciler{client: client, logger: logger.WithComponent("protection")}
}

// Reconcile runs one pass for a symbol
func (r *Reconciler) Reconcile(ctx context.Context, in Input) Report {
	report := Report{Symbol: in.Symbol, State: StateFlat}

	if in.Position == nil || !in.Position.IsOpen() {
		if len(in.Orders) == 0 {
			return report
		}
		report.State = StateOrphaned
		r.logger.Warn("Cancelling orphaned orders", "symbol", in.Symbol, "count", len(in.Orders))
		if err := r.client.CancelAllOrders(ctx, in.Symbol); err != nil {
			report.fail(fmt.Errorf("cancel orphaned orders: %w", err))
			r.logger.Error("Could not cancel orphaned orders", "symbol", in.Symbol, "error", err)
			return report
		}
		report.OrphansCancelled = len(in.Orders)
		return report
	}

	pos := *in.Position
	set := Classify(in.Orders, pos)
	report.State = set.State()
	if report.State == StateProtected {
		r.logger.Debug("Position fully protected", "symbol", in.Symbol)
		return report
	}

	price, atr := Levels(pos, in.Price, in.ATR)
	qty := pos.Quantity()
	side := pos.ClosingSide()

	if !set.HasStop() {
		stop := StopPrice(pos, atr)
		r.logger.Warn("Missing stop loss, placing protective stop",
			"symbol", in.Symbol, "entry", pos.EntryPrice, "stop", stop, "quantity", qty)
		if _, err := r.client.SetStopLoss(ctx, in.Symbol, stop, qty, side); err != nil {
			report.fail(fmt.Errorf("place stop loss: %w", err))
			r.logger.Error("Could not place stop loss", "symbol", in.Symbol, "error", err)
		} else {
			report.StopPlaced = true
			report.StopPrice = stop
		}
	}

	if !set.HasTarget() {
		target := TargetPrice(pos, price, atr)
		r.logger.Warn("Missing take profit, placing target",
			"symbol", in.Symbol, "entry", pos.EntryPrice, "price", price, "target", target, "quantity", qty)
		if _, err := r.client.SetTakeProfit(ctx, in.Symbol, target, qty, side); err != nil {
			report.fail(fmt.Errorf("place take profit: %w", err))
			r.logger.Error("Could not place take profit", "symbol", in.Symbol, "error", err)
		} else {
			report.TargetPlaced = true
			report.TargetPrice = target
		}
	}

	return report
}

// Levels resolves the price and ATR used for repairs
func Levels(pos exchange.Position, price, atr float64) (float64, float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		price = pos.EntryPrice
	}
	if atr <= 0 || math.IsNaN(atr) || math.IsInf(atr, 0) {
		atr = price * FallbackATRPercentOfPrice
	}
	return price, atr
}

// StopPrice is entry minus 2 ATR for a long, plus 2 ATR for a short
func StopPrice(pos exchange.Position, atr float64) float64 {
	if pos.IsLong() {
		return pos.EntryPrice - atr*StopATRMultiple
	}
	return pos.EntryPrice + atr*StopATRMultiple
}

// TargetPrice applies the profit-aware target rule. A long in profit targets
// 1.5 ATR above the current price; a short in profit targets half an ATR below
// the entry/price midpoint. Otherwise the target is 3 ATR from entry.
func TargetPrice(pos exchange.Position, price, atr float64) float64 {
	entry := pos.EntryPrice
	if pos.IsLong() {
		if price > entry {
			return price + atr*TargetFromPriceATR
		}
		return entry + atr*TargetFromEntryATR
	}
	if price < entry {
		return (entry+price)/2 - atr*ShortLockOffsetATR
	}
	return entry - atr*TargetFromEntryATR
}
