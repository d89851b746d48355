// Package protection keeps every open position covered by one stop-loss and
// one take-profit order, and cancels protective orders left behind by a closed
// position.
package protection

import (
	"strings"

	"perp-trading-agent/internal/exchange"
)

// State summarises how well a position is covered
type State string

const (
	StateFlat        State = "FLAT"        // no position, no orders
	StateOrphaned    State = "ORPHANED"    // orders without a position
	StateUnprotected State = "UNPROTECTED" // no stop
	StateStopOnly    State = "SL_ONLY"
	StateTargetOnly  State = "TP_ONLY"
	StateProtected   State = "PROTECTED"
)

// OrderSet is the protective pair found for a position
type OrderSet struct {
	Stop   *exchange.Order `json:"stop,omitempty"`
	Target *exchange.Order `json:"target,omitempty"`
}

// HasStop reports whether a stop order is resting
func (s OrderSet) HasStop() bool { return s.Stop != nil }

// HasTarget reports whether a take-profit order is resting
func (s OrderSet) HasTarget() bool { return s.Target != nil }

// State maps the pair to a coverage state for an open position
func (s OrderSet) State() State {
	switch {
	case s.HasStop() && s.HasTarget():
		return StateProtected
	case s.HasStop():
		return StateStopOnly
	case s.HasTarget():
		return StateTargetOnly
	}
	return StateUnprotected
}

// IsStopOrder reports whether the order type contains STOP
func IsStopOrder(o exchange.Order) bool {
	return strings.Contains(strings.ToUpper(o.Type), "STOP")
}

// IsTargetOrder reports whether the order is a take-profit variant, or a LIMIT
// order whose side differs from closingSide.
func IsTargetOrder(o exchange.Order, closingSide exchange.OrderSide) bool {
	t := strings.ToUpper(o.Type)
	if strings.Contains(t, "TAKE_PROFIT") {
		return true
	}
	return strings.Contains(t, "LIMIT") && !strings.EqualFold(o.Side, string(closingSide))
}

// Classify finds the first stop and the first target among orders for pos.
// An order may count as both when its type matches both rules.
func Classify(orders []exchange.Order, pos exchange.Position) OrderSet {
	var set OrderSet
	closing := pos.ClosingSide()
	for i := range orders {
		o := orders[i]
		if o.Symbol != "" && pos.Symbol != "" && o.Symbol != pos.Symbol {
			continue
		}
		if set.Stop == nil && IsStopOrder(o) {
			set.Stop = &o
		}
		if set.Target == nil && IsTargetOrder(o, closing) {
			set.Target = &o
		}
	}
	return set
}
