// Package decision produces the per-cycle trading decision, from a language
// model or from a deterministic rule engine, behind one Source interface.
package decision

import (
	"context"
	"errors"
	"time"

	"perp-trading-agent/internal/market"
	"perp-trading-agent/internal/portfolio"
)

// ErrMalformedResponse is returned when a model reply cannot be turned into a decision
var ErrMalformedResponse = errors.New("malformed decision response")

// Action is what a decision asks the bot to do
type Action string

const (
	ActionLong  Action = "long"
	ActionShort Action = "short"
	ActionHold  Action = "hold"
	ActionClose Action = "close"
)

// IsDirectional reports whether the action opens a position
func (a Action) IsDirectional() bool {
	return a == ActionLong || a == ActionShort
}

// Valid reports whether a is one of the four known actions
func (a Action) Valid() bool {
	switch a {
	case ActionLong, ActionShort, ActionHold, ActionClose:
		return true
	}
	return false
}

// Decision is the proposed action for the current cycle
type Decision struct {
	Action     Action   `json:"action"`
	Symbol     string   `json:"symbol"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`

	EdgeIdentified     string  `json:"edge_identified,omitempty"`
	TimeframeAlignment string  `json:"timeframe_alignment,omitempty"`
	ExpectedRR         float64 `json:"expected_rr,omitempty"`

	Source      string    `json:"source"`
	RawResponse string    `json:"raw_response,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Hold returns a zero-confidence hold carrying reason
func Hold(symbol, reason string) Decision {
	return Decision{
		Action:     ActionHold,
		Symbol:     symbol,
		Confidence: 0,
		Reasoning:  reason,
		Timestamp:  time.Now(),
	}
}

// Source produces a decision from the current market and portfolio view
type Source interface {
	Name() string
	Decide(ctx context.Context, m *market.Snapshot, p *portfolio.Snapshot) (Decision, error)
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}
