// Package gate decides whether a proposed action may reach the exchange.
// It enforces the confidence thresholds, the one-position-per-symbol rule,
// the minimum hold time and the decaying close threshold.
package gate

import (
	"fmt"
	"math"
	"time"

	"perp-trading-agent/internal/decision"
	"perp-trading-agent/internal/exchange"
)

// State of a symbol from the gate's point of view
type State string

const (
	StateNoPosition   State = "NO_POSITION"
	StatePositionOpen State = "POSITION_OPEN"
)

// Reason codes attached to every verdict
const (
	ReasonApproved        = "approved"
	ReasonHold            = "hold"
	ReasonInvalidAction   = "invalid_action"
	ReasonLowConfidence   = "low_confidence"
	ReasonNothingToClose  = "nothing_to_close"
	ReasonMinHold         = "min_hold"
	ReasonCloseConfidence = "close_confidence"
)

// Config holds the gate thresholds
type Config struct {
	MinTradeConfidence     float64
	CloseConfidenceCeiling float64
	CloseConfidenceFloor   float64
	DecayWindow            time.Duration
	MinHold                time.Duration
	ProfitLockRatio        float64
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		MinTradeConfidence:     60,
		CloseConfidenceCeiling: 75,
		CloseConfidenceFloor:   60,
		DecayWindow:            30 * time.Minute,
		MinHold:                5 * time.Minute,
		ProfitLockRatio:        0.01,
	}
}

// Input is one evaluation request
type Input struct {
	Decision  decision.Decision
	Position  *exchange.Position // nil when flat
	Balance   float64
	EntryTime time.Time // zero when unknown
	Now       time.Time
}

// Verdict is the gate's ruling. Decision carries the possibly rewritten action.
type Verdict struct {
	Decision           decision.Decision `json:"decision"`
	Execute            bool              `json:"execute"`
	State              State             `json:"state"`
	Reason             string            `json:"reason"`
	Detail             string            `json:"detail"`
	CoercedToClose     bool              `json:"coerced_to_close"`
	ProfitLock         bool              `json:"profit_lock"`
	RequiredConfidence float64           `json:"required_confidence,omitempty"`
	TimeInPosition     time.Duration     `json:"time_in_position,omitempty"`
}

// Gate evaluates decisions. It holds no state of its own.
type Gate struct {
	cfg Config
}

// New creates a gate
func New(cfg Config) *Gate {
	if cfg.CloseConfidenceFloor > cfg.CloseConfidenceCeiling {
		cfg.CloseConfidenceFloor = cfg.CloseConfidenceCeiling
	}
	return &Gate{cfg: cfg}
}

// Config returns the thresholds in use
func (g *Gate) Config() Config {
	return g.cfg
}

// RequiredCloseConfidence is the ceiling at entry, decaying linearly to the
// floor over the decay window. An unknown entry time requires the ceiling.
func (g *Gate) RequiredCloseConfidence(timeInPosition time.Duration, known bool) float64 {
	ceiling, floor := g.cfg.CloseConfidenceCeiling, g.cfg.CloseConfidenceFloor
	if !known {
		return ceiling
	}
	window := g.cfg.DecayWindow
	if window < time.Second {
		window = time.Second
	}
	ratio := math.Min(math.Max(timeInPosition.Seconds(), 0)/window.Seconds(), 1)
	return math.Max(floor, ceiling-(ceiling-floor)*ratio)
}

// ProfitLockActive reports whether unrealized profit relative to balance reaches the lock ratio
func (g *Gate) ProfitLockActive(pos *exchange.Position, balance float64) bool {
	if pos == nil || balance <= 0 {
		return false
	}
	return pos.UnrealizedProfit/balance >= g.cfg.ProfitLockRatio
}

// Evaluate applies the state machine to one decision
func (g *Gate) Evaluate(in Input) Verdict {
	d := in.Decision
	v := Verdict{Decision: d, State: StateNoPosition}

	if !d.Action.Valid() {
		return v.hold(ReasonInvalidAction, fmt.Sprintf("unknown action %q", d.Action))
	}

	if in.Position == nil || !in.Position.IsOpen() {
		switch {
		case d.Action == decision.ActionHold:
			return v.hold(ReasonHold, "no position, holding")
		case d.Action == decision.ActionClose:
			return v.hold(ReasonNothingToClose, "close requested with no open position")
		case d.Confidence < g.cfg.MinTradeConfidence:
			return v.hold(ReasonLowConfidence, fmt.Sprintf("confidence %.1f below %.1f", d.Confidence, g.cfg.MinTradeConfidence))
		}
		return v.approve(fmt.Sprintf("open %s at confidence %.1f", d.Action, d.Confidence))
	}

	v.State = StatePositionOpen

	if d.Action.IsDirectional() {
		v.CoercedToClose = true
		v.Decision.Action = decision.ActionClose
		d.Action = decision.ActionClose
	}
	if d.Action == decision.ActionHold {
		return v.hold(ReasonHold, "holding open position")
	}

	if d.Confidence < g.cfg.MinTradeConfidence {
		return v.hold(ReasonLowConfidence, fmt.Sprintf("confidence %.1f below %.1f", d.Confidence, g.cfg.MinTradeConfidence))
	}

	known := !in.EntryTime.IsZero()
	if known {
		v.TimeInPosition = in.Now.Sub(in.EntryTime)
	}
	v.ProfitLock = g.ProfitLockActive(in.Position, in.Balance)
	v.RequiredConfidence = g.RequiredCloseConfidence(v.TimeInPosition, known)

	if v.ProfitLock {
		return v.approve(fmt.Sprintf("profit lock active (unrealized %.2f on balance %.2f)", in.Position.UnrealizedProfit, in.Balance))
	}

	if known && v.TimeInPosition < g.cfg.MinHold {
		return v.hold(ReasonMinHold, fmt.Sprintf("held %s, need %s", v.TimeInPosition.Truncate(time.Second), g.cfg.MinHold))
	}

	if d.Confidence < v.RequiredConfidence {
		return v.hold(ReasonCloseConfidence, fmt.Sprintf("close confidence %.1f below required %.1f", d.Confidence, v.RequiredConfidence))
	}

	return v.approve(fmt.Sprintf("close at confidence %.1f (required %.1f)", d.Confidence, v.RequiredConfidence))
}

func (v Verdict) hold(reason, detail string) Verdict {
	v.Decision.Action = decision.ActionHold
	v.Execute = false
	v.Reason = reason
	v.Detail = detail
	return v
}

func (v Verdict) approve(detail string) Verdict {
	v.Execute = true
	v.Reason = ReasonApproved
	v.Detail = detail
	return v
}
