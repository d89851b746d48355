package decision

import (
	"context"
	"fmt"
	"math"
	"time"

	"perp-trading-agent/internal/analysis"
	"perp-trading-agent/internal/exchange"
	"perp-trading-agent/internal/market"
	"perp-trading-agent/internal/portfolio"
)

// MomentumConfig tunes the momentum rule engine
type MomentumConfig struct {
	Lookback   int     // candles in the momentum window
	Threshold  float64 // fractional move below which the signal is neutral
	Overbought float64 // RSI above which longs are skipped
	Oversold   float64 // RSI below which shorts are skipped
}

// DefaultMomentumConfig returns a 20 candle window with a 2% threshold
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		Lookback:   20,
		Threshold:  0.02,
		Overbought: 70,
		Oversold:   30,
	}
}

// MomentumSignal is the raw signal before it becomes a decision
type MomentumSignal struct {
	Direction analysis.TrendDirection
	Momentum  float64 // fractional change over the window
	Strength  float64 // 0-1
}

// MomentumSource is a deterministic source trading price momentum confirmed
// by trend and RSI
type MomentumSource struct {
	cfg MomentumConfig
	now func() time.Time
}

// NewMomentumSource creates the rule engine
func NewMomentumSource(cfg MomentumConfig) *MomentumSource {
	def := DefaultMomentumConfig()
	if cfg.Lookback < 2 {
		cfg.Lookback = def.Lookback
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Overbought <= 0 {
		cfg.Overbought = def.Overbought
	}
	if cfg.Oversold <= 0 {
		cfg.Oversold = def.Oversold
	}
	return &MomentumSource{cfg: cfg, now: time.Now}
}

func (s *MomentumSource) Name() string { return "momentum" }

// Signal measures momentum over the last Lookback closes
func (s *MomentumSource) Signal(closes []float64) MomentumSignal {
	sig := MomentumSignal{Direction: analysis.TrendNeutral}
	if len(closes) < s.cfg.Lookback {
		return sig
	}
	window := closes[len(closes)-s.cfg.Lookback:]
	oldest := window[0]
	if oldest <= 0 {
		return sig
	}
	sig.Momentum = (window[len(window)-1] - oldest) / oldest
	if math.Abs(sig.Momentum) < s.cfg.Threshold {
		return sig
	}

	sig.Strength = math.Min(math.Abs(sig.Momentum)/(s.cfg.Threshold*3), 1)
	if sig.Momentum > 0 {
		sig.Direction = analysis.TrendBullish
	} else {
		sig.Direction = analysis.TrendBearish
	}
	return sig
}

func (s *MomentumSource) Decide(ctx context.Context, m *market.Snapshot, p *portfolio.Snapshot) (Decision, error) {
	if m == nil || p == nil {
		return s.hold("", "missing market or portfolio snapshot"), nil
	}

	closes := closesOf(m.Candles[market.AnalysisTimeframe])
	sig := s.Signal(closes)

	pos, hasPosition := p.Position(m.Symbol)
	if hasPosition {
		return s.manage(m, pos, sig), nil
	}

	if sig.Direction == analysis.TrendNeutral {
		return s.hold(m.Symbol, fmt.Sprintf("Momentum %.2f%% below %.2f%% threshold", sig.Momentum*100, s.cfg.Threshold*100)), nil
	}

	rsi := 50.0
	trend := analysis.TrendNeutral
	if m.Analysis != nil {
		rsi = m.Analysis.RSI
		trend = m.Analysis.Trend.Direction
	}

	action := ActionLong
	if sig.Direction == analysis.TrendBearish {
		action = ActionShort
	}
	if action == ActionLong && rsi > s.cfg.Overbought {
		return s.hold(m.Symbol, fmt.Sprintf("Bullish momentum but RSI %.1f overbought", rsi)), nil
	}
	if action == ActionShort && rsi < s.cfg.Oversold {
		return s.hold(m.Symbol, fmt.Sprintf("Bearish momentum but RSI %.1f oversold", rsi)), nil
	}

	confidence := 60 + sig.Strength*25
	aligned := trend == sig.Direction
	if aligned {
		confidence += 10
	}

	d := Decision{
		Action:     action,
		Symbol:     m.Symbol,
		Confidence: math.Min(confidence, 95),
		Reasoning: fmt.Sprintf("Momentum %+.2f%% over %d candles (strength %.0f%%), trend %s, RSI %.1f",
			sig.Momentum*100, s.cfg.Lookback, sig.Strength*100, trend, rsi),
		Source:    s.Name(),
		Timestamp: s.now(),
	}
	if aligned {
		d.TimeframeAlignment = "momentum and trend agree"
	}
	return d, nil
}

// manage holds while momentum is neutral or with the position and closes when it turns against it
func (s *MomentumSource) manage(m *market.Snapshot, pos exchange.Position, sig MomentumSignal) Decision {
	against := (pos.IsLong() && sig.Direction == analysis.TrendBearish) ||
		(!pos.IsLong() && sig.Direction == analysis.TrendBullish)
	if !against {
		return s.hold(m.Symbol, fmt.Sprintf("Momentum %+.2f%% does not oppose position", sig.Momentum*100))
	}
	return Decision{
		Action:     ActionClose,
		Symbol:     m.Symbol,
		Confidence: math.Min(65+sig.Strength*30, 95),
		Reasoning:  fmt.Sprintf("Momentum reversed to %s (%+.2f%%)", sig.Direction, sig.Momentum*100),
		Source:     s.Name(),
		Timestamp:  s.now(),
	}
}

func (s *MomentumSource) hold(symbol, reason string) Decision {
	d := Hold(symbol, reason)
	d.Source = s.Name()
	d.Timestamp = s.now()
	return d
}

func closesOf(candles []exchange.Kline) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}
