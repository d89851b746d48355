package decision

import (
	"context"
	"fmt"
	"math"
	"time"

	"perp-trading-agent/internal/market"
	"perp-trading-agent/internal/portfolio"
)

const lunarCycleDays = 29.530588853

// reference new moon, 2000-01-06 18:14 UTC
var knownNewMoon = time.Date(2000, 1, 6, 18, 14, 0, 0, time.UTC)

// MoonTrend is where the moon is in its cycle
type MoonTrend string

const (
	MoonWaxingStart MoonTrend = "waxing_start"
	MoonWaxing      MoonTrend = "waxing"
	MoonWaningStart MoonTrend = "waning_start"
	MoonWaning      MoonTrend = "waning"
)

// MoonPhase describes the moon at one instant
type MoonPhase struct {
	Name         string    `json:"phase_name"`
	Fraction     float64   `json:"phase_fraction"` // 0 new, 0.5 full
	Trend        MoonTrend `json:"trend"`
	Bias         Action    `json:"bias"` // long, short or hold
	Illumination float64   `json:"illumination"`
}

// PhaseAt computes the moon phase at t
func PhaseAt(t time.Time) MoonPhase {
	days := t.Sub(knownNewMoon).Hours() / 24
	frac := math.Mod(days, lunarCycleDays) / lunarCycleDays
	if frac < 0 {
		frac++
	}

	p := MoonPhase{
		Fraction:     frac,
		Illumination: math.Abs(math.Sin(frac*math.Pi)) * 100,
	}
	switch {
	case frac < 0.03:
		p.Name, p.Trend = "New Moon", MoonWaxingStart
	case frac < 0.22:
		p.Name, p.Trend = "Waxing Crescent", MoonWaxing
	case frac < 0.28:
		p.Name, p.Trend = "First Quarter", MoonWaxing
	case frac < 0.47:
		p.Name, p.Trend = "Waxing Gibbous", MoonWaxing
	case frac < 0.53:
		p.Name, p.Trend = "Full Moon", MoonWaningStart
	case frac < 0.72:
		p.Name, p.Trend = "Waning Gibbous", MoonWaning
	case frac < 0.78:
		p.Name, p.Trend = "Last Quarter", MoonWaning
	case frac < 0.97:
		p.Name, p.Trend = "Waning Crescent", MoonWaning
	default:
		p.Name, p.Trend = "New Moon", MoonWaxingStart
	}

	// waning moon is bullish, waxing moon bearish
	switch p.Trend {
	case MoonWaning:
		p.Bias = ActionLong
	case MoonWaxing:
		p.Bias = ActionShort
	default:
		p.Bias = ActionHold
	}
	return p
}

// LunarSource trades the moon-phase bias
type LunarSource struct {
	now func() time.Time
}

// NewLunarSource creates the moon-phase rule engine
func NewLunarSource() *LunarSource {
	return &LunarSource{now: time.Now}
}

// WithNow overrides the clock
func (s *LunarSource) WithNow(now func() time.Time) *LunarSource {
	s.now = now
	return s
}

func (s *LunarSource) Name() string { return "lunar" }

func (s *LunarSource) Decide(ctx context.Context, m *market.Snapshot, p *portfolio.Snapshot) (Decision, error) {
	now := s.now()
	if m == nil || p == nil {
		d := Hold("", "missing market or portfolio snapshot")
		d.Source, d.Timestamp = s.Name(), now
		return d, nil
	}

	moon := PhaseAt(now)
	d := Decision{Symbol: m.Symbol, Source: s.Name(), Timestamp: now}

	if moon.Bias == ActionHold {
		d.Action = ActionHold
		d.Confidence = 50
		d.Reasoning = fmt.Sprintf("Moon phase transition (%s), waiting for a clear signal", moon.Name)
		return d, nil
	}

	if pos, ok := p.Position(m.Symbol); ok {
		side := ActionShort
		if pos.IsLong() {
			side = ActionLong
		}
		if side == moon.Bias {
			d.Action = ActionHold
			d.Confidence = 75
			d.Reasoning = fmt.Sprintf("Moon phase supports the %s position (%s)", side, moon.Name)
			return d, nil
		}
		d.Action = ActionClose
		d.Confidence = 85
		d.Reasoning = fmt.Sprintf("Moon phase shifted against the %s position (%s)", side, moon.Name)
		return d, nil
	}

	confirms := (moon.Bias == ActionLong && m.PriceChange24h > 0) ||
		(moon.Bias == ActionShort && m.PriceChange24h < 0)

	d.Action = moon.Bias
	d.Confidence = 65
	outlook := "bearish"
	if moon.Bias == ActionLong {
		outlook = "bullish"
	}
	d.Reasoning = fmt.Sprintf("Moon %s, %s outlook (%s)", moon.Trend, outlook, moon.Name)
	if confirms {
		d.Confidence = 80
		d.Reasoning += fmt.Sprintf(", price confirms (%+.1f%%)", m.PriceChange24h)
	}
	return d, nil
}
