package analysis

import (
	"math"
)

// TrendDirection represents market trend
type TrendDirection string

const (
	TrendBullish TrendDirection = "bullish"
	TrendBearish TrendDirection = "bearish"
	TrendNeutral TrendDirection = "neutral"
)

// Trend compares a short and a long simple moving average
type Trend struct {
	Direction TrendDirection `json:"trend"`
	Strength  float64        `json:"strength"` // |short-long|/long
	ShortMA   float64        `json:"short_ma"`
	LongMA    float64        `json:"long_ma"`
}

// StructureType classifies swing behaviour
type StructureType string

const (
	StructureUptrend   StructureType = "uptrend"
	StructureDowntrend StructureType = "downtrend"
	StructureRanging   StructureType = "ranging"
)

// MarketStructure represents support/resistance and breakout odds
type MarketStructure struct {
	Structure            StructureType `json:"structure"`
	Support              float64       `json:"support"`
	Resistance           float64       `json:"resistance"`
	BreakoutProbability  float64       `json:"breakout_probability"`
	DistanceToResistance float64       `json:"distance_to_resistance"`
	DistanceToSupport    float64       `json:"distance_to_support"`
}

// TrendAnalyzer analyzes market trend and structure
type TrendAnalyzer struct {
	shortPeriod int
	longPeriod  int
	threshold   float64 // MA separation that counts as a trend
	rangeWindow int     // candles used for support/resistance
}

// NewTrendAnalyzer creates a new trend analyzer
func NewTrendAnalyzer(shortPeriod, longPeriod int) *TrendAnalyzer {
	if shortPeriod <= 0 {
		shortPeriod = 20
	}
	if longPeriod <= 0 {
		longPeriod = 50
	}
	return &TrendAnalyzer{
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		threshold:   0.01,
		rangeWindow: 20,
	}
}

// DetectTrend reports bullish when the short MA is more than 1% above the long MA,
// bearish when more than 1% below, neutral otherwise or with too little data.
func (ta *TrendAnalyzer) DetectTrend(closes []float64) Trend {
	if len(closes) < ta.longPeriod {
		last := 0.0
		if len(closes) > 0 {
			last = closes[len(closes)-1]
		}
		return Trend{Direction: TrendNeutral, ShortMA: last, LongMA: last}
	}

	shortMA := mean(closes[len(closes)-ta.shortPeriod:])
	longMA := mean(closes[len(closes)-ta.longPeriod:])

	t := Trend{Direction: TrendNeutral, ShortMA: shortMA, LongMA: longMA}
	switch {
	case shortMA > longMA*(1+ta.threshold):
		t.Direction = TrendBullish
	case shortMA < longMA*(1-ta.threshold):
		t.Direction = TrendBearish
	}
	if longMA > 0 {
		t.Strength = math.Abs(shortMA-longMA) / longMA
	}
	return t
}

// AnalyzeStructure compares the two halves of the series for higher highs/lows
// and rates breakout odds by proximity to the recent range edges.
func (ta *TrendAnalyzer) AnalyzeStructure(closes, highs, lows []float64) MarketStructure {
	if len(closes) < ta.rangeWindow || len(highs) != len(closes) || len(lows) != len(closes) {
		last := 0.0
		if len(closes) > 0 {
			last = closes[len(closes)-1]
		}
		return MarketStructure{
			Structure:           StructureRanging,
			Support:             last,
			Resistance:          last,
			BreakoutProbability: 0.5,
		}
	}

	recentHigh := maxOf(highs[len(highs)-ta.rangeWindow:])
	recentLow := minOf(lows[len(lows)-ta.rangeWindow:])
	current := closes[len(closes)-1]

	distToHigh, distToLow := 0.5, 0.5
	if rangeSize := recentHigh - recentLow; rangeSize > 0 {
		distToHigh = (recentHigh - current) / rangeSize
		distToLow = (current - recentLow) / rangeSize
	}

	mid := len(closes) / 2
	firstHigh, secondHigh := maxOf(highs[:mid]), maxOf(highs[mid:])
	firstLow, secondLow := minOf(lows[:mid]), minOf(lows[mid:])

	ms := MarketStructure{
		Support:              recentLow,
		Resistance:           recentHigh,
		DistanceToResistance: distToHigh,
		DistanceToSupport:    distToLow,
	}

	switch {
	case secondHigh > firstHigh && secondLow > firstLow:
		ms.Structure = StructureUptrend
		ms.BreakoutProbability = 0.5
		if distToHigh < 0.1 {
			ms.BreakoutProbability = 0.7
		}
	case secondHigh < firstHigh && secondLow < firstLow:
		ms.Structure = StructureDowntrend
		ms.BreakoutProbability = 0.5
		if distToLow < 0.1 {
			ms.BreakoutProbability = 0.7
		}
	default:
		ms.Structure = StructureRanging
		ms.BreakoutProbability = 0.3
		if distToHigh < 0.1 || distToLow < 0.1 {
			ms.BreakoutProbability = 0.6
		}
	}

	return ms
}

func maxOf(data []float64) float64 {
	m := math.Inf(-1)
	for _, v := range data {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(data []float64) float64 {
	m := math.Inf(1)
	for _, v := range data {
		if v < m {
			m = v
		}
	}
	return m
}
