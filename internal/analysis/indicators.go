package analysis

import (
	"math"
)

// RSI calculates the Relative Strength Index over period using simple averages
// of the last period deltas. Returns 50 with insufficient data and 100 when there were no losses.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}

	var gains, losses float64
	for i := len(closes) - period; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// EMA returns the exponential moving average series seeded with the first value
func EMA(data []float64, period int) []float64 {
	if len(data) == 0 {
		return nil
	}
	alpha := 2.0 / float64(period+1)
	out := make([]float64, len(data))
	out[0] = data[0]
	for i := 1; i < len(data); i++ {
		out[i] = alpha*data[i] + (1-alpha)*out[i-1]
	}
	return out
}

// MACD holds the last MACD line, signal and histogram values
type MACD struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// CalculateMACD computes MACD(fast, slow, signal); zero values when data is short
func CalculateMACD(closes []float64, fast, slow, signal int) MACD {
	if len(closes) < slow+signal {
		return MACD{}
	}

	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine := EMA(line, signal)

	last := len(closes) - 1
	return MACD{
		MACD:      line[last],
		Signal:    signalLine[last],
		Histogram: line[last] - signalLine[last],
	}
}

// Bollinger holds band levels plus width and price position inside the bands
type Bollinger struct {
	Upper    float64 `json:"upper"`
	Middle   float64 `json:"middle"`
	Lower    float64 `json:"lower"`
	Width    float64 `json:"width"`    // (upper-lower)/middle
	Position float64 `json:"position"` // 0 at lower band, 1 at upper band
}

// CalculateBollinger computes bands with population standard deviation
func CalculateBollinger(closes []float64, period int, stdDev float64) Bollinger {
	if len(closes) == 0 {
		return Bollinger{Position: 0.5}
	}
	current := closes[len(closes)-1]
	if len(closes) < period {
		return Bollinger{Upper: current, Middle: current, Lower: current, Position: 0.5}
	}

	window := closes[len(closes)-period:]
	sma := mean(window)
	std := stddev(window, sma)

	upper := sma + stdDev*std
	lower := sma - stdDev*std

	b := Bollinger{Upper: upper, Middle: sma, Lower: lower, Position: 0.5}
	if sma > 0 {
		b.Width = (upper - lower) / sma
	}
	if upper > lower {
		b.Position = (current - lower) / (upper - lower)
	}
	return b
}

// ATR averages the true range of the last period candles; with too few
// candles it falls back to the mean high-low range.
func ATR(highs, lows, closes []float64, period int) float64 {
	n := len(highs)
	if n == 0 || len(lows) != n || len(closes) != n {
		return 0
	}

	if n < period+1 {
		start := 0
		if n > period {
			start = n - period
		}
		var sum float64
		for i := start; i < n; i++ {
			sum += highs[i] - lows[i]
		}
		return sum / float64(n-start)
	}

	var sum float64
	for i := n - period; i < n; i++ {
		highLow := highs[i] - lows[i]
		highClose := math.Abs(highs[i] - closes[i-1])
		lowClose := math.Abs(lows[i] - closes[i-1])
		sum += math.Max(highLow, math.Max(highClose, lowClose))
	}
	return sum / float64(period)
}

// Momentum is the percentage change over period candles
func Momentum(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}
	current := closes[len(closes)-1]
	past := closes[len(closes)-period-1]
	if past <= 0 {
		return 0
	}
	return (current - past) / past * 100
}

// Volatility describes return dispersion
type Volatility struct {
	StdDev               float64 `json:"std_dev"` // percent
	CoefficientVariation float64 `json:"coefficient_variation"`
	Percentile           float64 `json:"percentile"` // current vs rolling history, 0-100
}

// CalculateVolatility measures return std dev over period and ranks it against rolling windows
func CalculateVolatility(closes []float64, period int) Volatility {
	if len(closes) < period {
		return Volatility{Percentile: 50}
	}

	returns := pctReturns(closes[len(closes)-period:])
	m := mean(returns)
	std := stddev(returns, m)

	v := Volatility{StdDev: std * 100, Percentile: 50}
	if m != 0 {
		v.CoefficientVariation = v.StdDev / math.Abs(m)
	}

	if len(closes) > period*2 {
		var below, total int
		for i := period; i < len(closes); i++ {
			wr := pctReturns(closes[i-period : i])
			hv := stddev(wr, mean(wr))
			if hv < std {
				below++
			}
			total++
		}
		v.Percentile = float64(below) / float64(total) * 100
	}
	return v
}

func pctReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1])
	}
	return out
}

func mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func stddev(data []float64, m float64) float64 {
	if len(data) == 0 {
		return 0
	}
	var sq float64
	for _, v := range data {
		sq += (v - m) * (v - m)
	}
	return math.Sqrt(sq / float64(len(data)))
}
