package analysis

import (
	"perp-trading-agent/internal/exchange"
)

// VolumeAnalyzer provides volume-based technical analysis
type VolumeAnalyzer struct {
	avgPeriod int // Period for average volume calculation
}

// VolumeProfile represents volume analysis results
type VolumeProfile struct {
	CurrentVolume float64 `json:"current_volume"`
	AverageVolume float64 `json:"avg_volume"`
	VolumeRatio   float64 `json:"volume_ratio"` // Current / Average
	VolumeTrend   float64 `json:"volume_trend"` // last 5 candles vs the rest of the window
	OBV           float64 `json:"obv"`
}

// NewVolumeAnalyzer creates a new volume analyzer
func NewVolumeAnalyzer(avgPeriod int) *VolumeAnalyzer {
	if avgPeriod <= 0 {
		avgPeriod = 20 // Default 20-period average
	}
	return &VolumeAnalyzer{
		avgPeriod: avgPeriod,
	}
}

// AnalyzeVolume computes the volume profile; ratio defaults to 1 with short history
func (va *VolumeAnalyzer) AnalyzeVolume(candles []exchange.Kline) VolumeProfile {
	if len(candles) < va.avgPeriod {
		return VolumeProfile{VolumeRatio: 1}
	}

	window := candles[len(candles)-va.avgPeriod:]
	var sum float64
	for _, c := range window {
		sum += c.Volume
	}
	avg := sum / float64(len(window))
	current := candles[len(candles)-1].Volume

	profile := VolumeProfile{
		CurrentVolume: current,
		AverageVolume: avg,
		VolumeRatio:   1,
		OBV:           va.CalculateOBV(candles),
	}
	if avg > 0 {
		profile.VolumeRatio = current / avg
	}

	recentAvg, olderAvg := avg, avg
	if len(window) > 5 {
		recentAvg = avgVolume(window[len(window)-5:])
		olderAvg = avgVolume(window[:len(window)-5])
	}
	if olderAvg > 0 {
		profile.VolumeTrend = (recentAvg - olderAvg) / olderAvg
	}

	return profile
}

// CalculateOBV calculates On-Balance Volume
func (va *VolumeAnalyzer) CalculateOBV(candles []exchange.Kline) float64 {
	if len(candles) < 2 {
		return 0
	}

	obv := 0.0
	for i := 1; i < len(candles); i++ {
		if candles[i].Close > candles[i-1].Close {
			obv += candles[i].Volume
		} else if candles[i].Close < candles[i-1].Close {
			obv -= candles[i].Volume
		}
	}

	return obv
}

func avgVolume(candles []exchange.Kline) float64 {
	if len(candles) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
}
