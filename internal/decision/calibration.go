package decision

import (
	"context"
	"math"

	"perp-trading-agent/internal/market"
	"perp-trading-agent/internal/portfolio"
)

// model confidence contributes 30% around the trade-quality anchor
const calibrationWeight = 0.3

// Calibrate pulls a model confidence toward the trade-quality score
func Calibrate(confidence, quality float64) float64 {
	adjusted := quality + (confidence-50)*calibrationWeight
	return math.Max(0, math.Min(100, adjusted))
}

// CalibratedSource wraps a source and anchors its confidence on trade quality
type CalibratedSource struct {
	inner Source
}

// Calibrated wraps src
func Calibrated(src Source) *CalibratedSource {
	return &CalibratedSource{inner: src}
}

func (c *CalibratedSource) Name() string { return c.inner.Name() + "+calibrated" }

// Decide passes failures through untouched
func (c *CalibratedSource) Decide(ctx context.Context, m *market.Snapshot, p *portfolio.Snapshot) (Decision, error) {
	d, err := c.inner.Decide(ctx, m, p)
	if err != nil || m == nil || m.Analysis == nil || d.Action == ActionHold {
		return d, err
	}
	d.Confidence = Calibrate(d.Confidence, m.Analysis.TradeQualityScore)
	return d, nil
}
