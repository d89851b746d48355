package decision

import (
	"fmt"
	"math"
	"strings"

	"perp-trading-agent/internal/exchange"
	"perp-trading-agent/internal/market"
	"perp-trading-agent/internal/portfolio"
	"perp-trading-agent/internal/protection"
)

// SystemPromptTrader frames the model as a disciplined futures trader
const SystemPromptTrader = `You are an experienced cryptocurrency perpetual futures trader.

You read technical indicators across several timeframes, account state and your own recent results,
and turn them into one decision per cycle. You trade only when an edge is clear, you let open
positions develop, and you express conviction through the confidence score, never through size.

Every decision must cite the indicators that support it.`

// responseSchema is appended to every trading prompt
const responseSchema = `Respond with JSON ONLY (no markdown, no text outside the JSON object):
{
  "action": "long" | "short" | "close" | "hold",
  "symbol": "%s",
  "stop_loss": <price level>,
  "take_profit": <price level>,
  "reasoning": "technical analysis citing specific indicators",
  "confidence": <0-100>,
  "edge_identified": "short description of the edge",
  "timeframe_alignment": "bullish" | "bearish" | "mixed" | "neutral",
  "expected_rr": <expected reward to risk ratio>
}

Sizing is computed by the system from your confidence and market conditions; do not include a size.`

// PromptOptions carries the account limits quoted in the prompt
type PromptOptions struct {
	MaxPositionSize    float64
	MinTradeConfidence float64
	CloseConfidence    float64
}

// BuildTradingPrompt builds the user prompt for one decision cycle
func BuildTradingPrompt(m *market.Snapshot, p *portfolio.Snapshot, opts PromptOptions) string {
	return `Decide the next action for this market.

=== MARKET ===
` + formatMarket(m) + `

=== TECHNICAL INDICATORS (` + string(market.AnalysisTimeframe) + `) ===
` + formatIndicators(m) + `

=== MULTI-TIMEFRAME TRENDS ===
` + formatTimeframes(m) + `

=== ACCOUNT ===
` + formatAccount(p, opts) + `

=== YOUR RECENT PERFORMANCE ===
` + formatPerformance(p) + `

=== POSITION ===
` + formatPosition(m, p) + `

=== RULES ===
` + formatRules(opts) + `

` + fmt.Sprintf(responseSchema, m.Symbol)
}

func formatMarket(m *market.Snapshot) string {
	return fmt.Sprintf("Symbol: %s\nCurrent Price: $%s\n24h Change: %+.2f%%\n24h High/Low: $%s / $%s",
		m.Symbol, exchange.FormatPrice(m.Price), m.PriceChange24h,
		exchange.FormatPrice(m.High24h), exchange.FormatPrice(m.Low24h))
}

func formatIndicators(m *market.Snapshot) string {
	a := m.Analysis
	if a == nil {
		return "unavailable"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "RSI(14): %.1f (%s)\n", a.RSI, rsiLabel(a.RSI))
	fmt.Fprintf(&sb, "MACD: line=%.4f signal=%.4f histogram=%.4f (%s)\n",
		a.MACD.MACD, a.MACD.Signal, a.MACD.Histogram, signLabel(a.MACD.Histogram, "bullish", "bearish"))
	fmt.Fprintf(&sb, "Bollinger: upper=$%s middle=$%s lower=$%s position=%.0f%% width=%.2f%%\n",
		exchange.FormatPrice(a.Bollinger.Upper), exchange.FormatPrice(a.Bollinger.Middle),
		exchange.FormatPrice(a.Bollinger.Lower), a.Bollinger.Position*100, a.Bollinger.Width*100)
	fmt.Fprintf(&sb, "ATR(14): $%.4f (%.2f%% of price)\n", a.ATR, a.ATRPercent)
	fmt.Fprintf(&sb, "Momentum(10): %+.2f%%\n", a.Momentum)
	fmt.Fprintf(&sb, "Volume: avg=%.0f ratio=%.2fx trend=%+.1f%%\n",
		a.Volume.AverageVolume, a.Volume.VolumeRatio, a.Volume.VolumeTrend*100)
	fmt.Fprintf(&sb, "Volatility: std dev=%.2f%% percentile=%.0f\n", a.Volatility.StdDev, a.Volatility.Percentile)
	fmt.Fprintf(&sb, "Trend: %s strength=%.2f%%\n", strings.ToUpper(string(a.Trend.Direction)), a.Trend.Strength*100)
	fmt.Fprintf(&sb, "Structure: %s support=$%s resistance=$%s breakout probability=%.0f%%\n",
		strings.ToUpper(string(a.Structure.Structure)), exchange.FormatPrice(a.Structure.Support),
		exchange.FormatPrice(a.Structure.Resistance), a.Structure.BreakoutProbability*100)
	fmt.Fprintf(&sb, "Trade quality score: %.0f/100", a.TradeQualityScore)
	return sb.String()
}

func formatTimeframes(m *market.Snapshot) string {
	if len(m.TimeframeTrends) == 0 {
		return "unavailable"
	}
	var sb strings.Builder
	for _, tf := range []market.Timeframe{market.TF1m, market.TF5m, market.TF15m} {
		trend, ok := m.TimeframeTrends[tf]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "%4s: %s\n", tf, strings.ToUpper(string(trend)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatAccount(p *portfolio.Snapshot, opts PromptOptions) string {
	exposurePct := 0.0
	if p.Balance.Total > 0 {
		exposurePct = p.TotalExposure / p.Balance.Total * 100
	}
	return fmt.Sprintf("Total Balance: $%.2f\nAvailable Margin: $%.2f\nCurrent Exposure: $%.2f (%.1f%% of capital)\nMax Position Size: $%.2f",
		p.Balance.Total, p.AvailableMargin, p.TotalExposure, exposurePct, opts.MaxPositionSize)
}

func formatPerformance(p *portfolio.Snapshot) string {
	perf := p.Performance
	return fmt.Sprintf("Total Trades: %d\nWin Rate: %.1f%%\nAvg Win: %+.2f%%\nAvg Loss: -%.2f%%\nTotal P&L: $%+.2f\nLast %dh: %d trades, $%+.2f, win rate %.1f%%",
		perf.TotalTrades, perf.WinRate*100, perf.AvgWin, perf.AvgLoss, perf.RecentPnL,
		perf.Daily.Hours, perf.Daily.Trades, perf.Daily.PnLUSD, perf.Daily.WinRate*100)
}

func formatPosition(m *market.Snapshot, p *portfolio.Snapshot) string {
	pos, ok := p.Position(m.Symbol)
	if !ok {
		return "No open position. You may go long, short or hold."
	}

	side := "SHORT"
	if pos.IsLong() {
		side = "LONG"
	}
	pnlPct := 0.0
	if pos.Notional != 0 {
		pnlPct = pos.UnrealizedProfit / math.Abs(pos.Notional) * 100
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "OPEN %s %v @ $%s\n", side, pos.Quantity(), exchange.FormatPrice(pos.EntryPrice))
	fmt.Fprintf(&sb, "Current Price: $%s\n", exchange.FormatPrice(m.Price))
	fmt.Fprintf(&sb, "Unrealized P&L: $%+.2f (%+.2f%%)\n", pos.UnrealizedProfit, pnlPct)

	set := protection.Classify(p.OpenOrders, pos)
	if set.Stop != nil {
		fmt.Fprintf(&sb, "Stop loss: %s %v @ $%s\n", set.Stop.Side, set.Stop.OrigQty, exchange.FormatPrice(orderPrice(*set.Stop)))
	} else {
		sb.WriteString("WARNING: no stop loss set\n")
	}
	if set.Target != nil {
		fmt.Fprintf(&sb, "Take profit: %s %v @ $%s\n", set.Target.Side, set.Target.OrigQty, exchange.FormatPrice(orderPrice(*set.Target)))
	} else {
		sb.WriteString("WARNING: no take profit set\n")
	}
	sb.WriteString("With a position open you may only hold or close.")
	return sb.String()
}

func formatRules(opts PromptOptions) string {
	return fmt.Sprintf(`- Open (long/short) only with confidence >= %.0f; otherwise hold.
- With an open position use only "hold" or "close". To reverse, close first.
- Closing needs confidence >= %.0f early in a trade; let positions breathe for at least 5 minutes.
- Aim for at least 2:1 reward to risk. If structure is unclear use 2x ATR for the stop and 3-4x ATR for the target.`,
		opts.MinTradeConfidence, opts.CloseConfidence)
}

func orderPrice(o exchange.Order) float64 {
	if o.StopPrice > 0 {
		return o.StopPrice
	}
	return o.Price
}

func rsiLabel(rsi float64) string {
	switch {
	case rsi < 30:
		return "oversold"
	case rsi > 70:
		return "overbought"
	}
	return "neutral"
}

func signLabel(v float64, pos, neg string) string {
	if v > 0 {
		return pos
	}
	return neg
}
