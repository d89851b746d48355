// Command analyze_trades summarises the persisted trade-outcome log by
// symbol, confidence bucket or outcome quality.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"perp-trading-agent/config"
	"perp-trading-agent/internal/database"
	"perp-trading-agent/internal/logging"
	"perp-trading-agent/internal/tracker"
)

// Grouping modes
const (
	BySymbol     = "symbol"
	ByConfidence = "confidence"
	ByQuality    = "quality"
	ByBot        = "bot"
)

// GroupStats aggregates closed trades sharing one key
type GroupStats struct {
	Key           string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
	TotalWins     float64
	TotalLosses   float64
	WinRate       float64 // percent
	AvgPnL        float64
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		bot   string
		by    string
		limit int
	)

	cmd := &cobra.Command{
		Use:          "analyze_trades",
		Short:        "Summarise closed trades from the trade-outcome log",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			keyFn, err := GroupKey(by)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.DatabaseConfig.Enabled {
				return fmt.Errorf("database is disabled (set DB_ENABLED=true)")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			db, err := database.NewDB(ctx, cfg.DatabaseConfig, logging.Nop())
			if err != nil {
				return err
			}
			defer db.Close()

			repo := database.NewTradeRepository(db)
			var trades []tracker.TradeRecord
			if bot != "" {
				trades, err = repo.LoadTrades(ctx, bot)
			} else {
				trades, err = repo.RecentTrades(ctx, limit)
			}
			if err != nil {
				return err
			}

			Report(cmd.OutOrStdout(), by, Summarize(trades, keyFn))
			return nil
		},
	}

	cmd.Flags().StringVar(&bot, "bot", "", "Only this bot's trades")
	cmd.Flags().StringVar(&by, "by", BySymbol, "Group by symbol, bot, confidence or quality")
	cmd.Flags().IntVar(&limit, "limit", 1000, "Most recent trades to read across bots")
	return cmd
}

// GroupKey returns the key function for a grouping mode
func GroupKey(by string) (func(tracker.TradeRecord) string, error) {
	switch by {
	case BySymbol:
		return func(t tracker.TradeRecord) string { return t.Symbol }, nil
	case ByBot:
		return func(t tracker.TradeRecord) string { return t.Bot }, nil
	case ByQuality:
		return func(t tracker.TradeRecord) string { return string(t.Quality) }, nil
	case ByConfidence:
		return func(t tracker.TradeRecord) string { return ConfidenceBucket(t.Confidence) }, nil
	}
	return nil, fmt.Errorf("unknown grouping %q", by)
}

// ConfidenceBucket names the 0-100 confidence band of a trade
func ConfidenceBucket(confidence float64) string {
	switch {
	case confidence < 60:
		return "<60"
	case confidence < 65:
		return "60-65"
	case confidence < 70:
		return "65-70"
	case confidence < 80:
		return "70-80"
	default:
		return "80+"
	}
}

// Summarize groups closed trades by key, best total PnL first
func Summarize(trades []tracker.TradeRecord, key func(tracker.TradeRecord) string) []*GroupStats {
	groups := make(map[string]*GroupStats)
	for _, t := range trades {
		if t.IsOpen() {
			continue
		}
		k := key(t)
		g, ok := groups[k]
		if !ok {
			g = &GroupStats{Key: k}
			groups[k] = g
		}
		g.TotalTrades++
		g.TotalPnL += t.PnLUSD
		if t.PnLUSD > 0 {
			g.WinningTrades++
			g.TotalWins += t.PnLUSD
		} else if t.PnLUSD < 0 {
			g.LosingTrades++
			g.TotalLosses += t.PnLUSD
		}
	}

	out := make([]*GroupStats, 0, len(groups))
	for _, g := range groups {
		g.WinRate = float64(g.WinningTrades) / float64(g.TotalTrades) * 100
		g.AvgPnL = g.TotalPnL / float64(g.TotalTrades)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPnL == out[j].TotalPnL {
			return out[i].Key < out[j].Key
		}
		return out[i].TotalPnL > out[j].TotalPnL
	})
	return out
}

// Report prints the grouped statistics with a total row
func Report(w io.Writer, by string, groups []*GroupStats) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "TRADE PERFORMANCE BY %s\n", strings.ToUpper(by))
	fmt.Fprintln(w, rule)

	if len(groups) == 0 {
		fmt.Fprintln(w, "No closed trades found")
		return
	}

	fmt.Fprintf(w, "%-14s %7s %8s %7s %13s %13s %9s\n", "Key", "Trades", "Winners", "Losers", "Total PnL", "Avg PnL", "Win Rate")

	var total GroupStats
	for _, g := range groups {
		fmt.Fprintf(w, "%-14s %7d %8d %7d %+13.2f %+13.2f %8.1f%%\n",
			truncate(g.Key, 14), g.TotalTrades, g.WinningTrades, g.LosingTrades, g.TotalPnL, g.AvgPnL, g.WinRate)
		total.TotalTrades += g.TotalTrades
		total.WinningTrades += g.WinningTrades
		total.LosingTrades += g.LosingTrades
		total.TotalPnL += g.TotalPnL
	}

	winRate := float64(total.WinningTrades) / float64(total.TotalTrades) * 100
	fmt.Fprintf(w, "%-14s %7d %8d %7d %+13.2f %+13.2f %8.1f%%\n",
		"TOTAL", total.TotalTrades, total.WinningTrades, total.LosingTrades,
		total.TotalPnL, total.TotalPnL/float64(total.TotalTrades), winRate)

	if winRate < 50 {
		fmt.Fprintf(w, "\nOverall win rate %.1f%% is below 50%%: consider raising min_trade_confidence\n", winRate)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
