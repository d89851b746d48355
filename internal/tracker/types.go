package tracker

import "time"

// Direction is the price direction a trade bets on or realized
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Quality labels a closed trade by realized PnL percent
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityNeutral   Quality = "neutral"
	QualityBad       Quality = "bad"
	QualityTerrible  Quality = "terrible"
)

// Exit reasons recorded on close
const (
	ExitAIClose    = "ai_close"
	ExitStopLoss   = "sl_hit"
	ExitTakeProfit = "tp_hit"
	ExitSuperseded = "superseded"
)

// TradeRecord is one round trip from open to close
type TradeRecord struct {
	ID     string `json:"trade_id"`
	Bot    string `json:"bot"`
	Symbol string `json:"symbol"`

	OpenedAt time.Time  `json:"timestamp_open"`
	ClosedAt *time.Time `json:"timestamp_close,omitempty"`

	Action             string    `json:"action"`
	Reasoning          string    `json:"reasoning"`
	Confidence         float64   `json:"confidence"`
	PredictedDirection Direction `json:"predicted_direction"`
	StopLoss           float64   `json:"stop_loss"`
	TakeProfit         float64   `json:"take_profit"`

	EntryPrice     float64 `json:"entry_price"`
	Size           float64 `json:"size"` // USD notional
	Leverage       int     `json:"leverage"`
	PriceChange24h float64 `json:"price_24h_change"`

	ExitPrice       float64   `json:"exit_price,omitempty"`
	PnLUSD          float64   `json:"pnl_usd"`
	PnLPercent      float64   `json:"pnl_percent"`
	ActualDirection Direction `json:"actual_direction,omitempty"`
	WasCorrect      bool      `json:"was_correct"`
	ExitReason      string    `json:"exit_reason,omitempty"`
	DurationMinutes float64   `json:"duration_minutes"`

	Quality      Quality  `json:"quality,omitempty"`
	ShouldRepeat bool     `json:"should_repeat"`
	Lessons      []string `json:"lessons,omitempty"`
}

// IsOpen reports whether the trade has not been finalized
func (t *TradeRecord) IsOpen() bool {
	return t.ClosedAt == nil
}

// StartParams describes a freshly opened position
type StartParams struct {
	Bot            string
	Symbol         string
	Action         string // long or short
	Reasoning      string
	Confidence     float64
	StopLoss       float64
	TakeProfit     float64
	EntryPrice     float64
	Size           float64
	Leverage       int
	PriceChange24h float64
}

// Stats summarizes every closed trade
type Stats struct {
	TotalTrades         int             `json:"total_trades"`
	CorrectPredictions  int             `json:"correct_predictions"`
	WinRate             float64         `json:"win_rate"` // fraction 0-1
	TotalPnLUSD         float64         `json:"total_pnl_usd"`
	AvgPnLPerTrade      float64         `json:"avg_pnl_per_trade"`
	AvgWinPercent       float64         `json:"avg_win_pct"`
	AvgLossPercent      float64         `json:"avg_loss_pct"` // magnitude
	QualityDistribution map[Quality]int `json:"quality_distribution"`
	OpenTrades          int             `json:"open_trades"`
}

// Performance summarizes trades closed inside a recent window
type Performance struct {
	Hours   int     `json:"hours"`
	Trades  int     `json:"trades"`
	PnLUSD  float64 `json:"pnl_usd"`
	WinRate float64 `json:"win_rate"` // fraction 0-1
	Wins    int     `json:"wins"`
}
