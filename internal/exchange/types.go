package exchange

import (
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrNoPosition is returned when a symbol has no open position to act on
	ErrNoPosition = errors.New("no open position")
	// ErrRateLimited is returned while the exchange ban window is active
	ErrRateLimited = errors.New("rate limited by exchange")
)

// OrderSide is BUY or SELL
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the other side
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide is the hedge-mode side. The agent runs one-way mode, so always BOTH.
type PositionSide string

const (
	PositionSideBoth  PositionSide = "BOTH" // One-way mode
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// OrderType is the subset of order types the agent sends
type OrderType string

const (
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// TimeInForce of a LIMIT order
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
)

// OrderStatus represents order status
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "NEW"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// AccountInfo is the /fapi/v2/account payload
type AccountInfo struct {
	CanTrade              bool              `json:"canTrade"`
	UpdateTime            int64             `json:"updateTime"`
	TotalWalletBalance    float64           `json:"totalWalletBalance,string"`
	TotalUnrealizedProfit float64           `json:"totalUnrealizedProfit,string"`
	TotalMarginBalance    float64           `json:"totalMarginBalance,string"`
	AvailableBalance      float64           `json:"availableBalance,string"`
	Assets                []Asset           `json:"assets"`
	Positions             []AccountPosition `json:"positions"`
}

// Asset represents an asset in the futures account
type Asset struct {
	Asset            string  `json:"asset"`
	WalletBalance    float64 `json:"walletBalance,string"`
	UnrealizedProfit float64 `json:"unrealizedProfit,string"`
	MarginBalance    float64 `json:"marginBalance,string"`
	AvailableBalance float64 `json:"availableBalance,string"`
}

// AccountPosition is a position row inside AccountInfo
type AccountPosition struct {
	Symbol           string  `json:"symbol"`
	UnrealizedProfit float64 `json:"unrealizedProfit,string"`
	Leverage         int     `json:"leverage,string"`
	EntryPrice       float64 `json:"entryPrice,string"`
	PositionSide     string  `json:"positionSide"`
	PositionAmt      float64 `json:"positionAmt,string"`
	Notional         float64 `json:"notional,string"`
}

// USDTBalance returns the USDT wallet balance, falling back to the account-level available balance
func (a *AccountInfo) USDTBalance() float64 {
	for _, asset := range a.Assets {
		if asset.Asset == "USDT" && asset.WalletBalance > 0 {
			return asset.WalletBalance
		}
	}
	return a.AvailableBalance
}

// Position is one row of /fapi/v2/positionRisk. PositionAmt is signed: positive long, negative short.
type Position struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"positionAmt,string"`
	EntryPrice       float64 `json:"entryPrice,string"`
	MarkPrice        float64 `json:"markPrice,string"`
	UnrealizedProfit float64 `json:"unRealizedProfit,string"`
	LiquidationPrice float64 `json:"liquidationPrice,string"`
	Leverage         int     `json:"leverage,string"`
	PositionSide     string  `json:"positionSide"`
	Notional         float64 `json:"notional,string"`
	UpdateTime       int64   `json:"updateTime"`
}

// IsOpen reports whether the position has a non-zero quantity
func (p Position) IsOpen() bool {
	return p.PositionAmt != 0
}

// IsLong reports whether the position is long
func (p Position) IsLong() bool {
	return p.PositionAmt > 0
}

// Quantity is the absolute position size
func (p Position) Quantity() float64 {
	if p.PositionAmt < 0 {
		return -p.PositionAmt
	}
	return p.PositionAmt
}

// ClosingSide is the order side that reduces this position
func (p Position) ClosingSide() OrderSide {
	if p.PositionAmt > 0 {
		return SideSell
	}
	return SideBuy
}

// OrderParams represents parameters for placing a futures order
type OrderParams struct {
	Symbol           string       `json:"symbol"`
	Side             OrderSide    `json:"side"`
	PositionSide     PositionSide `json:"positionSide"`
	Type             OrderType    `json:"type"`
	Quantity         float64      `json:"quantity"`
	Price            float64      `json:"price,omitempty"`
	StopPrice        float64      `json:"stopPrice,omitempty"`
	TimeInForce      TimeInForce  `json:"timeInForce,omitempty"`
	ReduceOnly       bool         `json:"reduceOnly,omitempty"`
	NewClientOrderId string       `json:"newClientOrderId,omitempty"`
}

// Order represents an open or historical futures order
type Order struct {
	OrderId       int64   `json:"orderId"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	ClientOrderId string  `json:"clientOrderId"`
	Price         float64 `json:"price,string"`
	AvgPrice      float64 `json:"avgPrice,string"`
	OrigQty       float64 `json:"origQty,string"`
	ExecutedQty   float64 `json:"executedQty,string"`
	Type          string  `json:"type"`
	ReduceOnly    bool    `json:"reduceOnly"`
	Side          string  `json:"side"`
	PositionSide  string  `json:"positionSide"`
	StopPrice     float64 `json:"stopPrice,string"`
	Time          int64   `json:"time"`
	UpdateTime    int64   `json:"updateTime"`
}

// IsStop reports whether the order type is a stop variant
func (o Order) IsStop() bool {
	return strings.Contains(strings.ToUpper(o.Type), "STOP")
}

// IsTakeProfit reports whether the order type is a take-profit variant
func (o Order) IsTakeProfit() bool {
	return strings.Contains(strings.ToUpper(o.Type), "TAKE_PROFIT")
}

// OrderResponse represents the response from placing an order
type OrderResponse struct {
	OrderId       int64   `json:"orderId"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	ClientOrderId string  `json:"clientOrderId"`
	Price         float64 `json:"price,string"`
	AvgPrice      float64 `json:"avgPrice,string"`
	OrigQty       float64 `json:"origQty,string"`
	ExecutedQty   float64 `json:"executedQty,string"`
	Type          string  `json:"type"`
	ReduceOnly    bool    `json:"reduceOnly"`
	Side          string  `json:"side"`
	StopPrice     float64 `json:"stopPrice,string"`
	UpdateTime    int64   `json:"updateTime"`
}

// LeverageResponse is the /fapi/v1/leverage payload
type LeverageResponse struct {
	Leverage         int     `json:"leverage"`
	MaxNotionalValue float64 `json:"maxNotionalValue,string"`
	Symbol           string  `json:"symbol"`
}

// Ticker represents 24 hour price change statistics for a symbol
type Ticker struct {
	Symbol             string  `json:"symbol"`
	PriceChange        float64 `json:"priceChange,string"`
	PriceChangePercent float64 `json:"priceChangePercent,string"`
	LastPrice          float64 `json:"lastPrice,string"`
	OpenPrice          float64 `json:"openPrice,string"`
	HighPrice          float64 `json:"highPrice,string"`
	LowPrice           float64 `json:"lowPrice,string"`
	Volume             float64 `json:"volume,string"`
	QuoteVolume        float64 `json:"quoteVolume,string"`
	CloseTime          int64   `json:"closeTime"`
}

// Kline is one candlestick
type Kline struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"closeTime"`
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}

func parseInt(val interface{}) int64 {
	switch v := val.(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
