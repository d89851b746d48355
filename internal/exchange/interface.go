package exchange

import "context"

// FuturesClient is the subset of the USDT-M futures API the trading agent drives
type FuturesClient interface {
	// ==================== ACCOUNT ====================

	// GetAccount retrieves balances and account-level position rows
	GetAccount(ctx context.Context) (*AccountInfo, error)

	// GetPositions retrieves positions; empty symbol returns all symbols
	GetPositions(ctx context.Context, symbol string) ([]Position, error)

	// SetLeverage sets the leverage for a symbol (1-125x)
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// ==================== TRADING ====================

	// PlaceOrder places a new order
	PlaceOrder(ctx context.Context, params OrderParams) (*OrderResponse, error)

	// SetStopLoss places a reduce-only STOP_MARKET order
	SetStopLoss(ctx context.Context, symbol string, stopPrice, quantity float64, side OrderSide) (*OrderResponse, error)

	// SetTakeProfit places a reduce-only TAKE_PROFIT_MARKET order
	SetTakeProfit(ctx context.Context, symbol string, targetPrice, quantity float64, side OrderSide) (*OrderResponse, error)

	// CancelAllOrders cancels all open orders for a symbol
	CancelAllOrders(ctx context.Context, symbol string) error

	// ClosePosition sends a reduce-only market order for the full live position
	ClosePosition(ctx context.Context, symbol string) (*OrderResponse, error)

	// GetOpenOrders retrieves open orders for a symbol
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)

	// ==================== MARKET DATA ====================

	// GetTicker retrieves 24h statistics for a symbol
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// GetKlines retrieves candlesticks for a symbol and interval
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
}
