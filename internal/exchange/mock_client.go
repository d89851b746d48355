package exchange

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// MarketData is the read-only subset a MockClient can delegate to
type MarketData interface {
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
}

// MockClient implements FuturesClient for dry-run mode and tests.
// Orders fill against an in-memory book; market data comes from an optional
// delegate (the real REST client in dry-run) or from prices set with SetPrice.
type MockClient struct {
	mu          sync.RWMutex
	positions   map[string]*Position
	orders      map[int64]*Order
	leverage    map[string]int
	prices      map[string]float64
	pinned      map[string]bool
	balance     float64
	nextOrderId int64
	market      MarketData

	failures map[string]error
	calls    map[string]int
	placed   []OrderParams
}

// NewMockClient creates a mock futures client with the given USDT balance
func NewMockClient(initialBalance float64, market MarketData) *MockClient {
	return &MockClient{
		positions:   make(map[string]*Position),
		orders:      make(map[int64]*Order),
		leverage:    make(map[string]int),
		prices:      make(map[string]float64),
		pinned:      make(map[string]bool),
		balance:     initialBalance,
		nextOrderId: 1000,
		market:      market,
		failures:    make(map[string]error),
		calls:       make(map[string]int),
	}
}

// ==================== TEST HOOKS ====================

// SetPrice pins the mark price used for fills and PnL
func (c *MockClient) SetPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
	c.pinned[symbol] = true
}

// SetBalance overrides the wallet balance
func (c *MockClient) SetBalance(balance float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = balance
}

// SetPosition installs a position directly
func (c *MockClient) SetPosition(p Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.PositionAmt == 0 {
		delete(c.positions, p.Symbol)
		return
	}
	pos := p
	c.positions[p.Symbol] = &pos
}

// AddOpenOrder installs a resting order directly and returns its id
func (c *MockClient) AddOpenOrder(o Order) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	o.OrderId = c.nextOrderId
	c.nextOrderId++
	if o.Status == "" {
		o.Status = string(OrderStatusNew)
	}
	order := o
	c.orders[o.OrderId] = &order
	return o.OrderId
}

// SetFailure makes every call to method return err until cleared with nil
func (c *MockClient) SetFailure(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, method)
		return
	}
	c.failures[method] = err
}

// CallCount returns how many times method was invoked
func (c *MockClient) CallCount(method string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calls[method]
}

// PlacedOrders returns a copy of every accepted order request
func (c *MockClient) PlacedOrders() []OrderParams {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]OrderParams, len(c.placed))
	copy(out, c.placed)
	return out
}

func (c *MockClient) enterLocked(method string) error {
	c.calls[method]++
	return c.failures[method]
}

// ==================== ACCOUNT ====================

func (c *MockClient) GetAccount(ctx context.Context) (*AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enterLocked("GetAccount"); err != nil {
		return nil, err
	}

	totalUnrealized := 0.0
	rows := make([]AccountPosition, 0, len(c.positions))
	for _, pos := range c.positions {
		c.markLocked(pos)
		totalUnrealized += pos.UnrealizedProfit
		rows = append(rows, AccountPosition{
			Symbol:           pos.Symbol,
			UnrealizedProfit: pos.UnrealizedProfit,
			Leverage:         pos.Leverage,
			EntryPrice:       pos.EntryPrice,
			PositionSide:     pos.PositionSide,
			PositionAmt:      pos.PositionAmt,
			Notional:         pos.Notional,
		})
	}

	return &AccountInfo{
		CanTrade:              true,
		UpdateTime:            time.Now().UnixMilli(),
		TotalWalletBalance:    c.balance,
		TotalUnrealizedProfit: totalUnrealized,
		TotalMarginBalance:    c.balance + totalUnrealized,
		AvailableBalance:      c.balance,
		Assets: []Asset{
			{
				Asset:            "USDT",
				WalletBalance:    c.balance,
				UnrealizedProfit: totalUnrealized,
				MarginBalance:    c.balance + totalUnrealized,
				AvailableBalance: c.balance,
			},
		},
		Positions: rows,
	}, nil
}

func (c *MockClient) GetPositions(ctx context.Context, symbol string) ([]Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enterLocked("GetPositions"); err != nil {
		return nil, err
	}

	c.triggerLocked()

	positions := make([]Position, 0, len(c.positions))
	for _, pos := range c.positions {
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		c.markLocked(pos)
		positions = append(positions, *pos)
	}
	return positions, nil
}

func (c *MockClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enterLocked("SetLeverage"); err != nil {
		return err
	}
	if leverage < 1 || leverage > 125 {
		return fmt.Errorf("invalid leverage: must be between 1 and 125")
	}
	c.leverage[symbol] = leverage
	return nil
}

// ==================== TRADING ====================

func (c *MockClient) PlaceOrder(ctx context.Context, params OrderParams) (*OrderResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enterLocked("PlaceOrder"); err != nil {
		return nil, err
	}
	return c.placeLocked(params)
}

func (c *MockClient) SetStopLoss(ctx context.Context, symbol string, stopPrice, quantity float64, side OrderSide) (*OrderResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enterLocked("SetStopLoss"); err != nil {
		return nil, err
	}
	return c.placeLocked(OrderParams{
		Symbol:       symbol,
		Side:         side,
		PositionSide: PositionSideBoth,
		Type:         OrderTypeStopMarket,
		Quantity:     quantity,
		StopPrice:    RoundPrice(stopPrice),
		ReduceOnly:   true,
	})
}

func (c *MockClient) SetTakeProfit(ctx context.Context, symbol string, targetPrice, quantity float64, side OrderSide) (*OrderResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enterLocked("SetTakeProfit"); err != nil {
		return nil, err
	}
	return c.placeLocked(OrderParams{
		Symbol:       symbol,
		Side:         side,
		PositionSide: PositionSideBoth,
		Type:         OrderTypeTakeProfitMarket,
		Quantity:     quantity,
		StopPrice:    RoundPrice(targetPrice),
		ReduceOnly:   true,
	})
}

func (c *MockClient) CancelAllOrders(ctx context.Context, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enterLocked("CancelAllOrders"); err != nil {
		return err
	}
	for _, order := range c.orders {
		if order.Symbol == symbol && order.Status == string(OrderStatusNew) {
			order.Status = string(OrderStatusCanceled)
		}
	}
	return nil
}

func (c *MockClient) ClosePosition(ctx context.Context, symbol string) (*OrderResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enterLocked("ClosePosition"); err != nil {
		return nil, err
	}
	pos, ok := c.positions[symbol]
	if !ok || pos.PositionAmt == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoPosition, symbol)
	}
	return c.placeLocked(OrderParams{
		Symbol:       symbol,
		Side:         pos.ClosingSide(),
		PositionSide: PositionSideBoth,
		Type:         OrderTypeMarket,
		Quantity:     pos.Quantity(),
		ReduceOnly:   true,
	})
}

func (c *MockClient) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enterLocked("GetOpenOrders"); err != nil {
		return nil, err
	}

	orders := make([]Order, 0)
	for _, order := range c.orders {
		if (symbol == "" || order.Symbol == symbol) && order.Status == string(OrderStatusNew) {
			orders = append(orders, *order)
		}
	}
	return orders, nil
}

// ==================== MARKET DATA ====================

func (c *MockClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	c.mu.Lock()
	if err := c.enterLocked("GetTicker"); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	price := c.prices[symbol]
	pinned := c.pinned[symbol]
	c.mu.Unlock()

	if !pinned && c.market != nil {
		ticker, err := c.market.GetTicker(ctx, symbol)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.prices[symbol] = ticker.LastPrice
		c.mu.Unlock()
		return ticker, nil
	}
	if price <= 0 {
		return nil, fmt.Errorf("no price for %s", symbol)
	}

	return &Ticker{
		Symbol:    symbol,
		LastPrice: price,
		OpenPrice: price,
		HighPrice: price * 1.01,
		LowPrice:  price * 0.99,
		CloseTime: time.Now().UnixMilli(),
	}, nil
}

func (c *MockClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	c.mu.Lock()
	if err := c.enterLocked("GetKlines"); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	price := c.prices[symbol]
	pinned := c.pinned[symbol]
	c.mu.Unlock()

	if !pinned && c.market != nil {
		return c.market.GetKlines(ctx, symbol, interval, limit)
	}
	if price <= 0 {
		return nil, fmt.Errorf("no price for %s", symbol)
	}
	return syntheticKlines(price, limit), nil
}

// syntheticKlines builds a random walk that ends at price
func syntheticKlines(price float64, limit int) []Kline {
	klines := make([]Kline, limit)
	now := time.Now()
	last := price
	for i := limit - 1; i >= 0; i-- {
		open := last * (1 + (rand.Float64()-0.5)*0.004)
		high := math.Max(open, last) * (1 + rand.Float64()*0.002)
		low := math.Min(open, last) * (1 - rand.Float64()*0.002)
		klines[i] = Kline{
			OpenTime:  now.Add(-time.Duration(limit-i) * time.Minute).UnixMilli(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     last,
			Volume:    100 + rand.Float64()*500,
			CloseTime: now.Add(-time.Duration(limit-i-1) * time.Minute).UnixMilli(),
		}
		last = open
	}
	return klines
}

// ==================== INTERNALS ====================

func (c *MockClient) placeLocked(params OrderParams) (*OrderResponse, error) {
	if params.Quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %v", params.Quantity)
	}

	orderId := c.nextOrderId
	c.nextOrderId++
	c.placed = append(c.placed, params)
	now := time.Now().UnixMilli()

	order := &Order{
		OrderId:      orderId,
		Symbol:       params.Symbol,
		Status:       string(OrderStatusNew),
		Price:        params.Price,
		OrigQty:      params.Quantity,
		Type:         string(params.Type),
		ReduceOnly:   params.ReduceOnly,
		Side:         string(params.Side),
		PositionSide: string(params.PositionSide),
		StopPrice:    params.StopPrice,
		Time:         now,
		UpdateTime:   now,
	}

	if params.Type == OrderTypeMarket {
		price, ok := c.prices[params.Symbol]
		if !ok || price <= 0 {
			return nil, fmt.Errorf("no price for %s", params.Symbol)
		}
		if err := c.fillLocked(params.Symbol, params.Side, params.Quantity, price, params.ReduceOnly); err != nil {
			return nil, err
		}
		order.Status = string(OrderStatusFilled)
		order.AvgPrice = price
		order.ExecutedQty = params.Quantity
	}

	c.orders[orderId] = order

	return &OrderResponse{
		OrderId:     order.OrderId,
		Symbol:      order.Symbol,
		Status:      order.Status,
		Price:       order.Price,
		AvgPrice:    order.AvgPrice,
		OrigQty:     order.OrigQty,
		ExecutedQty: order.ExecutedQty,
		Type:        order.Type,
		ReduceOnly:  order.ReduceOnly,
		Side:        order.Side,
		StopPrice:   order.StopPrice,
		UpdateTime:  order.UpdateTime,
	}, nil
}

func (c *MockClient) fillLocked(symbol string, side OrderSide, qty, price float64, reduceOnly bool) error {
	signed := qty
	if side == SideSell {
		signed = -qty
	}

	pos, exists := c.positions[symbol]
	if !exists {
		if reduceOnly {
			return fmt.Errorf("%w for %s: reduce-only rejected", ErrNoPosition, symbol)
		}
		lev := c.leverage[symbol]
		if lev == 0 {
			lev = 1
		}
		c.positions[symbol] = &Position{
			Symbol:       symbol,
			PositionAmt:  signed,
			EntryPrice:   price,
			MarkPrice:    price,
			Leverage:     lev,
			PositionSide: string(PositionSideBoth),
			Notional:     signed * price,
			UpdateTime:   time.Now().UnixMilli(),
		}
		return nil
	}

	oldAmt := pos.PositionAmt
	sameDirection := (oldAmt > 0) == (signed > 0)
	if sameDirection {
		if reduceOnly {
			return fmt.Errorf("reduce-only order would increase position")
		}
		total := math.Abs(oldAmt) + qty
		pos.EntryPrice = (pos.EntryPrice*math.Abs(oldAmt) + price*qty) / total
		pos.PositionAmt = oldAmt + signed
		return nil
	}

	closed := math.Min(qty, math.Abs(oldAmt))
	if oldAmt > 0 {
		c.balance += (price - pos.EntryPrice) * closed
	} else {
		c.balance += (pos.EntryPrice - price) * closed
	}

	newAmt := oldAmt + signed
	if reduceOnly && math.Abs(signed) > math.Abs(oldAmt) {
		newAmt = 0
	}
	if math.Abs(newAmt) < 1e-12 {
		delete(c.positions, symbol)
		return nil
	}
	if (newAmt > 0) != (oldAmt > 0) {
		pos.EntryPrice = price
	}
	pos.PositionAmt = newAmt
	return nil
}

func (c *MockClient) markLocked(pos *Position) {
	price, ok := c.prices[pos.Symbol]
	if !ok {
		return
	}
	pos.MarkPrice = price
	pos.Notional = pos.PositionAmt * price
	pos.UnrealizedProfit = (price - pos.EntryPrice) * pos.PositionAmt
}

// triggerLocked fills resting stop/target orders whose trigger price was crossed
func (c *MockClient) triggerLocked() {
	for _, order := range c.orders {
		if order.Status != string(OrderStatusNew) || order.StopPrice <= 0 {
			continue
		}
		price, ok := c.prices[order.Symbol]
		if !ok {
			continue
		}
		pos, exists := c.positions[order.Symbol]
		if !exists {
			continue
		}

		var hit bool
		switch {
		case order.IsStop() && pos.IsLong():
			hit = price <= order.StopPrice
		case order.IsStop():
			hit = price >= order.StopPrice
		case order.IsTakeProfit() && pos.IsLong():
			hit = price >= order.StopPrice
		case order.IsTakeProfit():
			hit = price <= order.StopPrice
		}
		if !hit {
			continue
		}

		if err := c.fillLocked(order.Symbol, OrderSide(order.Side), order.OrigQty, price, true); err == nil {
			order.Status = string(OrderStatusFilled)
			order.AvgPrice = price
			order.ExecutedQty = order.OrigQty
		}
	}
}
