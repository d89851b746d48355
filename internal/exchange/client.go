package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"perp-trading-agent/internal/logging"
)

const (
	// DefaultBaseURL is the Aster DEX futures endpoint (Binance-compatible)
	DefaultBaseURL = "https://fapi.asterdex.com"
	// TestnetBaseURL is the Binance futures testnet
	TestnetBaseURL = "https://testnet.binancefuture.com"

	apiKeyHeader     = "X-MBX-APIKEY"
	usedWeightHeader = "X-MBX-USED-WEIGHT-1M"

	retryCount   = 3
	retryWaitMin = 500 * time.Millisecond
	retryWaitMax = 5 * time.Second
)

// ClientOptions tunes the REST client
type ClientOptions struct {
	BaseURL        string
	TestNet        bool
	RecvWindowMs   int
	Timeout        time.Duration
	RequestsPerSec int
	Logger         *logging.Logger
}

// APIError is a non-200 answer from the exchange. Code is the exchange error
// code from the JSON body when there is one.
type APIError struct {
	Status int
	Code   int
	Msg    string
	Body   string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("API error %d (code %d): %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status, Body: string(body)}
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Code, e.Msg = payload.Code, payload.Msg
	}
	return e
}

// transient reports whether the exchange is likely to accept the same
// request shortly: any 5xx, DISCONNECTED (-1001) or SERVICE_SHUTTING_DOWN (-1016)
func transient(status int, body string) bool {
	if status >= 500 {
		return true
	}
	return strings.Contains(body, "-1001") || strings.Contains(body, "-1016")
}

// RESTClient implements FuturesClient over the signed REST API. Every
// attempt passes the rate limiter and is signed with a fresh timestamp.
type RESTClient struct {
	apiKey     string
	secretKey  string
	recvWindow string
	http       *resty.Client
	limiter    *RateLimiter
	logger     *logging.Logger
}

var _ FuturesClient = (*RESTClient)(nil)

// NewRESTClient builds a client. Keys are trimmed since stray whitespace
// breaks the signature.
func NewRESTClient(apiKey, secretKey string, opts ClientOptions) *RESTClient {
	baseURL := opts.BaseURL
	if opts.TestNet {
		baseURL = TestnetBaseURL
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RecvWindowMs <= 0 {
		opts.RecvWindowMs = 10000
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}

	c := &RESTClient{
		apiKey:     strings.TrimSpace(apiKey),
		secretKey:  strings.TrimSpace(secretKey),
		recvWindow: strconv.Itoa(opts.RecvWindowMs),
		limiter:    NewRateLimiter(opts.RequestsPerSec),
		logger:     opts.Logger.WithComponent("exchange"),
	}

	c.http = resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(opts.Timeout).
		SetLogger(restyLogger{c.logger}).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWaitMin).
		SetRetryMaxWaitTime(retryWaitMax).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// transport errors and timeouts surface now and are retried next cycle
			return err == nil && r != nil && transient(r.StatusCode(), r.String())
		}).
		AddRetryHook(func(r *resty.Response, _ error) {
			c.logger.Warn("Retrying request",
				"method", r.Request.Method,
				"endpoint", r.Request.URL,
				"status", r.StatusCode(),
				"attempt", r.Request.Attempt)
		}).
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return c.limiter.Wait(r.Context())
		}).
		OnAfterResponse(c.trackLimits).
		SetPreRequestHook(c.signHook)

	return c
}

// NewFuturesClient is NewRESTClient returned as the interface
func NewFuturesClient(apiKey, secretKey string, opts ClientOptions) FuturesClient {
	return NewRESTClient(apiKey, secretKey, opts)
}

// RateLimiter exposes the limiter for status reporting
func (c *RESTClient) RateLimiter() *RateLimiter {
	return c.limiter
}

// trackLimits feeds the used-weight header and ban answers into the limiter
func (c *RESTClient) trackLimits(_ *resty.Client, r *resty.Response) error {
	if w, err := strconv.Atoi(r.Header().Get(usedWeightHeader)); err == nil {
		c.limiter.UpdateFromHeaders(w)
	}
	switch r.StatusCode() {
	case http.StatusOK:
		c.limiter.RecordSuccess()
	case http.StatusTooManyRequests, http.StatusTeapot:
		c.limiter.RecordRateLimitError(ParseBanUntilFromError(r.String()))
		return fmt.Errorf("%w: %v", ErrRateLimited, newAPIError(r.StatusCode(), r.Body()))
	}
	return nil
}

// signHook appends timestamp, recvWindow and the HMAC signature to requests
// carrying the API key header. The signature goes last.
func (c *RESTClient) signHook(_ *resty.Client, req *http.Request) error {
	if req.Header.Get(apiKeyHeader) == "" {
		return nil
	}
	q := req.URL.Query()
	q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	q.Set("recvWindow", c.recvWindow)
	payload := q.Encode()
	req.URL.RawQuery = payload + "&signature=" + c.sign(payload)
	return nil
}

func (c *RESTClient) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// call sends one request and returns the body of a 200 answer
func (c *RESTClient) call(ctx context.Context, method, path string, params map[string]string, signed bool) ([]byte, error) {
	req := c.http.R().SetContext(ctx).SetQueryParams(params)
	if signed {
		req.SetHeader(apiKeyHeader, c.apiKey)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, newAPIError(resp.StatusCode(), resp.Body())
	}
	return resp.Body(), nil
}

// fetch calls path and decodes the JSON answer into out
func (c *RESTClient) fetch(ctx context.Context, method, path string, params map[string]string, signed bool, what string, out interface{}) error {
	body, err := c.call(ctx, method, path, params, signed)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode: %w", what, err)
	}
	return nil
}

func symbolParam(symbol string) map[string]string {
	if symbol == "" {
		return nil
	}
	return map[string]string{"symbol": symbol}
}

// GetAccount reads balances and account-level position rows
func (c *RESTClient) GetAccount(ctx context.Context) (*AccountInfo, error) {
	var acct AccountInfo
	if err := c.fetch(ctx, http.MethodGet, "/fapi/v2/account", nil, true, "account", &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetPositions reads position risk rows, all symbols when symbol is empty
func (c *RESTClient) GetPositions(ctx context.Context, symbol string) ([]Position, error) {
	var positions []Position
	if err := c.fetch(ctx, http.MethodGet, "/fapi/v2/positionRisk", symbolParam(symbol), true, "positions", &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// SetLeverage sets the leverage for symbol
func (c *RESTClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	var ack LeverageResponse
	return c.fetch(ctx, http.MethodPost, "/fapi/v1/leverage", map[string]string{
		"symbol":   symbol,
		"leverage": strconv.Itoa(leverage),
	}, true, "set leverage", &ack)
}

// orderQuery renders OrderParams with exchange precision. LIMIT orders
// default to GTC.
func orderQuery(p OrderParams) map[string]string {
	q := map[string]string{
		"symbol":   p.Symbol,
		"side":     string(p.Side),
		"type":     string(p.Type),
		"quantity": FormatQuantity(p.Symbol, p.Quantity),
	}
	if p.PositionSide != "" {
		q["positionSide"] = string(p.PositionSide)
	}
	if p.Price > 0 {
		q["price"] = FormatPrice(p.Price)
	}
	if p.StopPrice > 0 {
		q["stopPrice"] = FormatPrice(p.StopPrice)
	}
	switch {
	case p.TimeInForce != "":
		q["timeInForce"] = string(p.TimeInForce)
	case p.Type == OrderTypeLimit:
		q["timeInForce"] = string(TimeInForceGTC)
	}
	if p.ReduceOnly {
		q["reduceOnly"] = "true"
	}
	if p.NewClientOrderId != "" {
		q["newClientOrderId"] = p.NewClientOrderId
	}
	return q
}

// PlaceOrder submits one order
func (c *RESTClient) PlaceOrder(ctx context.Context, params OrderParams) (*OrderResponse, error) {
	var out OrderResponse
	if err := c.fetch(ctx, http.MethodPost, "/fapi/v1/order", orderQuery(params), true, "place order", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RESTClient) protect(ctx context.Context, kind OrderType, symbol string, trigger, quantity float64, side OrderSide) (*OrderResponse, error) {
	return c.PlaceOrder(ctx, OrderParams{
		Symbol:       symbol,
		Side:         side,
		PositionSide: PositionSideBoth,
		Type:         kind,
		Quantity:     quantity,
		StopPrice:    trigger,
		ReduceOnly:   true,
	})
}

// SetStopLoss places a reduce-only STOP_MARKET order
func (c *RESTClient) SetStopLoss(ctx context.Context, symbol string, stopPrice, quantity float64, side OrderSide) (*OrderResponse, error) {
	return c.protect(ctx, OrderTypeStopMarket, symbol, stopPrice, quantity, side)
}

// SetTakeProfit places a reduce-only TAKE_PROFIT_MARKET order
func (c *RESTClient) SetTakeProfit(ctx context.Context, symbol string, targetPrice, quantity float64, side OrderSide) (*OrderResponse, error) {
	return c.protect(ctx, OrderTypeTakeProfitMarket, symbol, targetPrice, quantity, side)
}

// CancelAllOrders cancels every open order on symbol
func (c *RESTClient) CancelAllOrders(ctx context.Context, symbol string) error {
	return c.fetch(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", symbolParam(symbol), true, "cancel all orders", nil)
}

// ClosePosition flattens the live position with a reduce-only market order
func (c *RESTClient) ClosePosition(ctx context.Context, symbol string) (*OrderResponse, error) {
	positions, err := c.GetPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	pos, ok := FindOpenPosition(positions, symbol)
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoPosition, symbol)
	}
	return c.PlaceOrder(ctx, OrderParams{
		Symbol:       symbol,
		Side:         pos.ClosingSide(),
		PositionSide: PositionSideBoth,
		Type:         OrderTypeMarket,
		Quantity:     pos.Quantity(),
		ReduceOnly:   true,
	})
}

// GetOpenOrders lists resting orders on symbol
func (c *RESTClient) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	var orders []Order
	if err := c.fetch(ctx, http.MethodGet, "/fapi/v1/openOrders", symbolParam(symbol), true, "open orders", &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetTicker reads 24h statistics for symbol
func (c *RESTClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var t Ticker
	if err := c.fetch(ctx, http.MethodGet, "/fapi/v1/ticker/24hr", symbolParam(symbol), false, "ticker", &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetKlines reads the newest limit candles
func (c *RESTClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	body, err := c.call(ctx, http.MethodGet, "/fapi/v1/klines", map[string]string{
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}, false)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}
	return parseKlines(body)
}

// parseKlines decodes the array-of-arrays kline format, skipping short rows
func parseKlines(body []byte) ([]Kline, error) {
	var rows [][]interface{}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("klines: decode: %w", err)
	}
	out := make([]Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		out = append(out, Kline{
			OpenTime:  parseInt(row[0]),
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
			CloseTime: parseInt(row[6]),
		})
	}
	return out, nil
}

// FindOpenPosition returns the first non-zero position row for symbol
func FindOpenPosition(positions []Position, symbol string) (Position, bool) {
	for _, p := range positions {
		if p.Symbol == symbol && p.IsOpen() {
			return p, true
		}
	}
	return Position{}, false
}

// IsAPIError reports whether err carries an exchange answer with code
func IsAPIError(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// restyLogger routes the HTTP client's own messages into the component log
type restyLogger struct {
	l *logging.Logger
}

func (r restyLogger) Errorf(format string, v ...interface{}) {
	r.l.Warn("HTTP client error", "detail", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (r restyLogger) Warnf(format string, v ...interface{}) {
	r.l.Warn("HTTP client warning", "detail", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (r restyLogger) Debugf(format string, v ...interface{}) {
	r.l.Debug("HTTP client", "detail", strings.TrimSpace(fmt.Sprintf(format, v...)))
}
