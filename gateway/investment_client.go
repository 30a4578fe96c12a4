package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"moneymate-trader/infrastructure/logger"
	"moneymate-trader/metrics"
	"moneymate-trader/tradeerr"
)

// IdempotencyHeader 随成交请求发送的客户端幂等键；服务端是否去重不在本客户端约定范围内。
const IdempotencyHeader = "Idempotency-Key"

// StrategyActions 为 /api/autotrading/{action}/{userId} 支持的动作。
var StrategyActions = map[string]bool{"pause": true, "resume": true, "stop": true, "close": true}

// StatusError 非 2xx 响应，Body 为服务端返回的原始文本。
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// InvestmentClient 投资/交易服务的 HTTP 客户端；HTTPClient 可注入 httptest。
type InvestmentClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    RateLimiter
	Breaker    *CircuitBreaker
	Logger     *logger.Logger

	mu sync.RWMutex
}

// Reconfigure 热更新服务地址与超时。
func (c *InvestmentClient) Reconfigure(baseURL string, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if baseURL != "" && baseURL != c.BaseURL {
		c.BaseURL = baseURL
		if c.Breaker != nil {
			c.Breaker.Reset()
		}
	}
	if timeout > 0 && c.HTTPClient != nil {
		hc := *c.HTTPClient
		hc.Timeout = timeout
		c.HTTPClient = &hc
	}
}

func (c *InvestmentClient) endpoint() (string, *http.Client) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return strings.TrimRight(c.BaseURL, "/"), c.HTTPClient
}

func (c *InvestmentClient) log() *logger.Logger {
	if c.Logger == nil {
		return logger.NewNop()
	}
	return c.Logger
}

// do 发送请求并返回 2xx 响应体；name 用于日志和指标标签。
func (c *InvestmentClient) do(ctx context.Context, name, method, path string, body interface{}, header http.Header) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("investment client not set")
	}
	base, hc := c.endpoint()
	if hc == nil {
		return nil, fmt.Errorf("http client not set")
	}
	if c.Breaker != nil {
		if err := c.Breaker.Allow(); err != nil {
			return nil, err
		}
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			c.breakerRecord(outcomeIgnored)
			return nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			c.breakerRecord(outcomeIgnored)
			return nil, fmt.Errorf("marshal %s request: %w", name, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		c.breakerRecord(outcomeIgnored)
		return nil, fmt.Errorf("build %s request: %w", name, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.finish(method, name, 0, start, err)
		if ctx.Err() != nil {
			c.breakerRecord(outcomeIgnored)
		} else {
			c.breakerRecord(outcomeFailure)
		}
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.finish(method, name, resp.StatusCode, start, err)
		c.breakerRecord(outcomeFailure)
		return nil, fmt.Errorf("read %s response: %w", name, err)
	}
	if resp.StatusCode >= 300 {
		serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		c.finish(method, name, resp.StatusCode, start, serr)
		if resp.StatusCode >= 500 {
			c.breakerRecord(outcomeFailure)
		} else {
			c.breakerRecord(outcomeSuccess)
		}
		return nil, serr
	}
	c.finish(method, name, resp.StatusCode, start, nil)
	c.breakerRecord(outcomeSuccess)
	return data, nil
}

func (c *InvestmentClient) breakerRecord(o outcome) {
	if c.Breaker != nil {
		c.Breaker.record(o)
	}
}

func (c *InvestmentClient) finish(method, name string, status int, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.ObserveRemote(name, err, elapsed)
	c.log().LogRemote(method, name, status, elapsed, err)
}

// Price 调用 GET /api/investments/price/{symbol}。
func (c *InvestmentClient) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	data, err := c.do(ctx, "price", http.MethodGet, "/api/investments/price/"+url.PathEscape(symbol), nil, nil)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := NormalizePrice(data)
	if err != nil {
		return decimal.Zero, tradeerr.Parse("price", err)
	}
	return price, nil
}

// Execute 调用 POST /api/investments/{buy|sell}。
func (c *InvestmentClient) Execute(ctx context.Context, side string, req ExecuteRequest, idempotencyKey string) (ExecutionReceipt, error) {
	side = strings.ToLower(side)
	if side != "buy" && side != "sell" {
		return ExecutionReceipt{}, fmt.Errorf("unknown side %q", side)
	}
	header := http.Header{}
	if idempotencyKey != "" {
		header.Set(IdempotencyHeader, idempotencyKey)
	}
	data, err := c.do(ctx, side, http.MethodPost, "/api/investments/"+side, req, header)
	if err != nil {
		return ExecutionReceipt{}, err
	}
	return newReceipt(data), nil
}

func newReceipt(data []byte) ExecutionReceipt {
	trimmed := bytes.TrimSpace(data)
	r := ExecutionReceipt{Message: string(trimmed)}
	if json.Valid(trimmed) && len(trimmed) > 0 {
		r.Raw = json.RawMessage(trimmed)
		var s string
		if json.Unmarshal(trimmed, &s) == nil {
			r.Message = s
		}
	}
	return r
}

// CurrentStrategy 调用 GET /api/autotrading/current/{userId}；404 视为没有策略。
func (c *InvestmentClient) CurrentStrategy(ctx context.Context, userID uuid.UUID) (StrategySnapshot, error) {
	data, err := c.do(ctx, "strategy_current", http.MethodGet, "/api/autotrading/current/"+userID.String(), nil, nil)
	if err != nil {
		var serr *StatusError
		if errors.As(err, &serr) && serr.Code == http.StatusNotFound {
			return StrategySnapshot{}, nil
		}
		return StrategySnapshot{}, err
	}
	snap, err := NormalizeStrategy(data)
	if err != nil {
		return StrategySnapshot{}, tradeerr.Parse("strategy_current", err)
	}
	return snap, nil
}

// StartStrategy 调用 POST /api/autotrading/start。
func (c *InvestmentClient) StartStrategy(ctx context.Context, userID uuid.UUID, strategy string, amount decimal.Decimal) ([]PositionRecord, error) {
	body := startStrategyRequest{
		UserID:   userID,
		Strategy: strategy,
		Amount:   json.Number(amount.String()),
	}
	data, err := c.do(ctx, "strategy_start", http.MethodPost, "/api/autotrading/start", body, nil)
	if err != nil {
		return nil, err
	}
	positions, err := NormalizeStartResponse(data)
	if err != nil {
		return nil, tradeerr.Parse("strategy_start", err)
	}
	return positions, nil
}

// StrategyAction 调用 POST /api/autotrading/{pause|resume|stop|close}/{userId}。
func (c *InvestmentClient) StrategyAction(ctx context.Context, action string, userID uuid.UUID) error {
	if !StrategyActions[action] {
		return fmt.Errorf("unknown strategy action %q", action)
	}
	_, err := c.do(ctx, "strategy_"+action, http.MethodPost, "/api/autotrading/"+action+"/"+userID.String(), nil, nil)
	return err
}

// SellPosition 调用 POST /api/autotrading/sell/{userId}/{symbol}。
func (c *InvestmentClient) SellPosition(ctx context.Context, userID uuid.UUID, symbol string, quantity decimal.Decimal) error {
	body := sellPositionRequest{Quantity: json.Number(quantity.String())}
	path := "/api/autotrading/sell/" + userID.String() + "/" + url.PathEscape(symbol)
	_, err := c.do(ctx, "strategy_sell", http.MethodPost, path, body, nil)
	return err
}

// AutoInvestments 调用 GET /api/autotrading/investments/{userId}。
func (c *InvestmentClient) AutoInvestments(ctx context.Context, userID uuid.UUID) ([]InvestmentRecord, error) {
	return c.investments(ctx, "strategy_investments", "/api/autotrading/investments/"+userID.String())
}

// Investments 调用 GET /api/investments/{userId}（手动持仓）。
func (c *InvestmentClient) Investments(ctx context.Context, userID uuid.UUID) ([]InvestmentRecord, error) {
	return c.investments(ctx, "investments", "/api/investments/"+userID.String())
}

func (c *InvestmentClient) investments(ctx context.Context, name, path string) ([]InvestmentRecord, error) {
	data, err := c.do(ctx, name, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeList(data)
	if err != nil {
		return nil, tradeerr.Parse(name, err)
	}
	out := make([]InvestmentRecord, 0, len(items))
	for _, o := range items {
		r, err := NormalizeInvestment(o)
		if err != nil {
			return nil, tradeerr.Parse(name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// SearchStocks 调用 GET /api/search/stocks?query=。
func (c *InvestmentClient) SearchStocks(ctx context.Context, query string) ([]StockQuote, error) {
	data, err := c.do(ctx, "search", http.MethodGet, "/api/search/stocks?query="+url.QueryEscape(query), nil, nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeList(data)
	if err != nil {
		return nil, tradeerr.Parse("search", err)
	}
	out := make([]StockQuote, 0, len(items))
	for _, o := range items {
		var q StockQuote
		q.Symbol, _ = o.str("symbol")
		q.Name, _ = o.str("name", "shortName", "short_name")
		// 服务端无报价时可能返回 "N/A"，按缺省零值处理
		if d, _, err := o.dec("price", "regularMarketPrice", "regular_market_price"); err == nil {
			q.Price = d
		}
		out = append(out, q)
	}
	return out, nil
}

// Transactions 调用 GET /api/transactions/user/{userId}。
func (c *InvestmentClient) Transactions(ctx context.Context, userID uuid.UUID) ([]Transaction, error) {
	data, err := c.do(ctx, "transactions", http.MethodGet, "/api/transactions/user/"+userID.String(), nil, nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeList(data)
	if err != nil {
		return nil, tradeerr.Parse("transactions", err)
	}
	out := make([]Transaction, 0, len(items))
	for _, o := range items {
		tx, err := normalizeTransaction(o)
		if err != nil {
			return nil, tradeerr.Parse("transactions", err)
		}
		out = append(out, tx)
	}
	return out, nil
}

func normalizeTransaction(o object) (Transaction, error) {
	var tx Transaction
	var err error
	tx.ID, _ = o.str("transactionId", "transaction_id", "id")
	tx.Type, _ = o.str("type")
	tx.Type = strings.ToLower(tx.Type)
	tx.Symbol, _ = o.str("symbol")
	if tx.Symbol == "" {
		if invRaw, ok := o.pick("investment"); ok {
			if inv, err := decodeObject(invRaw); err == nil {
				tx.Symbol, _ = inv.str("symbol")
			}
		}
	}
	if tx.Quantity, _, err = o.dec("quantity"); err != nil {
		return tx, err
	}
	if tx.Price, _, err = o.dec("price"); err != nil {
		return tx, err
	}
	var ok bool
	if tx.TotalAmount, ok, err = o.dec("totalAmount", "total_amount"); err != nil {
		return tx, err
	}
	if !ok {
		tx.TotalAmount = tx.Quantity.Mul(tx.Price)
	}
	if tx.Timestamp, err = o.time("timestamp", "createdAt", "created_at"); err != nil {
		return tx, err
	}
	return tx, nil
}

func decodeList(data []byte) ([]object, error) {
	if isNull(data) {
		return nil, nil
	}
	var items []object
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
