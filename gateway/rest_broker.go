package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RESTBroker 一个通用的券商 REST 客户端；HTTPClient 可注入 httptest，默认不发起真实网络调用。
type RESTBroker struct {
	BrokerName string
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Limiter    RateLimiter
}

func (b *RESTBroker) Name() string { return b.BrokerName }

type quoteResp struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
}

type positionResp struct {
	Symbol    string   `json:"symbol"`
	Quantity  float64  `json:"quantity"`
	CostBasis *float64 `json:"cost_basis"`
}

type accountResp struct {
	Value float64 `json:"value"`
}

type historyResp struct {
	Closes []float64 `json:"closes"`
}

// GetCurrentPrice 调用 /v1/markets/quotes 获取最新价。
func (b *RESTBroker) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var qr quoteResp
	if err := b.get(ctx, "/v1/markets/quotes", url.Values{"symbol": {symbol}}, &qr); err != nil {
		return 0, err
	}
	if qr.Last <= 0 {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return qr.Last, nil
}

// GetPositions 调用 /v1/accounts/positions 获取当前持仓快照。
func (b *RESTBroker) GetPositions(ctx context.Context) (map[string]BrokerPosition, error) {
	var prs []positionResp
	if err := b.get(ctx, "/v1/accounts/positions", nil, &prs); err != nil {
		return nil, err
	}
	out := make(map[string]BrokerPosition, len(prs))
	for _, pr := range prs {
		out[pr.Symbol] = BrokerPosition{Symbol: pr.Symbol, Quantity: pr.Quantity}
	}
	return out, nil
}

// GetAccountInfo 调用 /v1/accounts/balances 获取账户总值。
func (b *RESTBroker) GetAccountInfo(ctx context.Context) (Account, error) {
	var ar accountResp
	if err := b.get(ctx, "/v1/accounts/balances", nil, &ar); err != nil {
		return Account{}, err
	}
	return Account{Value: ar.Value}, nil
}

// GetCostBasis returns the broker-reported cost basis for an open position.
// ok is false when the broker does not report one for the symbol.
func (b *RESTBroker) GetCostBasis(ctx context.Context, symbol string) (float64, bool, error) {
	var prs []positionResp
	if err := b.get(ctx, "/v1/accounts/positions", url.Values{"symbol": {symbol}}, &prs); err != nil {
		return 0, false, err
	}
	for _, pr := range prs {
		if pr.Symbol == symbol && pr.CostBasis != nil {
			return *pr.CostBasis, true, nil
		}
	}
	return 0, false, nil
}

// DailyCloses 调用 /v1/markets/history 获取日线收盘序列（波动率计算用）。
func (b *RESTBroker) DailyCloses(ctx context.Context, symbol string, lookbackDays int) ([]float64, error) {
	if lookbackDays <= 0 {
		lookbackDays = 365
	}
	var hr historyResp
	q := url.Values{
		"symbol":   {symbol},
		"interval": {"daily"},
		"days":     {fmt.Sprintf("%d", lookbackDays)},
	}
	if err := b.get(ctx, "/v1/markets/history", q, &hr); err != nil {
		return nil, err
	}
	return hr.Closes, nil
}

func (b *RESTBroker) get(ctx context.Context, path string, query url.Values, out any) error {
	if b == nil || b.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if b.Limiter != nil {
		if err := b.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	endpoint := b.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+b.APIKey)
	req.Header.Set("Accept", "application/json")
	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", b.BrokerName, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", b.BrokerName, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", b.BrokerName, path, err)
	}
	return nil
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
