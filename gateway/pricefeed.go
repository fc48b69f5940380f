package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PriceFeed 订阅券商行情推送并缓存最近成交价；轮询侧通过 LastPrice 读取。
// 仅提供最小骨架：连接 + 读取 + 缓存；断线由调用方的 Run 循环重连。
type PriceFeed struct {
	URL      string
	Symbols  []string
	Dialer   *websocket.Dialer
	StaleTTL time.Duration

	mu     sync.RWMutex
	prices map[string]pricePoint
}

type pricePoint struct {
	price float64
	ts    time.Time
}

type feedMessage struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
}

func NewPriceFeed(streamURL string, symbols []string) *PriceFeed {
	return &PriceFeed{
		URL:      streamURL,
		Symbols:  symbols,
		Dialer:   websocket.DefaultDialer,
		StaleTTL: 30 * time.Second,
		prices:   make(map[string]pricePoint),
	}
}

// Run connects and consumes messages until ctx is cancelled or the
// connection drops; it returns the read error so callers can reconnect.
func (f *PriceFeed) Run(ctx context.Context) error {
	if f.URL == "" {
		return fmt.Errorf("stream url required")
	}
	conn, _, err := f.Dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.URL, err)
	}
	defer conn.Close()

	if len(f.Symbols) > 0 {
		sub := map[string]any{"action": "subscribe", "symbols": f.Symbols}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg feedMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if msg.Symbol == "" || msg.Last <= 0 {
			continue
		}
		f.mu.Lock()
		f.prices[msg.Symbol] = pricePoint{price: msg.Last, ts: time.Now()}
		f.mu.Unlock()
	}
}

// LastPrice returns the cached price for symbol; ok is false when no fresh
// tick has been seen within StaleTTL.
func (f *PriceFeed) LastPrice(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	pt, ok := f.prices[symbol]
	if !ok {
		return 0, false
	}
	if f.StaleTTL > 0 && time.Since(pt.ts) > f.StaleTTL {
		return 0, false
	}
	return pt.price, true
}

// StreamingBroker layers a PriceFeed over another Broker: price lookups hit
// the stream cache first and fall back to the wrapped broker, so callers
// always await one result regardless of the transport behind it.
type StreamingBroker struct {
	Broker
	Feed *PriceFeed
}

func (s *StreamingBroker) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if s.Feed != nil {
		if price, ok := s.Feed.LastPrice(symbol); ok {
			return price, nil
		}
	}
	return s.Broker.GetCurrentPrice(ctx, symbol)
}
