// Package gateway talks to brokers: REST clients for prices, positions and
// account value, an optional websocket price stream, and the volatility
// oracle used by position valuation. Everything returned from here is
// read-only input for the sync engines; the ledger is never mutated from
// this package.
package gateway

import (
	"context"
	"fmt"
)

// BrokerPosition is one broker-reported holding.
type BrokerPosition struct {
	Symbol   string
	Quantity float64
}

// Account is the broker's own account valuation.
type Account struct {
	Value float64
}

// Broker 单个券商接入。GetCostBasis 返回 ok=false 表示该券商不提供成本价。
type Broker interface {
	Name() string
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetPositions(ctx context.Context) (map[string]BrokerPosition, error)
	GetAccountInfo(ctx context.Context) (Account, error)
	GetCostBasis(ctx context.Context, symbol string) (float64, bool, error)
}

// Service holds the configured broker connections, keyed by name.
type Service struct {
	brokers map[string]Broker
}

// NewService builds a registry from the given brokers.
func NewService(brokers ...Broker) *Service {
	m := make(map[string]Broker, len(brokers))
	for _, b := range brokers {
		m[b.Name()] = b
	}
	return &Service{brokers: m}
}

// Broker returns the named connection.
func (s *Service) Broker(name string) (Broker, error) {
	b, ok := s.brokers[name]
	if !ok {
		return nil, fmt.Errorf("unknown broker %q", name)
	}
	return b, nil
}

// Names returns all configured broker names.
func (s *Service) Names() []string {
	names := make([]string, 0, len(s.brokers))
	for name := range s.brokers {
		names = append(names, name)
	}
	return names
}

// LatestPrice fetches the current price for symbol from the named broker.
func (s *Service) LatestPrice(ctx context.Context, broker, symbol string) (float64, error) {
	b, err := s.Broker(broker)
	if err != nil {
		return 0, err
	}
	return b.GetCurrentPrice(ctx, symbol)
}
