package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradegate/internal/pkg/circuit"

	"github.com/adshao/go-binance/v2/futures"
)

// Source 基于 go-binance SDK 提供标记价查询，供反事实评估使用。
// 查询经熔断器保护：价格源抖动时跳过本轮评估而不是反复超时。
type Source struct {
	cfg     Config
	client  *futures.Client
	breaker *circuit.CircuitBreaker
}

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{
		cfg:     final,
		client:  client,
		breaker: circuit.NewCircuitBreaker("binance-price", 3, time.Minute),
	}
}

// MarkPrice returns the current mark price for a futures symbol.
func (s *Source) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, fmt.Errorf("symbol cannot be empty")
	}
	if !s.breaker.Allow() {
		return 0, fmt.Errorf("price source circuit open, skipping %s", symbol)
	}
	res, err := s.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		s.breaker.RecordFailure()
		return 0, fmt.Errorf("fetching mark price for %s: %w", symbol, err)
	}
	if len(res) == 0 {
		s.breaker.RecordFailure()
		return 0, fmt.Errorf("no premium index for %s", symbol)
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(res[0].MarkPrice), 64)
	if err != nil || price <= 0 {
		s.breaker.RecordFailure()
		return 0, fmt.Errorf("invalid mark price %q for %s", res[0].MarkPrice, symbol)
	}
	s.breaker.RecordSuccess()
	return price, nil
}
