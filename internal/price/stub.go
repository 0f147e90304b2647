package price

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// StubSource serves scripted price series per mint. Each call to
// CurrentPrice advances the series; the last value repeats.
type StubSource struct {
	mu     sync.Mutex
	series map[string][]decimal.Decimal
	pos    map[string]int
	err    error
}

// NewStubSource creates an empty stub.
func NewStubSource() *StubSource {
	return &StubSource{
		series: make(map[string][]decimal.Decimal),
		pos:    make(map[string]int),
	}
}

// SetSeries installs a price series for a mint.
func (s *StubSource) SetSeries(mint string, prices ...decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[mint] = prices
	s.pos[mint] = 0
}

// SetPrice installs a constant price for a mint.
func (s *StubSource) SetPrice(mint string, price decimal.Decimal) {
	s.SetSeries(mint, price)
}

// SetError makes every subsequent call fail with err until cleared.
func (s *StubSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// CurrentPrice implements Source.
func (s *StubSource) CurrentPrice(_ context.Context, mint string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return decimal.Zero, s.err
	}

	prices, ok := s.series[mint]
	if !ok || len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("price: no stub series for %s", mint)
	}

	i := s.pos[mint]
	if i >= len(prices) {
		i = len(prices) - 1
	}
	s.pos[mint]++
	return prices[i], nil
}
