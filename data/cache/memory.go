package cache

import (
	"context"
	"sync"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
)

type MemoryStore struct {
	mu     sync.RWMutex
	prices map[string]model.CachedPrice
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prices: make(map[string]model.CachedPrice)}
}

func (m *MemoryStore) Get(_ context.Context, ticker string) (model.CachedPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	price, ok := m.prices[ticker]
	if !ok {
		return model.CachedPrice{}, ErrNotFound
	}
	return price, nil
}

func (m *MemoryStore) Set(_ context.Context, price model.CachedPrice) error {
	m.mu.Lock()
	m.prices[price.Ticker] = price
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, ticker string) error {
	m.mu.Lock()
	delete(m.prices, ticker)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.prices = make(map[string]model.CachedPrice)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]model.CachedPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]model.CachedPrice, 0, len(m.prices))
	for _, price := range m.prices {
		res = append(res, price)
	}
	return res, nil
}
