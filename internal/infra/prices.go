package infra

import (
	"sync"

	"github.com/shopspring/decimal"
	"updowntrade.com/internal/domain"
)

// PriceBoard caches the latest quote per symbol.
// 下单取入场价、结算取最终价都从这里读
type PriceBoard struct {
	mu   sync.RWMutex
	last map[string]decimal.Decimal
}

func NewPriceBoard() *PriceBoard {
	return &PriceBoard{
		last: make(map[string]decimal.Decimal),
	}
}

// Set records the latest price for a symbol.
func (b *PriceBoard) Set(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last[symbol] = price
}

// LastPrice returns the latest known price for a symbol.
func (b *PriceBoard) LastPrice(symbol string) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.last[symbol]
	return p, ok
}

// Symbols returns all symbols with a known quote.
func (b *PriceBoard) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	symbols := make([]string, 0, len(b.last))
	for sym := range b.last {
		symbols = append(symbols, sym)
	}
	return symbols
}

var _ domain.PriceSource = (*PriceBoard)(nil)
