package auditor

import (
	"math/big"
	"sync"

	"termlend/wad"
)

// Quote is one price observation: the asset's value in 18-decimal
// account units and the time it was taken.
type Quote struct {
	Price     *big.Int
	UpdatedAt uint64
}

// PriceFeed supplies quotes per market name. Implementations decide
// where prices come from; the auditor decides whether they are fresh
// enough to act on.
type PriceFeed interface {
	Price(marketName string) (Quote, error)
}

// StaticFeed is a map-backed feed fed by an operator or an off-chain
// poster. It is the stock feed for deployments without an external
// oracle.
type StaticFeed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewStaticFeed returns an empty feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{quotes: make(map[string]Quote)}
}

// Post records a quote for a market, overwriting any previous one.
func (f *StaticFeed) Post(marketName string, price *big.Int, updatedAt uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[marketName] = Quote{Price: wad.Clone(price), UpdatedAt: updatedAt}
}

// Price returns the recorded quote. Markets without one get
// ErrInvalidPrice, never a zero value the health math could divide by.
func (f *StaticFeed) Price(marketName string) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, ok := f.quotes[marketName]
	if !ok || quote.Price == nil || quote.Price.Sign() <= 0 {
		return Quote{}, ErrInvalidPrice
	}
	return Quote{Price: wad.Clone(quote.Price), UpdatedAt: quote.UpdatedAt}, nil
}

// Quotes returns a copy of every recorded quote keyed by market name.
func (f *StaticFeed) Quotes() map[string]Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]Quote, len(f.quotes))
	for name, quote := range f.quotes {
		out[name] = Quote{Price: wad.Clone(quote.Price), UpdatedAt: quote.UpdatedAt}
	}
	return out
}
