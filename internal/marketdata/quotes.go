// Package marketdata resolves quotes, average daily volume and the exchange
// calendar for the ledger. Quotes come either from a static table (tests,
// offline use) or from the Alpaca market-data API.
package marketdata

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"papertrade/internal/domain"
)

// QuoteSource returns the latest quote for a symbol.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
}

// VolumeSource returns the average daily volume of a symbol over the last
// days sessions.
type VolumeSource interface {
	AverageDailyVolume(ctx context.Context, symbol string, days int) (float64, error)
}

// Compile-time interface check.
var _ QuoteSource = (*StaticQuotes)(nil)

// StaticQuotes is an in-memory QuoteSource.
type StaticQuotes struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

// NewStaticQuotes returns a table seeded with quotes.
func NewStaticQuotes(quotes ...domain.Quote) *StaticQuotes {
	s := &StaticQuotes{quotes: make(map[string]domain.Quote, len(quotes))}
	for _, q := range quotes {
		s.Set(q)
	}
	return s
}

// Set stores q under its symbol, replacing any previous quote.
func (s *StaticQuotes) Set(q domain.Quote) {
	q.Symbol = strings.ToUpper(q.Symbol)
	s.mu.Lock()
	s.quotes[q.Symbol] = q
	s.mu.Unlock()
}

// Quote returns the stored quote or domain.ErrNotFound.
func (s *StaticQuotes) Quote(_ context.Context, symbol string) (domain.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[strings.ToUpper(symbol)]
	if !ok {
		return domain.Quote{}, fmt.Errorf("quote for %s: %w", symbol, domain.ErrNotFound)
	}
	return q, nil
}
