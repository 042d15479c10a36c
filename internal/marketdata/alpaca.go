package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	alpacamd "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"papertrade/internal/domain"
	"papertrade/internal/util"
)

// alpacaData is the subset of the Alpaca market-data client used here.
type alpacaData interface {
	GetLatestQuote(symbol string, req alpacamd.GetLatestQuoteRequest) (*alpacamd.Quote, error)
	GetLatestTrade(symbol string, req alpacamd.GetLatestTradeRequest) (*alpacamd.Trade, error)
	GetBars(symbol string, req alpacamd.GetBarsRequest) ([]alpacamd.Bar, error)
}

// Compile-time interface checks.
var (
	_ QuoteSource  = (*AlpacaQuotes)(nil)
	_ VolumeSource = (*AlpacaQuotes)(nil)
)

// AlpacaQuotes resolves equity quotes and volume from the Alpaca market-data
// API. Calls are rate limited and retried with backoff.
type AlpacaQuotes struct {
	client  alpacaData
	limiter *util.RateLimiter
	retries int
	backoff time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// NewAlpacaQuotes creates an AlpacaQuotes client. An empty dataURL uses the
// SDK default.
func NewAlpacaQuotes(apiKey, apiSecret, dataURL string, rateLimitPerMin int, log *slog.Logger) *AlpacaQuotes {
	opts := alpacamd.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return newAlpacaQuotes(alpacamd.NewClient(opts), rateLimitPerMin, log)
}

func newAlpacaQuotes(client alpacaData, rateLimitPerMin int, log *slog.Logger) *AlpacaQuotes {
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 200
	}
	if log == nil {
		log = util.Discard()
	}
	return &AlpacaQuotes{
		client:  client,
		limiter: util.NewRateLimiter(rateLimitPerMin, 10),
		retries: 3,
		backoff: 250 * time.Millisecond,
		now:     time.Now,
		log:     log.With("component", "alpaca-quotes"),
	}
}

// call waits for a rate-limit token and runs fn with retries.
func (a *AlpacaQuotes) call(ctx context.Context, fn func() error) error {
	return util.Retry(ctx, a.retries, a.backoff, func() error {
		if err := a.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		return fn()
	})
}

// Quote returns the latest NBBO joined with the latest trade price. A missing
// trade is not an error: Price falls back to the quote mid.
func (a *AlpacaQuotes) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return domain.Quote{}, fmt.Errorf("%w: empty symbol", domain.ErrInvalidQuote)
	}

	var q *alpacamd.Quote
	err := a.call(ctx, func() error {
		var err error
		q, err = a.client.GetLatestQuote(symbol, alpacamd.GetLatestQuoteRequest{})
		return err
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("GetLatestQuote %s: %w", symbol, err)
	}
	if q == nil {
		return domain.Quote{}, fmt.Errorf("quote for %s: %w", symbol, domain.ErrNotFound)
	}

	out := domain.Quote{
		Symbol:    symbol,
		Bid:       q.BidPrice,
		Ask:       q.AskPrice,
		Timestamp: q.Timestamp,
	}

	var tr *alpacamd.Trade
	err = a.call(ctx, func() error {
		var err error
		tr, err = a.client.GetLatestTrade(symbol, alpacamd.GetLatestTradeRequest{})
		return err
	})
	switch {
	case err != nil:
		a.log.Warn("latest trade unavailable, using mid", "symbol", symbol, "error", err)
	case tr != nil:
		out.Price = tr.Price
	}
	if out.Price == 0 {
		out.Price = out.Mid()
	}
	return out, nil
}

// AverageDailyVolume averages daily bar volume over the last days sessions.
// It returns 0 when no bars are available.
func (a *AlpacaQuotes) AverageDailyVolume(ctx context.Context, symbol string, days int) (float64, error) {
	if days <= 0 {
		days = 20
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	end := a.now()
	// Calendar days, padded for weekends and holidays.
	start := end.AddDate(0, 0, -(days*7/5 + 7))

	var bars []alpacamd.Bar
	err := a.call(ctx, func() error {
		var err error
		bars, err = a.client.GetBars(symbol, alpacamd.GetBarsRequest{
			TimeFrame: alpacamd.OneDay,
			Start:     start,
			End:       end,
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("GetBars %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return 0, nil
	}
	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}

	var total float64
	for _, b := range bars {
		total += float64(b.Volume)
	}
	return total / float64(len(bars)), nil
}

// ErrNoSource is returned when a quote is needed but no source is configured.
var ErrNoSource = errors.New("no quote source configured")
