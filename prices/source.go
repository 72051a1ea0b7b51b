// Package prices looks up current unit prices of assets.
//
// A Source answers for every symbol it is asked about: prices it could not
// find are None, never an error. Cache wraps any Source with a time-to-live.
package prices

import (
	"context"
	"slices"
	"time"

	"github.com/etnz/folio"
)

// Source returns the current prices of symbols in a quote currency.
//
// The result holds an entry for every normalized symbol requested.
type Source interface {
	Quotes(ctx context.Context, symbols []string, cur folio.Currency) (folio.Quotes, error)
}

// Recorder persists fetched prices.
type Recorder interface {
	RecordPrices(ctx context.Context, cur folio.Currency, quotes folio.Quotes, at time.Time) error
}

// Symbols returns the normalized, sorted and deduplicated non-empty symbols.
func Symbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = folio.NormalizeSymbol(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// unavailable returns quotes with every symbol missing.
func unavailable(symbols []string) folio.Quotes {
	q := make(folio.Quotes, len(symbols))
	for _, s := range symbols {
		q[s] = folio.None[folio.Money]()
	}
	return q
}

// Static is a Source of fixed prices, keyed by symbol.
type Static map[string]folio.Money

// NewStatic returns a Static source with normalized symbols.
func NewStatic(prices map[string]folio.Money) Static {
	s := make(Static, len(prices))
	for sym, p := range prices {
		s[folio.NormalizeSymbol(sym)] = p
	}
	return s
}

// Quotes returns the fixed prices in cur. A price tagged with another
// currency is not converted and counts as missing.
func (s Static) Quotes(_ context.Context, symbols []string, cur folio.Currency) (folio.Quotes, error) {
	symbols = Symbols(symbols)
	q := unavailable(symbols)
	for _, sym := range symbols {
		p, ok := s[sym]
		if !ok {
			continue
		}
		switch p.Currency() {
		case "", cur.String():
			q[sym] = folio.Some(p.In(cur.String()))
		}
	}
	return q, nil
}
