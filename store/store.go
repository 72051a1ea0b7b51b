// Package store persists portfolios and their trade records.
//
// Two backends implement Store: a SQLite database (OpenSQLite) and a JSONL
// ledger file (OpenJSONL), the same one-command-per-line format the ledger
// has always been kept in.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/etnz/folio"
)

// ErrNotFound is returned for an unknown portfolio or record, and for one
// owned by someone else.
var ErrNotFound = errors.New("not found")

// Portfolio is a named set of trades owned by a single caller.
type Portfolio struct {
	ID           string
	Owner        string
	Name         string
	BaseCurrency folio.Currency
	CreatedAt    time.Time
}

// Record is a stored trade.
type Record struct {
	ID          string
	PortfolioID string
	Asset       string
	Kind        folio.Kind
	Quantity    folio.Quantity
	Price       folio.Money // unit price, its currency is the record's currency
	Fee         folio.Money
	TradedAt    time.Time
	Note        string
}

// Currency returns the settlement currency of the trade.
func (r Record) Currency() string { return r.Price.Currency() }

// Event returns the trade event to replay.
func (r Record) Event() folio.TradeEvent {
	return folio.TradeEvent{
		Asset:     r.Asset,
		Kind:      r.Kind,
		Quantity:  r.Quantity,
		UnitPrice: r.Price,
		Fee:       r.Fee,
	}
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s %s", r.TradedAt.Format(time.DateOnly), r.ID, r.Event())
}

// Events returns the trade events of records, in order.
func Events(records []Record) []folio.TradeEvent {
	events := make([]folio.TradeEvent, len(records))
	for i, r := range records {
		events[i] = r.Event()
	}
	return events
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filter selects records of a portfolio for List.
// Zero fields do not filter. From and To are inclusive.
type Filter struct {
	PortfolioID string
	Asset       string
	Kind        folio.Kind
	From, To    time.Time
	Page        int // 1-based
	Size        int
}

// Normalize returns the filter with its asset normalized and its paging
// clamped to valid values.
func (f Filter) Normalize() Filter {
	f.Asset = folio.NormalizeSymbol(f.Asset)
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Size < 1:
		f.Size = DefaultPageSize
	case f.Size > MaxPageSize:
		f.Size = MaxPageSize
	}
	return f
}

func (f Filter) offset() int { return (f.Page - 1) * f.Size }

// Match reports whether r is selected by the filter, paging aside.
func (f Filter) Match(r Record) bool {
	switch {
	case f.PortfolioID != "" && r.PortfolioID != f.PortfolioID:
		return false
	case f.Asset != "" && r.Asset != f.Asset:
		return false
	case f.Kind != "" && r.Kind != f.Kind:
		return false
	case !f.From.IsZero() && r.TradedAt.Before(f.From):
		return false
	case !f.To.IsZero() && r.TradedAt.After(f.To):
		return false
	}
	return true
}

// Page is one page of a List result, most recent trades first.
type Page struct {
	Items []Record
	Page  int
	Size  int
	Total int // number of records matching the filter, all pages included
}

// Pages returns the number of pages.
func (p Page) Pages() int {
	if p.Size == 0 {
		return 0
	}
	return (p.Total + p.Size - 1) / p.Size
}

// Alert is a price alert: it triggers when the price of Asset in the
// currency of Threshold reaches the threshold on the Condition side.
type Alert struct {
	ID              string
	Owner           string
	Asset           string
	Condition       folio.Condition
	Threshold       folio.Money
	Enabled         bool
	LastTriggeredAt time.Time // zero until the alert first triggers
	CreatedAt       time.Time
}

// Currency returns the currency the alert watches the price in.
func (a Alert) Currency() string { return a.Threshold.Currency() }

// Store is a durable store of portfolios and trades.
type Store interface {
	// CreatePortfolio stores a new portfolio, assigning its ID and creation
	// time when missing.
	CreatePortfolio(ctx context.Context, p Portfolio) (Portfolio, error)
	// Portfolio returns the portfolio id owned by owner. An empty id selects
	// the owner's oldest portfolio.
	Portfolio(ctx context.Context, owner, id string) (Portfolio, error)
	// Portfolios lists the portfolios of owner, oldest first.
	Portfolios(ctx context.Context, owner string) ([]Portfolio, error)

	// Create stores a new record, assigning its ID when missing.
	Create(ctx context.Context, r Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	// Update replaces the record with the same ID.
	Update(ctx context.Context, r Record) error
	Delete(ctx context.Context, id string) error

	// History returns the trades of a portfolio in ascending trade time,
	// trades at the same time in insertion order. An empty asset selects all
	// assets; a non-empty exclude skips the record with that ID.
	History(ctx context.Context, portfolioID, asset, exclude string) ([]Record, error)
	// List returns a page of records in descending trade time.
	List(ctx context.Context, f Filter) (Page, error)

	// Serialize runs fn while holding the write boundary of a portfolio.
	// Calls for the same portfolio run one at a time, across processes
	// sharing the store too. Store calls made with the context given to fn
	// run inside the boundary, and so do nested Serialize calls.
	Serialize(ctx context.Context, portfolioID string, fn func(context.Context) error) error

	// CreateAlert stores a new alert, assigning its ID and creation time
	// when missing.
	CreateAlert(ctx context.Context, a Alert) (Alert, error)
	// Alert returns the alert id owned by owner.
	Alert(ctx context.Context, owner, id string) (Alert, error)
	// Alerts lists the alerts of owner, newest first.
	Alerts(ctx context.Context, owner string) ([]Alert, error)
	// UpdateAlert replaces the alert with the same ID and owner.
	UpdateAlert(ctx context.Context, a Alert) error
	DeleteAlert(ctx context.Context, owner, id string) error

	Close() error
}

// Open opens a store by driver name: "sqlite" or "jsonl".
func Open(driver, path string) (Store, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return OpenSQLite(path)
	case "jsonl":
		return OpenJSONL(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
