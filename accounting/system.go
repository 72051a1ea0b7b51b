// Package accounting records trades into portfolios and values them.
//
// It is the boundary where trades are validated: the replay engine accepts
// anything, System refuses invalid trades, unknown assets, trades settled in
// another currency than their portfolio's and sells larger than the position
// held.
package accounting

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/etnz/folio"
	"github.com/etnz/folio/prices"
	"github.com/etnz/folio/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Input is a trade to record.
type Input struct {
	PortfolioID string // empty selects the owner's default portfolio
	Asset       string
	Kind        folio.Kind
	Quantity    folio.Quantity
	Price       folio.Money // unit price, in the settlement currency
	Fee         folio.Money // total fee, in the settlement currency
	TradedAt    time.Time
	Note        string
}

// record validates in and returns it as a record.
func (in Input) record() (store.Record, error) {
	r := store.Record{
		PortfolioID: in.PortfolioID,
		Asset:       folio.NormalizeSymbol(in.Asset),
		Kind:        in.Kind,
		Quantity:    in.Quantity,
		Price:       in.Price,
		Fee:         in.Fee.In(in.Price.Currency()),
		TradedAt:    in.TradedAt,
		Note:        in.Note,
	}
	if err := folio.ValidateEvent(r.Event()); err != nil {
		return store.Record{}, err
	}
	if err := folio.ValidateCurrency(in.Price.Currency()); err != nil {
		return store.Record{}, err
	}
	if c := in.Fee.Currency(); c != "" && c != in.Price.Currency() {
		return store.Record{}, &folio.ValidationError{Field: "fee", Reason: fmt.Sprintf("fee in %s for a price in %s", c, in.Price.Currency())}
	}
	if in.TradedAt.IsZero() {
		return store.Record{}, &folio.ValidationError{Field: "tradedAt", Reason: "trade time is missing"}
	}
	return r, nil
}

// System is the transaction workflow over a store and a price source.
type System struct {
	store     store.Store
	prices    prices.Source
	catalogue prices.Catalogue
	logger    *zap.Logger
	now       func() time.Time
	oversells prometheus.Counter
	triggered prometheus.Counter
}

// Option configures a System.
type Option func(*System)

// WithClock replaces time.Now, used to date new portfolios.
func WithClock(now func() time.Time) Option { return func(s *System) { s.now = now } }

// WithCatalogue restricts trades and alerts to the assets of c. Without it
// any symbol is accepted.
func WithCatalogue(c prices.Catalogue) Option { return func(s *System) { s.catalogue = c } }

// WithRegisterer registers the system metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *System) { s.metrics(reg) }
}

// New returns a System. A nil source values every position without price, a
// nil logger logs nothing.
func New(st store.Store, src prices.Source, logger *zap.Logger, opts ...Option) *System {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &System{
		store:  st,
		prices: src,
		logger: logger,
		now:    time.Now,
	}
	s.metrics(nil)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *System) metrics(reg prometheus.Registerer) {
	s.oversells = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Namespace: "folio",
		Subsystem: "accounting",
		Name:      "oversell_rejections_total",
		Help:      "Sells rejected for exceeding the position held.",
	})
	s.triggered = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Namespace: "folio",
		Subsystem: "accounting",
		Name:      "alerts_triggered_total",
		Help:      "Price alerts found triggered by CheckAlerts.",
	})
}

// Assets lists the tradable assets, nil when any symbol is accepted.
func (s *System) Assets() []prices.Asset {
	if s.catalogue == nil {
		return nil
	}
	return s.catalogue.Assets()
}

// asset checks that symbol is in the catalogue.
func (s *System) asset(symbol string) error {
	if s.catalogue == nil {
		return nil
	}
	if _, ok := s.catalogue.Lookup(symbol); !ok {
		return fmt.Errorf("asset %q: %w", symbol, store.ErrNotFound)
	}
	return nil
}

// settledIn checks that r is settled in the base currency of p: positions
// are valued in that currency only.
func settledIn(r store.Record, p store.Portfolio) error {
	if r.Currency() != p.BaseCurrency.String() {
		return &folio.ValidationError{
			Field:  "currency",
			Reason: fmt.Sprintf("trade in %s for a portfolio in %s", r.Currency(), p.BaseCurrency),
		}
	}
	return nil
}

// OpenPortfolio creates a portfolio valued in cur.
func (s *System) OpenPortfolio(ctx context.Context, owner, name string, cur folio.Currency) (store.Portfolio, error) {
	if owner == "" {
		return store.Portfolio{}, &folio.ValidationError{Field: "owner", Reason: "owner is missing"}
	}
	if _, err := folio.ParseCurrency(cur.String()); err != nil {
		return store.Portfolio{}, err
	}
	p, err := s.store.CreatePortfolio(ctx, store.Portfolio{Owner: owner, Name: name, BaseCurrency: cur, CreatedAt: s.now()})
	if err != nil {
		return store.Portfolio{}, err
	}
	s.logger.Info("portfolio opened", zap.String("portfolio", p.ID), zap.String("owner", owner), zap.Stringer("currency", cur))
	return p, nil
}

// Portfolio returns a portfolio of owner, the default one if id is empty.
func (s *System) Portfolio(ctx context.Context, owner, id string) (store.Portfolio, error) {
	return s.store.Portfolio(ctx, owner, id)
}

// Portfolios lists the portfolios of owner.
func (s *System) Portfolios(ctx context.Context, owner string) ([]store.Portfolio, error) {
	return s.store.Portfolios(ctx, owner)
}

// Transaction returns the trade id if it belongs to a portfolio of owner.
func (s *System) Transaction(ctx context.Context, owner, id string) (store.Record, error) {
	return s.owned(ctx, owner, id)
}

// CreateTransaction records a trade.
func (s *System) CreateTransaction(ctx context.Context, owner string, in Input) (store.Record, error) {
	r, err := in.record()
	if err != nil {
		return store.Record{}, err
	}
	if err := s.asset(r.Asset); err != nil {
		return store.Record{}, err
	}
	p, err := s.store.Portfolio(ctx, owner, in.PortfolioID)
	if err != nil {
		return store.Record{}, err
	}
	if err := settledIn(r, p); err != nil {
		return store.Record{}, err
	}
	r.PortfolioID = p.ID

	err = s.store.Serialize(ctx, p.ID, func(ctx context.Context) error {
		if err := s.check(ctx, r, ""); err != nil {
			return err
		}
		r, err = s.store.Create(ctx, r)
		return err
	})
	if err != nil {
		return store.Record{}, err
	}
	s.logger.Debug("transaction created", zap.String("id", r.ID), zap.Stringer("trade", r.Event()))
	return r, nil
}

// UpdateTransaction replaces the trade id. An empty in.PortfolioID keeps
// the trade in its portfolio; moving it holds both portfolios.
func (s *System) UpdateTransaction(ctx context.Context, owner, id string, in Input) (store.Record, error) {
	r, err := in.record()
	if err != nil {
		return store.Record{}, err
	}
	if err := s.asset(r.Asset); err != nil {
		return store.Record{}, err
	}
	existing, err := s.owned(ctx, owner, id)
	if err != nil {
		return store.Record{}, err
	}
	target := existing.PortfolioID
	if in.PortfolioID != "" {
		target = in.PortfolioID
	}
	p, err := s.store.Portfolio(ctx, owner, target)
	if err != nil {
		return store.Record{}, err
	}
	if err := settledIn(r, p); err != nil {
		return store.Record{}, err
	}
	r.ID, r.PortfolioID = id, p.ID

	err = s.serialize(ctx, []string{existing.PortfolioID, p.ID}, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.PortfolioID != existing.PortfolioID {
			return fmt.Errorf("record %q moved to another portfolio meanwhile", id)
		}
		if err := s.check(ctx, r, id); err != nil {
			return err
		}
		return s.store.Update(ctx, r)
	})
	if err != nil {
		return store.Record{}, err
	}
	s.logger.Debug("transaction updated", zap.String("id", id), zap.Stringer("trade", r.Event()))
	return r, nil
}

// DeleteTransaction deletes the trade id.
func (s *System) DeleteTransaction(ctx context.Context, owner, id string) error {
	existing, err := s.owned(ctx, owner, id)
	if err != nil {
		return err
	}
	err = s.store.Serialize(ctx, existing.PortfolioID, func(ctx context.Context) error {
		return s.store.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Debug("transaction deleted", zap.String("id", id))
	return nil
}

// serialize runs fn inside the Serialize of every portfolio of ids, taken in
// ascending id order.
func (s *System) serialize(ctx context.Context, ids []string, fn func(context.Context) error) error {
	ids = slices.Compact(slices.Sorted(slices.Values(ids)))
	var run func(ctx context.Context, held int) error
	run = func(ctx context.Context, held int) error {
		if held == len(ids) {
			return fn(ctx)
		}
		return s.store.Serialize(ctx, ids[held], func(ctx context.Context) error { return run(ctx, held+1) })
	}
	return run(ctx, 0)
}

// owned returns the record id if it belongs to a portfolio of owner.
func (s *System) owned(ctx context.Context, owner, id string) (store.Record, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return store.Record{}, err
	}
	if _, err := s.store.Portfolio(ctx, owner, r.PortfolioID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Record{}, fmt.Errorf("record %q: %w", id, store.ErrNotFound)
		}
		return store.Record{}, err
	}
	return r, nil
}

// check validates r against the asset history of its portfolio, without the
// record exclude. It must run inside the portfolio's Serialize.
func (s *System) check(ctx context.Context, r store.Record, exclude string) error {
	history, err := s.store.History(ctx, r.PortfolioID, r.Asset, exclude)
	if err != nil {
		return fmt.Errorf("cannot load %s history: %w", r.Asset, err)
	}
	for _, h := range history {
		if h.Currency() != r.Currency() {
			return &folio.ValidationError{
				Field:  "currency",
				Reason: fmt.Sprintf("%s is traded in %s, not %s", r.Asset, h.Currency(), r.Currency()),
			}
		}
	}
	pos := folio.ReplaySlice(store.Events(history)).Get(r.Asset)
	if err := folio.CheckSell(pos, r.Event()); err != nil {
		s.oversells.Inc()
		s.logger.Info("sell rejected", zap.String("portfolio", r.PortfolioID), zap.Error(err))
		return err
	}
	return nil
}

// ListTransactions returns a page of the trades of an owner's portfolio.
func (s *System) ListTransactions(ctx context.Context, owner string, f store.Filter) (store.Page, error) {
	p, err := s.store.Portfolio(ctx, owner, f.PortfolioID)
	if err != nil {
		return store.Page{}, err
	}
	f.PortfolioID = p.ID
	return s.store.List(ctx, f)
}

// Positions replays the whole history of a portfolio.
func (s *System) Positions(ctx context.Context, owner, portfolioID string) (folio.Positions, error) {
	p, err := s.store.Portfolio(ctx, owner, portfolioID)
	if err != nil {
		return nil, err
	}
	return s.positions(ctx, p)
}

func (s *System) positions(ctx context.Context, p store.Portfolio) (folio.Positions, error) {
	history, err := s.store.History(ctx, p.ID, "", "")
	if err != nil {
		return nil, fmt.Errorf("cannot load portfolio %q: %w", p.ID, err)
	}
	return folio.ReplaySlice(store.Events(history)), nil
}

// Summary values a portfolio at current prices in its base currency.
// Prices that cannot be found leave their holdings unpriced.
func (s *System) Summary(ctx context.Context, owner, portfolioID string) (folio.Summary, error) {
	p, err := s.store.Portfolio(ctx, owner, portfolioID)
	if err != nil {
		return folio.Summary{}, err
	}
	positions, err := s.positions(ctx, p)
	if err != nil {
		return folio.Summary{}, err
	}

	var quotes folio.Quotes
	if s.prices != nil {
		var held []string
		for sym := range positions.Symbols() {
			if positions[sym].IsLong() {
				held = append(held, sym)
			}
		}
		if len(held) > 0 {
			quotes, err = s.prices.Quotes(ctx, held, p.BaseCurrency)
			if err != nil {
				s.logger.Warn("prices unavailable", zap.String("portfolio", p.ID), zap.Error(err))
				quotes = nil
			}
		}
	}

	sum := folio.Summarize(positions, quotes)
	sum.PortfolioID = p.ID
	sum.Currency = p.BaseCurrency
	return sum, nil
}
