package accounting

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/etnz/folio"
	"github.com/etnz/folio/prices"
	"github.com/etnz/folio/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func eur(v float64) folio.Money { return folio.M(v, "EUR") }

func day(d int) time.Time { return time.Date(2025, time.March, d, 9, 30, 0, 0, time.UTC) }

func trade(kind folio.Kind, asset string, qty, price, fee float64, at time.Time) Input {
	return Input{Asset: asset, Kind: kind, Quantity: folio.Q(qty), Price: eur(price), Fee: eur(fee), TradedAt: at}
}

// newSystem returns a system over a fresh JSONL store, with alice owning a
// EUR portfolio.
func newSystem(t *testing.T, src prices.Source) (*System, store.Portfolio) {
	t.Helper()
	st, err := store.OpenJSONL(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := New(st, src, zaptest.NewLogger(t))
	p, err := s.OpenPortfolio(context.Background(), "alice", "main", folio.EUR)
	require.NoError(t, err)
	return s, p
}

func mustCreate(t *testing.T, s *System, in Input) store.Record {
	t.Helper()
	r, err := s.CreateTransaction(context.Background(), "alice", in)
	require.NoError(t, err)
	return r
}

func TestSystem_SellWithoutPosition(t *testing.T) {
	ctx := context.Background()
	s, _ := newSystem(t, nil)

	_, err := s.CreateTransaction(ctx, "alice", trade(folio.Sell, "BTC", 4, 110, 1, day(3)))
	require.ErrorIs(t, err, folio.ErrOversell, "nothing is held yet")
}

func TestSystem_Positions(t *testing.T) {
	ctx := context.Background()
	s, p := newSystem(t, nil)

	mustCreate(t, s, trade(folio.Buy, "btc", 2, 100, 0, day(1)))
	mustCreate(t, s, trade(folio.Buy, "BTC", 3, 120, 5, day(2)))
	r := mustCreate(t, s, trade(folio.Sell, "BTC", 4, 110, 1, day(3)))
	assert.Equal(t, p.ID, r.PortfolioID, "the default portfolio is used")
	assert.NotEmpty(t, r.ID)

	positions, err := s.Positions(ctx, "alice", "")
	require.NoError(t, err)
	btc := positions.Get("BTC")
	assert.True(t, btc.NetQuantity.Equal(folio.Q(1)))
	assert.True(t, btc.AvgCost.Equal(eur(113)), "got %v", btc.AvgCost.Decimal())
	assert.True(t, btc.RealizedPnL.Equal(eur(-13)), "got %v", btc.RealizedPnL.Decimal())
}

func TestSystem_Oversell(t *testing.T) {
	ctx := context.Background()
	s, _ := newSystem(t, nil)

	mustCreate(t, s, trade(folio.Buy, "ETH", 2, 100, 0, day(1)))
	_, err := s.CreateTransaction(ctx, "alice", trade(folio.Sell, "ETH", 2.5, 120, 0, day(2)))

	var oerr *folio.OversellError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, "ETH", oerr.Asset)
	assert.True(t, oerr.Available.Equal(folio.Q(2)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.oversells))

	// selling everything is fine, another sell is not.
	mustCreate(t, s, trade(folio.Sell, "ETH", 2, 120, 0, day(2)))
	_, err = s.CreateTransaction(ctx, "alice", trade(folio.Sell, "ETH", 0.1, 120, 0, day(3)))
	assert.ErrorIs(t, err, folio.ErrOversell)

	page, err := s.ListTransactions(ctx, "alice", store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total, "rejected sells are not recorded")
}

func TestSystem_UpdateExcludesEditedRecord(t *testing.T) {
	ctx := context.Background()
	s, _ := newSystem(t, nil)

	mustCreate(t, s, trade(folio.Buy, "SOL", 2, 10, 0, day(1)))
	sold := mustCreate(t, s, trade(folio.Sell, "SOL", 2, 12, 0, day(2)))

	// the position is flat, but the edited sell does not count against itself.
	in := trade(folio.Sell, "SOL", 1.5, 13, 0.1, day(2))
	in.Note = "partial fill"
	updated, err := s.UpdateTransaction(ctx, "alice", sold.ID, in)
	require.NoError(t, err)
	assert.Equal(t, sold.ID, updated.ID)
	assert.Equal(t, sold.PortfolioID, updated.PortfolioID)

	_, err = s.UpdateTransaction(ctx, "alice", sold.ID, trade(folio.Sell, "SOL", 3, 13, 0, day(2)))
	assert.ErrorIs(t, err, folio.ErrOversell)

	positions, err := s.Positions(ctx, "alice", "")
	require.NoError(t, err)
	sol := positions.Get("SOL")
	assert.True(t, sol.NetQuantity.Equal(folio.Q(0.5)))
	// (13 - 10) * 1.5 - 0.1
	assert.True(t, sol.RealizedPnL.Equal(eur(4.4)), "got %v", sol.RealizedPnL.Decimal())

	page, err := s.ListTransactions(ctx, "alice", store.Filter{Kind: folio.Sell})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "partial fill", page.Items[0].Note)
}

func TestSystem_Validation(t *testing.T) {
	ctx := context.Background()
	s, _ := newSystem(t, nil)
	mustCreate(t, s, trade(folio.Buy, "BTC", 1, 100, 0, day(1)))

	usd := trade(folio.Buy, "BTC", 1, 100, 0, day(2))
	usd.Price, usd.Fee = folio.M(100, "USD"), folio.Money{}

	badFee := trade(folio.Buy, "ETH", 1, 100, 0, day(2))
	badFee.Fee = folio.M(1, "USD")

	unknown := trade(folio.Buy, "ETH", 1, 100, 0, day(2))
	unknown.Price = folio.M(100, "XYZ")

	testCases := []struct {
		name      string
		in        Input
		wantField string
	}{
		{"zero quantity", trade(folio.Buy, "BTC", 0, 100, 0, day(2)), "quantity"},
		{"negative price", trade(folio.Buy, "BTC", 1, -100, 0, day(2)), "price"},
		{"negative fee", trade(folio.Buy, "BTC", 1, 100, -1, day(2)), "fee"},
		{"no asset", trade(folio.Buy, "", 1, 100, 0, day(2)), "asset"},
		{"no kind", trade("", "BTC", 1, 100, 0, day(2)), "kind"},
		{"no trade time", trade(folio.Buy, "BTC", 1, 100, 0, time.Time{}), "tradedAt"},
		{"unknown currency", unknown, "currency"},
		{"fee in another currency", badFee, "fee"},
		{"not the base currency", usd, "currency"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.CreateTransaction(ctx, "alice", tc.in)
			var verr *folio.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.wantField, verr.Field)
			assert.ErrorIs(t, err, folio.ErrInvalid)
		})
	}
}

func TestSystem_MixedCurrencies(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenJSONL(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	defer st.Close()
	s := New(st, nil, zaptest.NewLogger(t))
	p, err := s.OpenPortfolio(ctx, "alice", "", folio.EUR)
	require.NoError(t, err)

	// a USD trade written straight to the store.
	_, err = st.Create(ctx, store.Record{
		PortfolioID: p.ID,
		Asset:       "BTC",
		Kind:        folio.Buy,
		Quantity:    folio.Q(1),
		Price:       folio.M(100, "USD"),
		Fee:         folio.M(0, "USD"),
		TradedAt:    day(1),
	})
	require.NoError(t, err)

	_, err = s.CreateTransaction(ctx, "alice", trade(folio.Buy, "BTC", 1, 100, 0, day(2)))
	var verr *folio.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "currency", verr.Field)
	mustCreate(t, s, trade(folio.Buy, "ETH", 1, 100, 0, day(2)))
}

func TestSystem_Catalogue(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenJSONL(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	defer st.Close()
	s := New(st, nil, zaptest.NewLogger(t), WithCatalogue(prices.NewCatalogue(prices.DefaultAssets)))
	_, err = s.OpenPortfolio(ctx, "alice", "", folio.EUR)
	require.NoError(t, err)

	r := mustCreate(t, s, trade(folio.Buy, "btc", 1, 100, 0, day(1)))
	_, err = s.CreateTransaction(ctx, "alice", trade(folio.Buy, "NOPE", 1, 100, 0, day(1)))
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorContains(t, err, "NOPE")
	_, err = s.UpdateTransaction(ctx, "alice", r.ID, trade(folio.Buy, "NOPE", 1, 100, 0, day(1)))
	assert.ErrorIs(t, err, store.ErrNotFound)

	assets := s.Assets()
	require.NotEmpty(t, assets)
	assert.Equal(t, "ATOM", assets[0].Symbol)
	assert.Nil(t, New(st, nil, nil).Assets(), "no catalogue, any asset")
}

// serializeSpy records the portfolios Serialize is called for.
type serializeSpy struct {
	store.Store
	mu  sync.Mutex
	ids []string
}

func (s *serializeSpy) Serialize(ctx context.Context, portfolioID string, fn func(context.Context) error) error {
	s.mu.Lock()
	s.ids = append(s.ids, portfolioID)
	s.mu.Unlock()
	return s.Store.Serialize(ctx, portfolioID, fn)
}

func TestSystem_MoveTransaction(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "folio.db"))
	require.NoError(t, err)
	defer st.Close()
	spy := &serializeSpy{Store: st}
	s := New(spy, nil, zaptest.NewLogger(t))
	from, err := s.OpenPortfolio(ctx, "alice", "from", folio.EUR)
	require.NoError(t, err)
	to, err := s.OpenPortfolio(ctx, "alice", "to", folio.EUR)
	require.NoError(t, err)
	usd, err := s.OpenPortfolio(ctx, "alice", "usd", folio.USD)
	require.NoError(t, err)

	r := mustCreate(t, s, trade(folio.Buy, "BTC", 2, 100, 0, day(1)))
	spy.ids = nil

	in := trade(folio.Buy, "BTC", 2, 100, 0, day(1))
	in.PortfolioID = to.ID
	moved, err := s.UpdateTransaction(ctx, "alice", r.ID, in)
	require.NoError(t, err)
	assert.Equal(t, to.ID, moved.PortfolioID)
	assert.Equal(t, slices.Sorted(slices.Values([]string{from.ID, to.ID})), spy.ids, "both portfolios are held, in id order")

	positions, err := s.Positions(ctx, "alice", from.ID)
	require.NoError(t, err)
	assert.True(t, positions.Get("BTC").IsFlat())
	positions, err = s.Positions(ctx, "alice", to.ID)
	require.NoError(t, err)
	assert.True(t, positions.Get("BTC").NetQuantity.Equal(folio.Q(2)))

	// moving into a portfolio valued in another currency is refused.
	in.PortfolioID = usd.ID
	_, err = s.UpdateTransaction(ctx, "alice", r.ID, in)
	assert.ErrorIs(t, err, folio.ErrInvalid)

	// a sell is checked against the position of the portfolio it moves to.
	sold := mustCreate(t, s, Input{PortfolioID: to.ID, Asset: "BTC", Kind: folio.Sell, Quantity: folio.Q(1), Price: eur(120), TradedAt: day(2)})
	back := trade(folio.Sell, "BTC", 1, 120, 0, day(2))
	back.PortfolioID = from.ID
	_, err = s.UpdateTransaction(ctx, "alice", sold.ID, back)
	assert.ErrorIs(t, err, folio.ErrOversell)
}

func TestSystem_OwnerScoping(t *testing.T) {
	ctx := context.Background()
	s, alices := newSystem(t, nil)
	r := mustCreate(t, s, trade(folio.Buy, "BTC", 1, 100, 0, day(1)))

	_, err := s.CreateTransaction(ctx, "bob", trade(folio.Buy, "BTC", 1, 100, 0, day(1)))
	assert.ErrorIs(t, err, store.ErrNotFound, "bob has no portfolio")

	bobs, err := s.OpenPortfolio(ctx, "bob", "", folio.USD)
	require.NoError(t, err)

	in := trade(folio.Buy, "BTC", 1, 100, 0, day(1))
	in.PortfolioID = alices.ID
	_, err = s.CreateTransaction(ctx, "bob", in)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.UpdateTransaction(ctx, "bob", r.ID, trade(folio.Buy, "BTC", 2, 100, 0, day(1)))
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteTransaction(ctx, "bob", r.ID), store.ErrNotFound)
	_, err = s.Transaction(ctx, "bob", r.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	got, err := s.Transaction(ctx, "alice", r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	_, err = s.Summary(ctx, "bob", alices.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// alice cannot move her trade into bob's portfolio either.
	in.PortfolioID = bobs.ID
	_, err = s.UpdateTransaction(ctx, "alice", r.ID, in)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteTransaction(ctx, "alice", r.ID))
	assert.ErrorIs(t, s.DeleteTransaction(ctx, "alice", r.ID), store.ErrNotFound)
}

func TestSystem_OpenPortfolio(t *testing.T) {
	ctx := context.Background()
	s, p := newSystem(t, nil)
	assert.Equal(t, folio.EUR, p.BaseCurrency)
	assert.Equal(t, "alice", p.Owner)

	_, err := s.OpenPortfolio(ctx, "", "x", folio.EUR)
	assert.ErrorIs(t, err, folio.ErrInvalid)
	_, err = s.OpenPortfolio(ctx, "alice", "x", folio.Currency("GBP"))
	assert.ErrorIs(t, err, folio.ErrInvalid)

	second, err := s.OpenPortfolio(ctx, "alice", "second", folio.USD)
	require.NoError(t, err)
	all, err := s.Portfolios(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 2)
	def, err := s.Portfolio(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, p.ID, def.ID)
	assert.NotEqual(t, p.ID, second.ID)
}

func TestSystem_ConcurrentSells(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "folio.db"))
	require.NoError(t, err)
	defer st.Close()
	s := New(st, nil, zaptest.NewLogger(t))
	_, err = s.OpenPortfolio(ctx, "alice", "", folio.EUR)
	require.NoError(t, err)
	mustCreate(t, s, trade(folio.Buy, "BTC", 1, 100, 0, day(1)))

	const n = 10
	var (
		wg   sync.WaitGroup
		errs = make(chan error, n)
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateTransaction(ctx, "alice", trade(folio.Sell, "BTC", 1, 150, 0, day(2)))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, oversold int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, folio.ErrOversell):
			oversold++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, oversold)

	positions, err := s.Positions(ctx, "alice", "")
	require.NoError(t, err)
	assert.True(t, positions.Get("BTC").IsFlat())
}

func TestSystem_ConcurrentSellsAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "folio.db")
	systems := make([]*System, 2)
	for i := range systems {
		st, err := store.OpenSQLite(path)
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		systems[i] = New(st, nil, zaptest.NewLogger(t))
	}
	_, err := systems[0].OpenPortfolio(ctx, "alice", "", folio.EUR)
	require.NoError(t, err)
	mustCreate(t, systems[0], trade(folio.Buy, "BTC", 1, 100, 0, day(1)))

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(systems))
	)
	for i, s := range systems {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.CreateTransaction(ctx, "alice", trade(folio.Sell, "BTC", 1, 150, 0, day(2)))
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, folio.ErrOversell)
	}
	assert.Equal(t, 1, ok, "exactly one sell goes through")

	positions, err := systems[1].Positions(ctx, "alice", "")
	require.NoError(t, err)
	assert.True(t, positions.Get("BTC").IsFlat())
}

// failingSource is a price source that is always down.
type failingSource struct{}

func (failingSource) Quotes(context.Context, []string, folio.Currency) (folio.Quotes, error) {
	return nil, errors.New("offline")
}

func TestSystem_Summary(t *testing.T) {
	ctx := context.Background()
	src := prices.NewStatic(map[string]folio.Money{"BTC": eur(150), "SOL": eur(130)})
	s, p := newSystem(t, src)

	mustCreate(t, s, trade(folio.Buy, "BTC", 2, 100, 0, day(1)))
	mustCreate(t, s, trade(folio.Buy, "BTC", 3, 120, 5, day(2)))
	mustCreate(t, s, trade(folio.Sell, "BTC", 4, 110, 1, day(3)))
	mustCreate(t, s, trade(folio.Buy, "ETH", 1, 200, 0, day(1)))
	mustCreate(t, s, trade(folio.Sell, "ETH", 1, 250, 0, day(2)))
	mustCreate(t, s, trade(folio.Buy, "ADA", 10, 2, 0, day(1)))

	sum, err := s.Summary(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, p.ID, sum.PortfolioID)
	assert.Equal(t, folio.EUR, sum.Currency)
	require.Len(t, sum.Holdings, 2)
	assert.Equal(t, []string{"ADA"}, sum.Unpriced())
	assert.True(t, sum.TotalValue.Equal(eur(150)))
	assert.True(t, sum.TotalCost.Equal(eur(133)))
	assert.True(t, sum.TotalUnrealizedPnL.Equal(eur(37)))
	assert.True(t, sum.TotalRealizedPnL.Equal(eur(37)), "got %v", sum.TotalRealizedPnL.Decimal())

	// prices being down is not an error.
	s.prices = failingSource{}
	sum, err = s.Summary(ctx, "alice", p.ID)
	require.NoError(t, err)
	assert.Len(t, sum.Unpriced(), 2)
	assert.True(t, sum.TotalValue.IsZero())
	assert.True(t, sum.TotalCost.Equal(eur(133)))
}
