package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/etnz/folio"
	"github.com/google/uuid"
	// import sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS portfolios (
	id            TEXT PRIMARY KEY,
	owner         TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	base_currency TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS portfolios_owner ON portfolios (owner, created_at);

CREATE TABLE IF NOT EXISTS transactions (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	portfolio_id TEXT NOT NULL REFERENCES portfolios (id) ON DELETE CASCADE,
	asset        TEXT NOT NULL,
	kind         TEXT NOT NULL,
	quantity     TEXT NOT NULL,
	price        TEXT NOT NULL,
	fee          TEXT NOT NULL,
	currency     TEXT NOT NULL,
	traded_at    INTEGER NOT NULL,
	note         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS transactions_history ON transactions (portfolio_id, asset, traded_at);

CREATE TABLE IF NOT EXISTS price_snapshots (
	id          INTEGER PRIMARY KEY,
	symbol      TEXT NOT NULL,
	currency    TEXT NOT NULL,
	price       TEXT NOT NULL,
	observed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS price_snapshots_symbol ON price_snapshots (symbol, currency, observed_at);

CREATE TABLE IF NOT EXISTS alerts (
	id           TEXT PRIMARY KEY,
	owner        TEXT NOT NULL,
	asset        TEXT NOT NULL,
	condition    TEXT NOT NULL,
	threshold    TEXT NOT NULL,
	currency     TEXT NOT NULL,
	enabled      INTEGER NOT NULL DEFAULT 1,
	triggered_at INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS alerts_owner ON alerts (owner, created_at);
`

// SQLite is a Store in a SQLite database.
// It also records price snapshots.
//
// Serialize runs fn in an immediate transaction: it holds the database write
// lock, so writers from other processes wait for it to commit.
type SQLite struct {
	db     *sql.DB
	serial keyedMutex
}

// querier is what *sql.DB and *sql.Tx have in common.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// boundTx is the transaction of a Serialize call, carried in its context.
type boundTx struct {
	store *SQLite
	tx    *sql.Tx
}

func (s *SQLite) tx(ctx context.Context) (*sql.Tx, bool) {
	b, ok := ctx.Value(txKey{}).(boundTx)
	if !ok || b.store != s {
		return nil, false
	}
	return b.tx, true
}

// conn returns the transaction of the enclosing Serialize call, if any.
func (s *SQLite) conn(ctx context.Context) querier {
	if tx, ok := s.tx(ctx); ok {
		return tx
	}
	return s.db
}

// OpenSQLite opens, and creates if needed, the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) CreatePortfolio(ctx context.Context, p Portfolio) (Portfolio, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC()
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO portfolios (id, owner, name, base_currency, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Owner, p.Name, p.BaseCurrency.String(), p.CreatedAt.UnixNano())
	if err != nil {
		return Portfolio{}, fmt.Errorf("could not create portfolio: %w", err)
	}
	return p, nil
}

const portfolioColumns = `id, owner, name, base_currency, created_at`

func scanPortfolio(sc interface{ Scan(...any) error }) (Portfolio, error) {
	var (
		p       Portfolio
		cur     string
		created int64
	)
	if err := sc.Scan(&p.ID, &p.Owner, &p.Name, &cur, &created); err != nil {
		return Portfolio{}, err
	}
	p.BaseCurrency = folio.Currency(cur)
	p.CreatedAt = time.Unix(0, created).UTC()
	return p, nil
}

func (s *SQLite) Portfolio(ctx context.Context, owner, id string) (Portfolio, error) {
	var row *sql.Row
	if id == "" {
		row = s.conn(ctx).QueryRowContext(ctx,
			`SELECT `+portfolioColumns+` FROM portfolios WHERE owner = ? ORDER BY created_at, rowid LIMIT 1`, owner)
	} else {
		row = s.conn(ctx).QueryRowContext(ctx,
			`SELECT `+portfolioColumns+` FROM portfolios WHERE owner = ? AND id = ?`, owner, id)
	}
	p, err := scanPortfolio(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Portfolio{}, fmt.Errorf("portfolio %q: %w", id, ErrNotFound)
	}
	return p, err
}

func (s *SQLite) Portfolios(ctx context.Context, owner string) ([]Portfolio, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+portfolioColumns+` FROM portfolios WHERE owner = ? ORDER BY created_at, rowid`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ps []Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, rows.Err()
}

const recordColumns = `id, portfolio_id, asset, kind, quantity, price, fee, currency, traded_at, note`

func scanRecord(sc interface{ Scan(...any) error }) (Record, error) {
	var (
		r                     Record
		kind, qty, price, fee string
		cur                   string
		traded                int64
	)
	if err := sc.Scan(&r.ID, &r.PortfolioID, &r.Asset, &kind, &qty, &price, &fee, &cur, &traded, &r.Note); err != nil {
		return Record{}, err
	}
	var err error
	r.Kind = folio.Kind(kind)
	if r.Quantity, err = folio.ParseQuantity(qty); err != nil {
		return Record{}, err
	}
	if r.Price, err = folio.ParseMoney(price, cur); err != nil {
		return Record{}, err
	}
	if r.Fee, err = folio.ParseMoney(fee, cur); err != nil {
		return Record{}, err
	}
	r.TradedAt = time.Unix(0, traded).UTC()
	return r, nil
}

// recordArgs returns the values of recordColumns.
func recordArgs(r Record) []any {
	return []any{
		r.ID, r.PortfolioID, r.Asset, r.Kind.String(),
		r.Quantity.String(), r.Price.Decimal().String(), r.Fee.Decimal().String(),
		r.Currency(), r.TradedAt.UnixNano(), r.Note,
	}
}

func (s *SQLite) Create(ctx context.Context, r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Asset = folio.NormalizeSymbol(r.Asset)
	r.TradedAt = r.TradedAt.UTC()
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO transactions (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		recordArgs(r)...)
	if err != nil {
		return Record{}, fmt.Errorf("could not create record: %w", err)
	}
	return r, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (Record, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+recordColumns+` FROM transactions WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("record %q: %w", id, ErrNotFound)
	}
	return r, err
}

func (s *SQLite) Update(ctx context.Context, r Record) error {
	r.Asset = folio.NormalizeSymbol(r.Asset)
	r.TradedAt = r.TradedAt.UTC()
	args := recordArgs(r)
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE transactions SET portfolio_id = ?, asset = ?, kind = ?, quantity = ?, price = ?, fee = ?,
		currency = ?, traded_at = ?, note = ? WHERE id = ?`,
		append(args[1:], r.ID)...)
	if err != nil {
		return fmt.Errorf("could not update record: %w", err)
	}
	return expectOne(res, "record", r.ID)
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("could not delete record: %w", err)
	}
	return expectOne(res, "record", id)
}

func expectOne(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
	}
	return nil
}

// where translates a filter into a WHERE clause and its arguments.
func where(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if f.PortfolioID != "" {
		add("portfolio_id = ?", f.PortfolioID)
	}
	if f.Asset != "" {
		add("asset = ?", f.Asset)
	}
	if f.Kind != "" {
		add("kind = ?", f.Kind.String())
	}
	if !f.From.IsZero() {
		add("traded_at >= ?", f.From.UnixNano())
	}
	if !f.To.IsZero() {
		add("traded_at <= ?", f.To.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLite) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) History(ctx context.Context, portfolioID, asset, exclude string) ([]Record, error) {
	clause, args := where(Filter{PortfolioID: portfolioID, Asset: folio.NormalizeSymbol(asset)})
	if exclude != "" {
		if clause == "" {
			clause = " WHERE id <> ?"
		} else {
			clause += " AND id <> ?"
		}
		args = append(args, exclude)
	}
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM transactions`+clause+` ORDER BY traded_at, seq`, args...)
}

func (s *SQLite) List(ctx context.Context, f Filter) (Page, error) {
	f = f.Normalize()
	clause, args := where(f)
	page := Page{Page: f.Page, Size: f.Size}
	if err := s.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+clause, args...).Scan(&page.Total); err != nil {
		return Page{}, err
	}
	items, err := s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM transactions`+clause+` ORDER BY traded_at DESC, seq DESC LIMIT ? OFFSET ?`,
		append(args, f.Size, f.offset())...)
	if err != nil {
		return Page{}, err
	}
	page.Items = items
	return page, nil
}

func (s *SQLite) Serialize(ctx context.Context, portfolioID string, fn func(context.Context) error) error {
	if _, ok := s.tx(ctx); ok {
		return fn(ctx)
	}
	return s.serial.Do(ctx, portfolioID, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("could not begin transaction: %w", err)
		}
		defer tx.Rollback()
		if err := fn(context.WithValue(ctx, txKey{}, boundTx{store: s, tx: tx})); err != nil {
			return err
		}
		return tx.Commit()
	})
}

const alertColumns = `id, owner, asset, condition, threshold, currency, enabled, triggered_at, created_at`

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func scanAlert(sc interface{ Scan(...any) error }) (Alert, error) {
	var (
		a                  Alert
		cond, threshold    string
		cur                string
		triggered, created int64
	)
	if err := sc.Scan(&a.ID, &a.Owner, &a.Asset, &cond, &threshold, &cur, &a.Enabled, &triggered, &created); err != nil {
		return Alert{}, err
	}
	var err error
	a.Condition = folio.Condition(cond)
	if a.Threshold, err = folio.ParseMoney(threshold, cur); err != nil {
		return Alert{}, err
	}
	a.LastTriggeredAt = fromUnixNano(triggered)
	a.CreatedAt = fromUnixNano(created)
	return a, nil
}

func (s *SQLite) CreateAlert(ctx context.Context, a Alert) (Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.Asset = folio.NormalizeSymbol(a.Asset)
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Owner, a.Asset, a.Condition.String(), a.Threshold.Decimal().String(), a.Currency(),
		a.Enabled, unixNano(a.LastTriggeredAt), a.CreatedAt.UnixNano())
	if err != nil {
		return Alert{}, fmt.Errorf("could not create alert: %w", err)
	}
	return a, nil
}

func (s *SQLite) Alert(ctx context.Context, owner, id string) (Alert, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE owner = ? AND id = ?`, owner, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Alert{}, fmt.Errorf("alert %q: %w", id, ErrNotFound)
	}
	return a, err
}

func (s *SQLite) Alerts(ctx context.Context, owner string) ([]Alert, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE owner = ? ORDER BY created_at DESC, rowid DESC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateAlert(ctx context.Context, a Alert) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE alerts SET asset = ?, condition = ?, threshold = ?, currency = ?, enabled = ?, triggered_at = ?
		WHERE id = ? AND owner = ?`,
		folio.NormalizeSymbol(a.Asset), a.Condition.String(), a.Threshold.Decimal().String(), a.Currency(),
		a.Enabled, unixNano(a.LastTriggeredAt), a.ID, a.Owner)
	if err != nil {
		return fmt.Errorf("could not update alert: %w", err)
	}
	return expectOne(res, "alert", a.ID)
}

func (s *SQLite) DeleteAlert(ctx context.Context, owner, id string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM alerts WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("could not delete alert: %w", err)
	}
	return expectOne(res, "alert", id)
}

// RecordPrices stores a snapshot of the known quotes. Missing quotes are skipped.
func (s *SQLite) RecordPrices(ctx context.Context, cur folio.Currency, quotes folio.Quotes, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for sym, q := range quotes {
		price, ok := q.Get()
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO price_snapshots (symbol, currency, price, observed_at) VALUES (?, ?, ?, ?)`,
			sym, cur.String(), price.Decimal().String(), at.UnixNano()); err != nil {
			return fmt.Errorf("could not record price of %s: %w", sym, err)
		}
	}
	return tx.Commit()
}

// LastPrice returns the most recent recorded price of symbol in cur.
func (s *SQLite) LastPrice(ctx context.Context, symbol string, cur folio.Currency) (folio.Optional[folio.Money], time.Time, error) {
	var (
		price    string
		observed int64
	)
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT price, observed_at FROM price_snapshots WHERE symbol = ? AND currency = ? ORDER BY observed_at DESC, id DESC LIMIT 1`,
		folio.NormalizeSymbol(symbol), cur.String()).Scan(&price, &observed)
	if errors.Is(err, sql.ErrNoRows) {
		return folio.None[folio.Money](), time.Time{}, nil
	}
	if err != nil {
		return folio.None[folio.Money](), time.Time{}, err
	}
	m, err := folio.ParseMoney(price, cur.String())
	if err != nil {
		return folio.None[folio.Money](), time.Time{}, err
	}
	return folio.Some(m), time.Unix(0, observed).UTC(), nil
}
