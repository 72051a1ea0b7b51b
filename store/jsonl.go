package store

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/etnz/folio"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	cmdOpen  = "open"
	cmdAlert = "alert"
)

// lockRetry is the delay between two attempts at the ledger lock.
const lockRetry = 10 * time.Millisecond

// JSONL is a Store kept in a single JSONL ledger file.
//
// The file holds one command per line: "open" lines declare portfolios,
// "alert" lines price alerts, "buy" and "sell" lines record trades. It is
// rewritten entirely on every change, trades sorted by trade time.
//
// Writers hold an exclusive lock on the "<path>.lock" file and reload the
// ledger once they have it, so processes sharing the file see each other's
// changes. Readers reload it when it changed on disk.
type JSONL struct {
	path   string
	serial keyedMutex   // one writer per handle
	lock   *flock.Flock // one writer per file

	mu         sync.RWMutex
	loaded     os.FileInfo // ledger file as last loaded or saved, nil if missing
	portfolios []Portfolio
	alerts     []Alert  // in insertion order
	records    []Record // in insertion order
}

// OpenJSONL loads the ledger at path. A missing file is an empty ledger.
func OpenJSONL(path string) (*JSONL, error) {
	s := &JSONL{path: path, lock: flock.New(path + ".lock")}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load replaces the ledger in memory by the file content. Callers hold mu
// or own s exclusively.
func (s *JSONL) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.loaded, s.portfolios, s.alerts, s.records = nil, nil, nil, nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not open ledger %q: %w", s.path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("could not open ledger %q: %w", s.path, err)
	}
	var l JSONL
	if err := l.decode(f); err != nil {
		return fmt.Errorf("could not decode ledger %q: %w", s.path, err)
	}
	s.loaded, s.portfolios, s.alerts, s.records = info, l.portfolios, l.alerts, l.records
	return nil
}

// refresh reloads the ledger if the file changed since it was loaded.
func (s *JSONL) refresh() error {
	info, err := os.Stat(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not open ledger %q: %w", s.path, err)
	}
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	missing := err != nil
	if missing && loaded == nil || !missing && loaded != nil && sameFile(info, loaded) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func sameFile(a, b os.FileInfo) bool {
	return os.SameFile(a, b) && a.Size() == b.Size() && a.ModTime().Equal(b.ModTime())
}

type heldKey struct{}

// held reports whether ctx is inside a Serialize call of s.
func (s *JSONL) held(ctx context.Context) bool {
	h, _ := ctx.Value(heldKey{}).(*JSONL)
	return h == s
}

// acquire takes the ledger lock and reloads the ledger.
func (s *JSONL) acquire(ctx context.Context) (release func(), err error) {
	if err := s.serial.Lock(ctx, s.path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.serial.Unlock(s.path)
		return nil, err
	}
	locked, err := s.lock.TryLockContext(ctx, lockRetry)
	if err == nil && !locked {
		err = ctx.Err()
	}
	if err != nil {
		s.serial.Unlock(s.path)
		return nil, fmt.Errorf("could not lock ledger %q: %w", s.path, err)
	}
	release = func() {
		s.lock.Unlock()
		s.serial.Unlock(s.path)
	}

	s.mu.Lock()
	err = s.load()
	s.mu.Unlock()
	if err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// write applies mutate to the ledger and saves it, holding the ledger lock.
// mutate must leave the ledger untouched when it fails.
func (s *JSONL) write(ctx context.Context, mutate func() error) error {
	if !s.held(ctx) {
		release, err := s.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := mutate(); err != nil {
		return err
	}
	if err := s.save(); err != nil {
		// back to the ledger on disk.
		return errors.Join(err, s.load())
	}
	return nil
}

// ledgerLine has every field a line can carry.
type ledgerLine struct {
	Command   string          `json:"command"`
	Date      time.Time       `json:"date"`
	ID        string          `json:"id"`
	Owner     string          `json:"owner"`
	Name      string          `json:"name"`
	Portfolio string          `json:"portfolio"`
	Asset     string          `json:"asset"`
	Quantity  folio.Quantity  `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	Currency  string          `json:"currency"`
	Note      string          `json:"note"`
	Condition string          `json:"condition"`
	Threshold decimal.Decimal `json:"threshold"`
	Enabled   bool            `json:"enabled"`
	Triggered time.Time       `json:"triggered"`
}

func (s *JSONL) decode(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var l ledgerLine
		if err := json.Unmarshal(line, &l); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		switch l.Command {
		case cmdOpen:
			s.portfolios = append(s.portfolios, Portfolio{
				ID:           l.ID,
				Owner:        l.Owner,
				Name:         l.Name,
				BaseCurrency: folio.Currency(l.Currency),
				CreatedAt:    l.Date,
			})
			continue
		case cmdAlert:
			s.alerts = append(s.alerts, Alert{
				ID:              l.ID,
				Owner:           l.Owner,
				Asset:           l.Asset,
				Condition:       folio.Condition(l.Condition),
				Threshold:       folio.M(l.Threshold, l.Currency),
				Enabled:         l.Enabled,
				LastTriggeredAt: l.Triggered,
				CreatedAt:       l.Date,
			})
			continue
		}
		kind, err := folio.ParseKind(l.Command)
		if err != nil {
			return fmt.Errorf("line %d: unknown command %q", n, l.Command)
		}
		s.records = append(s.records, Record{
			ID:          l.ID,
			PortfolioID: l.Portfolio,
			Asset:       l.Asset,
			Kind:        kind,
			Quantity:    l.Quantity,
			Price:       folio.M(l.Price, l.Currency),
			Fee:         folio.M(l.Fee, l.Currency),
			TradedAt:    l.Date,
			Note:        l.Note,
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading from input: %w", err)
	}
	return nil
}

func encodePortfolio(p Portfolio) ([]byte, error) {
	var w jsonObjectWriter
	w.Append("command", cmdOpen).
		Append("date", p.CreatedAt).
		EmbedFrom(struct {
			ID    string `json:"id"`
			Owner string `json:"owner"`
		}{p.ID, p.Owner}).
		Optional("name", p.Name).
		Append("currency", p.BaseCurrency)
	return w.MarshalJSON()
}

func encodeAlert(a Alert) ([]byte, error) {
	var w jsonObjectWriter
	w.Append("command", cmdAlert).
		Append("date", a.CreatedAt).
		Append("id", a.ID).
		Append("owner", a.Owner).
		Append("asset", a.Asset).
		Append("condition", a.Condition).
		Append("threshold", a.Threshold.Decimal()).
		Append("currency", a.Currency()).
		Append("enabled", a.Enabled).
		Optional("triggered", a.LastTriggeredAt)
	return w.MarshalJSON()
}

func encodeRecord(r Record) ([]byte, error) {
	var w jsonObjectWriter
	w.Append("command", strings.ToLower(r.Kind.String())).
		Append("date", r.TradedAt).
		Append("id", r.ID).
		Append("portfolio", r.PortfolioID).
		Append("asset", r.Asset).
		Append("quantity", r.Quantity).
		Append("price", r.Price.Decimal())
	if !r.Fee.IsZero() {
		w.Append("fee", r.Fee.Decimal())
	}
	w.Append("currency", r.Currency()).
		Optional("note", r.Note)
	return w.MarshalJSON()
}

// encode writes the ledger: portfolios first, then alerts, then trades in
// trade time order.
func (s *JSONL) encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	writeLine := func(line []byte, err error) error {
		if err != nil {
			return err
		}
		bw.Write(line)
		return bw.WriteByte('\n')
	}
	for _, p := range s.portfolios {
		if err := writeLine(encodePortfolio(p)); err != nil {
			return err
		}
	}
	for _, a := range s.alerts {
		if err := writeLine(encodeAlert(a)); err != nil {
			return err
		}
	}
	for _, r := range ascending(s.records) {
		if err := writeLine(encodeRecord(r)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// save rewrites the ledger file atomically.
func (s *JSONL) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := s.encode(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	s.loaded = info
	return nil
}

// ascending returns a copy of records sorted by trade time, ties kept in
// their current order.
func ascending(records []Record) []Record {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b Record) int { return a.TradedAt.Compare(b.TradedAt) })
	return out
}

func (s *JSONL) CreatePortfolio(ctx context.Context, p Portfolio) (Portfolio, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = p.CreatedAt.UTC()

	err := s.write(ctx, func() error {
		if slices.ContainsFunc(s.portfolios, func(q Portfolio) bool { return q.ID == p.ID }) {
			return fmt.Errorf("portfolio %q already exists", p.ID)
		}
		s.portfolios = append(s.portfolios, p)
		return nil
	})
	if err != nil {
		return Portfolio{}, err
	}
	return p, nil
}

func (s *JSONL) Portfolio(ctx context.Context, owner, id string) (Portfolio, error) {
	if err := s.refresh(); err != nil {
		return Portfolio{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.owned(owner) {
		if id == "" || p.ID == id {
			return p, nil
		}
	}
	return Portfolio{}, fmt.Errorf("portfolio %q: %w", id, ErrNotFound)
}

func (s *JSONL) Portfolios(ctx context.Context, owner string) ([]Portfolio, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owned(owner), nil
}

// owned returns the portfolios of owner, oldest first.
func (s *JSONL) owned(owner string) []Portfolio {
	var ps []Portfolio
	for _, p := range s.portfolios {
		if p.Owner == owner {
			ps = append(ps, p)
		}
	}
	slices.SortStableFunc(ps, func(a, b Portfolio) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return ps
}

func (s *JSONL) Create(ctx context.Context, r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Asset = folio.NormalizeSymbol(r.Asset)
	r.TradedAt = r.TradedAt.UTC()

	err := s.write(ctx, func() error {
		if s.index(r.ID) >= 0 {
			return fmt.Errorf("record %q already exists", r.ID)
		}
		s.records = append(s.records, r)
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return r, nil
}

func (s *JSONL) index(id string) int {
	return slices.IndexFunc(s.records, func(r Record) bool { return r.ID == id })
}

func (s *JSONL) Get(ctx context.Context, id string) (Record, error) {
	if err := s.refresh(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(id)
	if i < 0 {
		return Record{}, fmt.Errorf("record %q: %w", id, ErrNotFound)
	}
	return s.records[i], nil
}

func (s *JSONL) Update(ctx context.Context, r Record) error {
	r.Asset = folio.NormalizeSymbol(r.Asset)
	r.TradedAt = r.TradedAt.UTC()

	return s.write(ctx, func() error {
		i := s.index(r.ID)
		if i < 0 {
			return fmt.Errorf("record %q: %w", r.ID, ErrNotFound)
		}
		s.records[i] = r
		return nil
	})
}

func (s *JSONL) Delete(ctx context.Context, id string) error {
	return s.write(ctx, func() error {
		i := s.index(id)
		if i < 0 {
			return fmt.Errorf("record %q: %w", id, ErrNotFound)
		}
		s.records = slices.Delete(s.records, i, i+1)
		return nil
	})
}

func (s *JSONL) History(ctx context.Context, portfolioID, asset, exclude string) ([]Record, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	f := Filter{PortfolioID: portfolioID, Asset: folio.NormalizeSymbol(asset)}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range ascending(s.records) {
		if r.ID != exclude && f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *JSONL) List(ctx context.Context, f Filter) (Page, error) {
	if err := s.refresh(); err != nil {
		return Page{}, err
	}
	f = f.Normalize()
	s.mu.RLock()
	var matched []Record
	for _, r := range s.records {
		if f.Match(r) {
			matched = append(matched, r)
		}
	}
	s.mu.RUnlock()

	// most recent first, and the last inserted first among simultaneous trades.
	slices.Reverse(matched)
	slices.SortStableFunc(matched, func(a, b Record) int { return cmp.Compare(b.TradedAt.UnixNano(), a.TradedAt.UnixNano()) })

	page := Page{Page: f.Page, Size: f.Size, Total: len(matched)}
	if start := f.offset(); start < len(matched) {
		page.Items = matched[start:min(start+f.Size, len(matched))]
	}
	return page, nil
}

// Serialize runs fn holding the ledger lock, whatever the portfolio: writers
// of the file run one at a time.
func (s *JSONL) Serialize(ctx context.Context, portfolioID string, fn func(context.Context) error) error {
	if s.held(ctx) {
		return fn(ctx)
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(context.WithValue(ctx, heldKey{}, s))
}

func (s *JSONL) CreateAlert(ctx context.Context, a Alert) (Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.Asset = folio.NormalizeSymbol(a.Asset)

	err := s.write(ctx, func() error {
		if slices.ContainsFunc(s.alerts, func(b Alert) bool { return b.ID == a.ID }) {
			return fmt.Errorf("alert %q already exists", a.ID)
		}
		s.alerts = append(s.alerts, a)
		return nil
	})
	if err != nil {
		return Alert{}, err
	}
	return a, nil
}

func (s *JSONL) alertIndex(owner, id string) int {
	return slices.IndexFunc(s.alerts, func(a Alert) bool { return a.ID == id && a.Owner == owner })
}

func (s *JSONL) Alert(ctx context.Context, owner, id string) (Alert, error) {
	if err := s.refresh(); err != nil {
		return Alert{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.alertIndex(owner, id)
	if i < 0 {
		return Alert{}, fmt.Errorf("alert %q: %w", id, ErrNotFound)
	}
	return s.alerts[i], nil
}

func (s *JSONL) Alerts(ctx context.Context, owner string) ([]Alert, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []Alert
	for _, a := range s.alerts {
		if a.Owner == owner {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b Alert) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *JSONL) UpdateAlert(ctx context.Context, a Alert) error {
	a.Asset = folio.NormalizeSymbol(a.Asset)
	return s.write(ctx, func() error {
		i := s.alertIndex(a.Owner, a.ID)
		if i < 0 {
			return fmt.Errorf("alert %q: %w", a.ID, ErrNotFound)
		}
		a.CreatedAt = s.alerts[i].CreatedAt
		s.alerts[i] = a
		return nil
	})
}

func (s *JSONL) DeleteAlert(ctx context.Context, owner, id string) error {
	return s.write(ctx, func() error {
		i := s.alertIndex(owner, id)
		if i < 0 {
			return fmt.Errorf("alert %q: %w", id, ErrNotFound)
		}
		s.alerts = slices.Delete(s.alerts, i, i+1)
		return nil
	})
}

func (s *JSONL) Close() error { return s.lock.Close() }
