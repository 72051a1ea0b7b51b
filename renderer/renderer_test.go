package renderer

import (
	"io/fs"
	"strings"
	"testing"
	"text/template"
	"time"

	"github.com/etnz/folio"
	"github.com/etnz/folio/prices"
	"github.com/etnz/folio/store"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// document is the structure of a rendered markdown report.
type document struct {
	headings []string
	tables   [][][]string // table, row, cell; the header row first
	para     []string
}

// parse parses md the way the terminal renderer does, with GFM tables.
func parse(t *testing.T, md string) document {
	t.Helper()
	source := []byte(md)
	root := goldmark.New(goldmark.WithExtensions(extension.Table)).Parser().Parse(text.NewReader(source))

	var doc document
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Heading:
			doc.headings = append(doc.headings, textOf(n, source))
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph:
			doc.para = append(doc.para, textOf(n, source))
			return ast.WalkSkipChildren, nil
		case *east.Table:
			var table [][]string
			for row := n.FirstChild(); row != nil; row = row.NextSibling() {
				var cells []string
				for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
					cells = append(cells, textOf(cell, source))
				}
				table = append(table, cells)
			}
			doc.tables = append(doc.tables, table)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		t.Fatalf("walking markdown: %v", err)
	}
	return doc
}

// textOf concatenates the text and code spans under n.
func textOf(n ast.Node, source []byte) string {
	var b strings.Builder
	ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c := c.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(source))
			if c.SoftLineBreak() {
				b.WriteString(" ")
			}
		case *ast.String:
			b.Write(c.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func eur(v float64) folio.Money { return folio.M(v, "EUR") }

func TestSummary(t *testing.T) {
	positions := folio.ReplaySlice([]folio.TradeEvent{
		folio.NewBuy("BTC", folio.Q(2), eur(100), eur(0)),
		folio.NewBuy("BTC", folio.Q(3), eur(120), eur(5)),
		folio.NewSell("BTC", folio.Q(4), eur(110), eur(1)),
		folio.NewBuy("ADA", folio.Q(10), eur(2), eur(0)),
	})
	s := folio.Summarize(positions, folio.Quotes{"BTC": folio.Some(eur(150))})
	s.PortfolioID = "0123456789abcdef"
	s.Currency = folio.EUR

	md := Summary(s)
	doc := parse(t, md)

	if got, want := doc.headings, []string{"Portfolio Summary 01234567", "Holdings"}; strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("headings = %q, want %q", got, want)
	}
	if len(doc.tables) != 2 {
		t.Fatalf("got %d tables, want 2:\n%s", len(doc.tables), md)
	}

	totals := doc.tables[0]
	if got := totals[0][1]; got != "EUR" {
		t.Errorf("totals header = %q, want EUR", got)
	}
	if got := len(totals); got != 5 {
		t.Errorf("totals has %d rows, want 5", got)
	}

	holdings := doc.tables[1]
	if got := len(holdings); got != 3 {
		t.Fatalf("holdings has %d rows, want header + 2:\n%s", got, md)
	}
	ada, btc := holdings[1], holdings[2]
	if ada[0] != "ADA" || btc[0] != "BTC" {
		t.Errorf("holdings are not sorted: %q, %q", ada[0], btc[0])
	}
	for _, col := range []int{3, 4, 5, 6} {
		if ada[col] != "n/a" {
			t.Errorf("ADA column %q = %q, want n/a", holdings[0][col], ada[col])
		}
	}
	if got, want := btc[6], "+32.74%"; got != want {
		t.Errorf("BTC unrealized %% = %q, want %q", got, want)
	}
	if got, want := btc[1], "1"; got != want {
		t.Errorf("BTC quantity = %q, want %q", got, want)
	}

	if len(doc.para) == 0 || !strings.Contains(doc.para[len(doc.para)-1], "ADA") {
		t.Errorf("missing unpriced notice in:\n%s", md)
	}
}

func TestSummary_Empty(t *testing.T) {
	doc := parse(t, Summary(folio.Summary{}))
	if len(doc.tables) != 1 {
		t.Errorf("got %d tables, want only the totals", len(doc.tables))
	}
	if len(doc.para) != 1 || doc.para[0] != "No open position." {
		t.Errorf("paragraphs = %q", doc.para)
	}
}

func TestPositions(t *testing.T) {
	positions := folio.ReplaySlice([]folio.TradeEvent{
		folio.NewBuy("ETH", folio.Q(1), eur(200), eur(0)),
		folio.NewSell("ETH", folio.Q(1), eur(250), eur(0)),
		folio.NewBuy("SOL", folio.Q(1), eur(100), eur(0)),
		folio.NewSell("SOL", folio.Q(2), eur(120), eur(0)),
		folio.NewBuy("BTC", folio.Q(1), eur(10), eur(0)),
	})
	doc := parse(t, Positions(positions))
	if len(doc.tables) != 1 {
		t.Fatalf("got %d tables, want 1", len(doc.tables))
	}
	rows := doc.tables[0][1:]
	want := [][2]string{{"BTC", "long"}, {"ETH", "flat"}, {"SOL", "short"}}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
	for i, w := range want {
		if rows[i][0] != w[0] || rows[i][1] != w[1] {
			t.Errorf("row %d = %q, want %q", i, rows[i][:2], w)
		}
	}
	if got := rows[2][2]; got != "-1" {
		t.Errorf("SOL net quantity = %q, want -1", got)
	}

	doc = parse(t, Positions(nil))
	if len(doc.para) != 1 || doc.para[0] != "No transaction recorded." {
		t.Errorf("paragraphs = %q", doc.para)
	}
}

func TestTransactions(t *testing.T) {
	page := store.Page{
		Items: []store.Record{{
			ID:       "f47ac10b-58cc-4372-a567-0e02b2c3d479",
			Asset:    "BTC",
			Kind:     folio.Sell,
			Quantity: folio.Q(0.5),
			Price:    eur(30000),
			Fee:      eur(12),
			TradedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			Note:     "rebalance",
		}},
		Page:  2,
		Size:  1,
		Total: 3,
	}
	doc := parse(t, Transactions(page))
	if len(doc.tables) != 1 || len(doc.tables[0]) != 2 {
		t.Fatalf("tables = %q", doc.tables)
	}
	row := doc.tables[0][1]
	want := []string{"2025-03-01", "f47ac10b", "sell", "BTC", "0.5"}
	for i, w := range want {
		if row[i] != w {
			t.Errorf("cell %d = %q, want %q", i, row[i], w)
		}
	}
	if got := row[7]; got != "rebalance" {
		t.Errorf("note = %q", got)
	}
	if len(doc.para) != 1 || doc.para[0] != "Page 2 of 3, 3 transactions." {
		t.Errorf("paragraphs = %q", doc.para)
	}

	doc = parse(t, Transactions(store.Page{Page: 1, Size: 20}))
	if len(doc.para) != 1 || doc.para[0] != "No transaction found." {
		t.Errorf("paragraphs = %q", doc.para)
	}
}

func TestRecord(t *testing.T) {
	r := store.Record{
		ID:       "t1",
		Asset:    "ETH",
		Kind:     folio.Buy,
		Quantity: folio.Q(2),
		Price:    folio.M(10, ""),
		TradedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if got, want := Record(r), "Bought 2 ETH at 10.00 on 2025-03-01, id `t1`"; got != want {
		t.Errorf("Record() = %q, want %q", got, want)
	}
	r.Kind, r.Fee = folio.Sell, folio.M(1, "")
	if got := Record(r); !strings.HasPrefix(got, "Sold") || !strings.Contains(got, "(fee 1.00)") {
		t.Errorf("Record() = %q", got)
	}
}

func TestTemplates(t *testing.T) {
	names, err := fs.Glob(templates, "*.md")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 {
		t.Fatal("no template embedded")
	}
	for _, name := range names {
		content, err := fs.ReadFile(templates, name)
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if _, err := template.New(name).Funcs(funcs).Parse(string(content)); err != nil {
			t.Errorf("parsing %s: %v", name, err)
		}
	}
}

func TestAssets(t *testing.T) {
	assets := prices.NewCatalogue([]prices.Asset{
		{Symbol: "eth", Name: "Ethereum", CoinID: "ethereum"},
		{Symbol: "PEPE"},
	}).Assets()
	doc := parse(t, Assets(assets))
	if len(doc.tables) != 1 || len(doc.tables[0]) != 3 {
		t.Fatalf("tables = %q", doc.tables)
	}
	if got, want := strings.Join(doc.tables[0][1], "|"), "ETH|Ethereum|ethereum"; got != want {
		t.Errorf("ETH row = %q, want %q", got, want)
	}
	if got, want := strings.Join(doc.tables[0][2], "|"), "PEPE|PEPE|-"; got != want {
		t.Errorf("PEPE row = %q, want %q", got, want)
	}

	doc = parse(t, Assets(nil))
	if len(doc.para) != 1 || doc.para[0] != "Any asset symbol is accepted." {
		t.Errorf("paragraphs = %q", doc.para)
	}
}

func TestAlerts(t *testing.T) {
	alerts := []store.Alert{
		{
			ID:              "0f8fad5b-d9cb-469f-a165-70867728950e",
			Asset:           "BTC",
			Condition:       folio.Above,
			Threshold:       folio.M(50000, ""),
			Enabled:         true,
			LastTriggeredAt: time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC),
		},
		{ID: "a2", Asset: "ETH", Condition: folio.Below, Threshold: folio.M(1000, "")},
	}
	doc := parse(t, Alerts(alerts))
	if got, want := doc.headings, []string{"Alerts"}; strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("headings = %q, want %q", got, want)
	}
	if len(doc.tables) != 1 || len(doc.tables[0]) != 3 {
		t.Fatalf("tables = %q", doc.tables)
	}
	want := [][]string{
		{"0f8fad5b", "BTC", "above", "50000.00", "yes", "2025-03-02"},
		{"a2", "ETH", "below", "1000.00", "no", "never"},
	}
	for i, w := range want {
		if got := doc.tables[0][i+1]; strings.Join(got, "|") != strings.Join(w, "|") {
			t.Errorf("row %d = %q, want %q", i, got, w)
		}
	}

	doc = parse(t, Triggered(nil))
	if got := doc.headings; len(got) != 1 || got[0] != "Triggered Alerts" {
		t.Errorf("headings = %q", got)
	}
	if len(doc.para) != 1 || doc.para[0] != "No alert triggered." {
		t.Errorf("paragraphs = %q", doc.para)
	}
}
