// Package renderer renders portfolio reports as markdown.
package renderer

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
	"time"

	"github.com/etnz/folio"
	"github.com/etnz/folio/prices"
	"github.com/etnz/folio/store"
)

//go:embed templates/*.md
var templatesFS embed.FS

var templates = must(fs.Sub(templatesFS, "templates"))

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// funcs are available in every template.
var funcs = template.FuncMap{
	"price": func(o folio.Optional[folio.Money]) string {
		if m, ok := o.Get(); ok {
			return m.String()
		}
		return "n/a"
	},
	"signed": func(o folio.Optional[folio.Money]) string {
		if m, ok := o.Get(); ok {
			return m.SignedString()
		}
		return "n/a"
	},
	"pct": func(o folio.Optional[folio.Percent]) string {
		if p, ok := o.Get(); ok {
			return p.SignedString()
		}
		return "n/a"
	},
	"date":  func(t time.Time) string { return t.Format(time.DateOnly) },
	"short": shortID,
	"join":  strings.Join,
	"lower": func(s fmt.Stringer) string { return strings.ToLower(s.String()) },
}

// shortID returns the first eight characters of an ID, enough to tell records apart.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Summary renders the valuation of a portfolio.
func Summary(s folio.Summary) string {
	partials := map[string]string{
		"summary_holdings": "summary_holdings.md",
	}
	return renderTemplate("summary", "summary.md", partials, s)
}

// positionRow is a position with its symbol.
type positionRow struct {
	Symbol string
	folio.Position
}

func (p positionRow) Status() string {
	switch {
	case p.IsLong():
		return "long"
	case p.IsShort():
		return "short"
	default:
		return "flat"
	}
}

// Positions renders every position, flat and short ones included.
func Positions(ps folio.Positions) string {
	var rows []positionRow
	for sym := range ps.Symbols() {
		rows = append(rows, positionRow{Symbol: sym, Position: ps[sym]})
	}
	return renderTemplate("positions", "positions.md", nil, rows)
}

// Transactions renders a page of transactions.
func Transactions(page store.Page) string {
	return renderTemplate("transactions", "transactions.md", nil, page)
}

// Record renders a single transaction as a sentence.
func Record(r store.Record) string {
	verb := "Bought"
	if r.Kind == folio.Sell {
		verb = "Sold"
	}
	s := fmt.Sprintf("%s %v %s at %v on %s", verb, r.Quantity, r.Asset, r.Price, r.TradedAt.Format(time.DateOnly))
	if !r.Fee.IsZero() {
		s += fmt.Sprintf(" (fee %v)", r.Fee)
	}
	return s + fmt.Sprintf(", id `%s`", r.ID)
}

// Assets renders the asset catalogue.
func Assets(assets []prices.Asset) string {
	return renderTemplate("assets", "assets.md", nil, assets)
}

// alertList is the data of alerts.md.
type alertList struct {
	Title  string
	Empty  string
	Alerts []store.Alert
}

// Alerts renders price alerts.
func Alerts(alerts []store.Alert) string {
	return renderTemplate("alerts", "alerts.md", nil, alertList{"Alerts", "No alert.", alerts})
}

// Triggered renders the alerts found triggered by a check.
func Triggered(alerts []store.Alert) string {
	return renderTemplate("alerts", "alerts.md", nil, alertList{"Triggered Alerts", "No alert triggered.", alerts})
}

// renderTemplate renders a main template that depends on several partials.
func renderTemplate(templateName, mainFile string, partials map[string]string, data any) string {
	mainContent, err := fs.ReadFile(templates, mainFile)
	if err != nil {
		return fmt.Sprintf("error reading main template %q: %v", mainFile, err)
	}

	tmpl, err := template.New(templateName).Funcs(funcs).Parse(string(mainContent))
	if err != nil {
		return fmt.Sprintf("error parsing main template %q: %v", mainFile, err)
	}

	for name, file := range partials {
		var content []byte
		// An empty file name is a valid case, resulting in an empty template.
		if file != "" {
			content, err = fs.ReadFile(templates, file)
			if err != nil {
				return fmt.Sprintf("error reading partial template %q: %v", file, err)
			}
		}
		if _, err := tmpl.New(name).Parse(string(content)); err != nil {
			return fmt.Sprintf("error parsing partial template %q for %q: %v", file, name, err)
		}
	}

	var b strings.Builder
	if err := tmpl.ExecuteTemplate(&b, templateName, data); err != nil {
		return fmt.Sprintf("error executing template %q: %v", templateName, err)
	}
	return b.String()
}
