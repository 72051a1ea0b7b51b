package cmd

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/etnz/folio"
	"github.com/etnz/folio/accounting"
	"github.com/etnz/folio/renderer"
	"github.com/google/subcommands"
)

// tradeFlags are the fields of a trade as typed on the command line.
type tradeFlags struct {
	date     string
	asset    string
	quantity string
	price    string
	fee      string
	currency string
	note     string
}

func (t *tradeFlags) SetFlags(f *flag.FlagSet) {
	f.StringVar(&t.date, "d", "", "Trade date (YYYY-MM-DD or RFC 3339). Defaults to now.")
	f.StringVar(&t.asset, "s", "", "Asset symbol, e.g. BTC")
	f.StringVar(&t.quantity, "q", "", "Quantity traded")
	f.StringVar(&t.price, "p", "", "Unit price")
	f.StringVar(&t.fee, "f", "", "Total fee of the trade")
	f.StringVar(&t.currency, "c", "", "Settlement currency, the portfolio's base currency. Defaults to it.")
	f.StringVar(&t.note, "m", "", "An optional note for the transaction")
}

// --- Buy and Sell Commands ---

type tradeCmd struct {
	kind folio.Kind
	tradeFlags
}

func newTradeCmd(kind folio.Kind) *tradeCmd { return &tradeCmd{kind: kind} }

func (c *tradeCmd) Name() string { return strings.ToLower(c.kind.String()) }
func (c *tradeCmd) Synopsis() string {
	if c.kind == folio.Sell {
		return "record the sale of an asset"
	}
	return "record the purchase of an asset"
}
func (c *tradeCmd) Usage() string {
	return fmt.Sprintf(`pcs %s -s <asset> -q <quantity> -p <price> [-f <fee>] [-d <date>] [-c <currency>] [-m <note>]

  Records a %s trade in the portfolio. A sell cannot exceed the quantity held.
  The asset must be a known one (see pcs assets), and the trade settled in the
  portfolio's base currency.
`, c.Name(), c.Name())
}

func (c *tradeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.asset == "" || c.quantity == "" || c.price == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(ctx context.Context, a *app) error {
		p, err := a.portfolio(ctx)
		if err != nil {
			return err
		}
		cur := c.currency
		if cur == "" {
			cur = p.BaseCurrency.String()
		}
		in := accounting.Input{PortfolioID: p.ID, Asset: c.asset, Kind: c.kind, Note: c.note}
		if err := c.input(&in, strings.ToUpper(cur), time.Now()); err != nil {
			return err
		}
		r, err := a.system.CreateTransaction(ctx, a.cfg.Owner, in)
		if err != nil {
			return err
		}
		fmt.Fprintln(output, renderer.Record(r))
		return nil
	})
}

// input parses the flags that are set into in.
func (t *tradeFlags) input(in *accounting.Input, cur string, now time.Time) error {
	var err error
	if t.quantity != "" {
		if in.Quantity, err = folio.ParseQuantity(t.quantity); err != nil {
			return &folio.ValidationError{Field: "quantity", Reason: err.Error()}
		}
	}
	if t.price != "" {
		if in.Price, err = folio.ParseMoney(t.price, cur); err != nil {
			return &folio.ValidationError{Field: "price", Reason: err.Error()}
		}
	}
	in.Price = in.Price.In(cur)
	if t.fee != "" {
		if in.Fee, err = folio.ParseMoney(t.fee, cur); err != nil {
			return &folio.ValidationError{Field: "fee", Reason: err.Error()}
		}
	}
	in.Fee = in.Fee.In(cur)
	if t.date != "" || in.TradedAt.IsZero() {
		if in.TradedAt, err = parseTime(t.date, now); err != nil {
			return err
		}
	}
	return nil
}

// --- Edit Command ---

type editCmd struct {
	kind string
	tradeFlags
}

func (*editCmd) Name() string     { return "edit" }
func (*editCmd) Synopsis() string { return "change a recorded transaction" }
func (*editCmd) Usage() string {
	return `pcs edit [-s <asset>] [-k <kind>] [-q <quantity>] [-p <price>] [-f <fee>] [-d <date>] [-c <currency>] [-m <note>] <id>

  Changes the fields given of a transaction; the others are kept.
  An edited sell cannot exceed the quantity held without it.
`
}

func (c *editCmd) SetFlags(f *flag.FlagSet) {
	c.tradeFlags.SetFlags(f)
	f.StringVar(&c.kind, "k", "", "Trade kind: buy or sell")
}

func (c *editCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	id := f.Arg(0)
	return withApp(ctx, func(ctx context.Context, a *app) error {
		r, err := a.system.Transaction(ctx, a.cfg.Owner, id)
		if err != nil {
			return err
		}
		in := accounting.Input{
			Asset:    r.Asset,
			Kind:     r.Kind,
			Quantity: r.Quantity,
			Price:    r.Price,
			Fee:      r.Fee,
			TradedAt: r.TradedAt,
			Note:     r.Note,
		}
		if c.asset != "" {
			in.Asset = c.asset
		}
		if c.kind != "" {
			if in.Kind, err = folio.ParseKind(c.kind); err != nil {
				return err
			}
		}
		if c.note != "" {
			in.Note = c.note
		}
		cur := r.Currency()
		if c.currency != "" {
			cur = strings.ToUpper(c.currency)
		}
		if err := c.input(&in, cur, time.Now()); err != nil {
			return err
		}
		r, err = a.system.UpdateTransaction(ctx, a.cfg.Owner, id, in)
		if err != nil {
			return err
		}
		fmt.Fprintln(output, renderer.Record(r))
		return nil
	})
}

// --- Remove Command ---

type rmCmd struct{}

func (*rmCmd) Name() string     { return "rm" }
func (*rmCmd) Synopsis() string { return "delete recorded transactions" }
func (*rmCmd) Usage() string {
	return `pcs rm <id>...

  Deletes transactions.
`
}

func (*rmCmd) SetFlags(*flag.FlagSet) {}

func (c *rmCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(ctx context.Context, a *app) error {
		for _, id := range f.Args() {
			if err := a.system.DeleteTransaction(ctx, a.cfg.Owner, id); err != nil {
				return err
			}
			fmt.Fprintf(output, "Deleted %s\n", id)
		}
		return nil
	})
}
