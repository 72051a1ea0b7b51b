package cmd

import (
	"context"
	"flag"
	"time"

	"github.com/etnz/folio"
	"github.com/etnz/folio/renderer"
	"github.com/etnz/folio/store"
	"github.com/google/subcommands"
)

type txCmd struct {
	asset string
	kind  string
	from  string
	to    string
	page  int
	size  int
}

func (*txCmd) Name() string     { return "tx" }
func (*txCmd) Synopsis() string { return "list the transactions of the portfolio" }
func (*txCmd) Usage() string {
	return `pcs tx [-s <asset>] [-k <kind>] [-from <date>] [-to <date>] [-page <n>] [-size <n>]

  Lists transactions, most recent first, one page at a time.
`
}

func (c *txCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.asset, "s", "", "Only the transactions of this asset")
	f.StringVar(&c.kind, "k", "", "Only the transactions of this kind: buy or sell")
	f.StringVar(&c.from, "from", "", "Only the transactions on or after this date")
	f.StringVar(&c.to, "to", "", "Only the transactions on or before this date. A date includes the whole day.")
	f.IntVar(&c.page, "page", 1, "Page to show")
	f.IntVar(&c.size, "size", store.DefaultPageSize, "Number of transactions per page")
}

// filter returns the store filter described by the flags.
func (c *txCmd) filter() (store.Filter, error) {
	f := store.Filter{Asset: c.asset, Page: c.page, Size: c.size}
	var err error
	if c.kind != "" {
		if f.Kind, err = folio.ParseKind(c.kind); err != nil {
			return f, err
		}
	}
	if c.from != "" {
		if f.From, err = parseTime(c.from, time.Time{}); err != nil {
			return f, err
		}
	}
	if c.to != "" {
		if f.To, err = parseTime(c.to, time.Time{}); err != nil {
			return f, err
		}
		if _, dateOnly := time.Parse(time.DateOnly, c.to); dateOnly == nil {
			f.To = f.To.Add(24*time.Hour - time.Nanosecond)
		}
	}
	return f, nil
}

func (c *txCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	filter, err := c.filter()
	if err != nil {
		return failure(err)
	}
	return withApp(ctx, func(ctx context.Context, a *app) error {
		p, err := a.portfolio(ctx)
		if err != nil {
			return err
		}
		filter.PortfolioID = p.ID
		page, err := a.system.ListTransactions(ctx, a.cfg.Owner, filter)
		if err != nil {
			return err
		}
		printMarkdown(renderer.Transactions(page))
		return nil
	})
}
