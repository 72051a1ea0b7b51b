package cmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/etnz/folio"
	"github.com/google/subcommands"
)

type initCmd struct {
	name     string
	currency string
}

func (*initCmd) Name() string     { return "init" }
func (*initCmd) Synopsis() string { return "open a new portfolio" }
func (*initCmd) Usage() string {
	return `pcs init [-name <name>] [-c <currency>]

  Opens a new portfolio for the owner, valued in EUR or USD.
`
}

func (c *initCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "Name of the portfolio")
	f.StringVar(&c.currency, "c", "", "Base currency (EUR or USD). Defaults to the configured currency.")
}

func (c *initCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		cur := a.cfg.Currency
		if c.currency != "" {
			var err error
			if cur, err = folio.ParseCurrency(c.currency); err != nil {
				return err
			}
		}
		p, err := a.system.OpenPortfolio(ctx, a.cfg.Owner, c.name, cur)
		if err != nil {
			return err
		}
		fmt.Fprintf(output, "Opened portfolio %s (%s)\n", p.ID, p.BaseCurrency)
		return nil
	})
}
