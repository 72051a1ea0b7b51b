package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"github.com/etnz/folio/renderer"
	"github.com/google/subcommands"
)

// --- Positions Command ---

type positionsCmd struct{}

func (*positionsCmd) Name() string     { return "positions" }
func (*positionsCmd) Synopsis() string { return "display every position of the portfolio" }
func (*positionsCmd) Usage() string {
	return `pcs positions

  Replays the transactions and displays the net quantity, average cost and
  realized PnL of every asset ever traded.
`
}

func (*positionsCmd) SetFlags(*flag.FlagSet) {}

func (c *positionsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		p, err := a.portfolio(ctx)
		if err != nil {
			return err
		}
		positions, err := a.system.Positions(ctx, a.cfg.Owner, p.ID)
		if err != nil {
			return err
		}
		printMarkdown(renderer.Positions(positions))
		return nil
	})
}

// --- Assets Command ---

type assetsCmd struct{}

func (*assetsCmd) Name() string     { return "assets" }
func (*assetsCmd) Synopsis() string { return "list the assets that can be traded" }
func (*assetsCmd) Usage() string {
	return `pcs assets

  Lists the known assets and their CoinGecko id. The prices.coinIDs
  configuration adds assets to the list.
`
}

func (*assetsCmd) SetFlags(*flag.FlagSet) {}

func (c *assetsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		printMarkdown(renderer.Assets(a.system.Assets()))
		return nil
	})
}

// --- Summary Command ---

type summaryCmd struct {
	json bool
}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "value the portfolio at market prices" }
func (*summaryCmd) Usage() string {
	return `pcs summary [-json]

  Displays the value, cost and profit and loss of the open positions at
  current market prices.
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.json, "json", false, "Print the summary as JSON")
}

func (c *summaryCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		p, err := a.portfolio(ctx)
		if err != nil {
			return err
		}
		s, err := a.system.Summary(ctx, a.cfg.Owner, p.ID)
		if err != nil {
			return err
		}
		if c.json {
			data, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(output, string(data))
			return nil
		}
		printMarkdown(renderer.Summary(s))
		return nil
	})
}
