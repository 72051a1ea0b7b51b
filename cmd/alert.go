package cmd

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/etnz/folio"
	"github.com/etnz/folio/accounting"
	"github.com/etnz/folio/renderer"
	"github.com/google/subcommands"
)

// alertCmd is a container for the price alert subcommands.
type alertCmd struct{}

func (*alertCmd) Name() string     { return "alert" }
func (*alertCmd) Synopsis() string { return "manage price alerts" }
func (*alertCmd) Usage() string {
	return `pcs alert <subcommand> [args]

Commands:
  add     - Watch the price of an asset.
  ls      - List the alerts.
  rm      - Delete alerts.
  enable  - Turn alerts on.
  disable - Turn alerts off.
  check   - Check the alerts against current prices.
`
}

// Subcommands returns the alert subcommands.
func (*alertCmd) Subcommands() []subcommands.Command {
	return []subcommands.Command{
		&alertAddCmd{},
		&alertLsCmd{},
		&alertRmCmd{},
		&alertToggleCmd{enabled: true},
		&alertToggleCmd{enabled: false},
		&alertCheckCmd{},
	}
}

func (c *alertCmd) SetFlags(f *flag.FlagSet) {}
func (c *alertCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	commander := subcommands.NewCommander(f, "alert")
	for _, sub := range c.Subcommands() {
		commander.Register(sub, "")
	}
	return commander.Execute(ctx, args...)
}

// --- Add Command ---

type alertAddCmd struct {
	asset     string
	condition string
	threshold string
	currency  string
	disabled  bool
}

func (*alertAddCmd) Name() string     { return "add" }
func (*alertAddCmd) Synopsis() string { return "watch the price of an asset" }
func (*alertAddCmd) Usage() string {
	return `pcs alert add -s <asset> -cond above|below -p <threshold> [-c <currency>] [-disabled]

  Records an alert that triggers once the price of the asset is at or above,
  or at or below, the threshold.
`
}

func (c *alertAddCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.asset, "s", "", "Asset symbol, e.g. BTC")
	f.StringVar(&c.condition, "cond", "", "Condition: above or below")
	f.StringVar(&c.threshold, "p", "", "Price threshold")
	f.StringVar(&c.currency, "c", "", "Currency of the threshold. Defaults to the configured currency.")
	f.BoolVar(&c.disabled, "disabled", false, "Record the alert turned off")
}

func (c *alertAddCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.asset == "" || c.condition == "" || c.threshold == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(ctx context.Context, a *app) error {
		cond, err := folio.ParseCondition(c.condition)
		if err != nil {
			return err
		}
		cur := a.cfg.Currency.String()
		if c.currency != "" {
			cur = strings.ToUpper(c.currency)
		}
		threshold, err := folio.ParseMoney(c.threshold, cur)
		if err != nil {
			return &folio.ValidationError{Field: "threshold", Reason: err.Error()}
		}
		alert, err := a.system.CreateAlert(ctx, a.cfg.Owner, accounting.AlertInput{
			Asset:     c.asset,
			Condition: cond,
			Threshold: threshold,
			Enabled:   !c.disabled,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(output, "Alert `%s` on %s %s %v\n", alert.ID, alert.Asset, strings.ToLower(alert.Condition.String()), alert.Threshold)
		return nil
	})
}

// --- List Command ---

type alertLsCmd struct{}

func (*alertLsCmd) Name() string     { return "ls" }
func (*alertLsCmd) Synopsis() string { return "list the alerts" }
func (*alertLsCmd) Usage() string {
	return `pcs alert ls

  Lists the alerts, newest first.
`
}

func (*alertLsCmd) SetFlags(*flag.FlagSet) {}

func (c *alertLsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		alerts, err := a.system.Alerts(ctx, a.cfg.Owner)
		if err != nil {
			return err
		}
		printMarkdown(renderer.Alerts(alerts))
		return nil
	})
}

// --- Remove Command ---

type alertRmCmd struct{}

func (*alertRmCmd) Name() string     { return "rm" }
func (*alertRmCmd) Synopsis() string { return "delete alerts" }
func (*alertRmCmd) Usage() string {
	return `pcs alert rm <id>...

  Deletes alerts.
`
}

func (*alertRmCmd) SetFlags(*flag.FlagSet) {}

func (c *alertRmCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(ctx context.Context, a *app) error {
		for _, id := range f.Args() {
			if err := a.system.DeleteAlert(ctx, a.cfg.Owner, id); err != nil {
				return err
			}
			fmt.Fprintf(output, "Deleted alert %s\n", id)
		}
		return nil
	})
}

// --- Enable and Disable Commands ---

type alertToggleCmd struct {
	enabled bool
}

func (c *alertToggleCmd) Name() string {
	if c.enabled {
		return "enable"
	}
	return "disable"
}
func (c *alertToggleCmd) Synopsis() string { return c.Name() + " alerts" }
func (c *alertToggleCmd) Usage() string {
	return fmt.Sprintf(`pcs alert %s <id>...

  Turns alerts on or off. Disabled alerts are not checked.
`, c.Name())
}

func (*alertToggleCmd) SetFlags(*flag.FlagSet) {}

func (c *alertToggleCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(ctx context.Context, a *app) error {
		for _, id := range f.Args() {
			if _, err := a.system.SetAlertEnabled(ctx, a.cfg.Owner, id, c.enabled); err != nil {
				return err
			}
			verb := "Disabled"
			if c.enabled {
				verb = "Enabled"
			}
			fmt.Fprintf(output, "%s alert %s\n", verb, id)
		}
		return nil
	})
}

// --- Check Command ---

type alertCheckCmd struct{}

func (*alertCheckCmd) Name() string     { return "check" }
func (*alertCheckCmd) Synopsis() string { return "check the alerts against current prices" }
func (*alertCheckCmd) Usage() string {
	return `pcs alert check

  Fetches the current price of every watched asset and lists the alerts
  triggered, recording their trigger time.
`
}

func (*alertCheckCmd) SetFlags(*flag.FlagSet) {}

func (c *alertCheckCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		triggered, err := a.system.CheckAlerts(ctx, a.cfg.Owner)
		if err != nil {
			return err
		}
		printMarkdown(renderer.Triggered(triggered))
		return nil
	})
}
