// Package cmd implements the pcs subcommands.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/etnz/folio"
	"github.com/etnz/folio/accounting"
	"github.com/etnz/folio/config"
	"github.com/etnz/folio/prices"
	"github.com/etnz/folio/store"
	"github.com/google/subcommands"
	"go.uber.org/zap"
)

// DefaultConfigFile is read from the current directory when -config is not set.
const DefaultConfigFile = "folio.yaml"

// as a CLI application, it has a very short lived lifecycle, so it is ok to use global variables.

var (
	configFile  = flag.String("config", DefaultConfigFile, "Path to the configuration file")
	ownerFlag   = flag.String("owner", "", "Owner of the portfolios. Overrides the configuration.")
	portfolioID = flag.String("portfolio", "", "Portfolio to work on. Defaults to the owner's oldest portfolio.")
)

// output receives everything the commands print but errors.
var output io.Writer = os.Stdout

// Commands lists the pcs subcommands, in the order of the help.
var Commands = []subcommands.Command{
	&initCmd{},
	newTradeCmd(folio.Buy),
	newTradeCmd(folio.Sell),
	&editCmd{},
	&rmCmd{},
	&txCmd{},
	&positionsCmd{},
	&summaryCmd{},
	&assetsCmd{},
	&alertCmd{},
	&topicCmd{},
}

// app is what a command works with.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  store.Store
	system *accounting.System
}

// openApp loads the configuration and opens the store it names.
func openApp() (*app, error) {
	cfg, err := config.Load(*configFile, *configFile == DefaultConfigFile)
	if err != nil {
		return nil, err
	}
	if *ownerFlag != "" {
		cfg.Owner = *ownerFlag
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	logger.Debug("store opened", zap.String("driver", cfg.Store.Driver), zap.String("path", cfg.Store.Path))

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		system: accounting.New(st, priceSource(cfg, st, logger), logger, accounting.WithCatalogue(cfg.Prices.Catalogue())),
	}, nil
}

// priceSource returns the configured source behind a cache.
func priceSource(cfg config.Config, st store.Store, logger *zap.Logger) prices.Source {
	var src prices.Source
	switch cfg.Prices.Source {
	case "none":
		return nil
	case "static":
		src = prices.NewStatic(cfg.Prices.StaticPrices(cfg.Currency))
	default:
		src = prices.NewCoinGecko(cfg.Prices.CoinGeckoURL, cfg.Prices.CoinIDs(), cfg.Prices.Timeout, logger)
	}

	opts := []prices.CacheOption{prices.WithTTL(cfg.Prices.CacheTTL), prices.WithLogger(logger)}
	if rec, ok := st.(prices.Recorder); ok && cfg.Prices.Record {
		opts = append(opts, prices.WithRecorder(rec))
	}
	return prices.NewCache(src, opts...)
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing store: %v\n", err)
	}
	_ = a.logger.Sync()
}

// portfolio returns the selected portfolio. When the owner has none yet and
// none was asked for, a default one is opened in the configured currency.
func (a *app) portfolio(ctx context.Context) (store.Portfolio, error) {
	p, err := a.system.Portfolio(ctx, a.cfg.Owner, *portfolioID)
	if errors.Is(err, store.ErrNotFound) && *portfolioID == "" {
		return a.system.OpenPortfolio(ctx, a.cfg.Owner, "", a.cfg.Currency)
	}
	if err != nil {
		return store.Portfolio{}, fmt.Errorf("portfolio %q: %w", *portfolioID, err)
	}
	return p, nil
}

// withApp opens the app, runs fn and reports its error.
func withApp(ctx context.Context, fn func(context.Context, *app) error) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()
	if err := fn(ctx, a); err != nil {
		return failure(err)
	}
	return subcommands.ExitSuccess
}

// failure reports err and maps it to an exit status: rejected trades and
// alerts are usage errors, anything else a failure.
func failure(err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if errors.Is(err, folio.ErrInvalid) || errors.Is(err, folio.ErrOversell) {
		return subcommands.ExitUsageError
	}
	return subcommands.ExitFailure
}

// printMarkdown renders md for the terminal, or prints it as is if it cannot.
func printMarkdown(md string) {
	out, err := glamour.Render(md, "auto")
	if err != nil {
		fmt.Fprint(output, md)
		return
	}
	fmt.Fprint(output, out)
}

// parseTime parses a YYYY-MM-DD date or an RFC 3339 time. Empty means now.
func parseTime(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &folio.ValidationError{Field: "date", Reason: fmt.Sprintf("%q is neither YYYY-MM-DD nor RFC 3339", s)}
	}
	return t, nil
}
