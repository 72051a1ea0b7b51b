// Package config loads the pcs configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/etnz/folio"
	"github.com/etnz/folio/prices"
	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration.
type Config struct {
	Owner    string         `yaml:"owner"`    // identity the portfolios are scoped by
	Currency folio.Currency `yaml:"currency"` // base currency of new portfolios
	Store    StoreConfig    `yaml:"store"`
	Prices   PricesConfig   `yaml:"prices"`
	Log      LogConfig      `yaml:"log"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite or jsonl
	Path   string `yaml:"path"`   // relative to the config file
}

type PricesConfig struct {
	// Source is coingecko, static or none.
	Source       string        `yaml:"source"`
	CoinGeckoURL string        `yaml:"coingeckoURL"`
	Timeout      time.Duration `yaml:"timeout"`
	CacheTTL     time.Duration `yaml:"cacheTTL"`
	// CoinIDMap maps symbols to CoinGecko ids, on top of the defaults.
	CoinIDMap map[string]string `yaml:"coinIDs"`
	// Static maps symbols to a fixed price in the base currency.
	Static map[string]string `yaml:"static"`
	// Record keeps price snapshots in the sqlite store.
	Record bool `yaml:"record"`
}

// Default returns the configuration used when there is no file.
func Default() Config {
	return Config{
		Owner:    defaultOwner(),
		Currency: folio.EUR,
		Store: StoreConfig{
			Driver: "jsonl",
			Path:   "transactions.jsonl",
		},
		Prices: PricesConfig{
			Source:       "coingecko",
			CoinGeckoURL: prices.DefaultCoinGeckoURL,
			Timeout:      prices.DefaultTimeout,
			CacheTTL:     prices.DefaultTTL,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

func defaultOwner() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "me"
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error when
// optional is true.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && optional:
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml %q: %w", path, err)
		}
		// a relative store path is relative to the config file.
		if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
			cfg.Store.Path = filepath.Join(filepath.Dir(path), cfg.Store.Path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overrides fields from FOLIO_* environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("FOLIO_OWNER"); v != "" {
		c.Owner = v
	}
	if v := os.Getenv("FOLIO_CURRENCY"); v != "" {
		cur, err := folio.ParseCurrency(v)
		if err != nil {
			return fmt.Errorf("FOLIO_CURRENCY: %w", err)
		}
		c.Currency = cur
	}
	if v := os.Getenv("FOLIO_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("FOLIO_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("FOLIO_COINGECKO_URL"); v != "" {
		c.Prices.CoinGeckoURL = v
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Owner == "" {
		return errors.New("owner is required")
	}
	if _, err := folio.ParseCurrency(c.Currency.String()); err != nil {
		return fmt.Errorf("currency: %w", err)
	}
	switch c.Store.Driver {
	case "sqlite", "jsonl":
	default:
		return fmt.Errorf("store.driver must be sqlite or jsonl, got %q", c.Store.Driver)
	}
	if c.Store.Path == "" {
		return errors.New("store.path is required")
	}
	switch c.Prices.Source {
	case "coingecko", "static", "none":
	default:
		return fmt.Errorf("prices.source must be coingecko, static or none, got %q", c.Prices.Source)
	}
	if c.Prices.Timeout < 0 || c.Prices.CacheTTL < 0 {
		return errors.New("prices.timeout and prices.cacheTTL must be >= 0")
	}
	if c.Prices.Record && c.Store.Driver != "sqlite" {
		return errors.New("prices.record requires the sqlite store")
	}
	for sym, p := range c.Prices.Static {
		if _, err := folio.ParseMoney(p, c.Currency.String()); err != nil {
			return fmt.Errorf("prices.static.%s: %w", sym, err)
		}
	}
	return c.Log.Validate()
}

// Catalogue returns the default assets plus those given a coin id in the
// configuration.
func (p PricesConfig) Catalogue() prices.Catalogue {
	extra := make([]prices.Asset, 0, len(p.CoinIDMap))
	for sym, id := range p.CoinIDMap {
		a, ok := prices.NewCatalogue(prices.DefaultAssets).Lookup(sym)
		if !ok {
			a = prices.Asset{Symbol: sym}
		}
		a.CoinID = id
		extra = append(extra, a)
	}
	return prices.NewCatalogue(prices.DefaultAssets, extra)
}

// CoinIDs returns the CoinGecko id of every asset of the catalogue.
func (p PricesConfig) CoinIDs() map[string]string {
	return p.Catalogue().CoinIDs()
}

// StaticPrices returns the configured fixed prices, in cur.
func (p PricesConfig) StaticPrices(cur folio.Currency) map[string]folio.Money {
	out := make(map[string]folio.Money, len(p.Static))
	for sym, s := range p.Static {
		if m, err := folio.ParseMoney(s, cur.String()); err == nil {
			out[sym] = m
		}
	}
	return out
}
