package prices

import (
	"slices"
	"strings"

	"github.com/etnz/folio"
)

// Asset is a tradable asset.
type Asset struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	CoinID string `json:"coinId"` // CoinGecko id
}

// DefaultAssets are the assets known out of the box.
var DefaultAssets = []Asset{
	{Symbol: "ATOM", Name: "Cosmos", CoinID: "cosmos"},
	{Symbol: "BTC", Name: "Bitcoin", CoinID: "bitcoin"},
	{Symbol: "CKB", Name: "Nervos CKB", CoinID: "nervos-network"},
	{Symbol: "CLORE", Name: "Clore", CoinID: "clore-ai"},
	{Symbol: "DOGE", Name: "Dogecoin", CoinID: "dogecoin"},
	{Symbol: "ETH", Name: "Ethereum", CoinID: "ethereum"},
	{Symbol: "KAS", Name: "Kaspa", CoinID: "kaspa"},
	{Symbol: "LINK", Name: "Chainlink", CoinID: "chainlink"},
	{Symbol: "MATIC", Name: "Polygon", CoinID: "matic-network"},
	{Symbol: "SOL", Name: "Solana", CoinID: "solana"},
	{Symbol: "TAO", Name: "Bittensor", CoinID: "bittensor"},
	{Symbol: "XRP", Name: "XRP", CoinID: "ripple"},
}

// DefaultCoinIDs maps the default assets to their CoinGecko id.
var DefaultCoinIDs = NewCatalogue(DefaultAssets).CoinIDs()

// Catalogue is the set of assets that can be traded, by symbol.
type Catalogue map[string]Asset

// NewCatalogue indexes assets by normalized symbol. A later asset replaces an
// earlier one with the same symbol.
func NewCatalogue(assets ...[]Asset) Catalogue {
	c := make(Catalogue)
	for _, list := range assets {
		for _, a := range list {
			a.Symbol = folio.NormalizeSymbol(a.Symbol)
			if a.Symbol == "" {
				continue
			}
			if a.Name == "" {
				a.Name = a.Symbol
			}
			c[a.Symbol] = a
		}
	}
	return c
}

// Lookup returns the asset of symbol, case-insensitively.
func (c Catalogue) Lookup(symbol string) (Asset, bool) {
	a, ok := c[folio.NormalizeSymbol(symbol)]
	return a, ok
}

// Assets returns the assets sorted by symbol.
func (c Catalogue) Assets() []Asset {
	out := make([]Asset, 0, len(c))
	for _, a := range c {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Asset) int { return strings.Compare(a.Symbol, b.Symbol) })
	return out
}

// CoinIDs returns the CoinGecko id of every asset that has one.
func (c Catalogue) CoinIDs() map[string]string {
	ids := make(map[string]string, len(c))
	for sym, a := range c {
		if a.CoinID != "" {
			ids[sym] = a.CoinID
		}
	}
	return ids
}
