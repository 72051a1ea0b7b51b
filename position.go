package folio

import (
	"iter"
	"maps"
	"slices"
)

// Position is the state of one asset derived from its trade history.
type Position struct {
	NetQuantity Quantity // positive long, zero flat, negative net-short
	AvgCost     Money    // weighted average cost per unit, buy fees included; zero when flat
	RealizedPnL Money    // cumulative gains and losses of sells, net of sell fees
}

func (p Position) IsLong() bool  { return p.NetQuantity.IsPositive() }
func (p Position) IsFlat() bool  { return p.NetQuantity.IsZero() }
func (p Position) IsShort() bool { return p.NetQuantity.IsNegative() }

// Positions maps a normalized asset symbol to its Position.
type Positions map[string]Position

// Get returns the position of an asset, the zero Position if it never traded.
func (ps Positions) Get(asset string) Position {
	return ps[NormalizeSymbol(asset)]
}

// Symbols returns the symbols in lexical order.
func (ps Positions) Symbols() iter.Seq[string] {
	return slices.Values(slices.Sorted(maps.Keys(ps)))
}
