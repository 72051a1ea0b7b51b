package folio

import (
	"github.com/shopspring/decimal"
)

// Quotes maps an asset symbol to its current unit price, if known.
// A missing symbol and a None entry both mean the price is unavailable.
type Quotes map[string]Optional[Money]

// Price returns the quote of an asset.
func (q Quotes) Price(asset string) Optional[Money] {
	return q[NormalizeSymbol(asset)]
}

// Holding is the valuation of one long position.
type Holding struct {
	Symbol           string            `json:"symbol"`
	Quantity         Quantity          `json:"quantity"`
	AvgCost          Money             `json:"avgCost"`
	MarketPrice      Optional[Money]   `json:"marketPrice"`
	Value            Optional[Money]   `json:"value"`
	Invested         Money             `json:"invested"`
	UnrealizedPnL    Optional[Money]   `json:"unrealizedPnl"`
	UnrealizedPnLPct Optional[Percent] `json:"unrealizedPnlPct"`
	RealizedPnL      Money             `json:"realizedPnl"`
}

// Summary is the valuation of a whole portfolio.
type Summary struct {
	PortfolioID        string    `json:"portfolioId,omitempty"`
	Currency           Currency  `json:"baseCurrency,omitempty"`
	TotalValue         Money     `json:"totalValue"`
	TotalCost          Money     `json:"totalCost"`
	TotalUnrealizedPnL Money     `json:"totalUnrealizedPnl"`
	TotalRealizedPnL   Money     `json:"totalRealizedPnl"`
	Holdings           []Holding `json:"positions"`
}

// Unpriced returns the symbols of the holdings without a market price.
func (s Summary) Unpriced() []string {
	var syms []string
	for _, h := range s.Holdings {
		if !h.MarketPrice.Valid() {
			syms = append(syms, h.Symbol)
		}
	}
	return syms
}

var hundred = decimal.NewFromInt(100)

// Summarize values positions against quotes.
//
// Only long positions are valued; flat and net-short positions are left out
// of the holdings and of the value, cost and unrealized totals, but their
// realized PnL still counts in TotalRealizedPnL. A position without a quote
// keeps its invested amount in TotalCost while its price dependent fields are
// None and it contributes nothing to TotalValue or TotalUnrealizedPnL.
//
// Holdings are sorted by symbol.
func Summarize(positions Positions, quotes Quotes) Summary {
	var s Summary
	for sym := range positions.Symbols() {
		pos := positions[sym]
		s.TotalRealizedPnL = s.TotalRealizedPnL.Add(pos.RealizedPnL)
		if !pos.IsLong() {
			continue
		}

		h := Holding{
			Symbol:      sym,
			Quantity:    pos.NetQuantity,
			AvgCost:     pos.AvgCost,
			Invested:    pos.AvgCost.Mul(pos.NetQuantity),
			RealizedPnL: pos.RealizedPnL,
		}
		if price, ok := quotes.Price(sym).Get(); ok {
			value := price.Mul(pos.NetQuantity)
			unrealized := price.Sub(pos.AvgCost).Mul(pos.NetQuantity)
			h.MarketPrice = Some(price)
			h.Value = Some(value)
			h.UnrealizedPnL = Some(unrealized)
			if pos.AvgCost.IsPositive() {
				pct := price.Ratio(pos.AvgCost).Sub(decimal.NewFromInt(1)).Mul(hundred)
				h.UnrealizedPnLPct = Some(percentOf(pct))
			}
			s.TotalValue = s.TotalValue.Add(value)
			s.TotalUnrealizedPnL = s.TotalUnrealizedPnL.Add(unrealized)
		}
		s.TotalCost = s.TotalCost.Add(h.Invested)
		s.Holdings = append(s.Holdings, h)
	}
	return s
}
