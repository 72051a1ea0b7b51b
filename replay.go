package folio

import (
	"iter"
	"slices"
)

// WeightedAvgCost returns the average cost per unit after buying 'bought'
// units at 'price' with a total 'fee', starting from 'held' units at 'avg'.
// The fee is absorbed into the cost basis.
//
// A purchase that leaves the quantity non-positive has no meaningful average
// and yields zero.
func WeightedAvgCost(held Quantity, avg Money, bought Quantity, price, fee Money) Money {
	total := held.Add(bought)
	if !total.IsPositive() {
		return M(0, cur(avg, price))
	}
	cost := avg.Mul(held).Add(price.Mul(bought)).Add(fee)
	return cost.Div(total)
}

// SellRealizedPnL returns the profit or loss of selling 'sold' units at
// 'price' against an average cost 'avg', net of the sell 'fee'.
func SellRealizedPnL(price, avg Money, sold Quantity, fee Money) Money {
	return price.Sub(avg).Mul(sold).Sub(fee)
}

// Apply returns the position after one trade.
//
// A buy blends the trade into the average cost. A sell crystallizes
// (price - avgCost) * quantity - fee into the realized PnL and leaves the
// average cost untouched, except when it closes the position exactly, which
// resets the average cost to zero. A sell larger than the position is
// applied as is: the position goes net-short and keeps its last average cost.
//
// Events of any other kind leave the position unchanged.
func Apply(p Position, e TradeEvent) Position {
	switch e.Kind {
	case Buy:
		p.AvgCost = WeightedAvgCost(p.NetQuantity, p.AvgCost, e.Quantity, e.UnitPrice, e.Fee)
		p.NetQuantity = p.NetQuantity.Add(e.Quantity)
	case Sell:
		p.RealizedPnL = p.RealizedPnL.Add(SellRealizedPnL(e.UnitPrice, p.AvgCost, e.Quantity, e.Fee))
		p.NetQuantity = p.NetQuantity.Sub(e.Quantity)
		if p.NetQuantity.IsZero() {
			p.AvgCost = M(0, p.AvgCost.Currency())
		}
	}
	return p
}

// Replay folds trade events into positions, in the order they are given.
//
// Events must be sorted by trade time for the result to make economic sense;
// Replay never reorders them. Symbols are normalized, so "btc" and " BTC"
// accumulate into the same position. Every symbol seen gets an entry, even
// if its position ends up flat.
func Replay(events iter.Seq[TradeEvent]) Positions {
	positions := make(Positions)
	for e := range events {
		sym := NormalizeSymbol(e.Asset)
		positions[sym] = Apply(positions[sym], e)
	}
	return positions
}

// ReplaySlice is Replay over a slice.
func ReplaySlice(events []TradeEvent) Positions {
	return Replay(slices.Values(events))
}
