package folio

// eur is a helper for test to create euro money from const
func eur(v float64) Money { return M(v, "EUR") }

// usd is a helper for test to create usd money from const
func usd(v float64) Money { return M(v, "USD") }

// buy and sell are shorthands for EUR trades.
func buy(asset string, q, price, fee float64) TradeEvent {
	return NewBuy(asset, Q(q), eur(price), eur(fee))
}

func sell(asset string, q, price, fee float64) TradeEvent {
	return NewSell(asset, Q(q), eur(price), eur(fee))
}
