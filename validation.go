package folio

import (
	"fmt"
)

// ValidateEvent checks that a trade can be recorded: a symbol, a known kind,
// a positive quantity and unit price, and a non-negative fee.
//
// Replay itself accepts any event; ValidateEvent is meant for the boundary
// where transactions enter the system.
func ValidateEvent(e TradeEvent) error {
	if NormalizeSymbol(e.Asset) == "" {
		return invalid("asset", "asset symbol is missing")
	}
	if e.Kind != Buy && e.Kind != Sell {
		return invalid("kind", fmt.Sprintf("unknown trade kind %q", e.Kind))
	}
	if !e.Quantity.IsPositive() {
		return invalid("quantity", fmt.Sprintf("quantity must be positive, got %v", e.Quantity))
	}
	if !e.UnitPrice.IsPositive() {
		return invalid("price", fmt.Sprintf("price must be positive, got %v", e.UnitPrice.Decimal()))
	}
	if e.Fee.IsNegative() {
		return invalid("fee", fmt.Sprintf("fee must not be negative, got %v", e.Fee.Decimal()))
	}
	return nil
}

// CheckSell rejects a sell larger than the quantity currently held in pos.
// Buys are always accepted.
func CheckSell(pos Position, e TradeEvent) error {
	if e.Kind != Sell {
		return nil
	}
	if e.Quantity.GreaterThan(pos.NetQuantity) {
		return &OversellError{Asset: NormalizeSymbol(e.Asset), Requested: e.Quantity, Available: pos.NetQuantity}
	}
	return nil
}
