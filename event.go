package folio

import (
	"fmt"
	"strings"
)

// Kind is the direction of a trade.
type Kind string

const (
	Buy  Kind = "BUY"
	Sell Kind = "SELL"
)

// ParseKind parses "buy" or "sell", case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case Buy, Sell:
		return k, nil
	default:
		return "", invalid("kind", fmt.Sprintf("unknown trade kind %q", s))
	}
}

func (k Kind) String() string { return string(k) }

// NormalizeSymbol returns the canonical form of an asset symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// TradeEvent is a single buy or sell of an asset, the input of Replay.
//
// UnitPrice and Fee are expressed in the asset's settlement currency. Fee is
// the total fee for the trade; its zero value means no fee.
type TradeEvent struct {
	Asset     string
	Kind      Kind
	Quantity  Quantity
	UnitPrice Money
	Fee       Money
}

// NewBuy creates a buy event.
func NewBuy(asset string, quantity Quantity, unitPrice, fee Money) TradeEvent {
	return TradeEvent{Asset: asset, Kind: Buy, Quantity: quantity, UnitPrice: unitPrice, Fee: fee}
}

// NewSell creates a sell event.
func NewSell(asset string, quantity Quantity, unitPrice, fee Money) TradeEvent {
	return TradeEvent{Asset: asset, Kind: Sell, Quantity: quantity, UnitPrice: unitPrice, Fee: fee}
}

func (e TradeEvent) String() string {
	return fmt.Sprintf("%s %v %s @ %v (fee %v)", e.Kind, e.Quantity, NormalizeSymbol(e.Asset), e.UnitPrice, e.Fee)
}
