package folio

import (
	"fmt"
	"strings"
)

// Condition is the side of a threshold a price alert waits for.
type Condition string

const (
	Above Condition = "ABOVE"
	Below Condition = "BELOW"
)

// ParseCondition parses "above" or "below", case-insensitively.
func ParseCondition(s string) (Condition, error) {
	switch c := Condition(strings.ToUpper(strings.TrimSpace(s))); c {
	case Above, Below:
		return c, nil
	default:
		return "", invalid("condition", fmt.Sprintf("unknown condition %q", s))
	}
}

func (c Condition) String() string { return string(c) }

// Triggered reports whether price has reached threshold. Reaching the
// threshold exactly triggers both conditions.
func (c Condition) Triggered(price, threshold Money) bool {
	switch c {
	case Above:
		return price.GreaterThanOrEqual(threshold)
	case Below:
		return !price.GreaterThan(threshold)
	default:
		return false
	}
}
