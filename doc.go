// Package folio replays a trade history into per-asset positions and values
// them against current prices.
//
// The package is the stateless core of the folio tracker:
//   - Replay folds an ordered sequence of buy/sell events into Positions, each
//     holding a net quantity, a weighted-average cost basis (buy fees
//     included) and the cumulative realized profit and loss.
//   - Summarize values the long positions against a set of Quotes and
//     aggregates market value, invested capital, unrealized and realized PnL.
//
// Both functions are pure: they never fail, never sort their input and hold
// no state between calls. Input validation (ValidateEvent) and business rules
// such as rejecting an oversell (CheckSell) are offered separately so that
// the transaction workflow can apply them before anything reaches the engine.
//
// Storage, price lookups and the command-line surface live in the store,
// prices, accounting and cmd packages.
package folio
