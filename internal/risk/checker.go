// Package risk implements the pre-trade gates that sit between order
// submission and the matching engine: halted-symbol rejection, short-sale
// restriction (SSR, Rule 201) enforcement, and order/position value caps
// layered on top of the ledger's buying-power check.
package risk

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Config holds the value-cap knobs. A zero value means "no limit",
// matching the upstream convention.
type Config struct {
	MaxPositionValue    decimal.Decimal
	MaxSingleOrderValue decimal.Decimal
}

// Checker tracks halted symbols, SSR-flagged symbols, and enforces the
// configured value caps. All state is guarded by a single RWMutex since
// reads (the common case, one per order submission) vastly outnumber the
// writes driven by HALT/RESUME/TRADE events.
type Checker struct {
	mu         sync.RWMutex
	cfg        Config
	halted     map[string]int64 // symbol -> halt_end_ns (0 = indefinite)
	ssrSymbols map[string]bool
}

// NewChecker creates a checker with the given value-cap config.
func NewChecker(cfg Config) *Checker {
	return &Checker{
		cfg:        cfg,
		halted:     make(map[string]int64),
		ssrSymbols: make(map[string]bool),
	}
}

// Halt marks symbol halted. haltEndNs of 0 means indefinite (cleared only
// by an explicit Resume).
func (c *Checker) Halt(symbol string, haltEndNs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halted[symbol] = haltEndNs
}

// Resume clears symbol's halt unconditionally.
func (c *Checker) Resume(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.halted, symbol)
}

// PruneExpiredHalts removes any halt whose end time has passed nowNs.
// Indefinite halts (haltEndNs == 0) are never pruned.
func (c *Checker) PruneExpiredHalts(nowNs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sym, end := range c.halted {
		if end > 0 && nowNs >= end {
			delete(c.halted, sym)
		}
	}
}

// IsHalted reports whether symbol is currently halted.
func (c *Checker) IsHalted(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.halted[symbol]
	return ok
}

// SetSSR flags or clears symbol's short-sale-restriction state.
func (c *Checker) SetSSR(symbol string, restricted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if restricted {
		c.ssrSymbols[symbol] = true
	} else {
		delete(c.ssrSymbols, symbol)
	}
}

// IsSSR reports whether symbol is currently short-sale restricted.
func (c *Checker) IsSSR(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ssrSymbols[symbol]
}

// CheckOrderValue rejects an order whose notional exceeds the configured
// single-order cap. A zero cap means no limit.
func (c *Checker) CheckOrderValue(notional decimal.Decimal) (bool, string) {
	c.mu.RLock()
	limit := c.cfg.MaxSingleOrderValue
	c.mu.RUnlock()
	if limit.IsZero() || !limit.IsPositive() {
		return true, ""
	}
	if notional.GreaterThan(limit) {
		return false, "order value exceeds max_single_order_value"
	}
	return true, ""
}

// CheckPositionValue rejects an order whose resulting position value (the
// existing position value plus this order's notional, same direction)
// would exceed the configured cap. A zero cap means no limit.
func (c *Checker) CheckPositionValue(currentPositionValue, orderNotional decimal.Decimal) (bool, string) {
	c.mu.RLock()
	limit := c.cfg.MaxPositionValue
	c.mu.RUnlock()
	if limit.IsZero() || !limit.IsPositive() {
		return true, ""
	}
	projected := currentPositionValue.Add(orderNotional).Abs()
	if projected.GreaterThan(limit) {
		return false, "projected position value exceeds max_position_value"
	}
	return true, ""
}
