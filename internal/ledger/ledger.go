// Package ledger implements the per-session account book: cash, positions,
// equity and margin derived fields, and the corporate-action mutators. All
// mutating entry points recompute the derived fields under the same lock
// that guards the mutation itself.
package ledger

import (
	"sync"

	"github.com/rishav/marketsim/internal/model"
	"github.com/shopspring/decimal"
)

var (
	two        = decimal.NewFromInt(2)
	four       = decimal.NewFromInt(4)
	half       = decimal.NewFromFloat(0.5)
	quarter    = decimal.NewFromFloat(0.25)
)

// Ledger is the thread-safe account book for one session.
type Ledger struct {
	mu        sync.RWMutex
	account   model.AccountState
	positions map[string]*model.Position
}

// New creates a ledger seeded with initialCapital cash and no positions.
func New(initialCapital decimal.Decimal) *Ledger {
	l := &Ledger{
		account:   model.NewAccountState(initialCapital),
		positions: make(map[string]*model.Position),
	}
	l.recomputeEquityLocked()
	return l
}

// State returns a copy of the current account snapshot.
func (l *Ledger) State() model.AccountState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.account
}

// Position returns a copy of the position for symbol, creating a flat one
// if none exists yet.
func (l *Ledger) Position(symbol string) model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.positions[symbol]; ok {
		return *p
	}
	return model.Position{Symbol: symbol}
}

// Positions returns a snapshot of every non-flat position.
func (l *Ledger) Positions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if p.IsFlat() {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// ApplyFill applies fill to symbol's position on the given side, charging
// fees against cash, then marks the symbol to market at fill.Price and
// recomputes equity.
func (l *Ledger) ApplyFill(symbol string, fill model.Fill, side model.Side, fees decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		pos = &model.Position{Symbol: symbol}
		l.positions[symbol] = pos
	}

	qty := decimal.NewFromInt(pos.Qty)
	deltaQty := fill.Qty
	if side == model.Sell {
		deltaQty = -deltaQty
	}
	delta := decimal.NewFromInt(deltaQty)
	newQty := pos.Qty + deltaQty

	switch {
	case newQty == 0:
		pos.Qty = 0
		pos.AvgEntryPrice = decimal.Zero
		pos.MarketValue = decimal.Zero
		pos.CostBasis = decimal.Zero
		pos.UnrealizedPL = decimal.Zero
	case pos.Qty == 0 || sameSign(pos.Qty, deltaQty):
		// Same direction (or opening from flat): weighted-average the
		// entry price across old and new quantity.
		numerator := qty.Mul(pos.AvgEntryPrice).Add(delta.Mul(fill.Price))
		pos.AvgEntryPrice = numerator.Div(decimal.NewFromInt(newQty))
		pos.Qty = newQty
	case sameSign(newQty, pos.Qty):
		// Reducing toward zero without crossing: average entry unchanged.
		pos.Qty = newQty
	default:
		// Sign flip: the new lot's basis is the fill price.
		pos.AvgEntryPrice = fill.Price
		pos.Qty = newQty
	}

	cashDelta := decimal.NewFromInt(fill.Qty).Mul(fill.Price)
	if side == model.Buy {
		cashDelta = cashDelta.Neg()
	}
	l.account.Cash = l.account.Cash.Add(cashDelta).Sub(fees)
	l.account.AccruedFees = l.account.AccruedFees.Add(fees)

	pos.MarkToMarket(fill.Price)
	l.recomputeEquityLocked()
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// MarkToMarket updates symbol's position at lastPrice (no cash effect) and
// recomputes equity. Symbols with no open position are a no-op.
func (l *Ledger) MarkToMarket(symbol string, lastPrice decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok || pos.IsFlat() {
		return
	}
	pos.MarkToMarket(lastPrice)
	l.recomputeEquityLocked()
}

// RecomputeEquity recomputes every derived account field from current
// positions. Exposed so callers (e.g. bulk corporate-action application)
// can force a refresh without going through ApplyFill.
func (l *Ledger) RecomputeEquity() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recomputeEquityLocked()
}

func (l *Ledger) recomputeEquityLocked() {
	longMV := decimal.Zero
	shortMV := decimal.Zero
	for _, p := range l.positions {
		if p.Qty > 0 {
			longMV = longMV.Add(p.MarketValue)
		} else if p.Qty < 0 {
			shortMV = shortMV.Add(p.MarketValue.Abs())
		}
	}

	a := &l.account
	a.LongMV = longMV
	a.ShortMV = shortMV
	a.Equity = a.Cash.Add(longMV).Sub(shortMV)
	a.RegTBP = a.Equity.Mul(two)

	isPDT := a.Equity.GreaterThanOrEqual(model.PDTThreshold)
	a.PDT = isPDT
	if isPDT {
		a.DaytradingBP = a.Equity.Mul(four)
		a.BuyingPower = a.DaytradingBP
	} else {
		a.DaytradingBP = decimal.Zero
		a.BuyingPower = a.RegTBP
	}

	maxMV := longMV
	if shortMV.GreaterThan(maxMV) {
		maxMV = shortMV
	}
	a.InitialMargin = maxMV.Mul(half)
	a.MaintenanceMargin = maxMV.Mul(quarter)
}

// HasBuyingPower reports whether notional is affordable given current
// buying power and a conservative post-trade equity floor.
func (l *Ledger) HasBuyingPower(notional decimal.Decimal, isLong bool) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a := l.account

	if notional.GreaterThan(a.BuyingPower) {
		return false
	}

	projLong := a.LongMV
	projShort := a.ShortMV
	if isLong {
		projLong = projLong.Add(notional)
	} else {
		projShort = projShort.Add(notional)
	}
	maxMV := projLong
	if projShort.GreaterThan(maxMV) {
		maxMV = projShort
	}
	floor := maxMV.Mul(half)
	return a.Equity.GreaterThanOrEqual(floor)
}

// ApplyDividend credits cash at amountPerShare times the current position
// quantity in symbol. Positions in other symbols are untouched.
func (l *Ledger) ApplyDividend(symbol string, amountPerShare decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok || pos.Qty == 0 {
		return
	}
	l.account.Cash = l.account.Cash.Add(decimal.NewFromInt(pos.Qty).Mul(amountPerShare))
	l.recomputeEquityLocked()
}

// ApplySplit scales symbol's quantity by ratio and its average entry price
// by 1/ratio, preserving cost basis.
func (l *Ledger) ApplySplit(symbol string, ratio decimal.Decimal) {
	if !ratio.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok || pos.Qty == 0 {
		return
	}
	qty := decimal.NewFromInt(pos.Qty).Mul(ratio)
	pos.Qty = qty.IntPart()
	pos.AvgEntryPrice = pos.AvgEntryPrice.Div(ratio)
	pos.MarkToMarket(pos.AvgEntryPrice)
	l.recomputeEquityLocked()
}

// RestoreState replaces the account snapshot wholesale (used during
// checkpoint recovery), then recomputes derived fields.
func (l *Ledger) RestoreState(state model.AccountState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account = state
	l.recomputeEquityLocked()
}

// RestorePositions replaces the position table wholesale.
func (l *Ledger) RestorePositions(positions map[string]model.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = make(map[string]*model.Position, len(positions))
	for sym, p := range positions {
		cp := p
		l.positions[sym] = &cp
	}
	l.recomputeEquityLocked()
}
