package model

import "github.com/shopspring/decimal"

// Position is a signed holding in a single symbol.
type Position struct {
	Symbol        string
	Qty           int64 // signed: positive long, negative short
	AvgEntryPrice decimal.Decimal
	MarketValue   decimal.Decimal
	CostBasis     decimal.Decimal
	UnrealizedPL  decimal.Decimal
}

// IsFlat reports whether the position carries no shares.
func (p *Position) IsFlat() bool {
	return p.Qty == 0
}

// IsLong reports whether the position is net long.
func (p *Position) IsLong() bool {
	return p.Qty > 0
}

// MarkToMarket recomputes MarketValue, CostBasis and UnrealizedPL at a last
// traded price. CostBasis is qty*avg by invariant; UnrealizedPL is the
// difference between market value and cost basis.
func (p *Position) MarkToMarket(lastPrice decimal.Decimal) {
	qty := decimal.NewFromInt(p.Qty)
	p.MarketValue = qty.Mul(lastPrice)
	p.CostBasis = qty.Mul(p.AvgEntryPrice)
	p.UnrealizedPL = p.MarketValue.Sub(p.CostBasis)
}

// PDTThreshold is the equity level (USD) above which an account is eligible
// for 4x intraday buying power.
var PDTThreshold = decimal.NewFromInt(25000)

// AccountState is the per-session account snapshot: cash, equity, margin,
// and buying power. All money fields are decimal.Decimal.
type AccountState struct {
	Cash               decimal.Decimal
	Equity             decimal.Decimal
	LongMV             decimal.Decimal
	ShortMV            decimal.Decimal
	InitialMargin      decimal.Decimal
	MaintenanceMargin  decimal.Decimal
	RegTBP             decimal.Decimal
	DaytradingBP       decimal.Decimal
	BuyingPower        decimal.Decimal
	AccruedFees        decimal.Decimal
	PDT                bool
}

// NewAccountState seeds a fresh account with initialCapital cash and zero
// positions. Equity starts equal to cash and Reg-T buying power at twice
// cash; PDT status and day-trading buying power are left unset here. The
// ledger recomputes every derived field when it is constructed and after
// each mutation.
func NewAccountState(initialCapital decimal.Decimal) AccountState {
	return AccountState{
		Cash:         initialCapital,
		Equity:       initialCapital,
		RegTBP:       initialCapital.Mul(decimal.NewFromInt(2)),
		BuyingPower:  initialCapital.Mul(decimal.NewFromInt(2)),
		DaytradingBP: decimal.Zero,
	}
}
