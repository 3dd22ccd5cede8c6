package model

import "github.com/shopspring/decimal"

// NBBO is a per-symbol top-of-book snapshot. Either side may be zero
// (one-sided quote); a crossed NBBO (bid >= ask, both positive) suppresses
// matching for that tick.
type NBBO struct {
	Symbol   string
	Bid      decimal.Decimal
	BidSize  int64
	Ask      decimal.Decimal
	AskSize  int64
	TsNs     int64
}

// IsCrossed reports whether bid and ask are both positive and bid >= ask.
func (n NBBO) IsCrossed() bool {
	return n.Bid.IsPositive() && n.Ask.IsPositive() && n.Bid.GreaterThanOrEqual(n.Ask)
}

// Mid returns (bid+ask)/2. Callers should check sidedness before relying on
// this when one side is zero.
func (n NBBO) Mid() decimal.Decimal {
	return n.Bid.Add(n.Ask).Div(decimal.NewFromInt(2))
}

// OneSided reports whether exactly one side carries a positive price.
func (n NBBO) OneSided() bool {
	return n.Bid.IsPositive() != n.Ask.IsPositive()
}
