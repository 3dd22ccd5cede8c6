package ledger

import (
	"testing"

	"github.com/rishav/marketsim/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Scenario 1: market buy fills at ask.
func TestApplyFill_MarketBuyOpensLongPosition(t *testing.T) {
	l := New(d("2000"))
	l.ApplyFill("AAPL", model.Fill{OrderID: 1, Qty: 10, Price: d("101")}, model.Buy, decimal.Zero)

	pos := l.Position("AAPL")
	assert.EqualValues(t, 10, pos.Qty)
	assert.True(t, pos.AvgEntryPrice.Equal(d("101")))

	state := l.State()
	assert.True(t, state.Cash.Equal(d("990")), "cash = 2000 - 10*101")
	assert.True(t, state.Equity.Equal(state.Cash.Add(state.LongMV).Sub(state.ShortMV)))
}

// Scenario 5: split + dividend.
func TestApplyDividendThenSplit(t *testing.T) {
	l := New(d("1000"))
	l.ApplyFill("AAPL", model.Fill{OrderID: 1, Qty: 2, Price: d("101")}, model.Buy, decimal.Zero)

	require.True(t, l.State().Cash.Equal(d("798")), "1000 - 2*101")

	l.ApplyDividend("AAPL", d("0.5"))
	assert.True(t, l.State().Cash.Equal(d("799")), "798 + 2*0.5")

	l.ApplySplit("AAPL", d("2.0"))
	pos := l.Position("AAPL")
	assert.EqualValues(t, 4, pos.Qty)
	assert.True(t, pos.AvgEntryPrice.Equal(d("50.5")))
}

func TestApplyFill_ClosingPositionZeroesIt(t *testing.T) {
	l := New(d("1000"))
	l.ApplyFill("AAPL", model.Fill{OrderID: 1, Qty: 10, Price: d("100")}, model.Buy, decimal.Zero)
	l.ApplyFill("AAPL", model.Fill{OrderID: 2, Qty: 10, Price: d("110")}, model.Sell, decimal.Zero)

	pos := l.Position("AAPL")
	assert.True(t, pos.IsFlat())
	assert.True(t, pos.AvgEntryPrice.IsZero())

	state := l.State()
	assert.True(t, state.Cash.Equal(d("1100")), "1000 - 1000 + 1100")
}

func TestApplyFill_SignFlipRebasesAvgPrice(t *testing.T) {
	l := New(d("1000"))
	l.ApplyFill("AAPL", model.Fill{OrderID: 1, Qty: 10, Price: d("100")}, model.Buy, decimal.Zero)
	// Sell 15: crosses from +10 to -5.
	l.ApplyFill("AAPL", model.Fill{OrderID: 2, Qty: 15, Price: d("105")}, model.Sell, decimal.Zero)

	pos := l.Position("AAPL")
	assert.EqualValues(t, -5, pos.Qty)
	assert.True(t, pos.AvgEntryPrice.Equal(d("105")))
}

func TestRecomputeEquity_PDTThresholdUnlocksDaytradingBP(t *testing.T) {
	l := New(d("30000"))
	state := l.State()
	assert.True(t, state.PDT)
	assert.True(t, state.DaytradingBP.Equal(d("120000")))
	assert.True(t, state.BuyingPower.Equal(state.DaytradingBP))
}

func TestRecomputeEquity_BelowThresholdUsesRegTBuyingPower(t *testing.T) {
	l := New(d("1000"))
	state := l.State()
	assert.False(t, state.PDT)
	assert.True(t, state.BuyingPower.Equal(d("2000")))
}

func TestHasBuyingPower_RejectsOverNotional(t *testing.T) {
	l := New(d("1000"))
	assert.False(t, l.HasBuyingPower(d("5000"), true))
	assert.True(t, l.HasBuyingPower(d("1500"), true))
}

func TestRestoreStatePositions(t *testing.T) {
	l := New(d("1000"))
	l.RestoreState(model.AccountState{Cash: d("500"), Equity: d("500")})
	l.RestorePositions(map[string]model.Position{
		"AAPL": {Symbol: "AAPL", Qty: 5, AvgEntryPrice: d("100")},
	})

	pos := l.Position("AAPL")
	assert.EqualValues(t, 5, pos.Qty)
	state := l.State()
	assert.True(t, state.Cash.Equal(d("500")))
}

func TestApplyDividend_UnrelatedSymbolUntouched(t *testing.T) {
	l := New(d("1000"))
	l.ApplyFill("AAPL", model.Fill{OrderID: 1, Qty: 10, Price: d("100")}, model.Buy, decimal.Zero)
	before := l.State().Cash

	l.ApplyDividend("MSFT", d("1.0"))
	assert.True(t, l.State().Cash.Equal(before))
}
