package perf

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTracker_TotalReturn(t *testing.T) {
	tr := New(0, decimal.NewFromInt(1000))
	tr.Append(1, decimal.NewFromInt(1100))
	assert.InDelta(t, 0.1, tr.TotalReturn(), 1e-9)
}

func TestTracker_CollapsesSameTimestamp(t *testing.T) {
	tr := New(0, decimal.NewFromInt(1000))
	tr.Append(5, decimal.NewFromInt(1050))
	tr.Append(5, decimal.NewFromInt(1075))
	pts := tr.Points()
	assert.Len(t, pts, 2)
	assert.True(t, pts[1].Equity.Equal(decimal.NewFromInt(1075)))
}

func TestTracker_MaxDrawdown(t *testing.T) {
	tr := New(0, decimal.NewFromInt(1000))
	tr.Append(1, decimal.NewFromInt(1200))
	tr.Append(2, decimal.NewFromInt(900))
	tr.Append(3, decimal.NewFromInt(1300))

	assert.InDelta(t, 0.25, tr.MaxDrawdown(), 1e-9) // (1200-900)/1200
}

func TestTracker_SharpeUndefinedWithFewerThanTwoReturns(t *testing.T) {
	tr := New(0, decimal.NewFromInt(1000))
	assert.Equal(t, 0.0, tr.Sharpe())

	tr.Append(1, decimal.NewFromInt(1100))
	assert.Equal(t, 0.0, tr.Sharpe(), "only one return so far")
}

func TestTracker_SharpeZeroStdevIsZero(t *testing.T) {
	tr := New(0, decimal.NewFromInt(1000))
	tr.Append(1, decimal.NewFromInt(1100))
	tr.Append(2, decimal.NewFromInt(1210)) // identical 10% step each time
	assert.Equal(t, 0.0, tr.Sharpe())
}

func TestTracker_Reset(t *testing.T) {
	tr := New(0, decimal.NewFromInt(1000))
	tr.Append(1, decimal.NewFromInt(2000))
	tr.Reset(10, decimal.NewFromInt(500))

	pts := tr.Points()
	assert.Len(t, pts, 1)
	assert.EqualValues(t, 10, pts[0].TimestampNs)
}
