package feed

import (
	"context"
	"testing"

	"github.com/rishav/marketsim/internal/datasource"
	"github.com/rishav/marketsim/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDefault_DeliversAllEventsInOrder(t *testing.T) {
	ds := datasource.NewMemorySource()
	ds.AddTrade("AAPL", 10, model.TradePayload{Price: 100, Size: 5})
	ds.AddQuote("AAPL", 5, model.QuotePayload{Bid: 99, Ask: 101})

	var seen []int64
	err := RunDefault(context.Background(), ds, []string{"AAPL"}, 0, 100, func(symbol string, kind model.EventKind, tsNs int64, payload interface{}) {
		seen = append(seen, tsNs)
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 10}, seen)
}

func TestRunPolling_CoversFullRangeAcrossWindows(t *testing.T) {
	ds := datasource.NewMemorySource()
	ds.AddTrade("AAPL", 1, model.TradePayload{Price: 100, Size: 1})
	ds.AddTrade("AAPL", 1_500_000_000, model.TradePayload{Price: 101, Size: 1})

	var seen []int64
	err := RunPolling(context.Background(), ds, []string{"AAPL"}, 0, 2_000_000_000, 1, func() bool { return false },
		func(symbol string, kind model.EventKind, tsNs int64, payload interface{}) {
			seen = append(seen, tsNs)
		})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1_500_000_000}, seen)
}

func TestRunPolling_StopsWhenShouldStop(t *testing.T) {
	ds := datasource.NewMemorySource()
	calls := 0
	err := RunPolling(context.Background(), ds, []string{"AAPL"}, 0, 10_000_000_000, 1, func() bool { calls++; return calls > 1 },
		func(string, model.EventKind, int64, interface{}) {})
	require.NoError(t, err)
	assert.LessOrEqual(t, calls, 3)
}

func TestRunShared_RoutesOnlyToMatchingTargets(t *testing.T) {
	ds := datasource.NewMemorySource()
	ds.AddTrade("AAPL", 10, model.TradePayload{Price: 100, Size: 1})
	ds.AddTrade("MSFT", 10, model.TradePayload{Price: 200, Size: 1})

	var gotA, gotB []string
	targets := []Target{
		{SessionID: "a", Symbols: map[string]bool{"AAPL": true}, Start: 0, End: 100, Sink: func(symbol string, kind model.EventKind, tsNs int64, payload interface{}) {
			gotA = append(gotA, symbol)
		}},
		{SessionID: "b", Symbols: map[string]bool{"MSFT": true}, Start: 0, End: 100, Sink: func(symbol string, kind model.EventKind, tsNs int64, payload interface{}) {
			gotB = append(gotB, symbol)
		}},
	}
	require.NoError(t, RunShared(context.Background(), ds, targets))
	assert.Equal(t, []string{"AAPL"}, gotA)
	assert.Equal(t, []string{"MSFT"}, gotB)
}

func TestRunShared_NoTargetsIsNoop(t *testing.T) {
	ds := datasource.NewMemorySource()
	assert.NoError(t, RunShared(context.Background(), ds, nil))
}
