package matching

import (
	"testing"

	"github.com/rishav/marketsim/internal/config"
	"github.com/rishav/marketsim/internal/model"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		EnablePartialFills:     true,
		PartialFillProbability: 1.0,
		RejectionProbability:   0.0,
	}
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestEngine(cfg config.ExecutionConfig) *Engine {
	return New(cfg, 1, zerolog.Nop())
}

// Grounded on original_source/tests/matching_engine_test.cpp:MarketOrderFillsImmediately.
func TestSubmitOrder_MarketBuyFillsAtAsk(t *testing.T) {
	e := newTestEngine(testConfig())
	e.UpdateNBBO(model.NBBO{Symbol: "AAPL", Bid: d("100"), BidSize: 500, Ask: d("101"), AskSize: 500, TsNs: 1})

	order := &model.Order{ID: 1, Symbol: "AAPL", Side: model.Buy, Type: model.Market, TIF: model.DAY, Qty: 10}
	fill := e.SubmitOrder(order)

	require.NotNil(t, fill)
	assert.EqualValues(t, 10, fill.Qty)
	assert.True(t, fill.Price.Equal(d("101")))
	assert.Equal(t, model.StatusFilled, order.Status)
}

// Grounded on original_source/tests/matching_engine_test.cpp:IocDoesNotEnqueue.
func TestSubmitOrder_IOCDoesNotEnqueueWithoutNBBO(t *testing.T) {
	e := newTestEngine(testConfig())
	order := &model.Order{ID: 1, Symbol: "AAPL", Side: model.Buy, Type: model.Limit, TIF: model.IOC, Qty: 10, LimitPrice: d("100")}

	fill := e.SubmitOrder(order)
	assert.Nil(t, fill)

	e.UpdateNBBO(model.NBBO{Symbol: "AAPL", Bid: d("99"), BidSize: 100, Ask: d("105"), AskSize: 100, TsNs: 2})
	_, pending := e.GetOrder(order.ID)
	assert.False(t, pending, "IOC order must never rest in the pending table")
}

// Grounded on original_source/tests/matching_engine_test.cpp:FokInsufficientSize.
func TestSubmitOrder_FOKRejectsOnInsufficientSize(t *testing.T) {
	e := newTestEngine(testConfig())
	e.UpdateNBBO(model.NBBO{Symbol: "AAPL", Bid: d("100"), BidSize: 500, Ask: d("101"), AskSize: 5, TsNs: 1})

	order := &model.Order{ID: 1, Symbol: "AAPL", Side: model.Buy, Type: model.Market, TIF: model.FOK, Qty: 10}
	fill := e.SubmitOrder(order)

	require.NotNil(t, fill)
	assert.True(t, fill.IsNoMatch())
	assert.EqualValues(t, 0, order.FilledQty)
}

// Grounded on original_source/tests/matching_engine_test.cpp:StopTriggersOnce.
func TestSubmitOrder_StopTriggersOnceThenLatches(t *testing.T) {
	e := newTestEngine(testConfig())
	e.UpdateNBBO(model.NBBO{Symbol: "AAPL", Bid: d("99"), BidSize: 500, Ask: d("100"), AskSize: 500, TsNs: 1})

	order := &model.Order{ID: 1, Symbol: "AAPL", Side: model.Sell, Type: model.Stop, TIF: model.GTC, Qty: 10, StopPrice: d("99")}
	fill := e.SubmitOrder(order)
	require.NotNil(t, fill)
	assert.True(t, order.StopTriggered)
	firstFillQty := fill.Qty
	assert.EqualValues(t, 10, firstFillQty)

	// The fully filled order is no longer pending, so no later tick can
	// act on it again.
	_, stillPending := e.GetOrder(order.ID)
	assert.False(t, stillPending)
}

// Grounded on original_source/tests/matching_engine_test.cpp:TrailingStopSellTriggersOnDrop.
func TestSubmitOrder_TrailingStopSellTriggersOnDrop(t *testing.T) {
	e := newTestEngine(testConfig())
	e.UpdateNBBO(model.NBBO{Symbol: "AAPL", Bid: d("100"), BidSize: 500, Ask: d("100.10"), AskSize: 500, TsNs: 1})

	order := &model.Order{ID: 1, Symbol: "AAPL", Side: model.Sell, Type: model.TrailingStop, TIF: model.GTC, Qty: 10, TrailPrice: d("1.00")}
	fill := e.SubmitOrder(order)
	assert.Nil(t, fill)
	assert.True(t, order.HasHWM)

	// Price rises: HWM should track up, no trigger yet.
	res := e.UpdateNBBO(model.NBBO{Symbol: "AAPL", Bid: d("101"), BidSize: 500, Ask: d("101.10"), AskSize: 500, TsNs: 2})
	assert.Empty(t, res.Fills)

	// Price drops by more than the trail amount from the new high: should trigger.
	res = e.UpdateNBBO(model.NBBO{Symbol: "AAPL", Bid: d("99.50"), BidSize: 500, Ask: d("99.60"), AskSize: 500, TsNs: 3})
	require.Len(t, res.Fills, 1)
	assert.True(t, order.StopTriggered)
}

// Grounded on original_source/tests/matching_engine_test.cpp:StopLimitTriggersThenAwaitsLimit.
func TestSubmitOrder_StopLimitTriggersThenAwaitsLimit(t *testing.T) {
	e := newTestEngine(testConfig())
	e.UpdateNBBO(model.NBBO{Symbol: "AAPL", Bid: d("98"), BidSize: 500, Ask: d("98.50"), AskSize: 500, TsNs: 1})

	order := &model.Order{
		ID: 1, Symbol: "AAPL", Side: model.Sell, Type: model.StopLimit, TIF: model.GTC, Qty: 10,
		StopPrice: d("99"), LimitPrice: d("99.50"),
	}
	fill := e.SubmitOrder(order)
	assert.Nil(t, fill, "stop triggers but limit of 99.50 is not marketable against bid 98")
	assert.True(t, order.StopTriggered)
	_, pending := e.GetOrder(order.ID)
	assert.True(t, pending)

	res := e.UpdateNBBO(model.NBBO{Symbol: "AAPL", Bid: d("99.60"), BidSize: 500, Ask: d("99.80"), AskSize: 500, TsNs: 2})
	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Price.GreaterThanOrEqual(d("99.50")))
}

// Grounded on original_source/tests/matching_engine_test.cpp:OrderExpiresOnTimestamp.
func TestUpdateNBBO_ExpiresOrderPastExpireAt(t *testing.T) {
	e := newTestEngine(testConfig())
	order := &model.Order{ID: 1, Symbol: "AAPL", Side: model.Buy, Type: model.Limit, TIF: model.DAY, Qty: 10, LimitPrice: d("50"), HasExpireAt: true, ExpireAt: 100}
	e.SubmitOrder(order)
	_, pending := e.GetOrder(order.ID)
	require.True(t, pending)

	res := e.UpdateNBBO(model.NBBO{Symbol: "AAPL", Bid: d("99"), BidSize: 100, Ask: d("100"), AskSize: 100, TsNs: 200})
	require.Len(t, res.Expired, 1)
	assert.Equal(t, model.StatusExpired, order.Status)
}

func TestSubmitOrder_CrossedMarketEnqueues(t *testing.T) {
	e := newTestEngine(testConfig())
	e.UpdateNBBO(model.NBBO{Symbol: "AAPL", Bid: d("101"), BidSize: 100, Ask: d("100"), AskSize: 100, TsNs: 1})

	order := &model.Order{ID: 1, Symbol: "AAPL", Side: model.Buy, Type: model.Market, TIF: model.DAY, Qty: 10}
	fill := e.SubmitOrder(order)
	assert.Nil(t, fill)
	_, pending := e.GetOrder(order.ID)
	assert.True(t, pending)
}

func TestSubmitOrder_RejectionProbabilityOne(t *testing.T) {
	cfg := testConfig()
	cfg.RejectionProbability = 1.0
	e := newTestEngine(cfg)

	order := &model.Order{ID: 1, Symbol: "AAPL", Side: model.Buy, Type: model.Market, TIF: model.DAY, Qty: 10}
	fill := e.SubmitOrder(order)
	assert.Nil(t, fill)
	assert.Equal(t, model.StatusRejected, order.Status)
}

func TestCancelOrder(t *testing.T) {
	e := newTestEngine(testConfig())
	order := &model.Order{ID: 1, Symbol: "AAPL", Side: model.Buy, Type: model.Limit, TIF: model.DAY, Qty: 10, LimitPrice: d("50")}
	e.SubmitOrder(order)

	assert.True(t, e.CancelOrder(order.ID))
	assert.Equal(t, model.StatusCanceled, order.Status)
	assert.False(t, e.CancelOrder(order.ID))
}
