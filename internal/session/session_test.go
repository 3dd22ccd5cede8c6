package session

import (
	"testing"
	"time"

	"github.com/rishav/marketsim/internal/config"
	"github.com/rishav/marketsim/internal/datasource"
	"github.com/rishav/marketsim/internal/fanout"
	"github.com/rishav/marketsim/internal/model"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	var cfg config.Config
	cfg.Execution.EnableWAL = false
	cfg.Execution.AllowShorting = true
	cfg.Execution.EnableMarginCallChecks = false
	cfg.Execution.EnableForcedLiquidation = false
	cfg.Execution.EnableShortSaleRestrictions = false
	cfg.Execution.EnableCircuitBreakers = false
	cfg.Execution.EnableAutoCorporateActions = true
	cfg.Execution.CheckpointIntervalEvents = 0
	cfg.Execution.PartialFillProbability = 1.0
	cfg.Fees = config.FeesConfig{}
	return cfg
}

func newTestSession(t *testing.T, ds datasource.DataSource, cfg config.Config) *Session {
	t.Helper()
	s, err := New(cfg, Params{
		SessionID:      "test-session",
		Symbols:        []string{"AAPL"},
		Start:          0,
		End:            1_000_000_000_000,
		InitialCapital: decimal.NewFromInt(100000),
		SpeedFactor:    0, // unlimited: never sleeps in WaitForNextEvent
	}, ds, fanout.New(), "", zerolog.Nop())
	require.NoError(t, err)
	return s
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSession_SubmitOrderFillsAgainstNBBO(t *testing.T) {
	ds := datasource.NewMemorySource()
	ds.AddQuote("AAPL", 10, model.QuotePayload{Bid: 99, BidSize: 100, Ask: 100, AskSize: 100})

	s := newTestSession(t, ds, testConfig())
	s.Start()
	defer s.Stop()

	waitUntil(t, time.Second, func() bool { return s.Watermark() >= 10 })

	id, reason := s.SubmitOrder(&model.Order{Symbol: "AAPL", Side: model.Buy, Type: model.Market, TIF: model.DAY, Qty: 10})
	require.Empty(t, reason)
	require.NotZero(t, id)

	waitUntil(t, time.Second, func() bool {
		o, ok := s.GetOrder(id)
		return ok && o.Status == model.StatusFilled
	})

	pos := s.ledger.Position("AAPL")
	assert.Equal(t, int64(10), pos.Qty)
}

func TestSession_SubmitOrderRejectsOnInsufficientBuyingPower(t *testing.T) {
	ds := datasource.NewMemorySource()
	ds.AddQuote("AAPL", 10, model.QuotePayload{Bid: 99, BidSize: 100, Ask: 100, AskSize: 100})

	s := newTestSession(t, ds, testConfig())
	s.Start()
	defer s.Stop()

	waitUntil(t, time.Second, func() bool { return s.Watermark() >= 10 })

	_, reason := s.SubmitOrder(&model.Order{Symbol: "AAPL", Side: model.Buy, Type: model.Market, TIF: model.DAY, Qty: 1_000_000})
	assert.Equal(t, "insufficient buying power", reason)
}

func TestSession_SubmitOrderRejectsWhenSymbolHalted(t *testing.T) {
	ds := datasource.NewMemorySource()
	ds.AddQuote("AAPL", 10, model.QuotePayload{Bid: 99, BidSize: 100, Ask: 100, AskSize: 100})

	cfg := testConfig()
	s := newTestSession(t, ds, cfg)
	s.risk.Halt("AAPL", 0)

	_, reason := s.SubmitOrder(&model.Order{Symbol: "AAPL", Side: model.Buy, Type: model.Market, TIF: model.DAY, Qty: 10})
	assert.Equal(t, "symbol halted", reason)
}

func TestSession_IOCCancelsResidualWhenUnfilled(t *testing.T) {
	ds := datasource.NewMemorySource()
	s := newTestSession(t, ds, testConfig())

	id, reason := s.SubmitOrder(&model.Order{Symbol: "AAPL", Side: model.Buy, Type: model.Limit, LimitPrice: decimal.NewFromInt(50), TIF: model.IOC, Qty: 10})
	require.Empty(t, reason)

	o, ok := s.GetOrder(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusCanceled, o.Status)
}

func TestSession_ApplyDividendCreditsCash(t *testing.T) {
	ds := datasource.NewMemorySource()
	ds.AddQuote("AAPL", 10, model.QuotePayload{Bid: 99, BidSize: 100, Ask: 100, AskSize: 100})
	ds.AddTrade("AAPL", 15, model.TradePayload{Price: 100, Size: 1})

	s := newTestSession(t, ds, testConfig())
	s.Start()
	defer s.Stop()

	waitUntil(t, time.Second, func() bool { return s.Watermark() >= 10 })
	id, reason := s.SubmitOrder(&model.Order{Symbol: "AAPL", Side: model.Buy, Type: model.Market, TIF: model.DAY, Qty: 10})
	require.Empty(t, reason)
	waitUntil(t, time.Second, func() bool {
		o, ok := s.GetOrder(id)
		return ok && o.Status == model.StatusFilled
	})

	cashBefore := s.ledger.State().Cash
	s.processEvent(model.Event{Timestamp: 20, Symbol: "AAPL", Kind: model.EventDividend, Payload: model.DividendPayload{AmountPerShare: 1.5}}, false)
	cashAfter := s.ledger.State().Cash

	assert.True(t, cashAfter.Sub(cashBefore).Equal(decimal.NewFromFloat(15)))
}

func TestSession_FastForwardRetainsStateAndEmitsNoCallbacks(t *testing.T) {
	ds := datasource.NewMemorySource()
	s := newTestSession(t, ds, testConfig())

	var delivered int
	s.fan.Subscribe(func(sessionID string, ev model.Event) { delivered++ })

	s.queue.Push(5, model.EventTrade, "AAPL", model.TradePayload{Price: 100, Size: 1})
	s.queue.Push(10, model.EventTrade, "AAPL", model.TradePayload{Price: 101, Size: 1})
	s.queue.Push(15, model.EventTrade, "AAPL", model.TradePayload{Price: 102, Size: 1})

	require.NoError(t, s.FastForward(10))

	assert.Equal(t, int64(10), s.Watermark())
	assert.Equal(t, int64(10), s.ClockTime())
	assert.Equal(t, 0, delivered)
}

func TestSession_CheckpointRecoveryRestoresPositionsAndWatermark(t *testing.T) {
	dir := t.TempDir()
	ds := datasource.NewMemorySource()
	ds.AddQuote("AAPL", 10, model.QuotePayload{Bid: 99, BidSize: 100, Ask: 100, AskSize: 100})

	cfg := testConfig()
	cfg.Execution.EnableWAL = true

	s, err := New(cfg, Params{
		SessionID:      "ckpt-session",
		Symbols:        []string{"AAPL"},
		Start:          0,
		End:            1_000_000_000_000,
		InitialCapital: decimal.NewFromInt(100000),
	}, ds, fanout.New(), dir, zerolog.Nop())
	require.NoError(t, err)
	s.Start()

	waitUntil(t, time.Second, func() bool { return s.Watermark() >= 10 })
	id, reason := s.SubmitOrder(&model.Order{Symbol: "AAPL", Side: model.Buy, Type: model.Market, TIF: model.DAY, Qty: 10})
	require.Empty(t, reason)
	waitUntil(t, time.Second, func() bool {
		o, ok := s.GetOrder(id)
		return ok && o.Status == model.StatusFilled
	})
	s.Stop()

	restored, err := New(cfg, Params{
		SessionID:      "ckpt-session",
		Symbols:        []string{"AAPL"},
		Start:          0,
		End:            1_000_000_000_000,
		InitialCapital: decimal.NewFromInt(100000),
	}, ds, fanout.New(), dir, zerolog.Nop())
	require.NoError(t, err)

	pos := restored.ledger.Position("AAPL")
	assert.Equal(t, int64(10), pos.Qty)
	assert.Equal(t, int64(10), restored.Watermark())
}

func TestSession_PauseAndResumeTogglesClockState(t *testing.T) {
	ds := datasource.NewMemorySource()
	s := newTestSession(t, ds, testConfig())
	s.Start()
	defer s.Stop()

	s.Pause()
	assert.Equal(t, Paused, s.Status())
	assert.True(t, s.clock.IsPaused())

	s.Resume()
	assert.Equal(t, Running, s.Status())
	assert.False(t, s.clock.IsPaused())
}

func TestSession_JumpToHardResetsStateAndMovesClock(t *testing.T) {
	ds := datasource.NewMemorySource()
	ds.AddQuote("AAPL", 10, model.QuotePayload{Bid: 99, BidSize: 100, Ask: 100, AskSize: 100})

	s := newTestSession(t, ds, testConfig())
	s.Start()

	waitUntil(t, time.Second, func() bool { return s.Watermark() >= 10 })
	id, reason := s.SubmitOrder(&model.Order{Symbol: "AAPL", Side: model.Buy, Type: model.Market, TIF: model.DAY, Qty: 10})
	require.Empty(t, reason)
	waitUntil(t, time.Second, func() bool {
		o, ok := s.GetOrder(id)
		return ok && o.Status == model.StatusFilled
	})

	s.JumpTo(500)
	defer s.Stop()

	assert.Equal(t, int64(500), s.ClockTime())
	assert.Equal(t, int64(0), s.Watermark())
	assert.True(t, s.ledger.State().Cash.Equal(decimal.NewFromInt(100000)))
	assert.Empty(t, s.Positions())
	assert.Empty(t, s.Orders())
	assert.Equal(t, Running, s.Status())
}

// TestSession_RecoveryResubmitsRestingOrdersAndReplaysWAL exercises spec
// §4.7 Recovery steps 4 and 6 together: a resting order captured by a
// checkpoint must come back into the matching engine's pending table, and
// order_submitted/order_canceled/fill WAL entries written after that
// checkpoint (never itself checkpointed) must be replayed, fill fees
// included, not silently dropped.
func TestSession_RecoveryResubmitsRestingOrdersAndReplaysWAL(t *testing.T) {
	dir := t.TempDir()
	ds := datasource.NewMemorySource()

	cfg := testConfig()
	cfg.Execution.EnableWAL = true
	cfg.Fees = config.FeesConfig{PerOrder: 1.0}

	params := Params{
		SessionID:      "recover-session",
		Symbols:        []string{"AAPL"},
		Start:          0,
		End:            1_000_000_000_000,
		InitialCapital: decimal.NewFromInt(100000),
	}

	s1, err := New(cfg, params, ds, fanout.New(), dir, zerolog.Nop())
	require.NoError(t, err)

	// Resting limit order, no NBBO yet: lands in the engine's pending table
	// with status ACCEPTED, and gets checkpointed in that state.
	restingID, reason := s1.SubmitOrder(&model.Order{Symbol: "AAPL", Side: model.Buy, Type: model.Limit, TIF: model.GTC, Qty: 5, LimitPrice: decimal.NewFromInt(50)})
	require.Empty(t, reason)
	s1.SaveCheckpoint()

	// Advance the simulated watermark past the checkpoint's so later
	// order_canceled/fill WAL entries (stamped at the simulated time, not
	// wall-clock) actually satisfy LoadWALEntriesAfter's ts_ns > after_ns.
	s1.lastEventNs.Store(5)

	// Everything from here on only exists in the post-checkpoint WAL.
	canceledID, reason := s1.SubmitOrder(&model.Order{Symbol: "AAPL", Side: model.Buy, Type: model.Limit, TIF: model.GTC, Qty: 3, LimitPrice: decimal.NewFromInt(40)})
	require.Empty(t, reason)
	require.True(t, s1.CancelOrder(canceledID))

	s1.engine.UpdateNBBO(model.NBBO{Symbol: "AAPL", Bid: decimal.NewFromInt(99), BidSize: 100, Ask: decimal.NewFromInt(100), AskSize: 100, TsNs: 1})
	filledID, reason := s1.SubmitOrder(&model.Order{Symbol: "AAPL", Side: model.Buy, Type: model.Market, TIF: model.DAY, Qty: 10})
	require.Empty(t, reason)
	filled, ok := s1.GetOrder(filledID)
	require.True(t, ok)
	require.Equal(t, model.StatusFilled, filled.Status)

	// Simulate a crash: close the durability handles without the final
	// checkpoint Stop() would otherwise take (which would fold all of the
	// above back into a fresh checkpoint and defeat this test).
	require.NoError(t, s1.wal.Close())
	require.NoError(t, s1.evtLog.Close())

	s2, err := New(cfg, params, ds, fanout.New(), dir, zerolog.Nop())
	require.NoError(t, err)

	pending := s2.engine.GetPendingOrders()
	foundResting := false
	for _, o := range pending {
		if o.ID == restingID {
			foundResting = true
			assert.Equal(t, model.StatusAccepted, o.Status)
		}
	}
	assert.True(t, foundResting, "checkpoint-restored resting order must be resubmitted to the matching engine")

	canceled, ok := s2.GetOrder(canceledID)
	require.True(t, ok, "order_submitted WAL entry must rebuild the order")
	assert.Equal(t, model.StatusCanceled, canceled.Status, "order_canceled WAL entry must mark it canceled")

	assert.True(t, s2.ledger.State().AccruedFees.Equal(decimal.NewFromFloat(1.0)), "fill WAL replay must apply the fill's actual fee, not zero")

	s2.Stop()
}
