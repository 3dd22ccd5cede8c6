package session

import (
	"time"

	"github.com/rishav/marketsim/internal/durability"
	"github.com/rishav/marketsim/internal/ledger"
	"github.com/rishav/marketsim/internal/matching"
	"github.com/rishav/marketsim/internal/model"
	"github.com/rishav/marketsim/internal/perf"
)

// walAppend writes entry to the WAL if durability is enabled, logging (not
// propagating) any write failure: a WAL write failure must not take down
// the session worker.
func (s *Session) walAppend(entry model.WalEntry) {
	if s.wal == nil {
		return
	}
	if err := s.wal.Append(entry); err != nil {
		s.log.Error().Err(err).Msg("wal append failed")
	}
}

func (s *Session) walAppendMarketEvent(ev model.Event) {
	if s.wal == nil {
		return
	}
	entry := model.WalEntry{TsNs: ev.Timestamp, Event: model.WalMarketEvent, Symbol: ev.Symbol, MarketType: int(ev.Kind), Seq: ev.Sequence}
	switch p := ev.Payload.(type) {
	case model.QuotePayload:
		entry.Bid = decimalString(p.Bid)
		entry.BidSize = p.BidSize
		entry.Ask = decimalString(p.Ask)
		entry.AskSize = p.AskSize
	case model.TradePayload:
		entry.TradePrice = decimalString(p.Price)
		entry.TradeSize = p.Size
	}
	s.walAppend(entry)
}

func (s *Session) walAppendOrderSubmitted(order *model.Order) {
	s.walAppend(model.WalEntry{
		TsNs: order.Timestamps.Submitted, Event: model.WalOrderSubmitted,
		OrderID: order.ID, Symbol: order.Symbol, Side: order.Side.String(),
		Type: int(order.Type), TIF: int(order.TIF), Qty: order.Qty,
		Limit: order.LimitPrice.String(), Stop: order.StopPrice.String(),
	})
}

func decimalString(f float64) string {
	return formatFloat(f)
}

// maybeCheckpoint saves a checkpoint once events_processed has advanced by
// at least the configured interval since the last one. A zero interval
// disables periodic checkpointing (explicit Stop still saves a final one).
func (s *Session) maybeCheckpoint() {
	interval := s.currentExecution().CheckpointIntervalEvents
	if interval == 0 {
		return
	}
	processed := s.eventsProcessed.Load()
	if processed-s.lastCkptEvents.Load() < interval {
		return
	}
	s.SaveCheckpoint()
}

// SaveCheckpoint snapshots account, positions, orders, and the NBBO cache
// to dir, then truncates and archives the live WAL so replay after restart
// starts from this point rather than the beginning of time.
func (s *Session) SaveCheckpoint() {
	if s.wal == nil && s.logDir == "" {
		return
	}

	ck := model.Checkpoint{
		SessionID:       s.id,
		CheckpointNs:    time.Now().UnixNano(),
		LastEventNs:     s.lastEventNs.Load(),
		EventsProcessed: s.eventsProcessed.Load(),
		Account:         s.ledger.State(),
		Positions:       s.ledger.Positions(),
		Orders:          s.Orders(),
		NBBOCache:       s.engine.GetAllNBBO(),
	}

	if err := durability.SaveCheckpoint(s.logDir, ck); err != nil {
		s.log.Error().Err(err).Msg("checkpoint save failed")
		return
	}
	s.lastCkptEvents.Store(ck.EventsProcessed)

	if s.wal != nil {
		if err := durability.TruncateWALAfterCheckpoint(s.logDir, s.id, ck.CheckpointNs); err != nil {
			s.log.Warn().Err(err).Msg("wal truncation after checkpoint failed")
		}
		if err := durability.CleanupOldCheckpoints(s.logDir, s.id, 3); err != nil {
			s.log.Warn().Err(err).Msg("old checkpoint archive cleanup failed")
		}
	}
}

// recover attempts to restore state from the last checkpoint plus any WAL
// entries written after it. A missing checkpoint is not an error: the
// session simply starts fresh.
func (s *Session) recover() error {
	ck, err := durability.LoadCheckpoint(s.logDir, s.id)
	if err != nil {
		return err
	}
	if ck == nil {
		return nil
	}

	s.ledger.RestoreState(ck.Account)
	positions := make(map[string]model.Position, len(ck.Positions))
	for _, p := range ck.Positions {
		positions[p.Symbol] = p
	}
	s.ledger.RestorePositions(positions)

	s.ordersMu.Lock()
	for i := range ck.Orders {
		o := ck.Orders[i]
		s.orders[o.ID] = &o
		if o.ID >= s.nextOrderID.Load() {
			s.nextOrderID.Store(o.ID)
		}
	}
	s.ordersMu.Unlock()

	for _, nbbo := range ck.NBBOCache {
		s.engine.UpdateNBBO(nbbo)
	}

	s.ordersMu.RLock()
	for _, o := range s.orders {
		switch o.Status {
		case model.StatusAccepted, model.StatusPartiallyFilled, model.StatusPendingNew:
			s.engine.RestorePendingOrder(o)
		}
	}
	s.ordersMu.RUnlock()

	s.lastEventNs.Store(ck.LastEventNs)
	s.eventsProcessed.Store(ck.EventsProcessed)
	s.lastCkptEvents.Store(ck.EventsProcessed)
	s.clock.SetTime(ck.LastEventNs)

	entries, err := durability.LoadWALEntriesAfter(s.logDir, s.id, ck.LastEventNs)
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.replayWalEntry(e)
	}

	s.log.Info().Int("wal_entries_replayed", len(entries)).Msg("session recovered from checkpoint")
	return nil
}

// replayWalEntry re-applies a post-checkpoint WAL entry to in-memory state.
// order_submitted/order_canceled entries are replayed here too: entries
// after the checkpoint's last_event_ns were written by orders the checkpoint
// itself never saw, so the orders table restored from the checkpoint does
// not yet contain them.
func (s *Session) replayWalEntry(e model.WalEntry) {
	switch e.Event {
	case model.WalOrderSubmitted:
		side := model.Buy
		if e.Side == model.Sell.String() {
			side = model.Sell
		}
		limit, _ := decimalFromString(e.Limit)
		stop, _ := decimalFromString(e.Stop)
		order := &model.Order{
			ID: e.OrderID, Symbol: e.Symbol, Side: side,
			Type: model.OrderType(e.Type), TIF: model.TIF(e.TIF), Qty: e.Qty,
			LimitPrice: limit, StopPrice: stop, Status: model.StatusAccepted,
			Timestamps: model.OrderTimestamps{Created: e.TsNs, Submitted: e.TsNs, Updated: e.TsNs},
		}
		s.upsertOrder(order)
		if order.ID >= s.nextOrderID.Load() {
			s.nextOrderID.Store(order.ID)
		}
		s.engine.RestorePendingOrder(order)
	case model.WalOrderCanceled:
		s.engine.CancelOrder(e.OrderID)
		if order, ok := s.orderByID(e.OrderID); ok {
			order.Status = model.StatusCanceled
			order.Timestamps.Canceled = e.TsNs
			order.Timestamps.Updated = e.TsNs
			s.upsertOrder(order)
		}
	case model.WalFill:
		price, _ := decimalFromString(e.Price)
		fee, _ := decimalFromString(e.Fee)
		side := model.Buy
		if e.Side == model.Sell.String() {
			side = model.Sell
		}
		s.ledger.ApplyFill(e.Symbol, model.Fill{OrderID: e.OrderID, Qty: e.Qty, Price: price, TimestampNs: e.TsNs}, side, fee)
		if order, ok := s.orderByID(e.OrderID); ok {
			order.FilledQty += e.Qty
			order.LastFillPrice = price
			if order.FilledQty >= order.Qty {
				order.Status = model.StatusFilled
				order.Timestamps.Filled = e.TsNs
			} else {
				order.Status = model.StatusPartiallyFilled
			}
			order.Timestamps.Updated = e.TsNs
			s.upsertOrder(order)
		}
	case model.WalDividend:
		amt, _ := decimalFromString(e.AmountPerShare)
		s.ledger.ApplyDividend(e.Symbol, amt)
	case model.WalSplit:
		ratio, _ := decimalFromString(e.Ratio)
		s.ledger.ApplySplit(e.Symbol, ratio)
	}
	if e.TsNs > s.lastEventNs.Load() {
		s.lastEventNs.Store(e.TsNs)
	}
}

// SetSpeed changes the simulated clock's pacing factor. 0 means unlimited.
func (s *Session) SetSpeed(factor float64) {
	s.clock.SetSpeed(factor)
}

// JumpTo is a hard reset to tsNs: the worker and feeder are stopped, the
// queue, matching engine, ledger, orders table, and performance tracker
// are rebuilt from scratch, cash/equity return to the initial capital,
// and the session's start time moves to tsNs. If the session was running
// or paused beforehand, it is restarted afterward (paused sessions stay
// paused). Unlike FastForward, no queued event is replayed.
func (s *Session) JumpTo(tsNs int64) {
	prevStatus := s.Status()
	wasActive := prevStatus == Running || prevStatus == Paused

	if wasActive {
		s.shouldStop.Store(true)
		s.haltGoroutines()
	}

	cfg := s.currentExecution()
	s.queue.Clear()
	s.queue.Reset()
	s.engine = matching.New(cfg, s.seed, s.log)
	s.ledger = ledger.New(s.initialCapital)
	s.perf = perf.New(tsNs, s.initialCapital)

	s.ordersMu.Lock()
	s.orders = make(map[uint64]*model.Order)
	s.ordersMu.Unlock()

	s.lastEventNs.Store(0)
	s.eventsProcessed.Store(0)
	s.eventsEnqueued.Store(0)
	s.eventsDropped.Store(0)
	s.lastCkptEvents.Store(0)
	s.marginCallActive.Store(false)
	s.start = tsNs
	s.clock.SetTime(tsNs)

	if wasActive {
		s.Start()
		if prevStatus == Paused {
			s.Pause()
		}
	}
}

// FastForward stops the worker and feeder, drains every queued event with
// timestamp ≤ to by calling processEvent(emitCallbacks=false) directly on
// the caller's goroutine, then restarts the worker if the session was
// running or paused beforehand (preserving paused state). Unlike JumpTo,
// existing ledger/order/queue state is retained and advanced, not rebuilt.
func (s *Session) FastForward(to int64) error {
	prevStatus := s.Status()
	wasActive := prevStatus == Running || prevStatus == Paused
	if wasActive {
		s.shouldStop.Store(true)
		s.haltGoroutines()
		s.queue.Reset()
	}

	for {
		ev, ok := s.queue.Peek()
		if !ok || ev.Timestamp > to {
			break
		}
		ev, ok = s.queue.Pop()
		if !ok {
			break
		}
		s.processEvent(ev, false)
	}
	s.clock.SetTime(to)

	if wasActive {
		s.Start()
		if prevStatus == Paused {
			s.Pause()
		}
	}
	return nil
}
