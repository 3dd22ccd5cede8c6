// Package session implements the per-tenant container: simulated clock,
// event queue, matching engine, ledger, performance tracker, durability
// handles, and the worker goroutine that pumps events from queue to
// ledger in (timestamp, sequence) order. A Session is the unit the
// manager creates, starts, pauses, jumps, and destroys.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rishav/marketsim/internal/config"
	"github.com/rishav/marketsim/internal/datasource"
	"github.com/rishav/marketsim/internal/durability"
	"github.com/rishav/marketsim/internal/eventqueue"
	"github.com/rishav/marketsim/internal/fanout"
	"github.com/rishav/marketsim/internal/feed"
	"github.com/rishav/marketsim/internal/ledger"
	"github.com/rishav/marketsim/internal/matching"
	"github.com/rishav/marketsim/internal/model"
	"github.com/rishav/marketsim/internal/perf"
	"github.com/rishav/marketsim/internal/risk"
	"github.com/rishav/marketsim/internal/simclock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Status is a session's lifecycle state.
type Status int

const (
	Created Status = iota
	Running
	Paused
	Stopped
	Completed
	Error
)

func (s Status) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	case Stopped:
		return "STOPPED"
	case Completed:
		return "COMPLETED"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Params are the caller-supplied arguments to create a new session.
type Params struct {
	SessionID      string // empty means "generate one"
	Symbols        []string
	Start          int64
	End            int64
	InitialCapital decimal.Decimal
	SpeedFactor    float64
	Seed           int64
}

// Session owns one tenant's full simulation state.
type Session struct {
	id      string
	symbols map[string]bool
	start   int64
	end     int64

	initialCapital decimal.Decimal
	seed           int64
	queuePolicy    eventqueue.OverflowPolicy

	cfg   config.Config
	cfgMu sync.RWMutex

	clock   *simclock.Clock
	queue   *eventqueue.Queue
	engine  *matching.Engine
	ledger  *ledger.Ledger
	perf    *perf.Tracker
	risk    *risk.Checker
	ds      datasource.DataSource
	fan     *fanout.Registry
	logDir  string
	wal     *durability.WAL
	evtLog  *durability.EventLog
	limiter *rate.Limiter

	ordersMu sync.RWMutex
	orders   map[uint64]*model.Order

	priorCloseMu sync.Mutex
	priorClose   map[string]decimal.Decimal

	nextOrderID atomic.Uint64

	statusMu sync.RWMutex
	status   Status
	errMsg   string

	eventsEnqueued  atomic.Uint64
	eventsDropped   atomic.Uint64
	eventsProcessed atomic.Uint64
	lastEventNs     atomic.Int64
	lastCkptEvents  atomic.Uint64

	marginCallActive atomic.Bool

	shouldStop   atomic.Bool
	workerDone   chan struct{}
	feederCancel context.CancelFunc
	feederDone   chan struct{}

	log zerolog.Logger
}

// New builds a session's clock, queue, engine, ledger, and tracker, opens
// its durability handles if enabled, and attempts checkpoint recovery
// before returning.
func New(cfg config.Config, p Params, ds datasource.DataSource, fan *fanout.Registry, logDir string, log zerolog.Logger) (*Session, error) {
	id := p.SessionID
	if id == "" {
		id = uuid.New().String()
	}

	symbols := make(map[string]bool, len(p.Symbols))
	for _, s := range p.Symbols {
		symbols[s] = true
	}

	policy := eventqueue.Block
	if cfg.Execution.QueueDropOldest {
		policy = eventqueue.DropOldest
	}

	s := &Session{
		id:             id,
		symbols:        symbols,
		start:          p.Start,
		end:            p.End,
		initialCapital: p.InitialCapital,
		seed:           p.Seed,
		queuePolicy:    policy,
		cfg:            cfg,
		clock:          simclock.New(p.Start, p.SpeedFactor),
		queue:          eventqueue.New(cfg.Execution.QueueCapacity, policy),
		engine:         matching.New(cfg.Execution, p.Seed, log),
		ledger:         ledger.New(p.InitialCapital),
		perf:           perf.New(p.Start, p.InitialCapital),
		risk:           risk.NewChecker(risk.Config{MaxPositionValue: decimal.NewFromFloat(cfg.Execution.MaxPositionValue), MaxSingleOrderValue: decimal.NewFromFloat(cfg.Execution.MaxSingleOrderValue)}),
		ds:             ds,
		fan:            fan,
		logDir:         logDir,
		orders:         make(map[uint64]*model.Order),
		priorClose:     make(map[string]decimal.Decimal),
		status:         Created,
		limiter:        rate.NewLimiter(rate.Inf, 1),
		log:            log.With().Str("component", "session").Str("session_id", id).Logger(),
	}

	if cfg.Execution.EnableWAL {
		wal, err := durability.OpenWAL(logDir, id, durability.DefaultMaxBytes)
		if err != nil {
			return nil, fmt.Errorf("session: open wal: %w", err)
		}
		s.wal = wal

		evtLog, err := durability.OpenEventLog(logDir, id)
		if err != nil {
			return nil, fmt.Errorf("session: open event log: %w", err)
		}
		s.evtLog = evtLog
	}

	if err := s.recover(); err != nil {
		s.log.Warn().Err(err).Msg("checkpoint recovery failed, starting fresh")
	}

	return s, nil
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}

// Watermark returns last_event_ns: the simulated time of the most recently
// processed event.
func (s *Session) Watermark() int64 {
	return s.lastEventNs.Load()
}

// ClockTime returns the simulated clock's current time, independent of
// last_event_ns: after JumpTo these diverge (the clock moves to the jump
// target while last_event_ns resets to 0).
func (s *Session) ClockTime() int64 {
	return s.clock.CurrentNs()
}

// State returns the account snapshot.
func (s *Session) State() model.AccountState { return s.ledger.State() }

// Positions returns every open position.
func (s *Session) Positions() []model.Position { return s.ledger.Positions() }

// Orders returns a snapshot of every order the session has ever seen.
func (s *Session) Orders() []model.Order {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()
	out := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out
}

// GetOrder returns a copy of the order with id, if known.
func (s *Session) GetOrder(id uint64) (model.Order, bool) {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

func (s *Session) symbolList() []string {
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

// Start transitions the session to RUNNING, spawns the feeder(s) and the
// worker goroutine running the session loop.
func (s *Session) Start() {
	s.clock.Start()
	s.setStatus(Running)
	s.shouldStop.Store(false)
	s.workerDone = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	s.feederCancel = cancel
	s.feederDone = make(chan struct{})

	go s.runFeeder(ctx)
	go s.runLoop()
}

// Pause suspends the clock; the worker blocks at its next wait point.
func (s *Session) Pause() {
	s.clock.Pause()
	s.setStatus(Paused)
	s.walAppend(model.WalEntry{Event: model.WalSessionPaused, SessionID: s.id})
}

// Resume wakes a paused worker.
func (s *Session) Resume() {
	s.clock.Resume()
	s.setStatus(Running)
	s.walAppend(model.WalEntry{Event: model.WalSessionResumed, SessionID: s.id})
}

// Stop saves a final checkpoint, signals the queue and clock to unblock
// every waiter, and joins the feeder and worker goroutines. Idempotent.
func (s *Session) Stop() {
	if s.shouldStop.Swap(true) {
		return
	}
	s.SaveCheckpoint()
	s.haltGoroutines()
	s.setStatus(Stopped)

	if s.wal != nil {
		_ = s.wal.Close()
	}
	if s.evtLog != nil {
		_ = s.evtLog.Close()
	}
}

// haltGoroutines signals the clock and queue to unblock every waiter and
// joins the feeder and worker goroutines, without touching durability
// handles or saving a checkpoint. Shared by Stop and JumpTo's hard reset.
func (s *Session) haltGoroutines() {
	s.clock.Stop()
	s.queue.Stop()
	if s.feederCancel != nil {
		s.feederCancel()
	}
	if s.feederDone != nil {
		<-s.feederDone
	}
	if s.workerDone != nil {
		<-s.workerDone
	}
}

// queueSink returns a feed.Sink bound to this session's own queue,
// counting enqueued vs. dropped events. Shared by the per-session feeder
// and the manager's shared feeder (via FeedTarget).
func (s *Session) queueSink() feed.Sink {
	return func(symbol string, kind model.EventKind, tsNs int64, payload interface{}) {
		if s.queue.Push(tsNs, kind, symbol, payload) {
			s.eventsEnqueued.Add(1)
		} else {
			s.eventsDropped.Add(1)
		}
	}
}

// FeedTarget returns this session as a feed.Target, wired to push directly
// into its own queue. Used by the manager to assemble the target list for
// feed.RunShared when shared-feeder mode is enabled; the session's own
// runFeeder takes no action in that mode and leaves delivery to the caller
// of FeedTarget instead.
func (s *Session) FeedTarget() feed.Target {
	return feed.Target{
		SessionID: s.id,
		Symbols:   s.symbols,
		Start:     s.start,
		End:       s.end,
		Sink:      s.queueSink(),
	}
}

func (s *Session) runFeeder(ctx context.Context) {
	defer close(s.feederDone)

	cfg := s.currentExecution()
	sink := s.queueSink()

	var err error
	if cfg.PollIntervalSeconds > 0 && !cfg.EnableSharedFeed {
		err = feed.RunPolling(ctx, s.ds, s.symbolList(), s.start, s.end, cfg.PollIntervalSeconds, func() bool { return s.shouldStop.Load() }, sink)
	} else if !cfg.EnableSharedFeed {
		err = feed.RunDefault(ctx, s.ds, s.symbolList(), s.start, s.end, sink)
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("feeder exited with error")
	}
}

// runLoop is the session worker: pop, gate on the clock, dispatch,
// checkpoint, repeat.
func (s *Session) runLoop() {
	defer close(s.workerDone)
	defer func() {
		if r := recover(); r != nil {
			s.setStatus(Error)
			s.errMsg = fmt.Sprintf("%v", r)
			s.log.Error().Interface("panic", r).Msg("session worker panicked")
		}
	}()

	for !s.shouldStop.Load() {
		ev, ok := s.queue.WaitAndPop()
		if !ok {
			break
		}
		if !s.clock.WaitForNextEvent(ev.Timestamp) {
			break
		}
		s.processEvent(ev, true)
		s.maybeCheckpoint()
	}

	if !s.shouldStop.Load() {
		s.setStatus(Completed)
	}
}

func (s *Session) currentExecution() config.ExecutionConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.Execution
}

// processEvent dispatches one market-tape event. emitCallbacks is false
// during fast_forward replay, where WAL entries are still produced but
// subscribers are not notified.
func (s *Session) processEvent(ev model.Event, emitCallbacks bool) {
	if s.evtLog != nil {
		_ = s.evtLog.Append(ev)
	}
	s.lastEventNs.Store(ev.Timestamp)
	s.walAppendMarketEvent(ev)

	cfg := s.currentExecution()

	switch ev.Kind {
	case model.EventQuote:
		qp, _ := ev.Payload.(model.QuotePayload)
		nbbo := model.NBBO{
			Symbol:  ev.Symbol,
			Bid:     decimal.NewFromFloat(qp.Bid),
			BidSize: qp.BidSize,
			Ask:     decimal.NewFromFloat(qp.Ask),
			AskSize: qp.AskSize,
			TsNs:    ev.Timestamp,
		}
		result := s.engine.UpdateNBBO(nbbo)
		for _, fill := range result.Fills {
			if order, ok := s.orderByID(fill.OrderID); ok {
				s.processFill(order, fill)
			}
		}
		for _, order := range result.Expired {
			s.upsertOrder(order)
			s.emit(model.EventOrderExpire, order.Symbol, order, emitCallbacks)
		}
		if nbbo.Bid.IsPositive() || nbbo.Ask.IsPositive() {
			s.ledger.MarkToMarket(ev.Symbol, nbbo.Mid())
		}
		s.enforceMargin(emitCallbacks)

	case model.EventTrade:
		tp, _ := ev.Payload.(model.TradePayload)
		price := decimal.NewFromFloat(tp.Price)
		s.ledger.MarkToMarket(ev.Symbol, price)

		if cfg.EnableShortSaleRestrictions {
			s.priorCloseMu.Lock()
			prior, ok := s.priorClose[ev.Symbol]
			s.priorCloseMu.Unlock()
			if ok && prior.IsPositive() {
				dropPct := prior.Sub(price).Div(prior).Mul(decimal.NewFromInt(100))
				if dropPct.GreaterThanOrEqual(decimal.NewFromFloat(cfg.SSRThresholdPct)) {
					s.risk.SetSSR(ev.Symbol, true)
				}
			}
		}

	case model.EventHalt:
		haltEnd := int64(0)
		if cfg.LULDHaltDurationSec > 0 {
			haltEnd = ev.Timestamp + cfg.LULDHaltDurationSec*1_000_000_000
		}
		s.risk.Halt(ev.Symbol, haltEnd)

	case model.EventResume:
		s.risk.Resume(ev.Symbol)

	case model.EventDividend:
		if cfg.EnableAutoCorporateActions {
			dp, _ := ev.Payload.(model.DividendPayload)
			amt := decimal.NewFromFloat(dp.AmountPerShare)
			s.ledger.ApplyDividend(ev.Symbol, amt)
			s.walAppend(model.WalEntry{TsNs: ev.Timestamp, Event: model.WalDividend, Symbol: ev.Symbol, AmountPerShare: amt.String()})
		}

	case model.EventSplit:
		if cfg.EnableAutoCorporateActions {
			sp, _ := ev.Payload.(model.SplitPayload)
			ratio := decimal.NewFromFloat(sp.Ratio)
			s.ledger.ApplySplit(ev.Symbol, ratio)
			s.walAppend(model.WalEntry{TsNs: ev.Timestamp, Event: model.WalSplit, Symbol: ev.Symbol, Ratio: ratio.String()})
		}
	}

	s.risk.PruneExpiredHalts(ev.Timestamp)

	eq := s.ledger.State().Equity
	s.perf.Append(ev.Timestamp, eq)

	if emitCallbacks {
		s.fan.Publish(s.id, ev)
	}
	s.eventsProcessed.Add(1)
}

func (s *Session) orderByID(id uint64) (*model.Order, bool) {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

func (s *Session) upsertOrder(o *model.Order) {
	s.ordersMu.Lock()
	s.orders[o.ID] = o
	s.ordersMu.Unlock()
}

func (s *Session) emit(kind model.EventKind, symbol string, payload interface{}, emitCallbacks bool) {
	if !emitCallbacks {
		return
	}
	s.fan.Publish(s.id, model.Event{Timestamp: s.lastEventNs.Load(), Symbol: symbol, Kind: kind, Payload: payload})
}

// SubmitOrder runs the order submission pipeline: stamping, latency, TIF
// windows, buying power/shorting, halted/SSR gates, is_maker tagging,
// matching submission, fill application, and IOC/FOK residual
// cancellation. Any gate failure returns (0, reason) with no state change
// and no WAL entry.
func (s *Session) SubmitOrder(order *model.Order) (uint64, string) {
	_ = s.limiter.Wait(context.Background())

	now := time.Now().UnixNano()
	order.ID = s.nextOrderID.Add(1)
	if order.ClientOrderID == "" {
		order.ClientOrderID = uuid.New().String()
	}
	order.Timestamps.Created = now
	order.Timestamps.Submitted = now
	order.Timestamps.Updated = now
	order.IsMaker = false
	order.Status = model.StatusNew

	cfg := s.currentExecution()
	simNow := s.lastEventNs.Load()
	if simNow == 0 {
		simNow = s.start
	}

	if cfg.EnableLatency {
		order.MinExecNs = simNow + cfg.FixedLatencyUs*1000
	}

	switch order.TIF {
	case model.OPG:
		cutoff := s.start + 5*60*1_000_000_000
		order.ExpireAt = cutoff
		order.HasExpireAt = true
		if now > cutoff {
			return 0, "opg window closed"
		}
	case model.CLS:
		order.ExpireAt = s.end
		order.HasExpireAt = true
		if now > s.end {
			return 0, "cls window closed"
		}
	case model.DAY:
		order.ExpireAt = s.end
		order.HasExpireAt = true
	}

	nbbo, hasNBBO := s.engine.GetNBBO(order.Symbol)
	estPrice := order.LimitPrice
	if !estPrice.IsPositive() && hasNBBO {
		estPrice = nbbo.Ask
	}

	pos := s.ledger.Position(order.Symbol)
	if order.Side == model.Buy {
		notional := decimal.NewFromInt(order.Qty).Mul(estPrice)
		if ok, reason := s.risk.CheckOrderValue(notional); !ok {
			return 0, reason
		}
		if ok, reason := s.risk.CheckPositionValue(pos.MarketValue, notional); !ok {
			return 0, reason
		}
		if !s.ledger.HasBuyingPower(notional, true) {
			return 0, "insufficient buying power"
		}
	} else {
		shortQty := order.Qty - maxInt64(pos.Qty, 0)
		if shortQty > 0 {
			if !cfg.AllowShorting {
				return 0, "shorting disallowed"
			}
			if order.LimitPrice.IsPositive() {
				notional := decimal.NewFromInt(shortQty).Mul(order.LimitPrice)
				if !s.ledger.HasBuyingPower(notional, false) {
					return 0, "insufficient buying power"
				}
			}
		}
	}

	s.risk.PruneExpiredHalts(simNow)
	if s.risk.IsHalted(order.Symbol) {
		return 0, "symbol halted"
	}

	shortQty := order.Qty - maxInt64(pos.Qty, 0)
	if shortQty > 0 && s.risk.IsSSR(order.Symbol) {
		if order.Type == model.Market {
			return 0, "ssr: market short disallowed"
		}
		if order.Type == model.Limit && hasNBBO && order.LimitPrice.LessThan(nbbo.Bid) {
			return 0, "ssr: limit priced below nbb"
		}
	}

	if order.Type == model.Limit {
		order.IsMaker = !s.engine.IsMarketableLimit(order)
	}

	var fill *model.Fill
	if cfg.EnableLatency {
		fill = s.engine.SubmitOrderWithLatency(order, now)
	} else {
		fill = s.engine.SubmitOrder(order)
	}
	if order.Status == model.StatusRejected {
		return 0, order.RejectReason
	}

	s.upsertOrder(order)
	s.walAppendOrderSubmitted(order)
	s.emit(model.EventOrderNew, order.Symbol, order, true)

	if fill != nil && fill.Qty > 0 {
		s.processFill(order, *fill)
	}

	if (order.TIF == model.IOC || order.TIF == model.FOK) && order.RemainingQty() > 0 {
		s.engine.CancelOrder(order.ID)
		order.Status = model.StatusCanceled
		order.Timestamps.Canceled = now
		order.Timestamps.Updated = now
		s.upsertOrder(order)
		s.walAppend(model.WalEntry{TsNs: simNow, Event: model.WalOrderCanceled, OrderID: order.ID})
		s.emit(model.EventOrderCancel, order.Symbol, order, true)
	}

	return order.ID, ""
}

// CancelOrder cancels a resting order.
func (s *Session) CancelOrder(id uint64) bool {
	if !s.engine.CancelOrder(id) {
		return false
	}
	if order, ok := s.orderByID(id); ok {
		now := time.Now().UnixNano()
		order.Status = model.StatusCanceled
		order.Timestamps.Canceled = now
		order.Timestamps.Updated = now
		s.upsertOrder(order)
		s.walAppend(model.WalEntry{TsNs: s.lastEventNs.Load(), Event: model.WalOrderCanceled, OrderID: id})
		s.emit(model.EventOrderCancel, order.Symbol, order, true)
	}
	return true
}

// ApplyDividend credits cash on every long position in symbol at
// amountPerShare, independent of the market tape. Used by the manager's
// direct corporate-action control surface, not the EVENT_DIVIDEND tape
// path (processEvent's EventDividend case), though both end up calling
// the same ledger method.
func (s *Session) ApplyDividend(symbol string, amountPerShare decimal.Decimal) {
	s.ledger.ApplyDividend(symbol, amountPerShare)
	s.walAppend(model.WalEntry{TsNs: s.lastEventNs.Load(), Event: model.WalDividend, Symbol: symbol, AmountPerShare: amountPerShare.String()})
	s.emit(model.EventDividend, symbol, model.DividendPayload{AmountPerShare: amountPerShare.InexactFloat64()}, true)
}

// ApplySplit rescales qty and avg entry price for symbol by ratio,
// independent of the market tape. See ApplyDividend for the
// direct-control-surface vs. tape-path distinction.
func (s *Session) ApplySplit(symbol string, ratio decimal.Decimal) {
	s.ledger.ApplySplit(symbol, ratio)
	s.walAppend(model.WalEntry{TsNs: s.lastEventNs.Load(), Event: model.WalSplit, Symbol: symbol, Ratio: ratio.String()})
	s.emit(model.EventSplit, symbol, model.SplitPayload{Ratio: ratio.InexactFloat64()}, true)
}

// processFill applies market impact, fees, and the resulting ledger
// mutation for a fill the matching engine just produced. Fixed slippage is
// intentionally not reapplied here: the matching engine already applies it
// to market-order fills (internal/matching/fill.go), and reapplying it here
// would double the adjustment.
func (s *Session) processFill(order *model.Order, fill model.Fill) {
	cfg := s.currentExecution()

	if cfg.EnableMarketImpact {
		if nbbo, ok := s.engine.GetNBBO(order.Symbol); ok {
			avail := nbbo.BidSize
			if order.Side == model.Buy {
				avail = nbbo.AskSize
			}
			if avail > 0 {
				ratio := float64(fill.Qty) / float64(avail)
				if ratio > 1 {
					ratio = 1
				}
				bps := cfg.MarketImpactBps * ratio / 10000.0
				mult := 1.0 + bps
				if order.Side == model.Sell {
					mult = 1.0 - bps
				}
				fill.Price = fill.Price.Mul(decimal.NewFromFloat(mult))
			}
		}
	}

	if cfg.EnableLatency && cfg.FixedLatencyUs > 0 {
		time.Sleep(time.Duration(cfg.FixedLatencyUs) * time.Microsecond)
	}

	fees := feeModel(s.cfgSnapshot().Fees, fill.Qty, fill.Price, order.Side == model.Sell, order.IsMaker)
	s.ledger.ApplyFill(order.Symbol, fill, order.Side, fees)
	s.perf.Append(fill.TimestampNs, s.ledger.State().Equity)

	s.upsertOrder(order)
	s.walAppend(model.WalEntry{
		TsNs: fill.TimestampNs, Event: model.WalFill, OrderID: order.ID, Symbol: order.Symbol,
		Side: order.Side.String(), Qty: fill.Qty, Price: fill.Price.String(), Fee: fees.String(),
	})
	if s.evtLog != nil {
		_ = s.evtLog.Append(fill)
	}
	s.emit(model.EventOrderFill, order.Symbol, fill, true)
}

func (s *Session) cfgSnapshot() config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// feeModel implements the standard US-equity fee schedule:
// per_order + qty*per_share + (sell ? notional*sec/1e6 + min(qty*taf, taf_cap) : 0)
//
//	+ (is_maker ? qty*maker_rebate : qty*taker_fee)
func feeModel(f config.FeesConfig, qty int64, price decimal.Decimal, isSell, isMaker bool) decimal.Decimal {
	q := decimal.NewFromInt(qty)
	fees := decimal.NewFromFloat(f.PerOrder).Add(q.Mul(decimal.NewFromFloat(f.PerShare)))

	if isSell {
		notional := q.Mul(price)
		sec := notional.Mul(decimal.NewFromFloat(f.SECRate)).Div(decimal.NewFromInt(1_000_000))
		taf := q.Mul(decimal.NewFromFloat(f.TAFRate))
		cap := decimal.NewFromFloat(f.TAFCap)
		if taf.GreaterThan(cap) {
			taf = cap
		}
		fees = fees.Add(sec).Add(taf)
	}

	if isMaker {
		fees = fees.Add(q.Mul(decimal.NewFromFloat(f.MakerRebate)))
	} else {
		fees = fees.Add(q.Mul(decimal.NewFromFloat(f.TakerFee)))
	}
	return fees
}

// enforceMargin triggers forced liquidation when maintenance margin is
// breached, guarded by marginCallActive so it fires at most once per
// entry into the breached state.
func (s *Session) enforceMargin(emitCallbacks bool) {
	cfg := s.currentExecution()
	if !cfg.EnableMarginCallChecks {
		return
	}
	acct := s.ledger.State()
	breached := acct.MaintenanceMargin.IsPositive() && acct.Equity.LessThan(acct.MaintenanceMargin)

	if !breached {
		s.marginCallActive.Store(false)
		return
	}
	if !cfg.EnableForcedLiquidation {
		return
	}
	if s.marginCallActive.Swap(true) {
		return
	}

	for _, pos := range s.ledger.Positions() {
		if pos.Qty == 0 {
			continue
		}
		nbbo, ok := s.engine.GetNBBO(pos.Symbol)
		if !ok {
			continue
		}
		side := model.Sell
		price := nbbo.Bid
		if pos.Qty < 0 {
			side = model.Buy
			price = nbbo.Ask
		}
		qty := pos.Qty
		if qty < 0 {
			qty = -qty
		}
		order := &model.Order{
			ID:     s.nextOrderID.Add(1),
			Symbol: pos.Symbol,
			Side:   side,
			Type:   model.Market,
			TIF:    model.DAY,
			Qty:    qty,
			Status: model.StatusNew,
		}
		s.upsertOrder(order)
		s.emit(model.EventOrderNew, order.Symbol, order, emitCallbacks)
		fill := model.Fill{OrderID: order.ID, Qty: qty, Price: price, TimestampNs: nbbo.TsNs}
		order.FilledQty = qty
		order.Status = model.StatusFilled
		s.processFill(order, fill)
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
