// Package matching implements the per-session NBBO-based matching engine.
//
// Unlike a conventional exchange core, there is no resting multi-party
// order book here: each session replays a historical tape and sees only
// its own orders against that tape's top-of-book quotes. An order either
// matches against the current NBBO immediately or, if its time-in-force
// permits, waits in pending_orders for the next NBBO tick on its symbol.
package matching

import (
	"math/rand"
	"sync"

	"github.com/rishav/marketsim/internal/config"
	"github.com/rishav/marketsim/internal/model"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Engine holds one session's NBBO cache and pending-order table. All
// mutating entry points are serialized behind a single mutex, the usual
// discipline for a component with readers and writers on the hot path.
type Engine struct {
	mu      sync.Mutex
	nbbo    map[string]model.NBBO
	pending map[uint64]*model.Order

	cfg config.ExecutionConfig
	rng *rand.Rand

	log zerolog.Logger
}

// New creates a matching engine seeded with cfg. seed fixes the PRNG used
// for latency sampling, slippage sampling, and the rejection/fill
// stochastics so that a given seed reproduces identical behavior.
func New(cfg config.ExecutionConfig, seed int64, log zerolog.Logger) *Engine {
	return &Engine{
		nbbo:    make(map[string]model.NBBO),
		pending: make(map[uint64]*model.Order),
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		log:     log.With().Str("component", "matching").Logger(),
	}
}

// SetConfig replaces the execution config in effect.
func (e *Engine) SetConfig(cfg config.ExecutionConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// Reset clears the NBBO cache and pending-order table.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nbbo = make(map[string]model.NBBO)
	e.pending = make(map[uint64]*model.Order)
}

// SubmitOrder attempts to match order against the current NBBO for its
// symbol. It may reject (stochastic rejection), enqueue when its TIF allows
// resting (no current NBBO, or a non-match), or return a fill.
func (e *Engine) SubmitOrder(order *model.Order) *model.Fill {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shouldReject() {
		order.Status = model.StatusRejected
		order.RejectReason = "random rejection"
		return nil
	}

	nbbo, ok := e.nbbo[order.Symbol]
	if !ok {
		e.enqueueIfAllowed(order)
		return nil
	}

	return e.tryFill(order, nbbo)
}

// RestorePendingOrder re-enters a resting order into the pending table
// directly, bypassing the rejection/fill gates SubmitOrder applies to new
// submissions. Used only by checkpoint recovery, where the order was
// already accepted before the crash and must not be re-rolled or re-fanned
// out, just made visible to the next matching NBBO tick again.
func (e *Engine) RestorePendingOrder(order *model.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[order.ID] = order
}

// SubmitOrderWithLatency samples a latency from the configured fixed and
// random components, stamps order.MinExecNs, and then submits normally.
func (e *Engine) SubmitOrderWithLatency(order *model.Order, nowNs int64) *model.Fill {
	e.mu.Lock()
	latencyNs := e.sampleLatencyNs()
	e.mu.Unlock()

	order.MinExecNs = nowNs + latencyNs
	return e.SubmitOrder(order)
}

// UpdateNBBO refreshes the cached quote for nbbo.Symbol, then re-scans
// every pending order on that symbol: expiring orders whose expire_at has
// passed and attempting a fill for the rest.
func (e *Engine) UpdateNBBO(nbbo model.NBBO) UpdateResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nbbo[nbbo.Symbol] = nbbo
	var result UpdateResult

	for id, order := range e.pending {
		if order.Symbol != nbbo.Symbol {
			continue
		}

		if order.HasExpireAt && nbbo.TsNs > order.ExpireAt {
			order.Status = model.StatusExpired
			order.Timestamps.Expired = nbbo.TsNs
			result.Expired = append(result.Expired, order)
			delete(e.pending, id)
			continue
		}

		fill := e.tryFill(order, nbbo)
		if fill != nil {
			result.Fills = append(result.Fills, *fill)
			if !fill.IsPartial {
				delete(e.pending, id)
			}
		}
	}
	return result
}

// CancelOrder removes order from the pending table, marking it canceled.
// Returns false if no such order is pending.
func (e *Engine) CancelOrder(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.pending[id]
	if !ok {
		return false
	}
	order.Status = model.StatusCanceled
	delete(e.pending, id)
	return true
}

// GetNBBO returns the cached NBBO for symbol, if any.
func (e *Engine) GetNBBO(symbol string) (model.NBBO, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	nbbo, ok := e.nbbo[symbol]
	return nbbo, ok
}

// GetAllNBBO returns a snapshot of the entire cached NBBO table, used to
// populate a checkpoint's nbbo_cache.
func (e *Engine) GetAllNBBO() []model.NBBO {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.NBBO, 0, len(e.nbbo))
	for _, n := range e.nbbo {
		out = append(out, n)
	}
	return out
}

// IsMarketableLimit reports whether order (a LIMIT order) would execute
// immediately against the cached NBBO for its symbol. Used by the session's
// order submission pipeline to tag is_maker before the order ever reaches
// SubmitOrder. An order whose symbol carries no cached NBBO yet is treated
// as non-marketable (is_maker = true), matching the intuition that there is
// no market to cross against.
func (e *Engine) IsMarketableLimit(order *model.Order) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	nbbo, ok := e.nbbo[order.Symbol]
	if !ok {
		return false
	}
	return e.isMarketableLimit(order, nbbo)
}

// GetPendingOrders returns a snapshot of every currently pending order.
func (e *Engine) GetPendingOrders() []*model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*model.Order, 0, len(e.pending))
	for _, o := range e.pending {
		out = append(out, o)
	}
	return out
}

// GetOrder returns the pending order with the given id, if any.
func (e *Engine) GetOrder(id uint64) (*model.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.pending[id]
	return o, ok
}

func (e *Engine) shouldReject() bool {
	if e.cfg.RejectionProbability <= 0 {
		return false
	}
	return e.rng.Float64() < e.cfg.RejectionProbability
}

// shouldFill answers the fill-probability gate. The knob is misleadingly
// named "partial fill probability" upstream; it is really the chance that
// any match is attempted at all on this tick.
func (e *Engine) shouldFill() bool {
	if e.cfg.PartialFillProbability >= 1.0 {
		return true
	}
	if e.cfg.PartialFillProbability <= 0.0 {
		return false
	}
	return e.rng.Float64() < e.cfg.PartialFillProbability
}

func (e *Engine) sampleLatencyNs() int64 {
	if !e.cfg.EnableLatency {
		return 0
	}
	latencyNs := e.cfg.FixedLatencyUs * 1000
	if e.cfg.RandomLatencyMaxUs > 0 {
		latencyNs += e.rng.Int63n(e.cfg.RandomLatencyMaxUs*1000 + 1)
	}
	return latencyNs
}

func (e *Engine) sampleSlippageMultiplier(isBuy bool, tsNs int64) decimal.Decimal {
	if !e.cfg.EnableSlippage {
		return decimal.NewFromInt(1)
	}
	bps := e.cfg.FixedSlippageBps
	if e.cfg.RandomSlippageMaxBps > 0 {
		bps += e.rng.Float64() * e.cfg.RandomSlippageMaxBps
	}
	if e.cfg.EnforceMarketHours {
		session := MarketSessionAt(tsNs, e.cfg)
		if session == Premarket || session == Afterhours {
			bps *= e.cfg.ExtendedHoursSlippageMult
		}
	}
	mult := 1.0 + bps/10000.0
	if !isBuy {
		mult = 2.0 - mult
	}
	return decimal.NewFromFloat(mult)
}
