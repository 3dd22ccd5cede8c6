package matching

import (
	"github.com/rishav/marketsim/internal/model"
	"github.com/shopspring/decimal"
)

// tryFill runs the fill algorithm for order against nbbo. Caller holds
// e.mu. Returns nil if no fill resulted (the order may have been enqueued
// as a side effect, per its TIF).
func (e *Engine) tryFill(order *model.Order, nbbo model.NBBO) *model.Fill {
	// 1. Latency gate.
	if order.MinExecNs > 0 && nbbo.TsNs < order.MinExecNs {
		e.enqueueIfAllowed(order)
		return nil
	}

	// 2. Crossed-market gate.
	if nbbo.IsCrossed() {
		e.enqueueIfAllowed(order)
		return nil
	}

	// 3. Fill probability.
	if !e.shouldFill() {
		e.enqueueIfAllowed(order)
		return nil
	}

	// 4. Type dispatch.
	switch order.Type {
	case model.Market:
		return e.executeMarket(order, nbbo)

	case model.Limit:
		if e.isMarketableLimit(order, nbbo) {
			return e.executeLimit(order, nbbo)
		}

	case model.Stop:
		if order.StopTriggered || e.isStopTriggered(order, nbbo) {
			order.StopTriggered = true
			return e.executeMarket(order, nbbo)
		}

	case model.StopLimit:
		if order.StopTriggered || e.isStopTriggered(order, nbbo) {
			order.StopTriggered = true
			if e.isMarketableLimit(order, nbbo) {
				return e.executeLimit(order, nbbo)
			}
		}

	case model.TrailingStop:
		e.updateTrailingStopHWM(order, nbbo)
		if order.StopTriggered || e.isTrailingStopTriggered(order, nbbo) {
			order.StopTriggered = true
			return e.executeMarket(order, nbbo)
		}
	}

	// 5. No action taken: enqueue if TIF permits.
	e.enqueueIfAllowed(order)
	return nil
}

func (e *Engine) enqueueIfAllowed(order *model.Order) {
	if !order.TIF.CanRest() {
		return
	}
	order.Status = model.StatusAccepted
	e.pending[order.ID] = order
}

// executeMarket fills order at the touch price on its side, subject to
// available size, extended-hours liquidity reduction, and slippage.
func (e *Engine) executeMarket(order *model.Order, nbbo model.NBBO) *model.Fill {
	isBuy := order.Side == model.Buy
	base := nbbo.Bid
	avail := nbbo.BidSize
	if isBuy {
		base = nbbo.Ask
		avail = nbbo.AskSize
	}

	if !base.IsPositive() || avail <= 0 {
		return &model.Fill{OrderID: order.ID, Qty: 0, Price: base, TimestampNs: nbbo.TsNs, IsPartial: true}
	}

	avail = e.applyExtendedHoursLiquidity(avail, nbbo.TsNs)
	remaining := order.RemainingQty()

	fillQty := remaining
	if e.cfg.EnablePartialFills && avail < remaining {
		fillQty = avail
	}

	if order.TIF == model.FOK && e.cfg.EnablePartialFills && avail < remaining {
		return &model.Fill{OrderID: order.ID, Qty: 0, Price: base, TimestampNs: nbbo.TsNs, IsPartial: true}
	}

	slip := e.sampleSlippageMultiplier(isBuy, nbbo.TsNs)
	fillPrice := base.Mul(slip)

	return e.applyFill(order, fillQty, fillPrice, nbbo.TsNs, false)
}

// executeLimit fills order at the better of its limit price and the touch,
// with no slippage applied (slippage/impact are market-order and
// session-layer concerns respectively).
func (e *Engine) executeLimit(order *model.Order, nbbo model.NBBO) *model.Fill {
	isBuy := order.Side == model.Buy
	var base decimal.Decimal
	var avail int64

	if isBuy {
		base = nbbo.Ask
		if order.LimitPrice.LessThan(base) {
			base = order.LimitPrice
		}
		avail = nbbo.AskSize
	} else {
		base = nbbo.Bid
		if order.LimitPrice.GreaterThan(base) {
			base = order.LimitPrice
		}
		avail = nbbo.BidSize
	}

	if !base.IsPositive() || avail <= 0 {
		return &model.Fill{OrderID: order.ID, Qty: 0, Price: base, TimestampNs: nbbo.TsNs, IsPartial: true}
	}

	avail = e.applyExtendedHoursLiquidity(avail, nbbo.TsNs)
	remaining := order.RemainingQty()

	fillQty := remaining
	if e.cfg.EnablePartialFills && avail < remaining {
		fillQty = avail
	}

	if order.TIF == model.FOK && e.cfg.EnablePartialFills && avail < remaining {
		return &model.Fill{OrderID: order.ID, Qty: 0, Price: base, TimestampNs: nbbo.TsNs, IsPartial: true}
	}

	order.IsMaker = true
	return e.applyFill(order, fillQty, base, nbbo.TsNs, true)
}

// applyFill mutates order's filled_qty/status/last_fill_price and builds
// the resulting Fill record.
func (e *Engine) applyFill(order *model.Order, fillQty int64, fillPrice decimal.Decimal, tsNs int64, isMaker bool) *model.Fill {
	remaining := order.RemainingQty()
	isPartial := fillQty < remaining

	order.FilledQty += fillQty
	order.LastFillPrice = fillPrice
	order.Timestamps.Updated = tsNs

	if isPartial {
		order.Status = model.StatusPartiallyFilled
	} else {
		order.Status = model.StatusFilled
		order.Timestamps.Filled = tsNs
	}
	if isMaker {
		order.IsMaker = true
	}

	return &model.Fill{OrderID: order.ID, Qty: fillQty, Price: fillPrice, TimestampNs: tsNs, IsPartial: isPartial}
}

func (e *Engine) applyExtendedHoursLiquidity(avail int64, tsNs int64) int64 {
	if !e.cfg.EnforceMarketHours {
		return avail
	}
	session := MarketSessionAt(tsNs, e.cfg)
	if session != Premarket && session != Afterhours {
		return avail
	}
	pct := e.cfg.ExtendedHoursLiquidityPct / 100.0
	return int64(float64(avail) * pct)
}

func (e *Engine) isMarketableLimit(order *model.Order, nbbo model.NBBO) bool {
	if order.Side == model.Buy {
		return order.LimitPrice.GreaterThanOrEqual(nbbo.Ask) && nbbo.Ask.IsPositive()
	}
	return order.LimitPrice.LessThanOrEqual(nbbo.Bid) && nbbo.Bid.IsPositive()
}

func (e *Engine) sideReferencePrice(order *model.Order, nbbo model.NBBO) decimal.Decimal {
	if order.Side == model.Buy {
		return nbbo.Ask
	}
	return nbbo.Bid
}

func (e *Engine) isStopTriggered(order *model.Order, nbbo model.NBBO) bool {
	ref := e.sideReferencePrice(order, nbbo)
	if order.Side == model.Buy {
		return ref.GreaterThanOrEqual(order.StopPrice)
	}
	return ref.LessThanOrEqual(order.StopPrice)
}

func (e *Engine) isTrailingStopTriggered(order *model.Order, nbbo model.NBBO) bool {
	if !order.HasHWM {
		return false
	}
	mid := nbbo.Mid()

	if order.Side == model.Sell {
		if order.TrailPrice.IsPositive() {
			return mid.LessThanOrEqual(order.HWM.Sub(order.TrailPrice))
		}
		if order.TrailPercent.IsPositive() {
			factor := decimal.NewFromInt(1).Sub(order.TrailPercent.Div(decimal.NewFromInt(100)))
			return mid.LessThanOrEqual(order.HWM.Mul(factor))
		}
		return false
	}

	if order.TrailPrice.IsPositive() {
		return mid.GreaterThanOrEqual(order.HWM.Add(order.TrailPrice))
	}
	if order.TrailPercent.IsPositive() {
		factor := decimal.NewFromInt(1).Add(order.TrailPercent.Div(decimal.NewFromInt(100)))
		return mid.GreaterThanOrEqual(order.HWM.Mul(factor))
	}
	return false
}

// updateTrailingStopHWM seeds the high-water mark on the first tick a
// trailing-stop order observes, then tracks the running extremum: SELL
// tracks the maximum mid, BUY tracks the minimum.
func (e *Engine) updateTrailingStopHWM(order *model.Order, nbbo model.NBBO) {
	mid := nbbo.Mid()
	if !order.HasHWM {
		order.HWM = mid
		order.HasHWM = true
		return
	}
	if order.Side == model.Sell {
		if mid.GreaterThan(order.HWM) {
			order.HWM = mid
		}
	} else {
		if mid.LessThan(order.HWM) {
			order.HWM = mid
		}
	}
}
