// Package model defines the core data types shared by every subsystem of the
// simulator: orders, fills, positions, account state, NBBO snapshots, and the
// event/checkpoint/WAL records that flow between them.
//
// Design decisions carried over from the matching-engine lineage this package
// is descended from:
//
//  1. Monotonic sequence numbers. Every order and every event receives a
//     session-scoped, strictly increasing sequence number assigned at the
//     point it enters the system. This is what makes WAL replay and
//     checkpoint/replay round-trips deterministic.
//
//  2. Fixed-point money. Prices, cash, and P&L are shopspring/decimal values,
//     never float64. Share counts are plain int64 — shares don't have
//     fractional-cent rounding problems, decimals of dollars do.
//
//  3. Timestamps are nanoseconds since a fixed epoch (int64), never
//     time.Time, on the simulated event plane. time.Time is reserved for
//     wall-clock bookkeeping (created-at stamps, rate limiting).
package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the side of an order.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType identifies the execution semantics of an order.
type OrderType int

const (
	Market OrderType = iota
	Limit
	Stop
	StopLimit
	TrailingStop
)

func (t OrderType) String() string {
	switch t {
	case Market:
		return "MARKET"
	case Limit:
		return "LIMIT"
	case Stop:
		return "STOP"
	case StopLimit:
		return "STOP_LIMIT"
	case TrailingStop:
		return "TRAILING_STOP"
	default:
		return "UNKNOWN"
	}
}

// TIF is the time-in-force of an order.
type TIF int

const (
	DAY TIF = iota
	GTC
	IOC
	FOK
	OPG
	CLS
)

func (t TIF) String() string {
	switch t {
	case DAY:
		return "DAY"
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	case OPG:
		return "OPG"
	case CLS:
		return "CLS"
	default:
		return "UNKNOWN"
	}
}

// CanRest reports whether this TIF is ever allowed to enqueue in the pending
// order table. IOC and FOK never rest.
func (t TIF) CanRest() bool {
	return t == DAY || t == GTC || t == OPG || t == CLS
}

// OrderStatus is the lifecycle state of an order. Transitions are monotonic:
// {NEW, PENDING_NEW, ACCEPTED} -> {PARTIALLY_FILLED} -> a terminal state.
type OrderStatus int

const (
	StatusNew OrderStatus = iota
	StatusPendingNew
	StatusAccepted
	StatusPartiallyFilled
	StatusFilled
	StatusCanceled
	StatusExpired
	StatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusPendingNew:
		return "PENDING_NEW"
	case StatusAccepted:
		return "ACCEPTED"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCanceled:
		return "CANCELED"
	case StatusExpired:
		return "EXPIRED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the order can no longer be matched or canceled.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// IsActive reports whether the order still participates in matching.
func (s OrderStatus) IsActive() bool {
	switch s {
	case StatusNew, StatusPendingNew, StatusAccepted, StatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// OrderTimestamps groups the stamps an order accumulates over its lifetime,
// in nanoseconds, with zero meaning "not yet reached." Created and
// Submitted are wall-clock; the stamps the matching engine sets on a fill
// or expiry (Updated, Filled, Expired) use the simulated tick time.
type OrderTimestamps struct {
	Created   int64
	Submitted int64
	Updated   int64
	Filled    int64
	Canceled  int64
	Expired   int64
}

// Order is a single order in the simulator, scoped to one session.
type Order struct {
	ID            uint64
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	TIF           TIF

	Qty       int64
	FilledQty int64

	LimitPrice   decimal.Decimal
	StopPrice    decimal.Decimal
	TrailPrice   decimal.Decimal
	TrailPercent decimal.Decimal
	HWM          decimal.Decimal
	HasHWM       bool

	StopTriggered  bool
	IsMaker        bool
	ExtendedHours  bool
	MinExecNs      int64
	Status         OrderStatus
	Timestamps     OrderTimestamps
	ExpireAt       int64
	HasExpireAt    bool
	LastFillPrice  decimal.Decimal
	RejectReason   string
	SequenceNum    uint64
	AccountID      string
}

// RemainingQty returns the unfilled quantity of the order.
func (o *Order) RemainingQty() int64 {
	return o.Qty - o.FilledQty
}

// IsFilled reports whether the order has been completely filled.
func (o *Order) IsFilled() bool {
	return o.FilledQty >= o.Qty
}

func (o *Order) String() string {
	return fmt.Sprintf("Order{ID:%d, %s %s %s %d@%s, filled:%d, status:%s}",
		o.ID, o.Side, o.Type, o.Symbol, o.Qty, o.LimitPrice.String(), o.FilledQty, o.Status)
}

// Fill is a single execution against an order. A zero-quantity fill is a
// "no-match" signal and must never be applied to the ledger.
type Fill struct {
	OrderID     uint64
	Qty         int64
	Price       decimal.Decimal
	TimestampNs int64
	IsPartial   bool
}

// IsNoMatch reports whether this fill carries no executable quantity.
func (f Fill) IsNoMatch() bool {
	return f.Qty <= 0
}
