package model

// Checkpoint is an atomic snapshot of one session's durable state: account,
// positions, orders (including pending), and the NBBO cache, as of
// LastEventNs. CheckpointNs is the wall-clock time the snapshot was taken,
// not a simulated timestamp.
type Checkpoint struct {
	SessionID       string          `json:"session_id"`
	CheckpointNs    int64           `json:"checkpoint_ns"`
	LastEventNs     int64           `json:"last_event_ns"`
	EventsProcessed uint64          `json:"events_processed"`
	Account         AccountState    `json:"account"`
	Positions       []Position      `json:"positions"`
	Orders          []Order         `json:"orders"`
	NBBOCache       []NBBO          `json:"nbbo_cache"`
}

// WalEntryKind identifies a write-ahead-log record's shape.
type WalEntryKind string

const (
	WalSessionPaused  WalEntryKind = "session_paused"
	WalSessionResumed WalEntryKind = "session_resumed"
	WalOrderSubmitted WalEntryKind = "order_submitted"
	WalOrderCanceled  WalEntryKind = "order_canceled"
	WalMarketEvent    WalEntryKind = "market_event"
	WalFill           WalEntryKind = "fill"
	WalDividend       WalEntryKind = "dividend"
	WalSplit          WalEntryKind = "split"
)

// WalEntry is one line of the write-ahead log. Fields not relevant to a
// given Event are left at their zero value; the JSON encoding omits them.
type WalEntry struct {
	TsNs      int64        `json:"ts_ns"`
	Event     WalEntryKind `json:"event"`
	SessionID string       `json:"session_id,omitempty"`

	// order_submitted / order_canceled / fill
	OrderID uint64 `json:"id,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	Side    string `json:"side,omitempty"`
	Type    int    `json:"type,omitempty"`
	TIF     int    `json:"tif,omitempty"`
	Qty     int64  `json:"qty,omitempty"`
	Limit   string `json:"limit,omitempty"`
	Stop    string `json:"stop,omitempty"`
	Price   string `json:"price,omitempty"`
	Fee     string `json:"fee,omitempty"`

	// market_event
	MarketType int   `json:"market_type,omitempty"`
	Seq        uint64 `json:"seq,omitempty"`
	Bid        string `json:"bid,omitempty"`
	BidSize    int64  `json:"bid_size,omitempty"`
	Ask        string `json:"ask,omitempty"`
	AskSize    int64  `json:"ask_size,omitempty"`
	TradePrice string `json:"trade_price,omitempty"`
	TradeSize  int64  `json:"trade_size,omitempty"`

	// dividend / split
	AmountPerShare string `json:"amount_per_share,omitempty"`
	Ratio          string `json:"ratio,omitempty"`
}
