package model

// EventKind identifies what a queued Event represents.
type EventKind int

const (
	EventTrade EventKind = iota
	EventQuote
	EventBar
	EventOrderNew
	EventOrderFill
	EventOrderCancel
	EventOrderExpire
	EventDividend
	EventSplit
	EventHalt
	EventResume
)

func (k EventKind) String() string {
	switch k {
	case EventTrade:
		return "TRADE"
	case EventQuote:
		return "QUOTE"
	case EventBar:
		return "BAR"
	case EventOrderNew:
		return "ORDER_NEW"
	case EventOrderFill:
		return "ORDER_FILL"
	case EventOrderCancel:
		return "ORDER_CANCEL"
	case EventOrderExpire:
		return "ORDER_EXPIRE"
	case EventDividend:
		return "DIVIDEND"
	case EventSplit:
		return "SPLIT"
	case EventHalt:
		return "HALT"
	case EventResume:
		return "RESUME"
	default:
		return "UNKNOWN"
	}
}

// Event is a single unit on a session's event plane. Ordering is
// (Timestamp, Sequence); Sequence is assigned by the event queue at push
// time and is scoped to the owning session.
type Event struct {
	Timestamp int64
	Sequence  uint64
	Symbol    string
	Kind      EventKind
	Payload   interface{}
}

// Less implements the (timestamp, sequence) total order used by the event
// queue's priority discipline.
func (e Event) Less(other Event) bool {
	if e.Timestamp != other.Timestamp {
		return e.Timestamp < other.Timestamp
	}
	return e.Sequence < other.Sequence
}

// QuotePayload is the payload for an EventQuote event.
type QuotePayload struct {
	Bid     float64
	BidSize int64
	Ask     float64
	AskSize int64
}

// TradePayload is the payload for an EventTrade event.
type TradePayload struct {
	Price float64
	Size  int64
}

// DividendPayload is the payload for an EventDividend event.
type DividendPayload struct {
	AmountPerShare float64
}

// SplitPayload is the payload for an EventSplit event.
type SplitPayload struct {
	Ratio float64
}
