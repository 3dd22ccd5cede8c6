// Package datasource defines the market-data contract the simulator core
// consumes and ships one in-memory reference implementation for tests and
// local replay. A production columnar-store-backed implementation is out
// of scope for this repository; callers wire their own DataSource.
package datasource

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/rishav/marketsim/internal/model"
)

// Timespan is the bar aggregation unit accepted by GetBars.
type Timespan string

const (
	Second Timespan = "second"
	Minute Timespan = "minute"
	Hour   Timespan = "hour"
	Day    Timespan = "day"
	Week   Timespan = "week"
	Month  Timespan = "month"
)

// OnEvent is invoked once per delivered event, in non-decreasing timestamp
// order. kind is either model.EventTrade or model.EventQuote.
type OnEvent func(symbol string, kind model.EventKind, timestampNs int64, payload interface{})

// DataSource is the external market-data collaborator. All time ranges
// are half-open [start, end). A limit of 0 means unlimited. Implementations
// must be safe for concurrent StreamEvents calls across distinct symbol
// sets, since a session's own feeder and the shared feeder may both be
// active.
type DataSource interface {
	// StreamEvents delivers every quote/trade event for symbols within
	// [start, end) to onEvent in non-decreasing timestamp order. Batching
	// internally is permitted.
	StreamEvents(ctx context.Context, symbols []string, start, end int64, onEvent OnEvent) error

	GetTrades(ctx context.Context, symbol string, start, end int64, limit int) ([]model.TradePayload, error)
	GetQuotes(ctx context.Context, symbol string, start, end int64, limit int) ([]model.QuotePayload, error)
	GetBars(ctx context.Context, symbol string, start, end int64, multiplier int, timespan Timespan, limit int) ([]Bar, error)
}

// Bar is an OHLCV aggregate over one multiplier*timespan window.
type Bar struct {
	TimestampNs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      int64
}

// record is one in-memory tape entry for the reference implementation.
type record struct {
	symbol      string
	kind        model.EventKind
	timestampNs int64
	quote       model.QuotePayload
	trade       model.TradePayload
}

// MemorySource is an in-memory DataSource backed by a sorted tape of
// quote/trade records, keyed by symbol. Intended for tests and
// self-contained replay scenarios, not production scale.
type MemorySource struct {
	records map[string][]record
}

// NewMemorySource creates an empty in-memory data source.
func NewMemorySource() *MemorySource {
	return &MemorySource{records: make(map[string][]record)}
}

// AddQuote appends a quote tick for symbol. Callers must add ticks in
// non-decreasing timestamp order per symbol; AddQuote does not re-sort.
func (m *MemorySource) AddQuote(symbol string, tsNs int64, q model.QuotePayload) {
	m.records[symbol] = append(m.records[symbol], record{symbol: symbol, kind: model.EventQuote, timestampNs: tsNs, quote: q})
}

// AddTrade appends a trade tick for symbol.
func (m *MemorySource) AddTrade(symbol string, tsNs int64, tr model.TradePayload) {
	m.records[symbol] = append(m.records[symbol], record{symbol: symbol, kind: model.EventTrade, timestampNs: tsNs, trade: tr})
}

// tapeLine is one record of the JSON-lines replay tape format consumed by
// LoadTapeFile: {"ts_ns":..,"symbol":"AAPL","kind":"quote"|"trade", "quote":{...}|"trade":{...}}.
type tapeLine struct {
	TsNs   int64               `json:"ts_ns"`
	Symbol string              `json:"symbol"`
	Kind   string              `json:"kind"`
	Quote  *model.QuotePayload `json:"quote,omitempty"`
	Trade  *model.TradePayload `json:"trade,omitempty"`
}

// LoadTapeFile reads a JSON-lines replay tape from path and returns a
// MemorySource seeded with its contents. Lines must already be in
// non-decreasing timestamp order per symbol, matching AddQuote/AddTrade's
// own ordering requirement.
func LoadTapeFile(path string) (*MemorySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("datasource: open tape file: %w", err)
	}
	defer f.Close()

	ms := NewMemorySource()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tl tapeLine
		if err := json.Unmarshal(line, &tl); err != nil {
			return nil, fmt.Errorf("datasource: parse tape line %d: %w", lineNum, err)
		}
		switch tl.Kind {
		case "quote":
			if tl.Quote == nil {
				return nil, fmt.Errorf("datasource: tape line %d: quote kind missing quote payload", lineNum)
			}
			ms.AddQuote(tl.Symbol, tl.TsNs, *tl.Quote)
		case "trade":
			if tl.Trade == nil {
				return nil, fmt.Errorf("datasource: tape line %d: trade kind missing trade payload", lineNum)
			}
			ms.AddTrade(tl.Symbol, tl.TsNs, *tl.Trade)
		default:
			return nil, fmt.Errorf("datasource: tape line %d: unknown kind %q", lineNum, tl.Kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("datasource: scan tape file: %w", err)
	}
	return ms, nil
}

// StreamEvents merges the requested symbols' tapes within [start, end) and
// delivers them to onEvent in non-decreasing timestamp order.
func (m *MemorySource) StreamEvents(ctx context.Context, symbols []string, start, end int64, onEvent OnEvent) error {
	var merged []record
	for _, sym := range symbols {
		for _, r := range m.records[sym] {
			if r.timestampNs >= start && r.timestampNs < end {
				merged = append(merged, r)
			}
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].timestampNs < merged[j].timestampNs })

	for _, r := range merged {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.kind == model.EventQuote {
			onEvent(r.symbol, model.EventQuote, r.timestampNs, r.quote)
		} else {
			onEvent(r.symbol, model.EventTrade, r.timestampNs, r.trade)
		}
	}
	return nil
}

// GetTrades returns every trade for symbol within [start, end), newest-last,
// capped at limit (0 = unlimited).
func (m *MemorySource) GetTrades(ctx context.Context, symbol string, start, end int64, limit int) ([]model.TradePayload, error) {
	var out []model.TradePayload
	for _, r := range m.records[symbol] {
		if r.kind != model.EventTrade {
			continue
		}
		if r.timestampNs >= start && r.timestampNs < end {
			out = append(out, r.trade)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// GetQuotes returns every quote for symbol within [start, end), capped at
// limit (0 = unlimited).
func (m *MemorySource) GetQuotes(ctx context.Context, symbol string, start, end int64, limit int) ([]model.QuotePayload, error) {
	var out []model.QuotePayload
	for _, r := range m.records[symbol] {
		if r.kind != model.EventQuote {
			continue
		}
		if r.timestampNs >= start && r.timestampNs < end {
			out = append(out, r.quote)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// GetBars is unsupported on the in-memory reference source; real bar
// aggregation belongs to the out-of-scope columnar store.
func (m *MemorySource) GetBars(ctx context.Context, symbol string, start, end int64, multiplier int, timespan Timespan, limit int) ([]Bar, error) {
	return nil, nil
}
