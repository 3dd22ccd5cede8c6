// Package feed implements the three ways events reach a session's queue:
// the default one-shot stream, the windowed polling stream, and the
// process-wide shared feeder that fans a single tape out to every running
// session interested in it. Polling cadence is paced with
// golang.org/x/time/rate rather than a hand-rolled sleep loop.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rishav/marketsim/internal/datasource"
	"github.com/rishav/marketsim/internal/model"
	"golang.org/x/time/rate"
)

// Sink receives one decoded market event at a time, destined for a
// session's queue. Implementations must not block significantly — the
// feeder goroutine drives this inline.
type Sink func(symbol string, kind model.EventKind, tsNs int64, payload interface{})

// RunDefault streams [start,end) for symbols once and delivers every event
// to sink, in non-decreasing timestamp order.
func RunDefault(ctx context.Context, ds datasource.DataSource, symbols []string, start, end int64, sink Sink) error {
	return ds.StreamEvents(ctx, symbols, start, end, func(symbol string, kind model.EventKind, tsNs int64, payload interface{}) {
		sink(symbol, kind, tsNs, payload)
	})
}

// RunPolling slices [start,end) into fixed-width windows, streaming each in
// turn and pacing the loop with a rate.Limiter ticking once per window
// width. It returns when the window has covered end, ctx is canceled, or
// shouldStop reports true.
func RunPolling(ctx context.Context, ds datasource.DataSource, symbols []string, start, end int64, windowSeconds int, shouldStop func() bool, sink Sink) error {
	if windowSeconds <= 0 {
		return fmt.Errorf("feed: poll window must be positive, got %d", windowSeconds)
	}
	windowNs := int64(windowSeconds) * 1_000_000_000

	limiter := rate.NewLimiter(rate.Every(time.Duration(windowSeconds)*time.Second), 1)
	cur := start
	for cur < end {
		if shouldStop != nil && shouldStop() {
			return nil
		}
		winEnd := cur + windowNs
		if winEnd > end {
			winEnd = end
		}
		if err := ds.StreamEvents(ctx, symbols, cur, winEnd, func(symbol string, kind model.EventKind, tsNs int64, payload interface{}) {
			sink(symbol, kind, tsNs, payload)
		}); err != nil {
			return err
		}
		cur = winEnd
		if cur >= end {
			return nil
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Target is one shared-feeder subscriber: a running session exposing the
// symbols and time window it cares about. The manager supplies the
// snapshot; this package owns only the routing decision.
type Target struct {
	SessionID string
	Symbols   map[string]bool
	Start     int64
	End       int64
	Sink      Sink
}

// RunShared streams the union of targets' symbols over the broadest
// [min(start), max(end)] window exactly once, routing each delivered event
// to every target whose symbol set contains it and whose window contains
// its timestamp.
//
// Policy: the target list is snapshotted once, at call time. Sessions
// that start running after RunShared begins do not retroactively join
// this run; they are reached only by a later RunShared call made with a
// new target list.
func RunShared(ctx context.Context, ds datasource.DataSource, targets []Target) error {
	if len(targets) == 0 {
		return nil
	}

	symbolSet := make(map[string]bool)
	minStart := targets[0].Start
	maxEnd := targets[0].End
	for _, t := range targets {
		for sym := range t.Symbols {
			symbolSet[sym] = true
		}
		if t.Start < minStart {
			minStart = t.Start
		}
		if t.End > maxEnd {
			maxEnd = t.End
		}
	}
	symbols := make([]string, 0, len(symbolSet))
	for sym := range symbolSet {
		symbols = append(symbols, sym)
	}

	return ds.StreamEvents(ctx, symbols, minStart, maxEnd, func(symbol string, kind model.EventKind, tsNs int64, payload interface{}) {
		for _, t := range targets {
			if !t.Symbols[symbol] {
				continue
			}
			if tsNs < t.Start || tsNs >= t.End {
				continue
			}
			t.Sink(symbol, kind, tsNs, payload)
		}
	})
}
