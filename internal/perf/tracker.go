// Package perf implements the session's equity-curve performance tracker:
// total return, max drawdown, and an annualized Sharpe ratio.
package perf

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"
)

// Point is one observation on the equity curve.
type Point struct {
	TimestampNs int64
	Equity      decimal.Decimal
}

// Tracker accumulates equity points and derives summary statistics from
// them. Consecutive points sharing a timestamp collapse to the latest.
type Tracker struct {
	mu     sync.Mutex
	points []Point
}

// New creates a tracker seeded with one observation at (startNs, initialEquity).
func New(startNs int64, initialEquity decimal.Decimal) *Tracker {
	return &Tracker{points: []Point{{TimestampNs: startNs, Equity: initialEquity}}}
}

// Append records a new equity observation. If the latest point already
// carries the same timestamp, it is overwritten rather than duplicated.
func (t *Tracker) Append(tsNs int64, equity decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.points)
	if n > 0 && t.points[n-1].TimestampNs == tsNs {
		t.points[n-1].Equity = equity
		return
	}
	t.points = append(t.points, Point{TimestampNs: tsNs, Equity: equity})
}

// Points returns a snapshot of the recorded equity curve.
func (t *Tracker) Points() []Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Point, len(t.points))
	copy(out, t.points)
	return out
}

// Reset clears the curve back to a single seed point.
func (t *Tracker) Reset(startNs int64, initialEquity decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points = []Point{{TimestampNs: startNs, Equity: initialEquity}}
}

// TotalReturn is (last-first)/first, or 0 when first is zero or there is
// only one point.
func (t *Tracker) TotalReturn() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.points) < 2 {
		return 0
	}
	first, _ := t.points[0].Equity.Float64()
	last, _ := t.points[len(t.points)-1].Equity.Float64()
	if first == 0 {
		return 0
	}
	return (last - first) / first
}

// MaxDrawdown is the largest peak-to-trough relative decline observed
// across the curve.
func (t *Tracker) MaxDrawdown() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.points) == 0 {
		return 0
	}

	peak, _ := t.points[0].Equity.Float64()
	maxDD := 0.0
	for _, p := range t.points {
		v, _ := p.Equity.Float64()
		if v > peak {
			peak = v
		}
		if peak == 0 {
			continue
		}
		dd := (peak - v) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// returns computes the per-step simple return series. Steps whose
// preceding equity is zero are skipped to avoid a division by zero.
func (t *Tracker) returns() []float64 {
	if len(t.points) < 2 {
		return nil
	}
	out := make([]float64, 0, len(t.points)-1)
	for i := 1; i < len(t.points); i++ {
		prev, _ := t.points[i-1].Equity.Float64()
		cur, _ := t.points[i].Equity.Float64()
		if prev == 0 {
			continue
		}
		out = append(out, (cur-prev)/prev)
	}
	return out
}

// Sharpe is mean(r)/stdev(r) * sqrt(252), 0 when fewer than two returns or
// zero standard deviation.
func (t *Tracker) Sharpe() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.returns()
	if len(r) < 2 {
		return 0
	}

	mean := 0.0
	for _, v := range r {
		mean += v
	}
	mean /= float64(len(r))

	var variance float64
	for _, v := range r {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(r) - 1)
	stdev := math.Sqrt(variance)
	if stdev == 0 {
		return 0
	}
	return mean / stdev * math.Sqrt(252)
}
