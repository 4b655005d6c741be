package market

import (
	"sync"
)

// MomentumTracker keeps a bounded window of recent price observations per
// symbol and exposes the least-squares slope over that window. The slope sign
// is what the live decision loop uses to bias position direction.
type MomentumTracker struct {
	mu     sync.RWMutex
	window int
	obs    map[string][]float64 // ascending time order
}

// NewMomentumTracker creates a tracker keeping up to window observations.
func NewMomentumTracker(window int) *MomentumTracker {
	if window < 2 {
		window = 2
	}
	return &MomentumTracker{
		window: window,
		obs:    make(map[string][]float64),
	}
}

// Observe appends a price observation. Invalid prices are dropped.
func (t *MomentumTracker) Observe(symbol string, price float64) {
	if !finitePositive(price) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	series := append(t.obs[symbol], price)
	if len(series) > t.window {
		series = series[len(series)-t.window:]
	}
	t.obs[symbol] = series
}

// Seed replaces the stored series with observations in ascending time order.
func (t *MomentumTracker) Seed(symbol string, ascending []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	series := make([]float64, 0, t.window)
	for _, p := range ascending {
		if !finitePositive(p) {
			continue
		}
		series = append(series, p)
	}
	if len(series) > t.window {
		series = series[len(series)-t.window:]
	}
	t.obs[symbol] = series
}

// Slope returns the linear-regression slope of the stored series, with the
// observation index as x. Fewer than 2 points yields 0.
func (t *MomentumTracker) Slope(symbol string) float64 {
	t.mu.RLock()
	series := t.obs[symbol]
	t.mu.RUnlock()

	n := len(series)
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range series {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}

// Len returns the number of stored observations for a symbol.
func (t *MomentumTracker) Len(symbol string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.obs[symbol])
}
