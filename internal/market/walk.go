package market

import (
	"math"
	"math/rand"
	"sort"
	"sync"
)

// priceFloor keeps every simulated price strictly positive no matter how many
// negative shocks accumulate.
const priceFloor = 1e-8

// Volatility bands by symbol class, expressed as the max fractional shock per
// step. Meme pairs swing much harder than majors.
const (
	bandMajor   = 0.0015
	bandDefault = 0.004
	bandMeme    = 0.012
)

var majorSymbols = map[string]bool{
	"BTCUSDT": true,
	"ETHUSDT": true,
}

var memeSymbols = map[string]bool{
	"DOGEUSDT": true,
	"SHIBUSDT": true,
	"PEPEUSDT": true,
	"WIFUSDT":  true,
}

// RandomWalk owns per-symbol simulated prices and advances them with
// multiplicative shocks. Only the simulation engine mutates it; everything
// else reads prices through the engine's snapshots and deltas.
type RandomWalk struct {
	mu     sync.RWMutex
	rng    *rand.Rand
	prices map[string]float64
}

// NewRandomWalk seeds the walk with starting prices. Symbols with a
// non-positive or non-finite seed start at 1.0.
func NewRandomWalk(rng *rand.Rand, seeds map[string]float64) *RandomWalk {
	w := &RandomWalk{
		rng:    rng,
		prices: make(map[string]float64, len(seeds)),
	}
	for sym, p := range seeds {
		if !finitePositive(p) {
			p = 1.0
		}
		w.prices[sym] = p
	}
	return w
}

// bandFor returns the shock band for a symbol.
func bandFor(symbol string) float64 {
	switch {
	case majorSymbols[symbol]:
		return bandMajor
	case memeSymbols[symbol]:
		return bandMeme
	default:
		return bandDefault
	}
}

// Step advances one symbol and returns the new price.
func (w *RandomWalk) Step(symbol string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.prices[symbol]
	if !ok || !finitePositive(p) {
		p = 1.0
	}
	shock := 1 + (w.rng.Float64()*2-1)*bandFor(symbol)
	p *= shock
	if p < priceFloor {
		p = priceFloor
	}
	w.prices[symbol] = p
	return p
}

// Price returns the current price for a symbol (0 when untracked).
func (w *RandomWalk) Price(symbol string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.prices[symbol]
}

// Observe accepts an externally sourced price. Non-finite or non-positive
// values are dropped so a poisoned feed never corrupts the walk.
func (w *RandomWalk) Observe(symbol string, price float64) {
	if !finitePositive(price) {
		return
	}
	w.mu.Lock()
	w.prices[symbol] = price
	w.mu.Unlock()
}

// Symbols returns the tracked symbols in stable order.
func (w *RandomWalk) Symbols() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.prices))
	for sym := range w.prices {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of all current prices.
func (w *RandomWalk) Snapshot() map[string]float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]float64, len(w.prices))
	for sym, p := range w.prices {
		out[sym] = p
	}
	return out
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
