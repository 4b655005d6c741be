// Package brain runs the live decision loop for funded activations. Unlike
// the simulation engine it never invents prices: every read and every order
// goes through the persistence gateway, and any gateway failure is logged and
// skipped so one bad call never stalls the loop.
package brain

import (
	"context"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"botsim-core/internal/gateway"
	"botsim-core/internal/market"
	"botsim-core/internal/monitor"
)

const (
	defaultInterval    = 5 * time.Second
	defaultSpacing     = 30 * time.Second
	defaultMaxOpen     = 3
	defaultTpPct       = 1.1
	defaultSlPct       = 0.8
	defaultMomentumWin = 30

	sizeFracMin  = 0.12
	sizeFracSpan = 0.26
	sizeFloorUSD = 20.0
	flipChance   = 0.15

	rsiPeriod     = 14
	rsiOverbought = 70.0
	rsiOversold   = 30.0
	smaPeriod     = 10
)

// Options tunes the decision loop.
type Options struct {
	Interval       time.Duration
	Spacing        time.Duration // min gap between opens per activation
	MaxConcurrent  int
	TpPct          float64 // default take-profit, percent of entry
	SlPct          float64 // default stop-loss, percent of entry
	MomentumWindow int
}

// Brain drives open/close decisions against the gateway.
type Brain struct {
	gw       gateway.Gateway
	momentum *market.MomentumTracker
	rng      *rand.Rand
	opts     Options

	mu       sync.Mutex
	lastOpen map[string]time.Time
}

// New creates a decision loop over the given gateway.
func New(gw gateway.Gateway, rng *rand.Rand, opts Options) *Brain {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Spacing <= 0 {
		opts.Spacing = defaultSpacing
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxOpen
	}
	if opts.TpPct <= 0 {
		opts.TpPct = defaultTpPct
	}
	if opts.SlPct <= 0 {
		opts.SlPct = defaultSlPct
	}
	if opts.MomentumWindow <= 0 {
		opts.MomentumWindow = defaultMomentumWin
	}
	return &Brain{
		gw:       gw,
		momentum: market.NewMomentumTracker(opts.MomentumWindow),
		rng:      rng,
		opts:     opts,
		lastOpen: make(map[string]time.Time),
	}
}

// Start runs the loop until ctx is done.
func (b *Brain) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.opts.Interval)
		defer ticker.Stop()
		log.Printf("brain: started (interval %v, max %d open)", b.opts.Interval, b.opts.MaxConcurrent)
		for {
			select {
			case <-ctx.Done():
				log.Println("brain: stopped")
				return
			case <-ticker.C:
				b.Step(ctx)
			}
		}
	}()
}

// Step runs one evaluation pass over every active funded activation.
func (b *Brain) Step(ctx context.Context) {
	acts, err := b.gw.ActiveActivations(ctx)
	if err != nil {
		log.Printf("brain: list activations failed: %v", err)
		return
	}
	for _, a := range acts {
		b.evaluate(ctx, a)
	}
}

func (b *Brain) evaluate(ctx context.Context, a gateway.Activation) {
	open, err := b.gw.OpenTrades(ctx, a.ID)
	if err != nil {
		log.Printf("brain: open trades for %s failed: %v", a.ID, err)
		return
	}

	// Exits first so capital frees up in the same pass.
	remaining := open[:0]
	for _, t := range open {
		closed, err := b.checkExit(ctx, a, t)
		if err != nil {
			log.Printf("brain: exit check %s failed: %v", t.ID, err)
			remaining = append(remaining, t)
			continue
		}
		if !closed {
			remaining = append(remaining, t)
		}
	}

	if len(remaining) >= b.opts.MaxConcurrent {
		monitor.IncBrainDecision("hold")
		return
	}
	b.maybeOpen(ctx, a)
}

// checkExit closes the trade if its TP or SL level is hit at the current
// price. TP is evaluated before SL: when a wide spike crosses both levels in
// one interval the user sees the win.
func (b *Brain) checkExit(ctx context.Context, a gateway.Activation, t gateway.Trade) (bool, error) {
	q, err := b.gw.Spot(ctx, t.Pair)
	if err != nil {
		return false, err
	}
	b.momentum.Observe(t.Pair, q.Price)

	movePct := (q.Price - t.Entry) / t.Entry * 100
	if t.Side == "sell" {
		movePct = -movePct
	}

	tp := t.TpPct
	if tp <= 0 {
		tp = b.opts.TpPct
	}
	sl := t.SlPct
	if sl <= 0 {
		sl = b.opts.SlPct
	}

	var reason string
	switch {
	case movePct >= tp:
		reason = "tp"
	case movePct <= -sl:
		reason = "sl"
	default:
		return false, nil
	}

	res, err := b.gw.CloseTrade(ctx, t.ID, reason, q.Price)
	if err != nil {
		return false, err
	}
	monitor.IncBrainDecision("close_" + reason)
	log.Printf("✅ brain: closed %s %s @ %.4f (%s, pnl %.2f)", t.Side, t.Pair, q.Price, reason, res.PnL)
	return true, nil
}

func (b *Brain) maybeOpen(ctx context.Context, a gateway.Activation) {
	if len(a.Pairs) == 0 {
		return
	}

	b.mu.Lock()
	last := b.lastOpen[a.ID]
	b.mu.Unlock()
	if time.Since(last) < b.opts.Spacing {
		monitor.IncBrainDecision("hold")
		return
	}

	pair := a.Pairs[b.rng.Intn(len(a.Pairs))]
	q, err := b.gw.Spot(ctx, pair)
	if err != nil {
		log.Printf("brain: spot %s failed: %v", pair, err)
		return
	}
	b.seedMomentum(ctx, pair)
	b.momentum.Observe(pair, q.Price)

	side := b.chooseSide(pair)
	if b.rsiBlocks(pair, side) {
		monitor.IncBrainDecision("hold")
		return
	}
	amount := b.positionSize(a.AmountUSD)
	if amount < sizeFloorUSD {
		monitor.IncBrainDecision("hold")
		return
	}

	req := gateway.OpenReq{
		ActivationID: a.ID,
		Pair:         pair,
		Side:         side,
		Leverage:     2 + b.rng.Intn(9), // 2..10
		AmountUSD:    amount,
		Entry:        q.Price,
		TpPct:        a.TpPct,
		SlPct:        a.SlPct,
	}
	t, err := b.gw.OpenTrade(ctx, req)
	if err != nil {
		log.Printf("brain: open %s %s failed: %v", side, pair, err)
		return
	}

	b.mu.Lock()
	b.lastOpen[a.ID] = time.Now()
	b.mu.Unlock()

	monitor.IncBrainDecision("open_" + side)
	log.Printf("🔄 brain: opened %s %s @ %.4f (%.2f USD x%d, trade %s)",
		side, pair, q.Price, amount, req.Leverage, t.ID)
}

// chooseSide follows the momentum slope with a random contrarian flip, so the
// loop never becomes perfectly predictable. A flat slope falls back to where
// price sits against its short moving average.
func (b *Brain) chooseSide(pair string) string {
	side := "buy"
	if slope := b.momentum.Slope(pair); slope < 0 {
		side = "sell"
	} else if slope == 0 {
		series := b.momentum.Series(pair)
		if sma := market.SMA(series, smaPeriod); sma > 0 && series[len(series)-1] < sma {
			side = "sell"
		}
	}
	if b.rng.Float64() < flipChance {
		if side == "buy" {
			side = "sell"
		} else {
			side = "buy"
		}
	}
	return side
}

// rsiBlocks vetoes entries into exhausted moves: no longs into an overbought
// market, no shorts into an oversold one. RSI 0 means not enough history and
// never blocks.
func (b *Brain) rsiBlocks(pair, side string) bool {
	rsi := market.RSI(b.momentum.Series(pair), rsiPeriod)
	if rsi == 0 {
		return false
	}
	if side == "buy" && rsi >= rsiOverbought {
		return true
	}
	if side == "sell" && rsi <= rsiOversold {
		return true
	}
	return false
}

// seedMomentum backfills the tracker from recorded ticks when it has too few
// observations to produce a slope.
func (b *Brain) seedMomentum(ctx context.Context, pair string) {
	if b.momentum.Len(pair) >= 2 {
		return
	}
	ticks, err := b.gw.RecentTicks(ctx, pair, b.opts.MomentumWindow)
	if err != nil {
		log.Printf("brain: seed momentum %s failed: %v", pair, err)
		return
	}
	// ticks arrive newest first; seed oldest first
	prices := make([]float64, 0, len(ticks))
	for i := len(ticks) - 1; i >= 0; i-- {
		prices = append(prices, ticks[i].Price)
	}
	b.momentum.Seed(pair, prices)
}

func (b *Brain) positionSize(capital float64) float64 {
	frac := sizeFracMin + b.rng.Float64()*sizeFracSpan
	amount := capital * frac
	if amount > capital {
		amount = capital
	}
	return math.Round(amount*100) / 100
}
