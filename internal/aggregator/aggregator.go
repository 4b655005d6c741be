// Package aggregator maintains the host-side read model: delta batches from
// the engine are coalesced on a short fixed interval and fanned out to
// per-activation subscribers, so consumers never re-render on every tick.
package aggregator

import (
	"context"
	"sync"
	"time"

	"botsim-core/internal/sim"
	"botsim-core/pkg/cache"
)

const (
	defaultInterval = 200 * time.Millisecond
	defaultTradeCap = 50
	defaultEventCap = 100
)

// View is the bounded per-activation slice handed to subscribers.
type View struct {
	ActivationID string           `json:"activation_id"`
	Trades       []sim.Trade      `json:"trades"` // newest first
	Payout       sim.Payout       `json:"payout"`
	Events       []sim.AuditEvent `json:"events"`
}

// Aggregator consumes delta batches off the bus stream and keeps a derived
// copy. It never mutates engine state; the engine never sees this copy.
type Aggregator struct {
	mu       sync.Mutex
	prices   *cache.ShardedPriceCache
	pending  []sim.Batch
	trades   map[string][]sim.Trade
	payouts  map[string]sim.Payout
	events   map[string][]sim.AuditEvent
	subs     map[string]map[int]func(View)
	nextSub  int
	tradeCap int
	eventCap int
	interval time.Duration
}

// New creates an aggregator backed by the given price cache.
func New(prices *cache.ShardedPriceCache, interval time.Duration, tradeCap int) *Aggregator {
	if interval <= 0 {
		interval = defaultInterval
	}
	if tradeCap <= 0 {
		tradeCap = defaultTradeCap
	}
	return &Aggregator{
		prices:   prices,
		trades:   make(map[string][]sim.Trade),
		payouts:  make(map[string]sim.Payout),
		events:   make(map[string][]sim.AuditEvent),
		subs:     make(map[string]map[int]func(View)),
		tradeCap: tradeCap,
		eventCap: defaultEventCap,
		interval: interval,
	}
}

// Start consumes the delta stream until ctx is done. Batches are buffered and
// merged on the flush interval; several batches may coalesce into one notify.
func (g *Aggregator) Start(ctx context.Context, stream <-chan any) {
	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.Flush()
				return
			case msg, ok := <-stream:
				if !ok {
					g.Flush()
					return
				}
				if b, isBatch := msg.(sim.Batch); isBatch {
					g.Apply(b)
				}
			case <-ticker.C:
				g.Flush()
			}
		}
	}()
}

// Apply buffers one batch for the next flush.
func (g *Aggregator) Apply(b sim.Batch) {
	g.mu.Lock()
	g.pending = append(g.pending, b)
	g.mu.Unlock()
}

// Flush merges all buffered batches into the read model and notifies
// subscribers of touched activations.
func (g *Aggregator) Flush() {
	g.mu.Lock()
	batches := g.pending
	g.pending = nil
	if len(batches) == 0 {
		g.mu.Unlock()
		return
	}

	touched := make(map[string]bool)
	for _, b := range batches {
		g.merge(b, touched)
	}

	// collect callbacks outside the lock
	type delivery struct {
		fn   func(View)
		view View
	}
	var out []delivery
	for id := range touched {
		subs := g.subs[id]
		if len(subs) == 0 {
			continue
		}
		view := g.viewLocked(id)
		for _, fn := range subs {
			out = append(out, delivery{fn: fn, view: view})
		}
	}
	g.mu.Unlock()

	for _, d := range out {
		d.fn(d.view)
	}
}

func (g *Aggregator) merge(b sim.Batch, touched map[string]bool) {
	for sym, p := range b.Prices {
		g.prices.Set(sym, p)
	}

	for _, td := range b.Trades {
		id := td.Trade.ActivationID
		touched[id] = true
		switch td.Kind {
		case sim.DeltaOpen:
			list := append([]sim.Trade{td.Trade}, g.trades[id]...)
			if len(list) > g.tradeCap {
				list = list[:g.tradeCap]
			}
			g.trades[id] = list
		case sim.DeltaClose:
			list := g.trades[id]
			found := false
			for i := range list {
				if list[i].ID == td.Trade.ID {
					list[i] = td.Trade
					found = true
					break
				}
			}
			if !found {
				// close for a trade we never saw open (coalesced away or
				// evicted); surface it anyway
				list = append([]sim.Trade{td.Trade}, list...)
				if len(list) > g.tradeCap {
					list = list[:g.tradeCap]
				}
				g.trades[id] = list
			}
		}
	}

	// payout deltas accumulate by addition, never overwrite: multiple deltas
	// can arrive between flushes
	for _, pd := range b.Payouts {
		touched[pd.ActivationID] = true
		p := g.payouts[pd.ActivationID]
		p.Profit += pd.Profit
		p.Net += pd.Net
		g.payouts[pd.ActivationID] = p
	}

	for _, ev := range b.Events {
		touched[ev.ActivationID] = true
		list := append(g.events[ev.ActivationID], ev)
		if len(list) > g.eventCap {
			list = list[len(list)-g.eventCap:]
		}
		g.events[ev.ActivationID] = list
	}
}

func (g *Aggregator) viewLocked(id string) View {
	trades := make([]sim.Trade, len(g.trades[id]))
	copy(trades, g.trades[id])
	events := make([]sim.AuditEvent, len(g.events[id]))
	copy(events, g.events[id])
	return View{
		ActivationID: id,
		Trades:       trades,
		Payout:       g.payouts[id],
		Events:       events,
	}
}

// Subscribe registers a listener for one activation's view. The returned
// unsubscribe is idempotent and side-effect-free.
func (g *Aggregator) Subscribe(activationID string, fn func(View)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.subs[activationID] == nil {
		g.subs[activationID] = make(map[int]func(View))
	}
	id := g.nextSub
	g.nextSub++
	g.subs[activationID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			delete(g.subs[activationID], id)
		})
	}
}

// ViewFor returns the current view for an activation.
func (g *Aggregator) ViewFor(activationID string) View {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.viewLocked(activationID)
}

// Prices returns a copy of the merged price map.
func (g *Aggregator) Prices() map[string]float64 {
	return g.prices.GetAll()
}

// PriceWithAge returns one merged price and how stale it is.
func (g *Aggregator) PriceWithAge(symbol string) (float64, time.Duration, bool) {
	return g.prices.GetWithAge(symbol)
}

// SymbolCount returns the number of symbols with a merged price.
func (g *Aggregator) SymbolCount() int {
	return g.prices.Len()
}
