package sim

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Position sizing: a clamped fraction of the activation's capital.
const (
	sizeFracMin  = 0.12
	sizeFracSpan = 0.26
	sizeFloorUSD = 20.0

	leverageMin = 2
	leverageMax = 10
)

// roundCents rounds a USD amount to cents.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// markPnL is the fees-inclusive PnL for closing a trade at the given mark
// price. Used for forced exits (cancellation), where the result must be
// deterministic mark-to-market, never a synthetic draw.
func markPnL(side Side, entry, mark float64, leverage int, amountUSD, feeBps float64) float64 {
	if entry <= 0 {
		return 0
	}
	move := (mark - entry) / entry
	if side == SideSell {
		move = -move
	}
	gross := amountUSD * float64(leverage) * move
	fees := 2 * amountUSD * feeBps / 10000
	return roundCents(gross - fees)
}

// outcomePnL draws a synthetic win/loss close for a trade under the current
// profile. Wins scale the base percentage move by AvgR; losses give back the
// base move.
func (e *Engine) outcomePnL(t *Trade) float64 {
	win := e.rng.Float64() < e.profile.WinRate
	basePct := 0.5 + e.rng.Float64() // 0.5% .. 1.5% move before reward scaling
	movePct := -basePct
	if win {
		movePct = basePct * e.profile.AvgR
	}
	gross := t.AmountUSD * float64(t.Leverage) * movePct / 100
	fees := 2 * t.AmountUSD * e.profile.FeeBps / 10000
	return roundCents(gross - fees)
}

// openCount counts open trades for an activation.
func (e *Engine) openCount(activationID string) int {
	n := 0
	for _, t := range e.trades[activationID] {
		if t.Status == TradeOpen {
			n++
		}
	}
	return n
}

// maybeOpen opens a new position when preconditions hold. Failing a
// precondition is a skipped tick, not an error.
func (e *Engine) maybeOpen(a *Activation, now time.Time, b *Batch) {
	if a.Status != StatusActive {
		return
	}
	if e.openCount(a.ID) >= e.profile.MaxConcurrent {
		return
	}

	pairs := a.Pairs
	if len(pairs) == 0 {
		pairs = e.walk.Symbols()
	}
	if len(pairs) == 0 {
		return
	}
	pair := pairs[e.rng.Intn(len(pairs))]

	entry := e.walk.Price(pair)
	if math.IsNaN(entry) || math.IsInf(entry, 0) || entry <= 0 {
		// no usable price this tick
		return
	}

	side := SideBuy
	if e.rng.Float64() < 0.5 {
		side = SideSell
	}
	leverage := leverageMin + e.rng.Intn(leverageMax-leverageMin+1)

	size := a.AmountUSD * (sizeFracMin + e.rng.Float64()*sizeFracSpan)
	if size < sizeFloorUSD {
		size = sizeFloorUSD
	}
	if size > a.AmountUSD {
		size = a.AmountUSD
	}

	t := &Trade{
		ID:           uuid.NewString(),
		ActivationID: a.ID,
		Pair:         pair,
		Side:         side,
		Leverage:     leverage,
		AmountUSD:    roundCents(size),
		Entry:        entry,
		OpenedAt:     now,
		Status:       TradeOpen,
	}
	e.trades[a.ID] = append(e.trades[a.ID], t)
	e.trimTrades(a.ID)

	b.Trades = append(b.Trades, TradeDelta{Kind: DeltaOpen, Trade: *t})
	e.appendEvent(b, AuditEvent{
		ID:           uuid.NewString(),
		ActivationID: a.ID,
		Kind:         "open",
		TradeID:      t.ID,
		Amount:       t.AmountUSD,
		At:           now,
	})
}

// maybeClose closes at most the single oldest eligible open trade. The
// holding period is re-sampled on every evaluation, so an already-eligible
// trade is probabilistically re-evaluated rather than guaranteed to close
// promptly; observed behavior, kept as-is.
func (e *Engine) maybeClose(a *Activation, now time.Time, b *Batch) {
	for _, t := range e.trades[a.ID] {
		if t.Status != TradeOpen {
			continue
		}
		hold := e.profile.BaseHold + time.Duration((e.rng.Float64()*2-1)*float64(e.profile.Jitter))
		if now.Sub(t.OpenedAt) < hold {
			continue
		}
		e.closeTrade(a, t, e.outcomePnL(t), now, b)
		return // one close decision per invocation
	}
}

// forceCloseAll marks every open trade of a canceled activation closed at the
// current walk price.
func (e *Engine) forceCloseAll(a *Activation, now time.Time, b *Batch) {
	for _, t := range e.trades[a.ID] {
		if t.Status != TradeOpen {
			continue
		}
		mark := e.walk.Price(t.Pair)
		if math.IsNaN(mark) || math.IsInf(mark, 0) || mark <= 0 {
			mark = t.Entry
		}
		e.closeTrade(a, t, markPnL(t.Side, t.Entry, mark, t.Leverage, t.AmountUSD, e.profile.FeeBps), now, b)
	}
}

// closeTrade performs the single open->closed transition and updates the
// payout ledger. Closed trades are never touched again.
func (e *Engine) closeTrade(a *Activation, t *Trade, pnl float64, now time.Time, b *Batch) {
	if t.Status == TradeClosed {
		return
	}
	t.Status = TradeClosed
	t.ClosedAt = now
	t.PnL = pnl

	p := e.payouts[a.ID]
	if p == nil {
		p = &Payout{}
		e.payouts[a.ID] = p
	}
	if pnl > 0 {
		p.Profit += pnl
	}
	p.Net += pnl

	b.Trades = append(b.Trades, TradeDelta{Kind: DeltaClose, Trade: *t})
	b.Payouts = append(b.Payouts, PayoutDelta{
		ActivationID: a.ID,
		Profit:       math.Max(0, pnl),
		Net:          pnl,
	})
	e.appendEvent(b, AuditEvent{
		ID:           uuid.NewString(),
		ActivationID: a.ID,
		Kind:         "close",
		TradeID:      t.ID,
		Amount:       pnl,
		At:           now,
	})
}

// trimTrades drops the oldest closed trades beyond the retention cap. Open
// trades are never dropped.
func (e *Engine) trimTrades(activationID string) {
	list := e.trades[activationID]
	if len(list) <= e.tradeCap {
		return
	}
	excess := len(list) - e.tradeCap
	kept := make([]*Trade, 0, e.tradeCap)
	for _, t := range list {
		if excess > 0 && t.Status == TradeClosed {
			excess--
			continue
		}
		kept = append(kept, t)
	}
	e.trades[activationID] = kept
}

// appendEvent records an audit event in the bounded per-activation log and
// mirrors it onto the outgoing batch.
func (e *Engine) appendEvent(b *Batch, ev AuditEvent) {
	log := append(e.eventLog[ev.ActivationID], ev)
	if len(log) > e.eventCap {
		log = log[len(log)-e.eventCap:]
	}
	e.eventLog[ev.ActivationID] = log
	b.Events = append(b.Events, ev)
}
