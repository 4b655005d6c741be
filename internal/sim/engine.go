package sim

import (
	"context"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"botsim-core/internal/events"
	"botsim-core/internal/market"
	"botsim-core/internal/monitor"
)

// Tick interval clamp and the minimum relative price change worth emitting.
const (
	tickMin = 250 * time.Millisecond
	tickMax = 60 * time.Second

	priceDeltaThreshold = 0.0005
)

const (
	defaultTick     = time.Second
	defaultTradeCap = 50
	defaultEventCap = 100
)

// TakeProfitAck is the payload of the take_profit_ack event.
type TakeProfitAck struct {
	ActivationID string  `json:"activation_id"`
	Amount       float64 `json:"amount"`
}

// Engine is the simulation actor: a single goroutine owns all mutable state
// (prices, activations, trades, payouts) and is the only writer. Commands
// arrive on a channel; consumers get immutable batches off the event bus.
type Engine struct {
	cmds chan Command
	bus  *events.Bus
	rng  *rand.Rand
	now  func() time.Time

	cfg Config

	// state below is touched only by the run loop (and by in-package tests
	// driving handle/tick directly).
	profile      Profile
	pending      []ProfilePatch
	tickEvery    time.Duration
	walk         *market.RandomWalk
	order        []string
	activations  map[string]*Activation
	trades       map[string][]*Trade
	payouts      map[string]*Payout
	eventLog     map[string][]AuditEvent
	lastDecision map[string]time.Time
	lastPub      map[string]float64
	tradeCap     int
	eventCap     int
	running      bool
	ticker       *time.Ticker
}

// NewEngine creates an engine with default config. Call Run to start the
// actor loop, then drive it with Send.
func NewEngine(bus *events.Bus, rng *rand.Rand) *Engine {
	e := &Engine{
		cmds: make(chan Command, 64),
		bus:  bus,
		rng:  rng,
		now:  time.Now,
	}
	e.applyConfig(Config{})
	return e
}

// Send delivers a command to the actor. Blocks only if the command buffer is
// full, which means the loop has stalled.
func (e *Engine) Send(cmd Command) {
	e.cmds <- cmd
}

// GetState requests a snapshot and waits for it.
func (e *Engine) GetState(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	e.Send(GetStateCmd{Reply: reply})
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Withdrawables requests the flushable amounts for one or all activations.
func (e *Engine) Withdrawables(ctx context.Context, activationID string) ([]Withdrawable, error) {
	reply := make(chan []Withdrawable, 1)
	e.Send(WithdrawableCmd{ActivationID: activationID, Reply: reply})
	select {
	case ws := <-reply:
		return ws, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ConfirmWithdraw advances the withdrawn ledger after a gateway ack.
func (e *Engine) ConfirmWithdraw(activationID string, amount float64) {
	e.Send(ConfirmWithdrawCmd{ActivationID: activationID, Amount: amount})
}

// Run starts the actor loop. Stopping the context halts the timer and drains
// nothing: accumulated state stays valid until the process exits.
func (e *Engine) Run(ctx context.Context) {
	go e.loop(ctx)
}

func (e *Engine) loop(ctx context.Context) {
	for {
		var tickC <-chan time.Time
		if e.running && e.ticker != nil {
			tickC = e.ticker.C
		}
		select {
		case <-ctx.Done():
			e.stopTicker()
			return
		case cmd := <-e.cmds:
			e.handle(cmd)
		case <-tickC:
			e.tick(e.now())
		}
	}
}

func (e *Engine) handle(cmd Command) {
	switch c := cmd.(type) {
	case InitCmd:
		e.applyConfig(c.Config)
		e.bus.Publish(events.EventReady, e.tickEvery)
		e.publishSnapshot()
	case StartCmd:
		if !e.running {
			e.running = true
			e.ticker = time.NewTicker(e.tickEvery)
			log.Printf("engine: started (tick %v)", e.tickEvery)
		}
		e.bus.Publish(events.EventStarted, e.tickEvery)
	case StopCmd:
		e.stopTicker()
		e.bus.Publish(events.EventStopped, nil)
	case SetTickCmd:
		e.tickEvery = clampTick(c.Interval)
		if e.running {
			e.stopTicker()
			e.running = true
			e.ticker = time.NewTicker(e.tickEvery)
		}
		e.bus.Publish(events.EventTock, e.tickEvery)
	case SetProfileCmd:
		// merged atomically at the start of the next tick
		e.pending = append(e.pending, c.Patch)
		e.bus.Publish(events.EventProfile, c.Patch)
	case AddActivationCmd:
		e.addActivation(c.Activation)
	case PauseActivationCmd:
		if a := e.activations[c.ID]; a != nil && a.Status == StatusActive {
			a.Status = StatusPaused
		}
	case ResumeActivationCmd:
		if a := e.activations[c.ID]; a != nil && a.Status == StatusPaused {
			a.Status = StatusActive
		}
	case CancelActivationCmd:
		e.cancelActivation(c.ID)
	case GetStateCmd:
		snap := e.snapshot()
		if c.Reply != nil {
			c.Reply <- snap
		}
		e.bus.Publish(events.EventSnapshot, snap)
	case WithdrawableCmd:
		if c.Reply != nil {
			c.Reply <- e.withdrawables(c.ActivationID)
		}
	case ConfirmWithdrawCmd:
		e.confirmWithdraw(c.ActivationID, c.Amount)
	case ResetCmd:
		e.stopTicker()
		e.applyConfig(e.cfg)
		e.bus.Publish(events.EventReset, nil)
	default:
		log.Printf("engine: ignoring unknown command %T", cmd)
	}
}

// applyConfig (re)initializes all owned state from overrides.
func (e *Engine) applyConfig(cfg Config) {
	if cfg.Profile == (Profile{}) {
		cfg.Profile = DefaultProfile()
	}
	if cfg.Tick == 0 {
		cfg.Tick = defaultTick
	}
	if cfg.TradeCap == 0 {
		cfg.TradeCap = defaultTradeCap
	}
	if cfg.EventCap == 0 {
		cfg.EventCap = defaultEventCap
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = map[string]float64{
			"BTCUSDT":  60000,
			"ETHUSDT":  2500,
			"SOLUSDT":  150,
			"DOGEUSDT": 0.2,
		}
	}
	e.cfg = cfg

	e.profile = cfg.Profile
	e.pending = nil
	e.tickEvery = clampTick(cfg.Tick)
	e.walk = market.NewRandomWalk(e.rng, cfg.Symbols)
	e.order = nil
	e.activations = make(map[string]*Activation)
	e.trades = make(map[string][]*Trade)
	e.payouts = make(map[string]*Payout)
	e.eventLog = make(map[string][]AuditEvent)
	e.lastDecision = make(map[string]time.Time)
	e.lastPub = make(map[string]float64)
	e.tradeCap = cfg.TradeCap
	e.eventCap = cfg.EventCap
}

func (e *Engine) stopTicker() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
	if e.running {
		e.running = false
		log.Println("engine: stopped")
	}
}

func clampTick(d time.Duration) time.Duration {
	if d < tickMin {
		return tickMin
	}
	if d > tickMax {
		return tickMax
	}
	return d
}

// addActivation registers a simulated activation; duplicate ids are ignored.
func (e *Engine) addActivation(a Activation) {
	if a.ID == "" {
		return
	}
	if _, exists := e.activations[a.ID]; exists {
		return
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = e.now()
	}
	e.activations[a.ID] = &a
	e.order = append(e.order, a.ID)
	if e.payouts[a.ID] == nil {
		e.payouts[a.ID] = &Payout{}
	}
	e.bus.Publish(events.EventActivationAdded, a)
}

// cancelActivation force-closes every open trade at mark price and freezes
// the activation.
func (e *Engine) cancelActivation(id string) {
	a := e.activations[id]
	if a == nil || a.Status == StatusCanceled {
		return
	}
	a.Status = StatusCanceled

	b := Batch{Prices: map[string]float64{}, At: e.now()}
	e.forceCloseAll(a, b.At, &b)
	e.publishBatch(b)
	e.bus.Publish(events.EventActivationCanceled, *a)
}

func (e *Engine) withdrawables(activationID string) []Withdrawable {
	var out []Withdrawable
	for _, id := range e.order {
		if activationID != "" && id != activationID {
			continue
		}
		p := e.payouts[id]
		if p == nil {
			continue
		}
		if amt := p.Withdrawable(); amt > 0 {
			out = append(out, Withdrawable{
				ActivationID: id,
				UserID:       e.activations[id].UserID,
				Amount:       amt,
			})
		}
	}
	return out
}

func (e *Engine) confirmWithdraw(activationID string, amount float64) {
	p := e.payouts[activationID]
	if p == nil || amount <= 0 {
		return
	}
	p.Withdrawn += amount

	b := Batch{At: e.now()}
	e.appendEvent(&b, AuditEvent{
		ID:           uuid.NewString(),
		ActivationID: activationID,
		Kind:         "withdraw",
		Amount:       amount,
		At:           b.At,
	})
	e.publishBatch(b)
	e.bus.Publish(events.EventTakeProfitAck, TakeProfitAck{ActivationID: activationID, Amount: amount})
}

// tick runs one scheduler pass: prices first, then at most one lifecycle
// decision per due activation, all changes collected into a single batch.
func (e *Engine) tick(now time.Time) {
	for _, patch := range e.pending {
		e.profile = e.profile.merged(patch)
	}
	e.pending = nil

	b := Batch{Prices: make(map[string]float64), At: now}

	for _, sym := range e.walk.Symbols() {
		prev := e.lastPub[sym]
		p := e.walk.Step(sym)
		if prev == 0 || math.Abs(p-prev)/prev >= priceDeltaThreshold {
			b.Prices[sym] = p
			e.lastPub[sym] = p
		}
	}

	for _, id := range e.order {
		a := e.activations[id]
		if a.Status != StatusActive {
			continue
		}
		if now.Sub(e.lastDecision[id]) < e.profile.TradeEvery {
			continue
		}
		e.lastDecision[id] = now

		if e.rng.Float64() < e.profile.OpenBias {
			e.maybeOpen(a, now, &b)
		} else {
			e.maybeClose(a, now, &b)
		}
	}

	monitor.IncTicks()
	e.publishBatch(b)
}

func (e *Engine) publishBatch(b Batch) {
	if b.Empty() {
		return
	}
	for _, td := range b.Trades {
		switch td.Kind {
		case DeltaOpen:
			monitor.IncTradeOpened()
		case DeltaClose:
			monitor.IncTradeClosed(td.Trade.PnL >= 0)
		}
	}
	e.bus.Publish(events.EventDelta, b)
}

func (e *Engine) publishSnapshot() {
	e.bus.Publish(events.EventSnapshot, e.snapshot())
}

func (e *Engine) snapshot() Snapshot {
	snap := Snapshot{
		Prices:      e.walk.Snapshot(),
		Activations: make([]Activation, 0, len(e.order)),
		Trades:      make(map[string][]Trade, len(e.trades)),
		Payouts:     make(map[string]Payout, len(e.payouts)),
		Profile:     e.profile,
		Tick:        e.tickEvery,
		Running:     e.running,
		At:          e.now(),
	}
	for _, id := range e.order {
		snap.Activations = append(snap.Activations, *e.activations[id])
		list := e.trades[id]
		copied := make([]Trade, len(list))
		for i, t := range list {
			copied[i] = *t
		}
		snap.Trades[id] = copied
		if p := e.payouts[id]; p != nil {
			snap.Payouts[id] = *p
		}
	}
	return snap
}
