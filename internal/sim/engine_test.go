package sim

import (
	"math/rand"
	"testing"
	"time"

	"botsim-core/internal/events"
)

func TestClampTick(t *testing.T) {
	cases := []struct {
		in, want time.Duration
	}{
		{10 * time.Millisecond, tickMin},
		{250 * time.Millisecond, 250 * time.Millisecond},
		{time.Second, time.Second},
		{5 * time.Minute, tickMax},
	}
	for _, c := range cases {
		if got := clampTick(c.in); got != c.want {
			t.Errorf("clampTick(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestAddActivationIdempotent(t *testing.T) {
	e := newTestEngine(t, 1)
	a := Activation{ID: "dup", UserID: "u", AmountUSD: 500}

	e.handle(AddActivationCmd{Activation: a})
	e.handle(AddActivationCmd{Activation: a})

	if len(e.order) != 1 {
		t.Fatalf("activation registered %d times, want 1", len(e.order))
	}
}

func TestAddActivationDefaults(t *testing.T) {
	e := newTestEngine(t, 1)
	e.handle(AddActivationCmd{Activation: Activation{ID: "a1", UserID: "u", AmountUSD: 500}})

	a := e.activations["a1"]
	if a.Status != StatusActive {
		t.Fatalf("status = %q, want active", a.Status)
	}
	if a.CreatedAt.IsZero() {
		t.Fatal("created_at not defaulted")
	}
	if e.payouts["a1"] == nil {
		t.Fatal("payout ledger not initialized")
	}
}

func TestPauseResumeTransitions(t *testing.T) {
	e := newTestEngine(t, 1)
	addTestActivation(e, "a1", 500)

	e.handle(PauseActivationCmd{ID: "a1"})
	if e.activations["a1"].Status != StatusPaused {
		t.Fatal("pause did not apply")
	}
	e.handle(ResumeActivationCmd{ID: "a1"})
	if e.activations["a1"].Status != StatusActive {
		t.Fatal("resume did not apply")
	}

	// canceled is terminal: resume must not revive it
	e.handle(CancelActivationCmd{ID: "a1"})
	e.handle(ResumeActivationCmd{ID: "a1"})
	if e.activations["a1"].Status != StatusCanceled {
		t.Fatal("resume revived a canceled activation")
	}
}

func TestCancelForceClosesTrades(t *testing.T) {
	e := newTestEngine(t, 1)
	a := addTestActivation(e, "a1", 1000)
	e.trades[a.ID] = []*Trade{
		{ID: "t1", ActivationID: a.ID, Pair: "BTCUSDT", Side: SideBuy,
			Leverage: 2, AmountUSD: 100, Entry: 60000, Status: TradeOpen},
	}

	e.handle(CancelActivationCmd{ID: "a1"})

	if a.Status != StatusCanceled {
		t.Fatalf("status = %q, want canceled", a.Status)
	}
	if e.openCount(a.ID) != 0 {
		t.Fatal("open trades survived cancellation")
	}
	// cancel twice is harmless
	e.handle(CancelActivationCmd{ID: "a1"})
}

func TestProfilePatchAppliesAtNextTick(t *testing.T) {
	e := newTestEngine(t, 1)
	wr := 0.9
	e.handle(SetProfileCmd{Patch: ProfilePatch{WinRate: &wr}})

	if e.profile.WinRate == wr {
		t.Fatal("patch applied immediately, want next tick")
	}
	e.tick(e.now())
	if e.profile.WinRate != wr {
		t.Fatalf("win rate = %v after tick, want %v", e.profile.WinRate, wr)
	}
}

func TestProfilePatchesMergeInOrder(t *testing.T) {
	e := newTestEngine(t, 1)
	w1, w2 := 0.1, 0.2
	avg := 3.0
	e.handle(SetProfileCmd{Patch: ProfilePatch{WinRate: &w1, AvgR: &avg}})
	e.handle(SetProfileCmd{Patch: ProfilePatch{WinRate: &w2}})

	e.tick(e.now())
	if e.profile.WinRate != w2 {
		t.Fatalf("win rate = %v, want last patch %v", e.profile.WinRate, w2)
	}
	if e.profile.AvgR != avg {
		t.Fatalf("avg r = %v, earlier patch lost", e.profile.AvgR)
	}
}

func TestTickKeepsPricesPositive(t *testing.T) {
	e := newTestEngine(t, 99)
	now := e.now()
	for i := 0; i < 500; i++ {
		now = now.Add(time.Second)
		e.tick(now)
	}
	for sym, p := range e.walk.Snapshot() {
		if p <= 0 {
			t.Fatalf("price for %s = %v, want > 0", sym, p)
		}
	}
}

func TestStopRetainsState(t *testing.T) {
	e := newTestEngine(t, 1)
	addTestActivation(e, "a1", 500)
	e.handle(StartCmd{})
	if !e.running {
		t.Fatal("engine not running after start")
	}
	e.handle(StopCmd{})
	if e.running {
		t.Fatal("engine still running after stop")
	}
	if len(e.activations) != 1 {
		t.Fatal("stop discarded state")
	}
	e.stopTicker()
}

func TestResetClearsState(t *testing.T) {
	e := newTestEngine(t, 1)
	addTestActivation(e, "a1", 500)
	e.handle(StartCmd{})
	e.handle(ResetCmd{})

	if e.running {
		t.Fatal("engine running after reset")
	}
	if len(e.activations) != 0 || len(e.trades) != 0 || len(e.payouts) != 0 {
		t.Fatal("reset left state behind")
	}
}

func TestWithdrawablesFilterAndClamp(t *testing.T) {
	e := newTestEngine(t, 1)
	addTestActivation(e, "a1", 500)
	addTestActivation(e, "a2", 500)
	e.payouts["a1"] = &Payout{Profit: 12, Net: 10, Withdrawn: 4}
	e.payouts["a2"] = &Payout{Profit: 2, Net: -3}

	ws := e.withdrawables("")
	if len(ws) != 1 {
		t.Fatalf("got %d withdrawables, want 1 (negative net excluded)", len(ws))
	}
	if ws[0].ActivationID != "a1" || ws[0].Amount != 6 {
		t.Fatalf("withdrawable = %+v, want a1/6", ws[0])
	}

	ws = e.withdrawables("a2")
	if len(ws) != 0 {
		t.Fatal("negative net produced a withdrawable")
	}
}

func TestConfirmWithdrawAdvancesLedger(t *testing.T) {
	e := newTestEngine(t, 1)
	addTestActivation(e, "a1", 500)
	e.payouts["a1"] = &Payout{Net: 10}

	e.handle(ConfirmWithdrawCmd{ActivationID: "a1", Amount: 6})
	if e.payouts["a1"].Withdrawn != 6 {
		t.Fatalf("withdrawn = %v, want 6", e.payouts["a1"].Withdrawn)
	}
	if got := e.payouts["a1"].Withdrawable(); got != 4 {
		t.Fatalf("withdrawable = %v, want 4", got)
	}

	// non-positive and unknown ids are ignored
	e.handle(ConfirmWithdrawCmd{ActivationID: "a1", Amount: -1})
	e.handle(ConfirmWithdrawCmd{ActivationID: "nope", Amount: 5})
	if e.payouts["a1"].Withdrawn != 6 {
		t.Fatal("ledger moved on invalid confirm")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	e := newTestEngine(t, 1)
	a := addTestActivation(e, "a1", 1000)
	e.trades[a.ID] = []*Trade{
		{ID: "t1", ActivationID: a.ID, Status: TradeOpen, AmountUSD: 100},
	}

	snap := e.snapshot()
	snap.Trades["a1"][0].AmountUSD = 999
	snap.Activations[0].AmountUSD = 999

	if e.trades["a1"][0].AmountUSD != 100 {
		t.Fatal("snapshot shares trade memory with engine")
	}
	if e.activations["a1"].AmountUSD != 1000 {
		t.Fatal("snapshot shares activation memory with engine")
	}
}

func TestFirstTickPublishesAllPrices(t *testing.T) {
	bus := events.NewBus()
	stream, unsub := bus.Subscribe(events.EventDelta, 8)
	defer unsub()

	e := NewEngine(bus, rand.New(rand.NewSource(5)))
	e.applyConfig(Config{Symbols: map[string]float64{"BTCUSDT": 60000, "ETHUSDT": 2500}})
	e.tick(e.now())

	select {
	case msg := <-stream:
		b, ok := msg.(Batch)
		if !ok {
			t.Fatalf("unexpected payload %T", msg)
		}
		if len(b.Prices) != 2 {
			t.Fatalf("first batch has %d prices, want 2", len(b.Prices))
		}
	default:
		t.Fatal("no delta published on first tick")
	}
}
