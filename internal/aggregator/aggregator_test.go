package aggregator

import (
	"testing"
	"time"

	"botsim-core/internal/sim"
	"botsim-core/pkg/cache"
)

func newTestAggregator(tradeCap int) *Aggregator {
	return New(cache.NewShardedPriceCache(), time.Hour, tradeCap)
}

func openDelta(id, activation string) sim.TradeDelta {
	return sim.TradeDelta{Kind: sim.DeltaOpen, Trade: sim.Trade{
		ID: id, ActivationID: activation, Status: sim.TradeOpen, AmountUSD: 100,
	}}
}

func closeDelta(id, activation string, pnl float64) sim.TradeDelta {
	return sim.TradeDelta{Kind: sim.DeltaClose, Trade: sim.Trade{
		ID: id, ActivationID: activation, Status: sim.TradeClosed, AmountUSD: 100, PnL: pnl,
	}}
}

func TestMergePricesIntoCache(t *testing.T) {
	g := newTestAggregator(10)
	g.Apply(sim.Batch{Prices: map[string]float64{"BTCUSDT": 60000}})
	g.Flush()

	prices := g.Prices()
	if prices["BTCUSDT"] != 60000 {
		t.Fatalf("price not merged: %v", prices)
	}
}

func TestOpenPrependsNewestFirst(t *testing.T) {
	g := newTestAggregator(10)
	g.Apply(sim.Batch{Trades: []sim.TradeDelta{openDelta("t1", "a")}})
	g.Apply(sim.Batch{Trades: []sim.TradeDelta{openDelta("t2", "a")}})
	g.Flush()

	v := g.ViewFor("a")
	if len(v.Trades) != 2 || v.Trades[0].ID != "t2" {
		t.Fatalf("trades = %+v, want t2 first", v.Trades)
	}
}

func TestTradeCapEvictsOldest(t *testing.T) {
	g := newTestAggregator(2)
	g.Apply(sim.Batch{Trades: []sim.TradeDelta{
		openDelta("t1", "a"), openDelta("t2", "a"), openDelta("t3", "a"),
	}})
	g.Flush()

	v := g.ViewFor("a")
	if len(v.Trades) != 2 {
		t.Fatalf("kept %d trades, want cap 2", len(v.Trades))
	}
	if v.Trades[0].ID != "t3" || v.Trades[1].ID != "t2" {
		t.Fatalf("wrong survivors: %+v", v.Trades)
	}
}

func TestClosePatchesInPlace(t *testing.T) {
	g := newTestAggregator(10)
	g.Apply(sim.Batch{Trades: []sim.TradeDelta{openDelta("t1", "a")}})
	g.Apply(sim.Batch{Trades: []sim.TradeDelta{closeDelta("t1", "a", 4.2)}})
	g.Flush()

	v := g.ViewFor("a")
	if len(v.Trades) != 1 {
		t.Fatalf("close duplicated the trade: %+v", v.Trades)
	}
	if v.Trades[0].Status != sim.TradeClosed || v.Trades[0].PnL != 4.2 {
		t.Fatalf("close not applied: %+v", v.Trades[0])
	}
}

func TestCloseForUnseenTradeSurfaces(t *testing.T) {
	g := newTestAggregator(10)
	g.Apply(sim.Batch{Trades: []sim.TradeDelta{closeDelta("ghost", "a", -1)}})
	g.Flush()

	v := g.ViewFor("a")
	if len(v.Trades) != 1 || v.Trades[0].ID != "ghost" {
		t.Fatalf("evicted close lost: %+v", v.Trades)
	}
}

func TestPayoutDeltasAccumulate(t *testing.T) {
	g := newTestAggregator(10)
	g.Apply(sim.Batch{Payouts: []sim.PayoutDelta{{ActivationID: "a", Profit: 3, Net: 3}}})
	g.Apply(sim.Batch{Payouts: []sim.PayoutDelta{{ActivationID: "a", Profit: 0, Net: -1}}})
	g.Flush()

	v := g.ViewFor("a")
	if v.Payout.Profit != 3 || v.Payout.Net != 2 {
		t.Fatalf("payout = %+v, want profit 3 net 2", v.Payout)
	}
}

func TestCoalescedBatchesSingleNotify(t *testing.T) {
	g := newTestAggregator(10)
	notified := 0
	unsub := g.Subscribe("a", func(View) { notified++ })
	defer unsub()

	g.Apply(sim.Batch{Trades: []sim.TradeDelta{openDelta("t1", "a")}})
	g.Apply(sim.Batch{Trades: []sim.TradeDelta{openDelta("t2", "a")}})
	g.Apply(sim.Batch{Payouts: []sim.PayoutDelta{{ActivationID: "a", Net: 1}}})
	g.Flush()

	if notified != 1 {
		t.Fatalf("notified %d times for one flush, want 1", notified)
	}
}

func TestSubscriberOnlySeesOwnActivation(t *testing.T) {
	g := newTestAggregator(10)
	var got []string
	unsub := g.Subscribe("a", func(v View) { got = append(got, v.ActivationID) })
	defer unsub()

	g.Apply(sim.Batch{Trades: []sim.TradeDelta{openDelta("t1", "b")}})
	g.Flush()
	if len(got) != 0 {
		t.Fatal("subscriber notified for another activation")
	}

	g.Apply(sim.Batch{Trades: []sim.TradeDelta{openDelta("t2", "a")}})
	g.Flush()
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("notifications = %v", got)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	g := newTestAggregator(10)
	notified := 0
	unsub := g.Subscribe("a", func(View) { notified++ })

	unsub()
	unsub() // second call must be harmless

	g.Apply(sim.Batch{Trades: []sim.TradeDelta{openDelta("t1", "a")}})
	g.Flush()
	if notified != 0 {
		t.Fatal("unsubscribed callback still fired")
	}
}

func TestViewIsCopy(t *testing.T) {
	g := newTestAggregator(10)
	g.Apply(sim.Batch{Trades: []sim.TradeDelta{openDelta("t1", "a")}})
	g.Flush()

	v := g.ViewFor("a")
	v.Trades[0].AmountUSD = 999

	if g.ViewFor("a").Trades[0].AmountUSD != 100 {
		t.Fatal("view shares memory with the read model")
	}
}

func TestEventsBounded(t *testing.T) {
	g := newTestAggregator(10)
	g.eventCap = 3
	var evs []sim.AuditEvent
	for i := 0; i < 6; i++ {
		evs = append(evs, sim.AuditEvent{ID: "e", ActivationID: "a", Kind: "open"})
	}
	g.Apply(sim.Batch{Events: evs})
	g.Flush()

	if n := len(g.ViewFor("a").Events); n != 3 {
		t.Fatalf("kept %d events, want 3", n)
	}
}
