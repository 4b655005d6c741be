package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"botsim-core/internal/aggregator"
	"botsim-core/internal/api"
	"botsim-core/internal/brain"
	"botsim-core/internal/events"
	"botsim-core/internal/flush"
	"botsim-core/internal/gateway"
	"botsim-core/internal/persistence"
	"botsim-core/internal/sim"
	"botsim-core/pkg/cache"
	"botsim-core/pkg/config"
	"botsim-core/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg := config.Load()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("❌ migrate database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	engine := sim.NewEngine(bus, rng)
	engine.Run(ctx)
	engine.Send(sim.InitCmd{Config: sim.Config{
		Symbols: cfg.Symbols,
		Profile: sim.Profile{
			WinRate:       cfg.WinRate,
			AvgR:          cfg.AvgR,
			MaxConcurrent: cfg.MaxConcurrent,
			TradeEvery:    cfg.TradeEvery,
			BaseHold:      cfg.BaseHold,
			Jitter:        cfg.Jitter,
			FeeBps:        cfg.FeeBps,
			OpenBias:      cfg.OpenBias,
		},
		Tick:     cfg.Tick,
		TradeCap: cfg.TradeCap,
		EventCap: cfg.EventCap,
	}})
	engine.Send(sim.StartCmd{})

	prices := cache.NewShardedPriceCache()
	agg := aggregator.New(prices, cfg.AggInterval, cfg.TradeCap)
	aggStream, _ := bus.Subscribe(events.EventDelta, 256)
	agg.Start(ctx, aggStream)

	journal := persistence.NewJournal(database, cfg.JournalFlush)
	journalStream, _ := bus.Subscribe(events.EventDelta, 256)
	journal.Start(ctx, journalStream)

	gw := gateway.NewSQLiteGateway(database)

	coordinator := flush.NewCoordinator(engine, gw, cfg.FlushInterval)
	coordinator.Start(ctx)

	if err := brain.SyncPresetsToDB(ctx, database, cfg.BotsConfig); err != nil {
		log.Printf("⚠️ preset sync failed: %v", err)
	}

	if cfg.EnableBrain {
		b := brain.New(gw, rand.New(rand.NewSource(time.Now().UnixNano()+1)), brain.Options{
			Interval:       cfg.BrainInterval,
			TpPct:          cfg.TpPct,
			SlPct:          cfg.SlPct,
			MaxConcurrent:  cfg.MaxConcurrent,
			MomentumWindow: cfg.MomentumWindow,
		})
		b.Start(ctx)
	}

	server := api.NewServer(engine, agg, coordinator, bus, database, cfg.Port)
	server.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🔄 shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown: %v", err)
	}
	// flush pending payouts while the engine can still answer, then stop it
	coordinator.Shutdown(shutdownCtx)
	cancel()
	// give the journal a moment to run its final flush
	time.Sleep(500 * time.Millisecond)
	log.Println("✅ bye")
}
