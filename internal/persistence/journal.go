// Package persistence journals simulation output to SQLite in the
// background. Writes are buffered and flushed in one transaction per
// interval so the hot tick path never blocks on disk.
package persistence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"botsim-core/internal/sim"
	"botsim-core/pkg/db"
)

const (
	defaultFlushEvery = 2 * time.Second
	defaultBufferCap  = 2048
)

type tickRecord struct {
	symbol string
	price  float64
	at     time.Time
}

type eventRecord struct {
	activationID string
	kind         string
	tradeID      string
	amountUSD    float64
	at           time.Time
}

// Journal buffers price ticks and audit events from delta batches and writes
// them out in periodic transactions.
type Journal struct {
	db         *db.Database
	flushEvery time.Duration

	mu     sync.Mutex
	ticks  []tickRecord
	events []eventRecord
}

// NewJournal creates a journal over an opened database.
func NewJournal(database *db.Database, flushEvery time.Duration) *Journal {
	if flushEvery <= 0 {
		flushEvery = defaultFlushEvery
	}
	return &Journal{db: database, flushEvery: flushEvery}
}

// Start consumes the delta stream until ctx is done, with a final flush on
// shutdown.
func (j *Journal) Start(ctx context.Context, stream <-chan any) {
	go func() {
		ticker := time.NewTicker(j.flushEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				j.flush(context.Background())
				return
			case msg, ok := <-stream:
				if !ok {
					j.flush(context.Background())
					return
				}
				if b, isBatch := msg.(sim.Batch); isBatch {
					j.Record(b)
				}
			case <-ticker.C:
				j.flush(ctx)
			}
		}
	}()
	log.Printf("journal: started (flush every %v)", j.flushEvery)
}

// Record buffers one batch. When the buffer overflows before a flush, oldest
// ticks are dropped first; audit events are never dropped.
func (j *Journal) Record(b sim.Batch) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for sym, price := range b.Prices {
		j.ticks = append(j.ticks, tickRecord{symbol: sym, price: price, at: b.At})
	}
	if n := len(j.ticks) - defaultBufferCap; n > 0 {
		j.ticks = j.ticks[n:]
	}

	for _, ev := range b.Events {
		j.events = append(j.events, eventRecord{
			activationID: ev.ActivationID,
			kind:         ev.Kind,
			tradeID:      ev.TradeID,
			amountUSD:    ev.Amount,
			at:           ev.At,
		})
	}
}

func (j *Journal) flush(ctx context.Context) {
	j.mu.Lock()
	ticks := j.ticks
	events := j.events
	j.ticks = nil
	j.events = nil
	j.mu.Unlock()

	if len(ticks) == 0 && len(events) == 0 {
		return
	}

	tx, err := j.db.DB.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("❌ journal: begin tx failed: %v", err)
		j.requeue(ticks, events)
		return
	}
	defer tx.Rollback()

	for _, t := range ticks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO price_ticks (symbol, price, at) VALUES (?, ?, ?)`,
			t.symbol, t.price, t.at); err != nil {
			log.Printf("❌ journal: tick insert failed: %v", err)
			j.requeue(ticks, events)
			return
		}
	}
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bot_events (id, activation_id, kind, trade_id, amount_usd, at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), e.activationID, e.kind, e.tradeID, e.amountUSD, e.at); err != nil {
			log.Printf("❌ journal: event insert failed: %v", err)
			j.requeue(ticks, events)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("❌ journal: commit failed: %v", err)
		j.requeue(ticks, events)
		return
	}
}

// requeue puts failed records back at the front so the next flush retries.
func (j *Journal) requeue(ticks []tickRecord, events []eventRecord) {
	j.mu.Lock()
	j.ticks = append(ticks, j.ticks...)
	j.events = append(events, j.events...)
	j.mu.Unlock()
}
