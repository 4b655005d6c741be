// Package flush reconciles accumulated net PnL per activation with the
// persistence gateway. Delivery is at-least-once: withdrawn only advances
// after an acknowledged credit, so a failed call is retried on the next
// window. The persistence side must tolerate duplicate credit attempts.
package flush

import (
	"context"
	"fmt"
	"log"
	"time"

	"botsim-core/internal/monitor"
	"botsim-core/internal/sim"
)

// LedgerSource exposes the engine's payout ledger to the coordinator.
type LedgerSource interface {
	Withdrawables(ctx context.Context, activationID string) ([]sim.Withdrawable, error)
	ConfirmWithdraw(activationID string, amount float64)
}

// ProfitCreditor is the slice of the persistence gateway the coordinator
// calls. Treated as an opaque remote call that may fail.
type ProfitCreditor interface {
	CreditProfit(ctx context.Context, userID, activationID string, amountUSD float64, currency, note string) error
}

// Coordinator flushes withdrawable PnL on a fixed interval and on explicit
// take-profit actions.
type Coordinator struct {
	ledger   LedgerSource
	gateway  ProfitCreditor
	interval time.Duration
	currency string
}

// NewCoordinator creates a coordinator flushing every interval.
func NewCoordinator(ledger LedgerSource, gateway ProfitCreditor, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Coordinator{
		ledger:   ledger,
		gateway:  gateway,
		interval: interval,
		currency: "USD",
	}
}

// Start begins periodic flushing until ctx is done. The final flush is not
// tied to ctx: the ledger source usually dies with the same context, so a
// flush triggered by its cancellation could never be answered. Callers run
// Shutdown while the ledger can still reply, then cancel ctx.
func (c *Coordinator) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.FlushAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Printf("flush: coordinator started (interval %v)", c.interval)
}

// Shutdown runs one last flush so accumulated PnL is not stranded. Must be
// called before the ledger source stops answering.
func (c *Coordinator) Shutdown(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c.FlushAll(flushCtx)
}

// FlushAll pushes every positive withdrawable amount to the gateway.
// Failures are logged and retried next window; the simulation never stalls.
func (c *Coordinator) FlushAll(ctx context.Context) {
	ws, err := c.ledger.Withdrawables(ctx, "")
	if err != nil {
		log.Printf("flush: ledger read failed: %v", err)
		return
	}
	for _, w := range ws {
		if err := c.flushOne(ctx, w); err != nil {
			log.Printf("flush: credit %s failed (retry next window): %v", w.ActivationID, err)
		}
	}
}

// FlushActivation handles an explicit take-profit action for one activation.
// A zero withdrawable is a no-op, never a gateway call. The caller surfaces a
// generic failure to the user; no partial state mutation happens on error.
func (c *Coordinator) FlushActivation(ctx context.Context, activationID string) error {
	ws, err := c.ledger.Withdrawables(ctx, activationID)
	if err != nil {
		return fmt.Errorf("ledger read: %w", err)
	}
	if len(ws) == 0 {
		monitor.IncFlush("noop")
		return nil
	}
	return c.flushOne(ctx, ws[0])
}

func (c *Coordinator) flushOne(ctx context.Context, w sim.Withdrawable) error {
	if w.Amount <= 0 {
		monitor.IncFlush("noop")
		return nil
	}
	err := c.gateway.CreditProfit(ctx, w.UserID, w.ActivationID, w.Amount, c.currency,
		fmt.Sprintf("bot payout %s", w.ActivationID))
	if err != nil {
		monitor.IncFlush("error")
		return err
	}
	// withdrawn advances only after the ack
	c.ledger.ConfirmWithdraw(w.ActivationID, w.Amount)
	monitor.IncFlush("ok")
	log.Printf("flush: credited %.2f USD to %s (activation %s)", w.Amount, w.UserID, w.ActivationID)
	return nil
}
