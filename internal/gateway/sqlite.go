package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"botsim-core/pkg/db"
)

// ErrTradeClosed is returned when closing a trade that is not open.
var ErrTradeClosed = errors.New("trade already closed")

const (
	defaultFeeBps = 8.0 // round-trip taker fee per side, basis points
	change24hRef  = 24 * time.Hour
)

// SQLiteGateway implements Gateway over the local SQLite database. Calls are
// paced by a rate limiter so a hot decision loop cannot saturate the single
// writer connection.
type SQLiteGateway struct {
	db      *db.Database
	limiter *rate.Limiter
	feeBps  float64
	now     func() time.Time
}

// NewSQLiteGateway wraps an opened database.
func NewSQLiteGateway(database *db.Database) *SQLiteGateway {
	return &SQLiteGateway{
		db:      database,
		limiter: rate.NewLimiter(rate.Limit(50), 100),
		feeBps:  defaultFeeBps,
		now:     time.Now,
	}
}

func (g *SQLiteGateway) wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("gateway rate limit: %w", err)
	}
	return nil
}

// CreditProfit credits amountUSD to the user's balance and records a ledger
// entry, in one transaction.
func (g *SQLiteGateway) CreditProfit(ctx context.Context, userID, activationID string, amountUSD float64, currency, note string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	if amountUSD <= 0 {
		return fmt.Errorf("credit amount must be positive, got %.4f", amountUSD)
	}

	tx, err := g.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin credit tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, balance_usd, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			balance_usd = balance_usd + excluded.balance_usd,
			updated_at = CURRENT_TIMESTAMP`,
		userID, amountUSD); err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, activation_id, amount_usd, currency, note)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, activationID, amountUSD, currency, note); err != nil {
		return fmt.Errorf("ledger entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE payouts SET withdrawn = withdrawn + ?, updated_at = CURRENT_TIMESTAMP
		WHERE activation_id = ?`,
		amountUSD, activationID); err != nil {
		return fmt.Errorf("advance payout withdrawn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credit tx: %w", err)
	}
	log.Printf("💾 gateway: credited %.2f %s to user %s (activation %s)", amountUSD, currency, userID, activationID)
	return nil
}

// OpenTrade persists a new open position.
func (g *SQLiteGateway) OpenTrade(ctx context.Context, req OpenReq) (Trade, error) {
	if err := g.wait(ctx); err != nil {
		return Trade{}, err
	}
	if req.AmountUSD <= 0 || req.Entry <= 0 {
		return Trade{}, fmt.Errorf("invalid open request: amount=%.2f entry=%.4f", req.AmountUSD, req.Entry)
	}
	if req.Leverage < 1 {
		req.Leverage = 1
	}

	t := Trade{
		ID:           uuid.NewString(),
		ActivationID: req.ActivationID,
		Pair:         req.Pair,
		Side:         req.Side,
		Leverage:     req.Leverage,
		AmountUSD:    req.AmountUSD,
		Entry:        req.Entry,
		TpPct:        req.TpPct,
		SlPct:        req.SlPct,
		OpenedAt:     g.now().UTC(),
	}
	err := g.db.InsertTrade(ctx, db.TradeRow{
		ID:           t.ID,
		ActivationID: t.ActivationID,
		Pair:         t.Pair,
		Side:         t.Side,
		Leverage:     t.Leverage,
		AmountUSD:    t.AmountUSD,
		Entry:        t.Entry,
		TpPct:        t.TpPct,
		SlPct:        t.SlPct,
		OpenedAt:     t.OpenedAt,
	})
	if err != nil {
		return Trade{}, err
	}
	return t, nil
}

// CloseTrade settles an open position. The status guard in the UPDATE makes
// a duplicate close a clean error rather than a double payout.
func (g *SQLiteGateway) CloseTrade(ctx context.Context, tradeID, reason string, closePrice float64) (CloseResult, error) {
	if err := g.wait(ctx); err != nil {
		return CloseResult{}, err
	}
	if closePrice <= 0 {
		return CloseResult{}, fmt.Errorf("invalid close price %.4f", closePrice)
	}

	tx, err := g.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return CloseResult{}, fmt.Errorf("begin close tx: %w", err)
	}
	defer tx.Rollback()

	var (
		activationID, userID, side string
		leverage                   int
		amountUSD, entry           float64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT t.activation_id, a.user_id, t.side, t.leverage, t.amount_usd, t.entry
		FROM trades t JOIN activations a ON a.id = t.activation_id
		WHERE t.id = ? AND t.status = 'open'`, tradeID).
		Scan(&activationID, &userID, &side, &leverage, &amountUSD, &entry)
	if err != nil {
		return CloseResult{}, ErrTradeClosed
	}

	pnl := settledPnL(side, entry, closePrice, leverage, amountUSD, g.feeBps)

	res, err := tx.ExecContext(ctx, `
		UPDATE trades SET status = 'closed', reason = ?, close_price = ?, pnl = ?, closed_at = ?
		WHERE id = ? AND status = 'open'`,
		reason, closePrice, pnl, g.now().UTC(), tradeID)
	if err != nil {
		return CloseResult{}, fmt.Errorf("close trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return CloseResult{}, ErrTradeClosed
	}

	profit := 0.0
	if pnl > 0 {
		profit = pnl
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO payouts (activation_id, profit, net, withdrawn, updated_at)
		VALUES (?, ?, ?, 0, CURRENT_TIMESTAMP)
		ON CONFLICT(activation_id) DO UPDATE SET
			profit = profit + excluded.profit,
			net = net + excluded.net,
			updated_at = CURRENT_TIMESTAMP`,
		activationID, profit, pnl); err != nil {
		return CloseResult{}, fmt.Errorf("update payout: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bot_events (id, activation_id, kind, trade_id, amount_usd)
		VALUES (?, ?, 'close', ?, ?)`,
		uuid.NewString(), activationID, tradeID, pnl); err != nil {
		return CloseResult{}, fmt.Errorf("insert close event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return CloseResult{}, fmt.Errorf("commit close tx: %w", err)
	}

	return CloseResult{
		TradeID:      tradeID,
		ActivationID: activationID,
		UserID:       userID,
		ClosePrice:   closePrice,
		PnL:          pnl,
		Reason:       reason,
	}, nil
}

// settledPnL mirrors the mark-to-market formula used for simulated closes:
// leveraged move on notional, minus a round-trip fee on both sides.
func settledPnL(side string, entry, closePrice float64, leverage int, amountUSD, feeBps float64) float64 {
	move := (closePrice - entry) / entry
	if side == "sell" {
		move = -move
	}
	gross := amountUSD * float64(leverage) * move
	fees := 2 * amountUSD * feeBps / 10000
	return math.Round((gross-fees)*100) / 100
}

// Spot returns the latest tick and its change against a 24h-old reference.
func (g *SQLiteGateway) Spot(ctx context.Context, symbol string) (Quote, error) {
	if err := g.wait(ctx); err != nil {
		return Quote{}, err
	}
	latest, err := g.db.LatestTick(ctx, symbol)
	if err != nil {
		return Quote{}, fmt.Errorf("spot %s: %w", symbol, err)
	}
	q := Quote{Symbol: symbol, Price: latest.Price, At: latest.At}

	ref, err := g.db.ReferenceTick(ctx, symbol, latest.At.Add(-change24hRef))
	if err == nil && ref.Price > 0 {
		q.Change24hPct = (latest.Price - ref.Price) / ref.Price * 100
	}
	return q, nil
}

// RecentTicks returns up to n ticks, newest first.
func (g *SQLiteGateway) RecentTicks(ctx context.Context, symbol string, n int) ([]Tick, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 50
	}
	rows, err := g.db.RecentTicks(ctx, symbol, n)
	if err != nil {
		return nil, err
	}
	out := make([]Tick, 0, len(rows))
	for _, r := range rows {
		out = append(out, Tick{Price: r.Price, At: r.At})
	}
	return out, nil
}

// ActiveActivations lists funded activations.
func (g *SQLiteGateway) ActiveActivations(ctx context.Context) ([]Activation, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	rows, err := g.db.ListActiveActivations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Activation, 0, len(rows))
	for _, r := range rows {
		out = append(out, Activation{
			ID:        r.ID,
			UserID:    r.UserID,
			BotName:   r.BotName,
			AmountUSD: r.AmountUSD,
			Pairs:     r.Pairs,
			TpPct:     r.TpPct,
			SlPct:     r.SlPct,
		})
	}
	return out, nil
}

// OpenTrades lists an activation's open positions.
func (g *SQLiteGateway) OpenTrades(ctx context.Context, activationID string) ([]Trade, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	rows, err := g.db.ListOpenTrades(ctx, activationID)
	if err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, Trade{
			ID:           r.ID,
			ActivationID: r.ActivationID,
			Pair:         r.Pair,
			Side:         r.Side,
			Leverage:     r.Leverage,
			AmountUSD:    r.AmountUSD,
			Entry:        r.Entry,
			TpPct:        r.TpPct,
			SlPct:        r.SlPct,
			OpenedAt:     r.OpenedAt,
		})
	}
	return out, nil
}
