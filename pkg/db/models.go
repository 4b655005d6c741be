package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ActivationRow mirrors the activations table.
type ActivationRow struct {
	ID        string
	UserID    string
	BotName   string
	AmountUSD float64
	Status    string
	Pairs     []string
	TpPct     float64
	SlPct     float64
	CreatedAt time.Time
}

// TradeRow mirrors the trades table.
type TradeRow struct {
	ID           string
	ActivationID string
	Pair         string
	Side         string
	Leverage     int
	AmountUSD    float64
	Entry        float64
	TpPct        float64
	SlPct        float64
	Status       string
	Reason       string
	ClosePrice   float64
	PnL          float64
	OpenedAt     time.Time
	ClosedAt     sql.NullTime
}

// TickRow mirrors the price_ticks table.
type TickRow struct {
	Symbol string
	Price  float64
	At     time.Time
}

// ProfileRow mirrors the bot_profiles table.
type ProfileRow struct {
	Name        string
	Pairs       []string
	WinRate     float64
	AvgR        float64
	LeverageMin int
	LeverageMax int
	TpPct       float64
	SlPct       float64
}

// CreateActivation inserts a new activation record.
func (d *Database) CreateActivation(ctx context.Context, a ActivationRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO activations (id, user_id, bot_name, amount_usd, status, pairs, tp_pct, sl_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.BotName, a.AmountUSD, a.Status, strings.Join(a.Pairs, ","), a.TpPct, a.SlPct)
	if err != nil {
		return fmt.Errorf("insert activation: %w", err)
	}
	return nil
}

// UpdateActivationStatus transitions an activation's status.
func (d *Database) UpdateActivationStatus(ctx context.Context, id, status string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE activations SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id)
	if err != nil {
		return fmt.Errorf("update activation status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveActivations returns every activation in 'active' status.
func (d *Database) ListActiveActivations(ctx context.Context) ([]ActivationRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, bot_name, amount_usd, status, pairs, tp_pct, sl_pct, created_at
		FROM activations WHERE status = 'active' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query activations: %w", err)
	}
	defer rows.Close()

	var out []ActivationRow
	for rows.Next() {
		var a ActivationRow
		var pairs string
		if err := rows.Scan(&a.ID, &a.UserID, &a.BotName, &a.AmountUSD, &a.Status,
			&pairs, &a.TpPct, &a.SlPct, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Pairs = splitPairs(pairs)
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetActivation loads one activation by id.
func (d *Database) GetActivation(ctx context.Context, id string) (ActivationRow, error) {
	var a ActivationRow
	var pairs string
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, bot_name, amount_usd, status, pairs, tp_pct, sl_pct, created_at
		FROM activations WHERE id = ?`, id).
		Scan(&a.ID, &a.UserID, &a.BotName, &a.AmountUSD, &a.Status, &pairs, &a.TpPct, &a.SlPct, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ActivationRow{}, ErrNotFound
	}
	if err != nil {
		return ActivationRow{}, fmt.Errorf("get activation: %w", err)
	}
	a.Pairs = splitPairs(pairs)
	return a, nil
}

// InsertTrade records a newly opened trade.
func (d *Database) InsertTrade(ctx context.Context, t TradeRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, activation_id, pair, side, leverage, amount_usd, entry, tp_pct, sl_pct, status, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'open', ?)`,
		t.ID, t.ActivationID, t.Pair, t.Side, t.Leverage, t.AmountUSD, t.Entry, t.TpPct, t.SlPct, t.OpenedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetTrade loads one trade by id.
func (d *Database) GetTrade(ctx context.Context, id string) (TradeRow, error) {
	var t TradeRow
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, activation_id, pair, side, leverage, amount_usd, entry, tp_pct, sl_pct,
		       status, reason, close_price, pnl, opened_at, closed_at
		FROM trades WHERE id = ?`, id).
		Scan(&t.ID, &t.ActivationID, &t.Pair, &t.Side, &t.Leverage, &t.AmountUSD, &t.Entry,
			&t.TpPct, &t.SlPct, &t.Status, &t.Reason, &t.ClosePrice, &t.PnL, &t.OpenedAt, &t.ClosedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TradeRow{}, ErrNotFound
	}
	if err != nil {
		return TradeRow{}, fmt.Errorf("get trade: %w", err)
	}
	return t, nil
}

// ListOpenTrades returns open trades for an activation, newest first.
func (d *Database) ListOpenTrades(ctx context.Context, activationID string) ([]TradeRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, activation_id, pair, side, leverage, amount_usd, entry, tp_pct, sl_pct,
		       status, reason, close_price, pnl, opened_at, closed_at
		FROM trades WHERE activation_id = ? AND status = 'open'
		ORDER BY opened_at DESC`, activationID)
	if err != nil {
		return nil, fmt.Errorf("query open trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var t TradeRow
		if err := rows.Scan(&t.ID, &t.ActivationID, &t.Pair, &t.Side, &t.Leverage, &t.AmountUSD,
			&t.Entry, &t.TpPct, &t.SlPct, &t.Status, &t.Reason, &t.ClosePrice, &t.PnL,
			&t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentTicks returns the latest n ticks for a symbol, newest first.
func (d *Database) RecentTicks(ctx context.Context, symbol string, n int) ([]TickRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, price, at FROM price_ticks
		WHERE symbol = ? ORDER BY at DESC, id DESC LIMIT ?`, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	var out []TickRow
	for rows.Next() {
		var t TickRow
		if err := rows.Scan(&t.Symbol, &t.Price, &t.At); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LatestTick returns the most recent tick for a symbol.
func (d *Database) LatestTick(ctx context.Context, symbol string) (TickRow, error) {
	var t TickRow
	err := d.DB.QueryRowContext(ctx, `
		SELECT symbol, price, at FROM price_ticks
		WHERE symbol = ? ORDER BY at DESC, id DESC LIMIT 1`, symbol).
		Scan(&t.Symbol, &t.Price, &t.At)
	if errors.Is(err, sql.ErrNoRows) {
		return TickRow{}, ErrNotFound
	}
	if err != nil {
		return TickRow{}, fmt.Errorf("latest tick: %w", err)
	}
	return t, nil
}

// ReferenceTick returns the newest tick at or before the cutoff, used as a
// 24h change baseline. Falls back to the oldest stored tick when history is
// shorter than the window.
func (d *Database) ReferenceTick(ctx context.Context, symbol string, before time.Time) (TickRow, error) {
	var t TickRow
	err := d.DB.QueryRowContext(ctx, `
		SELECT symbol, price, at FROM price_ticks
		WHERE symbol = ? AND at <= ? ORDER BY at DESC, id DESC LIMIT 1`, symbol, before).
		Scan(&t.Symbol, &t.Price, &t.At)
	if errors.Is(err, sql.ErrNoRows) {
		err = d.DB.QueryRowContext(ctx, `
			SELECT symbol, price, at FROM price_ticks
			WHERE symbol = ? ORDER BY at ASC, id ASC LIMIT 1`, symbol).
			Scan(&t.Symbol, &t.Price, &t.At)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return TickRow{}, ErrNotFound
	}
	if err != nil {
		return TickRow{}, fmt.Errorf("reference tick: %w", err)
	}
	return t, nil
}

// UpsertBotProfile syncs one preset row from the YAML config.
func (d *Database) UpsertBotProfile(ctx context.Context, p ProfileRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO bot_profiles (name, pairs, win_rate, avg_r, leverage_min, leverage_max, tp_pct, sl_pct, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			pairs = excluded.pairs,
			win_rate = excluded.win_rate,
			avg_r = excluded.avg_r,
			leverage_min = excluded.leverage_min,
			leverage_max = excluded.leverage_max,
			tp_pct = excluded.tp_pct,
			sl_pct = excluded.sl_pct,
			updated_at = CURRENT_TIMESTAMP`,
		p.Name, strings.Join(p.Pairs, ","), p.WinRate, p.AvgR,
		p.LeverageMin, p.LeverageMax, p.TpPct, p.SlPct)
	if err != nil {
		return fmt.Errorf("upsert bot profile: %w", err)
	}
	return nil
}

// GetBotProfile loads one preset by name.
func (d *Database) GetBotProfile(ctx context.Context, name string) (ProfileRow, error) {
	var p ProfileRow
	var pairs string
	err := d.DB.QueryRowContext(ctx, `
		SELECT name, pairs, win_rate, avg_r, leverage_min, leverage_max, tp_pct, sl_pct
		FROM bot_profiles WHERE name = ?`, name).
		Scan(&p.Name, &pairs, &p.WinRate, &p.AvgR, &p.LeverageMin, &p.LeverageMax, &p.TpPct, &p.SlPct)
	if errors.Is(err, sql.ErrNoRows) {
		return ProfileRow{}, ErrNotFound
	}
	if err != nil {
		return ProfileRow{}, fmt.Errorf("get bot profile: %w", err)
	}
	p.Pairs = splitPairs(pairs)
	return p, nil
}

func splitPairs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
