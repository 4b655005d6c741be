// Package gateway is the persistence boundary for real-money flows: profit
// credits from the flush coordinator and order/position state for the live
// decision loop. Implementations must tolerate duplicate credit attempts.
package gateway

import (
	"context"
	"time"
)

// Quote is a spot price with a 24h change reference.
type Quote struct {
	Symbol       string    `json:"symbol"`
	Price        float64   `json:"price"`
	Change24hPct float64   `json:"change_24h_pct"`
	At           time.Time `json:"at"`
}

// Tick is one recorded price observation.
type Tick struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// Activation is a funded bot activation as persisted.
type Activation struct {
	ID        string
	UserID    string
	BotName   string
	AmountUSD float64
	Pairs     []string
	TpPct     float64
	SlPct     float64
}

// Trade is an open position as persisted.
type Trade struct {
	ID           string
	ActivationID string
	Pair         string
	Side         string
	Leverage     int
	AmountUSD    float64
	Entry        float64
	TpPct        float64
	SlPct        float64
	OpenedAt     time.Time
}

// OpenReq describes a position to open.
type OpenReq struct {
	ActivationID string
	Pair         string
	Side         string
	Leverage     int
	AmountUSD    float64
	Entry        float64
	TpPct        float64
	SlPct        float64
}

// CloseResult reports a settled close.
type CloseResult struct {
	TradeID      string
	ActivationID string
	UserID       string
	ClosePrice   float64
	PnL          float64
	Reason       string
}

// Gateway is the full persistence surface used by the flush coordinator and
// the live decision loop.
type Gateway interface {
	// CreditProfit moves withdrawable PnL onto the user's balance.
	CreditProfit(ctx context.Context, userID, activationID string, amountUSD float64, currency, note string) error

	// OpenTrade persists a new open position and returns it with its id set.
	OpenTrade(ctx context.Context, req OpenReq) (Trade, error)

	// CloseTrade settles an open position at closePrice. PnL is computed once,
	// fees included, inside the same transaction that updates the payout
	// ledger. Closing an already-closed trade is an error.
	CloseTrade(ctx context.Context, tradeID, reason string, closePrice float64) (CloseResult, error)

	// Spot returns the latest recorded price with a 24h reference.
	Spot(ctx context.Context, symbol string) (Quote, error)

	// RecentTicks returns up to n recent ticks, newest first.
	RecentTicks(ctx context.Context, symbol string, n int) ([]Tick, error)

	// ActiveActivations lists funded activations in active status.
	ActiveActivations(ctx context.Context) ([]Activation, error)

	// OpenTrades lists an activation's open positions, newest first.
	OpenTrades(ctx context.Context, activationID string) ([]Trade, error)
}
