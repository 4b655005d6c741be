package sim

import (
	"time"
)

// Side of a simulated position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ActivationStatus is the lifecycle state of a funded bot instance.
type ActivationStatus string

const (
	StatusActive   ActivationStatus = "active"
	StatusPaused   ActivationStatus = "paused"
	StatusCanceled ActivationStatus = "canceled"
)

// TradeStatus is open or closed; a trade never reopens.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// Activation is a funded bot instance owned by the engine while active/paused.
type Activation struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	BotName   string           `json:"bot_name"`
	AmountUSD float64          `json:"amount_usd"`
	Status    ActivationStatus `json:"status"`
	Pairs     []string         `json:"pairs"`
	CreatedAt time.Time        `json:"created_at"`
}

// Trade is one position. PnL is computed exactly once, at the close
// transition, and the trade is immutable afterwards.
type Trade struct {
	ID           string      `json:"id"`
	ActivationID string      `json:"activation_id"`
	Pair         string      `json:"pair"`
	Side         Side        `json:"side"`
	Leverage     int         `json:"leverage"`
	AmountUSD    float64     `json:"amount_usd"`
	Entry        float64     `json:"entry"`
	OpenedAt     time.Time   `json:"opened_at"`
	Status       TradeStatus `json:"status"`
	ClosedAt     time.Time   `json:"closed_at,omitempty"`
	PnL          float64     `json:"pnl"`
}

// Payout is the running realized-PnL ledger per activation.
type Payout struct {
	Profit    float64 `json:"profit"`
	Net       float64 `json:"net"`
	Withdrawn float64 `json:"withdrawn"`
}

// Withdrawable returns the amount eligible for the next flush.
func (p Payout) Withdrawable() float64 {
	w := p.Net - p.Withdrawn
	if w < 0 {
		return 0
	}
	return w
}

// AuditEvent is an immutable audit record appended to a bounded
// per-activation log.
type AuditEvent struct {
	ID           string    `json:"id"`
	ActivationID string    `json:"activation_id"`
	Kind         string    `json:"kind"` // open, close, withdraw
	TradeID      string    `json:"trade_id,omitempty"`
	Amount       float64   `json:"amount"`
	At           time.Time `json:"at"`
}

// Profile holds the process-wide tunables. Updates are merged atomically at
// the start of the next tick.
type Profile struct {
	WinRate       float64       `json:"win_rate"`
	AvgR          float64       `json:"avg_r"`
	MaxConcurrent int           `json:"max_concurrent"`
	TradeEvery    time.Duration `json:"trade_every"`
	BaseHold      time.Duration `json:"base_hold"`
	Jitter        time.Duration `json:"jitter"`
	FeeBps        float64       `json:"fee_bps"`
	OpenBias      float64       `json:"open_bias"`
}

// DefaultProfile returns the boot-time tunables.
func DefaultProfile() Profile {
	return Profile{
		WinRate:       0.62,
		AvgR:          1.6,
		MaxConcurrent: 3,
		TradeEvery:    4 * time.Second,
		BaseHold:      45 * time.Second,
		Jitter:        20 * time.Second,
		FeeBps:        8,
		OpenBias:      0.7,
	}
}

// ProfilePatch carries partial profile updates; nil fields keep the current
// value.
type ProfilePatch struct {
	WinRate       *float64       `json:"win_rate,omitempty"`
	AvgR          *float64       `json:"avg_r,omitempty"`
	MaxConcurrent *int           `json:"max_concurrent,omitempty"`
	TradeEvery    *time.Duration `json:"trade_every,omitempty"`
	BaseHold      *time.Duration `json:"base_hold,omitempty"`
	Jitter        *time.Duration `json:"jitter,omitempty"`
	FeeBps        *float64       `json:"fee_bps,omitempty"`
	OpenBias      *float64       `json:"open_bias,omitempty"`
}

func (p Profile) merged(patch ProfilePatch) Profile {
	if patch.WinRate != nil {
		p.WinRate = *patch.WinRate
	}
	if patch.AvgR != nil {
		p.AvgR = *patch.AvgR
	}
	if patch.MaxConcurrent != nil {
		p.MaxConcurrent = *patch.MaxConcurrent
	}
	if patch.TradeEvery != nil {
		p.TradeEvery = *patch.TradeEvery
	}
	if patch.BaseHold != nil {
		p.BaseHold = *patch.BaseHold
	}
	if patch.Jitter != nil {
		p.Jitter = *patch.Jitter
	}
	if patch.FeeBps != nil {
		p.FeeBps = *patch.FeeBps
	}
	if patch.OpenBias != nil {
		p.OpenBias = *patch.OpenBias
	}
	return p
}

// Delta kinds for trade changes.
const (
	DeltaOpen  = "open"
	DeltaClose = "close"
)

// TradeDelta is an incremental trade change inside a batch.
type TradeDelta struct {
	Kind  string `json:"kind"`
	Trade Trade  `json:"trade"`
}

// PayoutDelta carries increments, not absolutes: consumers accumulate by
// addition because several deltas may arrive between their flushes.
type PayoutDelta struct {
	ActivationID string  `json:"activation_id"`
	Profit       float64 `json:"profit"`
	Net          float64 `json:"net"`
}

// Batch bundles every change produced by one scheduler tick.
type Batch struct {
	Prices  map[string]float64 `json:"prices,omitempty"`
	Trades  []TradeDelta       `json:"trades,omitempty"`
	Payouts []PayoutDelta      `json:"payouts,omitempty"`
	Events  []AuditEvent       `json:"events,omitempty"`
	At      time.Time          `json:"at"`
}

// Empty reports whether the batch carries no changes.
func (b Batch) Empty() bool {
	return len(b.Prices) == 0 && len(b.Trades) == 0 && len(b.Payouts) == 0 && len(b.Events) == 0
}

// Snapshot is the full on-demand state view.
type Snapshot struct {
	Prices      map[string]float64 `json:"prices"`
	Activations []Activation       `json:"activations"`
	Trades      map[string][]Trade `json:"trades"`
	Payouts     map[string]Payout  `json:"payouts"`
	Profile     Profile            `json:"profile"`
	Tick        time.Duration      `json:"tick"`
	Running     bool               `json:"running"`
	At          time.Time          `json:"at"`
}

// Withdrawable describes one activation's flushable amount.
type Withdrawable struct {
	ActivationID string
	UserID       string
	Amount       float64
}

// Config seeds the engine at init time.
type Config struct {
	Symbols  map[string]float64 // symbol -> starting price
	Profile  Profile
	Tick     time.Duration
	TradeCap int // retained trades per activation (closed history)
	EventCap int // retained audit events per activation
}

// Command is the closed union of messages accepted by the engine actor.
type Command interface{ isCommand() }

type InitCmd struct{ Config Config }
type StartCmd struct{}
type StopCmd struct{}
type SetTickCmd struct{ Interval time.Duration }
type SetProfileCmd struct{ Patch ProfilePatch }
type AddActivationCmd struct{ Activation Activation }
type PauseActivationCmd struct{ ID string }
type ResumeActivationCmd struct{ ID string }
type CancelActivationCmd struct{ ID string }
type GetStateCmd struct{ Reply chan Snapshot }
type ResetCmd struct{}

// WithdrawableCmd asks the engine for current flushable amounts. An empty
// ActivationID means all activations.
type WithdrawableCmd struct {
	ActivationID string
	Reply        chan []Withdrawable
}

// ConfirmWithdrawCmd advances the withdrawn ledger after the persistence
// gateway acknowledged a credit.
type ConfirmWithdrawCmd struct {
	ActivationID string
	Amount       float64
}

func (InitCmd) isCommand()             {}
func (StartCmd) isCommand()            {}
func (StopCmd) isCommand()             {}
func (SetTickCmd) isCommand()          {}
func (SetProfileCmd) isCommand()       {}
func (AddActivationCmd) isCommand()    {}
func (PauseActivationCmd) isCommand()  {}
func (ResumeActivationCmd) isCommand() {}
func (CancelActivationCmd) isCommand() {}
func (GetStateCmd) isCommand()         {}
func (ResetCmd) isCommand()            {}
func (WithdrawableCmd) isCommand()     {}
func (ConfirmWithdrawCmd) isCommand()  {}
