package events

// Event enumerates the topics the simulation core publishes.
type Event string

const (
	// EventDelta carries one sim.Batch per scheduler tick that produced changes.
	EventDelta Event = "delta"
	// EventSnapshot carries a full state snapshot (boot, getState).
	EventSnapshot Event = "snapshot"

	EventReady              Event = "ready"
	EventStarted            Event = "started"
	EventStopped            Event = "stopped"
	EventTock               Event = "tock"
	EventProfile            Event = "profile"
	EventActivationAdded    Event = "activation_added"
	EventActivationCanceled Event = "activation_canceled"
	EventTakeProfitAck      Event = "take_profit_ack"
	EventReset              Event = "reset"
)
