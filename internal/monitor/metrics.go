// Package monitor exposes Prometheus metrics for the simulation core.
// Served at /metrics by the API server.
package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	ticksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botsim_ticks_total",
			Help: "Scheduler ticks processed",
		},
	)

	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botsim_trades_total",
			Help: "Simulated trades counted by result (open|win|loss)",
		},
		[]string{"result"},
	)

	flushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botsim_flush_total",
			Help: "Payout flush attempts by outcome (ok|error|noop)",
		},
		[]string{"outcome"},
	)

	brainDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botsim_brain_decisions_total",
			Help: "Live decision loop actions (open_buy|open_sell|close_tp|close_sl|hold)",
		},
		[]string{"action"},
	)

	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "botsim_ws_clients",
			Help: "Connected websocket consumers",
		},
	)
)

func init() {
	prometheus.MustRegister(ticksTotal, tradesTotal, flushTotal, brainDecisions, wsClients)
}

func IncTicks() { ticksTotal.Inc() }

func IncTradeOpened() { tradesTotal.WithLabelValues("open").Inc() }

func IncTradeClosed(win bool) {
	if win {
		tradesTotal.WithLabelValues("win").Inc()
	} else {
		tradesTotal.WithLabelValues("loss").Inc()
	}
}

func IncFlush(outcome string) { flushTotal.WithLabelValues(outcome).Inc() }

func IncBrainDecision(action string) { brainDecisions.WithLabelValues(action).Inc() }

func WSClientConnected()    { wsClients.Inc() }
func WSClientDisconnected() { wsClients.Dec() }
