// Package metrics exposes engine counters over the standard prometheus
// registry. The engine itself stays metrics-free; the transport layer
// records outcomes as it observes them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketpit",
		Name:      "orders_accepted_total",
		Help:      "Orders that passed validation, turn gating and admission control.",
	})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketpit",
		Name:      "orders_rejected_total",
		Help:      "Rejected order submissions by reason.",
	}, []string{"reason"})

	TradesExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketpit",
		Name:      "trades_total",
		Help:      "Trades emitted by the matching walk.",
	})

	ContractsTraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketpit",
		Name:      "contracts_traded_total",
		Help:      "Total contracts changing hands.",
	})

	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketpit",
		Name:      "orders_cancelled_total",
		Help:      "Resting orders removed by participant or admin cancels.",
	})

	Settlements = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketpit",
		Name:      "settlements_total",
		Help:      "Successful settlement calls.",
	})
)

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
