package events

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/congo-pay/wallet-core/internal/apperr"
)

// EventsTotal counts intake outcomes by event type and result.
var EventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "wallet_core",
		Name:      "events_total",
		Help:      "Events received by type and outcome.",
	},
	[]string{"type", "outcome"},
)

func init() {
	prometheus.MustRegister(EventsTotal)
}

func observeEvent(eventType string, status Status, err error) {
	outcome := string(status)
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	EventsTotal.WithLabelValues(typeLabel(eventType), outcome).Inc()
}

// typeLabel keeps the type label bounded to the known event types.
func typeLabel(eventType string) string {
	switch eventType {
	case TypePaymentReceived, TypeCampaignFailed, TypeDisbursementExecuted:
		return eventType
	case "":
		return "none"
	default:
		return "unknown"
	}
}
