package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	CreditsEarnedTotal       prometheus.Counter
	PayoutRequestsTotal      *prometheus.CounterVec
	PayoutBroadcastDuration  *prometheus.HistogramVec
	PayoutPendingReconcile   prometheus.Counter
	CreditsReservedTotal     prometheus.Counter
	CapabilityReloadsTotal   prometheus.Counter
}

// Global Metrics Instance
var Business *BusinessMetrics

// InitBusinessMetrics 初始化业务指标
func InitBusinessMetrics() {
	Business = &BusinessMetrics{
		CreditsEarnedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credits_earned_total",
			Help: "The total number of credits earned",
		}),
		PayoutRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_payout_requests_total",
			Help: "Payout requests by outcome (sent, replayed, insufficient, config_error, broadcast_error)",
		}, []string{"outcome"}),
		PayoutBroadcastDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credits_payout_broadcast_duration_seconds",
			Help:    "Duration of on-chain broadcast attempts",
			Buckets: prometheus.DefBuckets,
		}, []string{"asset"}),
		PayoutPendingReconcile: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credits_payout_pending_reconcile_total",
			Help: "Payouts left pending after a failed broadcast, awaiting manual reconciliation",
		}),
		CreditsReservedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credits_reserved_total",
			Help: "The total number of credits debited for payouts",
		}),
		CapabilityReloadsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credits_capability_reloads_total",
			Help: "Explicit payout configuration reloads",
		}),
	}
}
