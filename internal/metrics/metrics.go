package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_live_connections",
			Help: "Number of live connections held by the registry",
		},
	)

	RegistrationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_registrations_rejected_total",
			Help: "Total number of rejected live connection registrations",
		},
		[]string{"reason"},
	)

	ConnectionsEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_connections_evicted_total",
			Help: "Total number of live connections closed by the server",
		},
		[]string{"reason"},
	)

	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_delivered_total",
			Help: "Delivery outcomes per channel, counted per token or connection",
		},
		[]string{"channel", "status"},
	)

	NotificationsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_persisted_total",
			Help: "Total number of notification records written",
		},
		[]string{"type", "status"},
	)

	PushBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "push_batch_duration_seconds",
			Help:    "Time taken to submit one batch to the push gateway",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	PushTokensDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_tokens_deactivated_total",
			Help: "Total number of tokens deactivated after a device unregistered ticket",
		},
	)

	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_retention_deleted_total",
			Help: "Total number of notification records removed by the retention job",
		},
	)
)
