// Package metrics holds the Prometheus collectors of the messaging engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_appended_total",
			Help: "Messages durably appended, by primary content kind",
		},
		[]string{"kind"},
	)

	AppendReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_append_replays_total",
			Help: "Appends answered from an existing submission key",
		},
	)

	AppendRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_append_rejected_total",
			Help: "Appends rejected, by reason",
		},
		[]string{"reason"},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_deleted_total",
			Help: "Messages soft-deleted",
		},
	)

	ReactionChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_reaction_changes_total",
			Help: "Reaction membership changes, by direction",
		},
		[]string{"direction"},
	)

	BroadcastDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_broadcast_delivered_total",
			Help: "Events handed to local subscribers, by event type",
		},
		[]string{"type"},
	)

	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_broadcast_dropped_subscribers_total",
			Help: "Subscribers dropped because their buffer overflowed",
		},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_subscriptions",
			Help: "Currently open scope subscriptions on this instance",
		},
	)

	UploadBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_upload_bytes",
			Help:    "Uploaded attachment size in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
		},
		[]string{"kind"},
	)

	UploadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_upload_failures_total",
			Help: "Attachment uploads that failed in the storage backend",
		},
	)
)
