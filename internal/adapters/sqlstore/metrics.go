package sqlstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueSendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docmirror",
			Subsystem: "queue",
			Name:      "send_total",
			Help:      "Messages offered to the queue by outcome",
		},
		[]string{"queue", "result"},
	)

	queueDeadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docmirror",
			Subsystem: "queue",
			Name:      "dead_lettered_total",
			Help:      "Messages moved to the dead-letter queue",
		},
		[]string{"queue"},
	)

	queueRedrivenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docmirror",
			Subsystem: "queue",
			Name:      "redriven_total",
			Help:      "Dead letters returned to the main queue",
		},
		[]string{"queue"},
	)
)
