package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workerMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docmirror",
			Subsystem: "worker",
			Name:      "messages_total",
			Help:      "Processed queue messages by outcome",
		},
		[]string{"outcome"},
	)

	workerProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docmirror",
			Subsystem: "worker",
			Name:      "processing_duration_seconds",
			Help:      "Time spent reconciling one message",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"outcome"},
	)

	queueDepthGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docmirror",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Messages waiting or in flight",
		},
		[]string{"state"},
	)

	crawlItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docmirror",
			Subsystem: "crawl",
			Name:      "items_total",
			Help:      "Items visited by full crawls by result",
		},
		[]string{"result"},
	)

	crawlRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docmirror",
			Subsystem: "crawl",
			Name:      "runs_total",
			Help:      "Full crawl attempts by result",
		},
		[]string{"result"},
	)

	crawlDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docmirror",
			Subsystem: "crawl",
			Name:      "duration_seconds",
			Help:      "Full crawl wall time",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		},
	)
)
