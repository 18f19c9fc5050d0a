package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	dropMalformed    = "malformed"
	dropUnmatched    = "unmatched_response"
	dropUnregistered = "unregistered_event"
	dropUnrecognized = "unrecognized"
	dropUndecodable  = "undecodable_event"
)

var (
	metricCommandsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maestro",
			Subsystem: "session",
			Name:      "commands_sent_total",
			Help:      "Total number of commands written to the browser",
		},
		[]string{"method"},
	)

	metricCommandErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maestro",
			Subsystem: "session",
			Name:      "command_errors_total",
			Help:      "Total number of commands that returned an error to the caller",
		},
		[]string{"method"},
	)

	metricEventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maestro",
			Subsystem: "session",
			Name:      "events_dispatched_total",
			Help:      "Total number of events handed to handlers",
		},
		[]string{"event"},
	)

	metricFramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maestro",
			Subsystem: "session",
			Name:      "frames_dropped_total",
			Help:      "Total number of inbound frames that were logged and discarded",
		},
		[]string{"reason"},
	)

	metricPendingCommands = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "maestro",
			Subsystem: "session",
			Name:      "pending_commands",
			Help:      "Number of commands waiting for a response",
		},
	)
)
