package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_sessions_opened_total",
		Help: "Conversation sessions opened.",
	})
	sessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_sessions_closed_total",
		Help: "Conversation sessions closed.",
	})
	reconciledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_optimistic_reconciled_total",
		Help: "Optimistic entries collapsed with their canonical row.",
	})
	sendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_send_failures_total",
		Help: "Send round-trips that left a failed entry behind.",
	})
	resyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_resyncs_total",
		Help: "Full history resyncs forced by sequence gaps.",
	})
)
