package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_store_appends_total",
		Help: "Messages appended to the durable log.",
	})
	editsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_store_edits_total",
		Help: "Message edits applied.",
	})
	deletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_store_deletes_total",
		Help: "Messages soft-deleted.",
	})
	listsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_store_lists_total",
		Help: "Range reads served.",
	})
	permissionDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_store_permission_denials_total",
		Help: "Edit/delete attempts rejected because the caller is not the sender.",
	})
)
