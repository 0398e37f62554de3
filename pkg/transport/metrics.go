package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_bus_published_total",
		Help: "Events published on the bus.",
	})
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_bus_dropped_total",
		Help: "Events dropped for slow subscribers (observed as seq gaps).",
	})
)
