package permission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "authkit",
		Subsystem: "permission",
		Name:      "cache_hits_total",
		Help:      "Permission cache lookups answered without a database read.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "authkit",
		Subsystem: "permission",
		Name:      "cache_misses_total",
		Help:      "Permission cache lookups that fell through to the database.",
	})
	cacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "authkit",
		Subsystem: "permission",
		Name:      "cache_invalidations_total",
		Help:      "Explicit permission cache invalidations.",
	})
)
