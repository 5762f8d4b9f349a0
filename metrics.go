package dynconf

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skekre98/dynconf/cache"
)

// metrics holds the manager's prometheus collectors. When no Registerer
// is supplied the collectors live on a private registry, so tests can
// create managers freely without duplicate-registration panics.
type metrics struct {
	rebuilds    *prometheus.CounterVec
	watchErrors prometheus.Counter
	lastSync    prometheus.Gauge
}

// Rebuild result label values.
const (
	rebuildApplied   = "applied"
	rebuildUnchanged = "unchanged"
	rebuildRejected  = "rejected"
	rebuildStale     = "stale"
)

func newMetrics(reg prometheus.Registerer, store *cache.Store) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dynconf_cached_entries",
		Help: "Number of configuration entries currently held in the local cache.",
	}, func() float64 { return float64(store.Len()) })

	return &metrics{
		rebuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dynconf_snapshot_rebuilds_total",
			Help: "Snapshot rebuild outcomes.",
		}, []string{"result"}),
		watchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "dynconf_watch_transport_errors_total",
			Help: "Transport failures observed by the watch loop.",
		}),
		lastSync: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dynconf_last_sync_timestamp_seconds",
			Help: "Unix time of the last successful exchange with the remote.",
		}),
	}
}
