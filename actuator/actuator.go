// Package actuator exposes a small admin HTTP surface over a running
// configuration manager: health, the active snapshot, the cached entries
// and prometheus metrics. It is read-only; publishing and removing
// entries is the operator CLI's job.
package actuator

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skekre98/dynconf"
	"github.com/skekre98/dynconf/cache"
)

// Manager is the view of a dynconf.Manager the actuator needs; it is an
// interface so the actuator does not have to name the snapshot type.
type Manager interface {
	SnapshotValue() any
	Entries() []cache.Entry
	Health() dynconf.Health
}

// Options configures the actuator surface.
type Options struct {
	// BasePath prefixes every route. Defaults to "/actuator".
	BasePath string

	// Gatherer serves /metrics. Defaults to prometheus.DefaultGatherer;
	// wire the same registry you handed to dynconf.Options.Registerer.
	Gatherer prometheus.Gatherer
}

// Handler builds the admin router:
//
//	GET <base>/health   remote reachability and sync freshness
//	GET <base>/config   the active snapshot
//	GET <base>/entries  cached entries (content elided)
//	GET <base>/metrics  prometheus exposition
func Handler(mgr Manager, logger *slog.Logger, opts Options) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BasePath == "" {
		opts.BasePath = "/actuator"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(RequestID())
	r.Use(Recovery(logger))
	r.Use(AccessLog(logger))

	group := r.Group(opts.BasePath)

	group.GET("/health", func(c *gin.Context) {
		h := mgr.Health()
		status := "UP"
		code := http.StatusOK
		// Degraded rather than down: readers still get the last good
		// snapshot during an outage.
		if h.ConsecutiveFailures > 0 {
			status = "DEGRADED"
		}
		c.JSON(code, gin.H{
			"status": status,
			"remote": h,
		})
	})

	group.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"snapshot": mgr.SnapshotValue(),
		})
	})

	group.GET("/entries", func(c *gin.Context) {
		entries := mgr.Entries()
		out := make([]gin.H, 0, len(entries))
		for _, e := range entries {
			out = append(out, gin.H{
				"namespace":  e.Namespace,
				"group":      e.Group,
				"dataId":     e.DataID,
				"versionTag": e.VersionTag,
				"fetchedAt":  e.FetchedAt.UTC().Format(time.RFC3339),
				"sizeBytes":  len(e.Content),
			})
		}
		c.JSON(http.StatusOK, gin.H{"entries": out})
	})

	group.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	return r
}
