// Package metrics exposes the controller's own counters and gauges over
// HTTP using the registration/collector half of client_golang. This
// daemon has no external Prometheus to poll, so it serves its own
// metrics instead of scraping one.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the controller's Prometheus collectors.
type Registry struct {
	registry *prometheus.Registry

	PagesMigrated *prometheus.CounterVec
	PagesDropped  prometheus.Counter
	MigrationFail prometheus.Counter

	TierOccupancy     *prometheus.GaugeVec
	NvramPullDisabled prometheus.Gauge

	server *http.Server
}

// New creates a fresh metrics registry with all controller collectors
// registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		registry: reg,
		PagesMigrated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tiermemctl_pages_migrated_total",
			Help: "Pages successfully submitted for migration, by destination tier.",
		}, []string{"destination"}),
		PagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tiermemctl_pages_dropped_total",
			Help: "Candidates dropped for lack of destination tier capacity.",
		}),
		MigrationFail: factory.NewCounter(prometheus.CounterOpts{
			Name: "tiermemctl_migration_failures_total",
			Help: "Per-PID batch migration syscalls that failed.",
		}),
		TierOccupancy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tiermemctl_tier_occupancy_ratio",
			Help: "Fraction of tier capacity in use, by tier.",
		}, []string{"tier"}),
		NvramPullDisabled: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tiermemctl_nvram_pull_disabled",
			Help: "1 while the sticky NVRAM_PULL disable flag is set, 0 otherwise.",
		}),
	}

	return r
}

// Serve starts the HTTP exporter on addr and blocks until ctx is cancelled.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

	r.server = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return r.server.Close()
	case err := <-errCh:
		return err
	}
}
