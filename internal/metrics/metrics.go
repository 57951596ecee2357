// Package metrics exposes Prometheus instrumentation for collection runs.
// Counters are labeled by query kind and outcome so a run summary can be
// derived without parsing logs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xroad-catalogue/collector/internal/catalogue"
)

// Query kinds used as metric label values.
const (
	KindListMethods  = "listMethods"
	KindListServices = "listServices"
	KindFetchWSDL    = "getWsdl"
	KindFetchOpenAPI = "getOpenAPI"
)

// Collector owns the run's metric instruments on a private registry.
type Collector struct {
	registry *prometheus.Registry

	queries      *prometheus.CounterVec
	runDuration  prometheus.Gauge
	subsystems   prometheus.Gauge
	runTimestamp prometheus.Gauge
}

// New creates a Collector with all instruments registered.
func New() *Collector {
	registry := prometheus.NewRegistry()

	queries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalogue",
		Subsystem: "collector",
		Name:      "queries_total",
		Help:      "Registry queries by kind and outcome status.",
	}, []string{"kind", "status"})

	runDuration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "catalogue",
		Subsystem: "collector",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of the last collection run.",
	})

	subsystems := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "catalogue",
		Subsystem: "collector",
		Name:      "subsystems_collected",
		Help:      "Number of subsystem reports in the last snapshot.",
	})

	runTimestamp := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "catalogue",
		Subsystem: "collector",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time of the last completed collection run.",
	})

	registry.MustRegister(queries, runDuration, subsystems, runTimestamp)

	return &Collector{
		registry:     registry,
		queries:      queries,
		runDuration:  runDuration,
		subsystems:   subsystems,
		runTimestamp: runTimestamp,
	}
}

// Registry returns the registry holding the collector's instruments.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordQuery counts one registry query outcome.
func (c *Collector) RecordQuery(kind string, status catalogue.Status) {
	if c == nil {
		return
	}
	c.queries.WithLabelValues(kind, string(status)).Inc()
}

// RecordRun captures run-level figures once a snapshot is assembled.
func (c *Collector) RecordRun(duration time.Duration, subsystemCount int, finished time.Time) {
	if c == nil {
		return
	}
	c.runDuration.Set(duration.Seconds())
	c.subsystems.Set(float64(subsystemCount))
	c.runTimestamp.Set(float64(finished.Unix()))
}

// QueryCounts reads the counter values back for the run summary log.
func (c *Collector) QueryCounts() map[string]map[string]float64 {
	if c == nil {
		return nil
	}

	families, err := c.registry.Gather()
	if err != nil {
		return nil
	}

	counts := make(map[string]map[string]float64)
	for _, family := range families {
		if family.GetName() != "catalogue_collector_queries_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			var kind, status string
			for _, label := range metric.GetLabel() {
				switch label.GetName() {
				case "kind":
					kind = label.GetValue()
				case "status":
					status = label.GetValue()
				}
			}
			if counts[kind] == nil {
				counts[kind] = make(map[string]float64)
			}
			counts[kind][status] = metric.GetCounter().GetValue()
		}
	}
	return counts
}
