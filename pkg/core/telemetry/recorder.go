// Package telemetry holds the explicit observability context passed into the
// cache components: a metrics Recorder and the zap logger constructor.
// Nothing here is process-global; callers build one Recorder and hand it to
// the components that record.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives counters from the cache pipeline.
type Recorder interface {
	// CacheLookup records a staleness check outcome: "hit", "stale" or "miss".
	CacheLookup(outcome string)
	// ValuesDropped records source values that could not be parsed as numbers.
	ValuesDropped(statement string, n int)
	// FetchFailed records a collaborator fetch failure ("statement", "document", "index").
	FetchFailed(target string)
	// LinkbaseChecked records a calculation cross-check result ("valid", "invalid", "unavailable").
	LinkbaseChecked(result string)
	// Validation records a completeness report outcome.
	Validation(valid bool)
}

// Nop discards everything.
type Nop struct{}

func (Nop) CacheLookup(string)        {}
func (Nop) ValuesDropped(string, int) {}
func (Nop) FetchFailed(string)        {}
func (Nop) LinkbaseChecked(string)    {}
func (Nop) Validation(bool)           {}

// PromRecorder implements Recorder with prometheus counters registered on its
// own registry.
type PromRecorder struct {
	registry      *prometheus.Registry
	cacheLookups  *prometheus.CounterVec
	valuesDropped *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	linkbase      *prometheus.CounterVec
	validations   *prometheus.CounterVec
}

// NewPromRecorder creates the counters under the given namespace and
// registers them on a fresh registry.
func NewPromRecorder(namespace string) *PromRecorder {
	if namespace == "" {
		namespace = "fincache"
	}
	r := &PromRecorder{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Staleness checks by outcome.",
		}, []string{"outcome"}),
		valuesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "values_dropped_total",
			Help:      "Source values dropped because they were not finite numbers.",
		}, []string{"statement"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Filing repository fetch failures by target.",
		}, []string{"target"}),
		linkbase: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "linkbase_checks_total",
			Help:      "Calculation linkbase cross-checks by result.",
		}, []string{"result"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completeness_reports_total",
			Help:      "Completeness reports by validity.",
		}, []string{"valid"}),
	}
	r.registry.MustRegister(r.cacheLookups, r.valuesDropped, r.fetchFailures, r.linkbase, r.validations)
	return r
}

// Registry exposes the registry for scraping or inspection.
func (r *PromRecorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *PromRecorder) CacheLookup(outcome string) {
	r.cacheLookups.WithLabelValues(outcome).Inc()
}

func (r *PromRecorder) ValuesDropped(statement string, n int) {
	if n <= 0 {
		return
	}
	r.valuesDropped.WithLabelValues(statement).Add(float64(n))
}

func (r *PromRecorder) FetchFailed(target string) {
	r.fetchFailures.WithLabelValues(target).Inc()
}

func (r *PromRecorder) LinkbaseChecked(result string) {
	r.linkbase.WithLabelValues(result).Inc()
}

func (r *PromRecorder) Validation(valid bool) {
	label := "false"
	if valid {
		label = "true"
	}
	r.validations.WithLabelValues(label).Inc()
}
