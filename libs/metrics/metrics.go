// Package metrics holds the Prometheus collectors shared by the services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles a private registry with the domain collectors.
// Methods are no-ops on a nil receiver so tests can pass nil.
type Registry struct {
	reg         *prometheus.Registry
	slotDays    *prometheus.CounterVec
	degraded    *prometheus.CounterVec
	planChecks  *prometheus.CounterVec
	eventsTotal *prometheus.CounterVec
}

// New registers the process collectors and the domain counters.
func New(service string) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	constLabels := prometheus.Labels{"service": normalizeLabel(service)}

	slotDays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "availability_days_computed_total",
		Help:        "Workshop days whose slot grid was computed.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	degraded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "availability_degraded_inputs_total",
		Help:        "Availability inputs replaced by fallbacks.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	planChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "plan_checks_total",
		Help:        "Plan limit and feature checks by resource and result.",
		ConstLabels: constLabels,
	}, []string{"resource", "result"})
	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "events_consumed_total",
		Help:        "Consumed events by type and result.",
		ConstLabels: constLabels,
	}, []string{"event_type", "result"})
	reg.MustRegister(slotDays, degraded, planChecks, eventsTotal)

	return &Registry{
		reg:         reg,
		slotDays:    slotDays,
		degraded:    degraded,
		planChecks:  planChecks,
		eventsTotal: eventsTotal,
	}
}

// Gatherer exposes the underlying registry (tests, custom handlers).
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// DayComputed counts a computed slot grid; outcome is "ok", "closed" or "degraded".
func (r *Registry) DayComputed(outcome string) {
	if r == nil {
		return
	}
	r.slotDays.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// Degraded counts an input that fell back to its documented default.
func (r *Registry) Degraded(reason string) {
	if r == nil {
		return
	}
	r.degraded.WithLabelValues(normalizeLabel(reason)).Inc()
}

// PlanCheck counts an allow/deny decision for resource.
func (r *Registry) PlanCheck(resource string, allowed bool) {
	if r == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	r.planChecks.WithLabelValues(normalizeLabel(resource), result).Inc()
}

// EventConsumed counts a handled message.
func (r *Registry) EventConsumed(eventType string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.eventsTotal.WithLabelValues(normalizeLabel(eventType), result).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
