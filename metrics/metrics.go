// Package metrics registers the engine's prometheus instrumentation,
// the same way the teacher's controllers/metrics.go registers its
// reconcile counters in an init().
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DeploymentsTotal counts completed deployment attempts by outcome.
	DeploymentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "karaf_deployments_total",
		Help: "Total number of deployment attempts, by outcome.",
	}, []string{"outcome"})

	// DeploymentDurationSeconds observes end-to-end deployment latency.
	DeploymentDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "karaf_deployment_duration_seconds",
		Help:    "Time to compute and execute a deployment plan.",
		Buckets: prometheus.DefBuckets,
	})

	// ModulesStartedTotal counts the modules each successful deployment
	// installed or updated. Modules restarted only because of a refresh,
	// and deployments that return an error, are not counted.
	ModulesStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "karaf_modules_started_total",
		Help: "Total number of modules started across all deployments.",
	})

	// ModulesStoppedTotal counts individual module stop operations.
	ModulesStoppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "karaf_modules_stopped_total",
		Help: "Total number of modules stopped across all deployments.",
	})

	// UnresolvableTotal counts resolver failures.
	UnresolvableTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "karaf_unresolvable_total",
		Help: "Total number of deployments that failed to resolve.",
	})
)

func init() {
	prometheus.MustRegister(
		DeploymentsTotal,
		DeploymentDurationSeconds,
		ModulesStartedTotal,
		ModulesStoppedTotal,
		UnresolvableTotal,
	)
}
