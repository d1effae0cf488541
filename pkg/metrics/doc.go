/*
Package metrics provides Prometheus metrics collection and exposition
for paddock.

Metrics fall into three groups: gauges sampled periodically by Collector
from the store (process counts by state, artifact count, stack count),
histograms/counters recorded inline by the components that perform the
work they measure (build duration, process start/stop duration and
outcome, scheduler request duration and failure), and the reconciler's
own cycle duration/count.

Usage:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BuildDuration)

Handler exposes the registry over HTTP for a Prometheus scrape target.
HealthHandler/ReadyHandler/LivenessHandler serve the generic health
model in health.go; GetReadiness checks the store and scheduler as
paddock's critical components, registered by pkg/facade.New as each
connection is established.
*/
package metrics
