// Package prometheus exposes engine metrics through prometheus/client_golang.
//
// [NewCollector] wraps any [MetricsSource] (normally *goPasscode.Engine) as a
// prometheus.Collector. Counter names are passcode_*_total; the single histogram is
// passcode_validate_latency_seconds. [Handler] mounts the collector on a private
// registry and never touches the global default registry.
package prometheus
