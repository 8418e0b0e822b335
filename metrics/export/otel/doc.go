// Package otel publishes goPasscode counters and the validate latency histogram through
// an OpenTelemetry meter.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and a pair of
// gauges per histogram (cumulative buckets labelled by le, plus a count). A single
// callback reads [goPasscode.Engine.MetricsSnapshot] on each collection cycle.
//
// The caller owns the MeterProvider. Engine state is never mutated.
package otel
