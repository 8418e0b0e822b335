// Package logging builds slog loggers whose records carry service, version and the
// OpenTelemetry trace context of the request.
package logging
