// Package observability exports engine activity to Prometheus and
// OpenTelemetry.
//
// Metrics is an api.Observer; install it on the engine next to (or combined
// with) the logging observer. Tracing is an api.Interceptor that opens one
// span per node, so the span tree follows the action tree.
package observability
