// Package observability provides structured logging, Prometheus metrics and
// HTTP instrumentation for the authentication gateway.
package observability
