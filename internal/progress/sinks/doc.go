// Package sinks implements concrete progress consumers: Prometheus
// collectors, structured logging and a live console view. Each sink
// satisfies progress.Sink and is safe for repeated Consume/Close cycles.
package sinks
