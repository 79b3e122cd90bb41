// Package progress carries pipeline progress events from the crawl driver to
// pluggable sinks: structured logs, Prometheus collectors, the live console
// and the snapshot served at /v1/progress. Events are batched on a background
// goroutine so emitters never block on a slow sink.
package progress
