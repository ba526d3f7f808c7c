// Package sinks implements concrete progress consumers: the human console
// stream, structured logging, Prometheus collectors and an in-memory status
// snapshot. Each sink satisfies progress.Sink.
package sinks
