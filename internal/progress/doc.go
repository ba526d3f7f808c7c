// Package progress provides the run lifecycle events emitted by the audit
// orchestrator and the hub that fans them out, in order, to pluggable sinks
// such as the console, structured logs, Prometheus and the status endpoint.
package progress
