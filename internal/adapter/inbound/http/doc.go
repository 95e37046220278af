// Package http provides the HTTP transport adapter for the gateway.
//
// It exposes the tool invocation API and the operational endpoints:
//
//	POST /engine/tools/invoke    run a tool call through the pipeline
//	GET  /engine/tools           list registered tools
//	GET  /engine/telemetry       per-tool execution statistics
//	GET  /engine/breakers        circuit breaker states
//	GET  /engine/audit           query recent audit entries
//	GET  /health                 component health
//	GET  /metrics                Prometheus metrics
//
// Requests flow through the middleware chain (metrics, request ID) before
// reaching the handlers. TLS is left to a reverse proxy.
package http
