// Package http serves the prometheus metrics of a running server on
// --metrics-endpoint. Only GET /metrics is routed, requests are logged at
// debug level when the server runs with log level debug.
package http
