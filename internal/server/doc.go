// Package server contains the transport adapters: the WebSocket
// streaming server that feeds per-connection sessions, and the HTTP
// server exposing health, stats, config, and Prometheus metrics.
package server
