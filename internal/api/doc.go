// Package api exposes the bot over HTTP: a reply endpoint for bot frameworks
// that call in synchronously, session inspection and reset, health checks and
// Prometheus metrics.
package api
