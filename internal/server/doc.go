// Package server exposes the optional HTTP monitoring surface: health,
// session status and Prometheus metrics. Recording itself never depends on
// this server being up.
package server
