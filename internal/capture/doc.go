// Package capture owns one hardware audio endpoint per stream: it pulls PCM
// blocks from the device, appends them to a sink, and exposes lock-free
// progress counters for observers.
package capture
