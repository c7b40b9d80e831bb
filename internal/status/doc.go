// Package status periodically snapshots session and capture state into a
// per-session JSON document, the sole channel through which external callers
// observe recording progress.
package status
