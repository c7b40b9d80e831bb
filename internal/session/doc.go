// Package session defines recording session identity, lifecycle states and
// the coordinator that drives a session from capture through merge.
package session
