// Package merge combines finished raw capture files into one deliverable
// audio file through an external ffmpeg invocation, choosing a channel
// layout from per-stream audio presence.
package merge
