// Package audio provides WAV encoding, validation, a streaming WAV file
// writer used as a capture sink, and RMS level analysis for audio-presence
// detection.
package audio
