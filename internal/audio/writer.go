package audio

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Writer is a streaming PCM-16 WAV file writer. It writes a placeholder
// header up front, appends interleaved sample blocks as they arrive, and
// patches the RIFF and data chunk sizes on Close. A file abandoned before
// Close (process crash) still carries decodable PCM data after the header,
// which is what crash recovery relies on.
//
// Writer is not safe for concurrent use; a single capture goroutine owns it.
type Writer struct {
	file       *os.File
	path       string
	sampleRate int
	channels   int
	dataBytes  uint32
	closed     bool
}

// NewWriter creates the file at path and writes the initial WAV header.
func NewWriter(path string, sampleRate, channels int) (*Writer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("channels must be 1 or 2, got %d", channels)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file %s: %w", path, err)
	}

	w := &Writer{
		file:       file,
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
	}

	header := newWAVHeader(sampleRate, channels, 0)
	if err := binary.Write(file, binary.LittleEndian, header); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return w, nil
}

// WriteSamples appends interleaved PCM-16 samples to the file.
func (w *Writer) WriteSamples(samples []int16) error {
	if w.closed {
		return fmt.Errorf("write to closed WAV writer %s", w.path)
	}
	if len(samples) == 0 {
		return nil
	}

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	n, err := w.file.Write(buf)
	w.dataBytes += uint32(n)
	if err != nil {
		return fmt.Errorf("failed to write audio data to %s: %w", w.path, err)
	}

	return nil
}

// Path returns the file path being written.
func (w *Writer) Path() string { return w.path }

// BytesWritten returns the number of PCM data bytes written so far.
func (w *Writer) BytesWritten() uint32 { return w.dataBytes }

// Close patches the header sizes, syncs and closes the file. Safe to call
// more than once; subsequent calls are no-ops.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	header := newWAVHeader(w.sampleRate, w.channels, w.dataBytes)
	if _, err := w.file.Seek(0, 0); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to seek to WAV header in %s: %w", w.path, err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, header); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to finalize WAV header in %s: %w", w.path, err)
	}

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to sync WAV file %s: %w", w.path, err)
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAV file %s: %w", w.path, err)
	}

	return nil
}
