package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// FFmpegOpener opens capture devices by spawning ffmpeg against a PulseAudio
// source and streaming raw s16le PCM over stdout. The loopback role reads
// the monitor source of the output device, the microphone role reads the
// default input.
type FFmpegOpener struct {
	FFmpegPath     string
	LoopbackSource string
	MicSource      string
	SampleRate     int
	Channels       int
}

// Open spawns the ffmpeg reader for a role. Spawn failures surface as
// ErrDeviceUnavailable so the caller can degrade the session.
func (o *FFmpegOpener) Open(role Role) (Device, error) {
	source := o.MicSource
	if role == RoleLoopback {
		source = o.LoopbackSource
	}
	if source == "" {
		return nil, fmt.Errorf("%w: no source configured for %s", ErrDeviceUnavailable, role)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "pulse", "-i", source,
		"-f", "s16le", "-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(o.SampleRate),
		"-ac", strconv.Itoa(o.Channels),
		"-",
	}

	cmd := exec.Command(o.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, role, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, role, err)
	}

	return &ffmpegDevice{
		cmd:        cmd,
		stdout:     stdout,
		sampleRate: o.SampleRate,
		channels:   o.Channels,
		// 100ms per block keeps stop latency low and gives the silence
		// detector a meaningful window.
		blockFrames: o.SampleRate / 10,
	}, nil
}

type ffmpegDevice struct {
	cmd         *exec.Cmd
	stdout      io.ReadCloser
	sampleRate  int
	channels    int
	blockFrames int
}

func (d *ffmpegDevice) SampleRate() int { return d.sampleRate }
func (d *ffmpegDevice) Channels() int   { return d.channels }

// ReadBlock reads one PCM block from the ffmpeg pipe. A short final read is
// returned as a partial block; the following call reports io.EOF.
func (d *ffmpegDevice) ReadBlock() (Block, error) {
	buf := make([]byte, d.blockFrames*d.channels*2)
	n, err := io.ReadFull(d.stdout, buf)
	if n == 0 {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Block{}, io.EOF
		}
		if err != nil {
			return Block{}, fmt.Errorf("failed to read from capture pipe: %w", err)
		}
	}

	samples := make([]int16, n/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}

	return Block{Samples: samples, Frames: len(samples) / d.channels}, nil
}

// Close terminates the ffmpeg reader. The exit status is ignored; a capture
// stopped mid-stream always exits non-zero.
func (d *ffmpegDevice) Close() error {
	d.stdout.Close()
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.cmd.Wait()
	return nil
}
