package audio

import (
	"fmt"
	"strings"
)

// Format is the container format of the final deliverable.
type Format int

const (
	FormatWAV Format = iota
	FormatM4A
)

// ParseFormat parses a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "wav":
		return FormatWAV, nil
	case "m4a":
		return FormatM4A, nil
	default:
		return FormatWAV, fmt.Errorf("unsupported audio format %q (supported: wav, m4a)", s)
	}
}

// String returns the lowercase format name.
func (f Format) String() string {
	if f == FormatM4A {
		return "m4a"
	}
	return "wav"
}

// Extension returns the file extension without a dot.
func (f Format) Extension() string { return f.String() }

// Codec returns the audio codec carried by the container.
func (f Format) Codec() string {
	if f == FormatM4A {
		return "aac"
	}
	return "pcm"
}

// Quality is a sample-rate/channel recording preset.
type Quality struct {
	Name       string `yaml:"name" json:"name"`
	SampleRate int    `yaml:"sample_rate" json:"sample_rate"`
	Channels   int    `yaml:"channels" json:"channels"`
}

// QualityProfessional is the default preset for meeting recordings.
func QualityProfessional() Quality {
	return Quality{Name: "professional", SampleRate: 48000, Channels: 2}
}

// QualityStandard is CD quality with a balanced file size.
func QualityStandard() Quality {
	return Quality{Name: "standard", SampleRate: 44100, Channels: 2}
}

// QualityQuick produces small files suited for voice notes.
func QualityQuick() Quality {
	return Quality{Name: "quick", SampleRate: 16000, Channels: 1}
}

// QualityHigh is the maximum quality preset.
func QualityHigh() Quality {
	return Quality{Name: "high", SampleRate: 96000, Channels: 2}
}

// ParseQuality resolves a preset by name.
func ParseQuality(name string) (Quality, error) {
	switch strings.ToLower(name) {
	case "professional", "":
		return QualityProfessional(), nil
	case "standard":
		return QualityStandard(), nil
	case "quick":
		return QualityQuick(), nil
	case "high":
		return QualityHigh(), nil
	default:
		return Quality{}, fmt.Errorf("unknown quality preset %q (supported: professional, standard, quick, high)", name)
	}
}
