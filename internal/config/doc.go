// Package config loads and validates the recorder configuration from a YAML
// file.
package config
