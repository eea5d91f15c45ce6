// Package config loads runtime configuration from environment
// variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration, loaded from environment
// variables.
type Config struct {
	SampleRate     int           // engine sample rate (Hz)
	WaveformPoints int           // envelope resolution per track
	HTTPTimeout    time.Duration // per-request stem fetch budget
	LogPath        string        // debug log file, empty disables
}

// Load reads configuration from environment variables with sane
// defaults.
func Load() Config {
	return Config{
		SampleRate:     envInt("STEMAMP_SAMPLE_RATE", 44100),
		WaveformPoints: envInt("STEMAMP_WAVEFORM_POINTS", 512),
		HTTPTimeout:    time.Duration(envInt("STEMAMP_HTTP_TIMEOUT", 30)) * time.Second,
		LogPath:        envStr("STEMAMP_LOG", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
