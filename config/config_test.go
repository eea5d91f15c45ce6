package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", cfg.SampleRate)
	}
	if cfg.WaveformPoints != 512 {
		t.Errorf("WaveformPoints = %d, want 512", cfg.WaveformPoints)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("HTTPTimeout = %v, want 30s", cfg.HTTPTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STEMAMP_SAMPLE_RATE", "48000")
	t.Setenv("STEMAMP_WAVEFORM_POINTS", "1024")
	t.Setenv("STEMAMP_HTTP_TIMEOUT", "5")
	t.Setenv("STEMAMP_LOG", "/tmp/stemamp.log")

	cfg := Load()
	if cfg.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", cfg.SampleRate)
	}
	if cfg.WaveformPoints != 1024 {
		t.Errorf("WaveformPoints = %d, want 1024", cfg.WaveformPoints)
	}
	if cfg.HTTPTimeout != 5*time.Second {
		t.Errorf("HTTPTimeout = %v, want 5s", cfg.HTTPTimeout)
	}
	if cfg.LogPath != "/tmp/stemamp.log" {
		t.Errorf("LogPath = %q", cfg.LogPath)
	}
}

func TestLoadIgnoresMalformed(t *testing.T) {
	t.Setenv("STEMAMP_SAMPLE_RATE", "not-a-number")
	if cfg := Load(); cfg.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want default 44100 on malformed input", cfg.SampleRate)
	}
}
