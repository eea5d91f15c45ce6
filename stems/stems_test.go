package stems

import (
	"strings"
	"testing"
)

func TestParseInstrument(t *testing.T) {
	tests := []struct {
		in   string
		want Instrument
	}{
		{"vocals", Vocals},
		{"Drums", Drums},
		{" bass ", Bass},
		{"GUITAR", Guitar},
		{"piano", Piano},
		{"other", Other},
		{"synth", Other},
		{"", Other},
	}
	for _, tt := range tests {
		if got := ParseInstrument(tt.in); got != tt.want {
			t.Errorf("ParseInstrument(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseManifest(t *testing.T) {
	data := `{
		"song": "demo",
		"tracks": [
			{"id": "t1", "name": "vocals", "audioUrl": "http://x/vocals.mp3", "duration": 180},
			{"id": "t2", "name": "drums", "audioUrl": "http://x/drums.mp3", "duration": 180, "volume": 0.5, "pan": -0.3}
		]
	}`
	m, err := ParseManifest([]byte(data))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Song != "demo" {
		t.Errorf("Song = %q, want demo", m.Song)
	}
	if len(m.Tracks) != 2 {
		t.Fatalf("len(Tracks) = %d, want 2", len(m.Tracks))
	}
	// Missing volume defaults to full.
	if m.Tracks[0].Volume != 1 {
		t.Errorf("default volume = %v, want 1", m.Tracks[0].Volume)
	}
	if m.Tracks[1].Volume != 0.5 || m.Tracks[1].Pan != -0.3 {
		t.Errorf("explicit volume/pan = %v/%v, want 0.5/-0.3", m.Tracks[1].Volume, m.Tracks[1].Pan)
	}
}

func TestParseManifestExplicitZeroVolume(t *testing.T) {
	data := `{"tracks": [{"id": "t1", "name": "bass", "audioUrl": "http://x/b.mp3", "volume": 0}]}`
	m, err := ParseManifest([]byte(data))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Tracks[0].Volume != 0 {
		t.Errorf("explicit zero volume = %v, want 0", m.Tracks[0].Volume)
	}
}

func TestParseManifestClamping(t *testing.T) {
	data := `{"tracks": [{"id": "t1", "name": "other", "audioUrl": "http://x/o.mp3", "volume": 3, "pan": -9}]}`
	m, err := ParseManifest([]byte(data))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Tracks[0].Volume != 1 {
		t.Errorf("clamped volume = %v, want 1", m.Tracks[0].Volume)
	}
	if m.Tracks[0].Pan != -1 {
		t.Errorf("clamped pan = %v, want -1", m.Tracks[0].Pan)
	}
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty tracks", `{"tracks": []}`, "no tracks"},
		{"missing id", `{"tracks": [{"name": "drums", "audioUrl": "http://x/d.mp3"}]}`, "missing id"},
		{"duplicate id", `{"tracks": [
			{"id": "a", "name": "drums", "audioUrl": "http://x/d.mp3"},
			{"id": "a", "name": "bass", "audioUrl": "http://x/b.mp3"}]}`, "duplicate"},
		{"missing url", `{"tracks": [{"id": "a", "name": "drums"}]}`, "invalid audioUrl"},
		{"bad json", `{`, "parse manifest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	withTitle := Track{Name: Drums, Title: "Big Drums"}
	if got := withTitle.DisplayName(); got != "Big Drums" {
		t.Errorf("DisplayName = %q, want Big Drums", got)
	}
	bare := Track{Name: Drums}
	if got := bare.DisplayName(); got != "drums" {
		t.Errorf("DisplayName = %q, want drums", got)
	}
}
