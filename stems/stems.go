// Package stems describes a practice session: the set of separated
// instrument tracks belonging to one song, as delivered by the
// separation job layer.
package stems

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Instrument is one of the fixed stem names produced by the
// six-stem separation model.
type Instrument string

const (
	Vocals Instrument = "vocals"
	Drums  Instrument = "drums"
	Bass   Instrument = "bass"
	Guitar Instrument = "guitar"
	Piano  Instrument = "piano"
	Other  Instrument = "other"
)

// Instruments lists the vocabulary in display order.
var Instruments = []Instrument{Vocals, Drums, Bass, Guitar, Piano, Other}

// ParseInstrument normalizes a stem name. Anything outside the
// vocabulary maps to Other, matching how the separation service
// buckets residual content.
func ParseInstrument(s string) Instrument {
	switch Instrument(strings.ToLower(strings.TrimSpace(s))) {
	case Vocals:
		return Vocals
	case Drums:
		return Drums
	case Bass:
		return Bass
	case Guitar:
		return Guitar
	case Piano:
		return Piano
	default:
		return Other
	}
}

// Track is one stem descriptor as submitted by the job layer.
// Volume and Pan are the user-stored values; the engine resolves
// mute/solo into an effective gain without touching them.
type Track struct {
	ID       string     `json:"id"`
	Name     Instrument `json:"name"`
	Title    string     `json:"title,omitempty"`
	AudioURL string     `json:"audioUrl"`
	Duration float64    `json:"duration"` // seconds
	Volume   float64    `json:"volume"`
	Pan      float64    `json:"pan"`
	Muted    bool       `json:"muted"`
	Soloed   bool       `json:"soloed"`
}

// DisplayName returns the track's title, falling back to the
// instrument name.
func (t Track) DisplayName() string {
	if t.Title != "" {
		return t.Title
	}
	return string(t.Name)
}

// Manifest is the session payload: one song, N stems.
type Manifest struct {
	Song   string  `json:"song"`
	Tracks []Track `json:"tracks"`
}

// ClampVolume limits v to [0,1].
func ClampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampPan limits p to [-1,1].
func ClampPan(p float64) float64 {
	if p < -1 {
		return -1
	}
	if p > 1 {
		return 1
	}
	return p
}

// ParseManifest decodes and validates a session manifest. Track ids
// must be present and unique; URLs must parse. Volume defaults to 1
// when the field is absent, and volume/pan are clamped into range.
func ParseManifest(data []byte) (Manifest, error) {
	// Distinguish "volume": 0 from a missing field.
	type rawTrack struct {
		Track
		Volume *float64 `json:"volume"`
	}
	var raw struct {
		Song   string     `json:"song"`
		Tracks []rawTrack `json:"tracks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if len(raw.Tracks) == 0 {
		return Manifest{}, fmt.Errorf("manifest has no tracks")
	}

	m := Manifest{Song: raw.Song, Tracks: make([]Track, 0, len(raw.Tracks))}
	seen := make(map[string]struct{}, len(raw.Tracks))
	for i, rt := range raw.Tracks {
		t := rt.Track
		if t.ID == "" {
			return Manifest{}, fmt.Errorf("track %d: missing id", i)
		}
		if _, dup := seen[t.ID]; dup {
			return Manifest{}, fmt.Errorf("track %q: duplicate id", t.ID)
		}
		seen[t.ID] = struct{}{}
		if _, err := url.Parse(t.AudioURL); err != nil || t.AudioURL == "" {
			return Manifest{}, fmt.Errorf("track %q: invalid audioUrl %q", t.ID, t.AudioURL)
		}
		t.Name = ParseInstrument(string(t.Name))
		if rt.Volume == nil {
			t.Volume = 1
		} else {
			t.Volume = ClampVolume(*rt.Volume)
		}
		t.Pan = ClampPan(t.Pan)
		m.Tracks = append(m.Tracks, t)
	}
	return m, nil
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}
