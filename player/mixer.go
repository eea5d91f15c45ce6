package player

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/gopxl/beep/v2"

	"stemamp/stems"
	"stemamp/waveform"
)

// stage is one track's live gain+pan stage. The control thread writes
// and the rendering thread reads on every sample, so both values are
// atomic float bits rather than mutex-guarded.
type stage struct {
	gain atomic.Uint64 // effective gain after mute/solo resolution
	pan  atomic.Uint64
}

func newStage(gain, pan float64) *stage {
	s := &stage{}
	s.setGain(gain)
	s.setPan(pan)
	return s
}

func (s *stage) setGain(g float64) { s.gain.Store(math.Float64bits(g)) }
func (s *stage) setPan(p float64)  { s.pan.Store(math.Float64bits(p)) }
func (s *stage) Gain() float64     { return math.Float64frombits(s.gain.Load()) }
func (s *stage) Pan() float64      { return math.Float64frombits(s.pan.Load()) }

// equalPowerPan maps pan in [-1,1] to left/right gains on a quarter
// sine curve, keeping perceived loudness constant across the sweep.
func equalPowerPan(p float64) (left, right float64) {
	if p < -1 {
		p = -1
	}
	if p > 1 {
		p = 1
	}
	theta := (p + 1) * math.Pi / 4
	return math.Cos(theta), math.Sin(theta)
}

// LoadedTrack is one stem resident in memory: its descriptor, the
// immutable decoded buffer, the live stage, and its envelope. Only the
// descriptor flags and stage values mutate after load.
type LoadedTrack struct {
	Desc       stems.Track
	Buf        [][2]float64
	SampleRate beep.SampleRate
	BufferID   uint64
	Env        waveform.Envelope

	stage *stage
}

var bufferIDs atomic.Uint64

// nextBufferID issues the identity used for envelope cache keys.
func nextBufferID() uint64 { return bufferIDs.Add(1) }

// Mixer owns the track table and the shared play cursor. It implements
// beep.Streamer: every loaded track is summed at the same cursor, so
// the tracks cannot drift apart by construction. The cursor is only
// touched under the output lock.
type Mixer struct {
	mu     sync.RWMutex
	order  []string
	tracks map[string]*LoadedTrack

	sr         beep.SampleRate
	durSamples int

	// cursor is read and advanced by the rendering thread; the control
	// thread touches it only under the output lock.
	cursor int

	tap atomic.Pointer[Tap]
}

// NewMixer builds a mixer over a freshly loaded track set. The
// authoritative duration is the first track's buffer length.
func NewMixer(sr beep.SampleRate, tracks []*LoadedTrack) *Mixer {
	m := &Mixer{
		sr:     sr,
		tracks: make(map[string]*LoadedTrack, len(tracks)),
	}
	for _, t := range tracks {
		t.stage = newStage(0, t.Desc.Pan)
		m.order = append(m.order, t.Desc.ID)
		m.tracks[t.Desc.ID] = t
	}
	if len(tracks) > 0 {
		m.durSamples = len(tracks[0].Buf)
	}
	m.resolveLocked()
	return m
}

// SetTap installs a master-bus sample tap for visualization.
func (m *Mixer) SetTap(t *Tap) {
	m.tap.Store(t)
}

// Duration returns the authoritative content duration in seconds.
func (m *Mixer) Duration() float64 {
	if m.sr == 0 {
		return 0
	}
	return float64(m.durSamples) / float64(m.sr)
}

// SetCursor positions the shared play cursor, in samples. Callers must
// hold the output lock while the mixer is installed.
func (m *Mixer) SetCursor(n int) {
	if n < 0 {
		n = 0
	}
	m.cursor = n
}

// Stream sums every audible track at the shared cursor. It reports
// done once the cursor passes the authoritative duration.
//
// The track table is immutable while the mixer is installed on an
// output, and per-track gain/pan live in atomics, so the render path
// takes no locks. Control mutations can never race a render block.
func (m *Mixer) Stream(samples [][2]float64) (int, bool) {
	if m.cursor >= m.durSamples {
		return 0, false
	}
	n := len(samples)
	if rest := m.durSamples - m.cursor; n > rest {
		n = rest
	}
	for i := 0; i < n; i++ {
		var l, r float64
		idx := m.cursor + i
		for _, id := range m.order {
			t := m.tracks[id]
			if idx >= len(t.Buf) {
				continue
			}
			g := t.stage.Gain()
			if g == 0 {
				continue
			}
			pl, pr := equalPowerPan(t.stage.Pan())
			fr := t.Buf[idx]
			mono := (fr[0] + fr[1]) / 2
			l += mono * g * pl
			r += mono * g * pr
		}
		samples[i][0] = l
		samples[i][1] = r
	}
	m.cursor += n
	if tap := m.tap.Load(); tap != nil {
		tap.Push(samples[:n])
	}
	return n, true
}

// Err implements beep.Streamer; buffer playback cannot fail.
func (m *Mixer) Err() error { return nil }

// Tracks returns descriptor snapshots in load order.
func (m *Mixer) Tracks() []stems.Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]stems.Track, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.tracks[id].Desc)
	}
	return out
}

// Track returns one descriptor snapshot.
func (m *Mixer) Track(id string) (stems.Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracks[id]
	if !ok {
		return stems.Track{}, &NotFoundError{TrackID: id}
	}
	return t.Desc, nil
}

// SetVolume stores a clamped volume on one track and reapplies its
// effective gain. Other tracks' stored state is untouched.
func (m *Mixer) SetVolume(id string, v float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[id]
	if !ok {
		return &NotFoundError{TrackID: id}
	}
	t.Desc.Volume = stems.ClampVolume(v)
	m.resolveLocked()
	return nil
}

// SetPan stores a clamped pan on one track and applies it immediately,
// playing or not.
func (m *Mixer) SetPan(id string, p float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[id]
	if !ok {
		return &NotFoundError{TrackID: id}
	}
	t.Desc.Pan = stems.ClampPan(p)
	t.stage.setPan(t.Desc.Pan)
	return nil
}

// SetMuted updates one track's mute flag and recomputes every track's
// effective gain.
func (m *Mixer) SetMuted(id string, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[id]
	if !ok {
		return &NotFoundError{TrackID: id}
	}
	t.Desc.Muted = muted
	m.resolveLocked()
	return nil
}

// SetSoloed updates one track's solo flag. Soloing a track clears its
// own mute: solo always implies audible for that track.
func (m *Mixer) SetSoloed(id string, soloed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[id]
	if !ok {
		return &NotFoundError{TrackID: id}
	}
	t.Desc.Soloed = soloed
	if soloed {
		t.Desc.Muted = false
	}
	m.resolveLocked()
	return nil
}

// Audible reports a track's resolved audibility.
func (m *Mixer) Audible(id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracks[id]
	if !ok {
		return false, &NotFoundError{TrackID: id}
	}
	return m.audibleLocked(t), nil
}

// EffectiveGain reports the gain currently applied to a track: the
// stored volume while audible, 0 while silenced.
func (m *Mixer) EffectiveGain(id string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracks[id]
	if !ok {
		return 0, &NotFoundError{TrackID: id}
	}
	return t.stage.Gain(), nil
}

func (m *Mixer) audibleLocked(t *LoadedTrack) bool {
	for _, other := range m.tracks {
		if other.Desc.Soloed {
			// Solo mode: only soloed tracks sound.
			return t.Desc.Soloed
		}
	}
	return !t.Desc.Muted
}

// resolveLocked recomputes effective gains for all tracks. It touches
// gain values only; stored volume/pan/mute/solo fields stay as set.
func (m *Mixer) resolveLocked() {
	for _, t := range m.tracks {
		if m.audibleLocked(t) {
			t.stage.setGain(t.Desc.Volume)
		} else {
			t.stage.setGain(0)
		}
	}
}
