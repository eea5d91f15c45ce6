// Package player implements the synchronized multi-stem playback
// engine: one shared transport driving N independently-controlled
// tracks through per-track gain+pan stages, with pitch-preserving
// tempo change and per-track amplitude envelopes for visualization.
package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"

	"stemamp/stems"
	"stemamp/stretch"
	"stemamp/waveform"
)

// State is the transport state.
type State int

const (
	Stopped State = iota
	Paused
	Playing
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// Playback rate bounds; pitch is held constant inside them.
const (
	MinRate = stretch.MinRate
	MaxRate = stretch.MaxRate
)

// positionInterval is how often subscribers are notified while playing.
const positionInterval = 50 * time.Millisecond

// stretchInterpMax bounds how far wall-clock interpolation may run
// ahead of the last consumed-input report under time-stretch.
const stretchInterpMax = 100 * time.Millisecond

var (
	errDisposed       = errors.New("session disposed")
	errLoadSuperseded = errors.New("load superseded by a newer load")
)

// PositionFunc receives the current position in seconds. It is called
// on the engine's notification goroutine.
type PositionFunc func(position float64)

// Option configures a Player.
type Option func(*Player)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Player) { p.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Player) { p.log = log }
}

// WithWaveformPoints sets the envelope resolution computed at load time.
func WithWaveformPoints(points int) Option {
	return func(p *Player) { p.targetPoints = points }
}

// WithLoader overrides the track loader, for tests.
func WithLoader(l *Loader) Option {
	return func(p *Player) { p.loader = l }
}

// Player is one practice session: the mixer, the transport clock, and
// the load/visualization machinery behind a single facade. One Player
// exists per session; Dispose tears it down.
type Player struct {
	mu sync.Mutex

	out          Output
	sr           beep.SampleRate
	loader       *Loader
	cache        *waveform.Cache
	tap          *Tap
	log          zerolog.Logger
	targetPoints int
	now          func() time.Time
	newStretch   func(src beep.Streamer, rate float64, opts ...stretch.Option) (*stretch.Streamer, error)

	mixer *Mixer

	state         State
	pos           float64 // authoritative while not Playing
	lastPlayStart float64
	rate          float64

	// Wall-clock anchor for live position at rate 1 (and for the
	// pitch-shifting fallback).
	anchor      time.Time
	posAtAnchor float64

	// Time-stretch position reports, written from the render thread.
	stretching   bool
	degraded     bool
	stretchPos   atomic.Uint64 // float64 bits, seconds
	stretchAt    atomic.Int64  // unix nanos of last report
	lastReported float64

	subs map[string]PositionFunc

	tickStop chan struct{}
	tickWG   sync.WaitGroup

	loadGen  int
	loadCtx  context.Context
	loadStop context.CancelFunc
	disposed bool
}

// New creates a session playing through out at the given sample rate.
func New(out Output, sr beep.SampleRate, opts ...Option) *Player {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		out:          out,
		sr:           sr,
		cache:        waveform.NewCache(),
		tap:          NewTap(4096),
		log:          zerolog.Nop(),
		targetPoints: 512,
		now:          time.Now,
		newStretch:   stretch.New,
		rate:         1.0,
		subs:         make(map[string]PositionFunc),
		loadCtx:      ctx,
		loadStop:     cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.loader == nil {
		p.loader = NewLoader(sr, p.log)
	}
	return p
}

// LoadTracks fetches, decodes, and installs the full track set,
// replacing any previous set. It blocks until every track has loaded
// or one has exhausted its retries, in which case the previous session
// state (tracks and position) is left intact for a caller-triggered
// reload. Loading never starts playback.
func (p *Player) LoadTracks(tracks []stems.Track) error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return errDisposed
	}
	p.loadGen++
	gen := p.loadGen
	ctx := p.loadCtx
	p.mu.Unlock()

	loaded, err := p.loader.Load(ctx, tracks)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// A dispose or a newer load while we were in flight: discard.
	if p.disposed {
		return errDisposed
	}
	if gen != p.loadGen {
		return errLoadSuperseded
	}

	// Release the previous set before installing the new one.
	if p.state == Playing {
		p.out.Clear()
		p.stopTickLocked()
	}
	if p.mixer != nil {
		for _, t := range p.mixer.Tracks() {
			p.cache.Drop(t.ID)
		}
	}

	mixer := NewMixer(p.sr, loaded)
	mixer.SetTap(p.tap)
	for _, lt := range loaded {
		lt.Env = p.cache.Get(lt.Desc.ID, lt.BufferID, lt.Buf, int(p.sr), p.targetPoints)
	}
	p.mixer = mixer
	p.state = Stopped
	p.pos = 0
	p.lastPlayStart = 0
	p.lastReported = 0

	p.log.Info().
		Int("tracks", len(loaded)).
		Float64("duration", mixer.Duration()).
		Msg("session loaded")
	return nil
}

// Play starts playback from the current position. It is a no-op while
// already playing. The audio subsystem is activated synchronously
// inside this call; activation failure surfaces as *CapabilityError
// and is retryable by calling Play again.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return errDisposed
	}
	if p.mixer == nil {
		return fmt.Errorf("no tracks loaded")
	}
	if p.state == Playing {
		return nil
	}
	if err := p.out.Activate(p.sr); err != nil {
		return err
	}

	p.lastPlayStart = p.pos
	p.installLocked(p.pos)
	p.state = Playing
	p.startTickLocked()
	p.log.Debug().Float64("position", p.pos).Float64("rate", p.rate).Msg("play")
	return nil
}

// Pause freezes the transport at the live position. No-op unless
// playing.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Playing {
		return nil
	}
	p.pauseLocked()
	p.log.Debug().Float64("position", p.pos).Msg("pause")
	return nil
}

// Stop pauses if playing, then reverts the position to where playback
// last started. Distinct from Pause: stop returns you to the last
// play press, not to the current moment, and not to zero.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Playing {
		p.pauseLocked()
	}
	p.pos = p.lastPlayStart
	// A session that never played stays Stopped; otherwise the
	// transport is holding at the reverted position.
	if p.state != Stopped {
		p.state = Paused
	}
	p.log.Debug().Float64("position", p.pos).Msg("stop")
	return nil
}

// Seek moves the transport. Positions below zero clamp to zero; the
// upper bound is deliberately not enforced against duration (seeking
// past the end plays out immediately). While playing the restart is
// atomic from the caller's perspective; while paused or stopped the
// last-play-start marker follows the seek, so a later Stop reverts
// here.
func (p *Player) Seek(position float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return errDisposed
	}
	if position < 0 || math.IsNaN(position) {
		position = 0
	}
	if p.state == Playing {
		p.out.Clear()
		p.pos = position
		p.installLocked(position)
	} else {
		p.pos = position
		p.lastPlayStart = position
	}
	return nil
}

// SetPlaybackRate sets the tempo in [MinRate, MaxRate] without pitch
// shift. Takes effect immediately while playing.
func (p *Player) SetPlaybackRate(rate float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rate < MinRate {
		rate = MinRate
	}
	if rate > MaxRate || math.IsNaN(rate) {
		rate = MaxRate
	}
	if rate == p.rate {
		return nil
	}
	if p.state == Playing {
		// Same atomic restart path as Seek: freeze, swap graph, resume.
		pos := p.positionLocked()
		p.out.Clear()
		p.rate = rate
		p.pos = pos
		p.installLocked(pos)
	} else {
		p.rate = rate
	}
	p.log.Debug().Float64("rate", rate).Msg("playback rate")
	return nil
}

// installLocked rebuilds the streamer graph from the given position
// and hands it to the output. Rate 1 drives the mixer directly; other
// rates go through the WSOLA stretcher, or through a pitch-shifting
// resampler when the stretcher cannot initialize.
func (p *Player) installLocked(pos float64) {
	p.out.Lock()
	p.mixer.SetCursor(int(pos * float64(p.sr)))
	p.out.Unlock()

	p.anchor = p.now()
	p.posAtAnchor = pos
	p.lastReported = pos
	p.stretching = false
	p.degraded = false

	var s beep.Streamer = p.mixer
	if p.rate != 1.0 {
		start := pos
		st, err := p.newStretch(p.mixer, p.rate, stretch.WithConsumedFunc(func(consumed int) {
			p.reportStretch(start + float64(consumed)/float64(p.sr))
		}))
		if err != nil {
			// Degrade to rate-linked playback (pitch shifts too)
			// rather than refusing to play.
			p.degraded = true
			p.log.Warn().Err(err).Msg("time-stretch unavailable, falling back to resampled playback")
			s = beep.ResampleRatio(4, p.rate, p.mixer)
		} else {
			p.stretching = true
			p.stretchPos.Store(math.Float64bits(pos))
			p.stretchAt.Store(p.now().UnixNano())
			s = st
		}
	}
	p.out.Play(s)
}

// reportStretch records a consumed-input position from the render
// thread. Late reports that would move the position backward are
// discarded.
func (p *Player) reportStretch(pos float64) {
	for {
		old := p.stretchPos.Load()
		if math.Float64frombits(old) >= pos {
			return
		}
		if p.stretchPos.CompareAndSwap(old, math.Float64bits(pos)) {
			p.stretchAt.Store(p.now().UnixNano())
			return
		}
	}
}

func (p *Player) pauseLocked() {
	p.pos = p.positionLocked()
	p.out.Clear()
	p.state = Paused
	p.stopTickLocked()
}

// Position returns the transport position in seconds. Cheap and safe
// to call every animation frame.
func (p *Player) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) positionLocked() float64 {
	if p.state != Playing {
		return p.pos
	}
	if p.stretching {
		// The stretcher's consumed-input count is authoritative;
		// wall-clock extrapolation alone drifts under load. A short
		// interpolation smooths between reports but never moves the
		// reported position backward.
		base := math.Float64frombits(p.stretchPos.Load())
		since := time.Duration(p.now().UnixNano() - p.stretchAt.Load())
		if since < 0 {
			since = 0
		}
		if since > stretchInterpMax {
			since = stretchInterpMax
		}
		pos := base + since.Seconds()*p.rate
		if pos < p.lastReported {
			pos = p.lastReported
		}
		p.lastReported = pos
		return pos
	}
	return p.posAtAnchor + p.now().Sub(p.anchor).Seconds()*p.rate
}

// Duration returns the authoritative content duration in seconds.
func (p *Player) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mixer == nil {
		return 0
	}
	return p.mixer.Duration()
}

// IsPlaying reports whether the transport is running.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == Playing
}

// TransportState returns the current transport state.
func (p *Player) TransportState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PlaybackRate returns the current tempo.
func (p *Player) PlaybackRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// Degraded reports that time-stretch initialization failed and
// playback is rate-linked with a pitch shift.
func (p *Player) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

// Tracks returns descriptor snapshots for all loaded tracks.
func (p *Player) Tracks() []stems.Track {
	p.mu.Lock()
	m := p.mixer
	p.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Tracks()
}

// Track returns one track's descriptor snapshot.
func (p *Player) Track(id string) (stems.Track, error) {
	p.mu.Lock()
	m := p.mixer
	p.mu.Unlock()
	if m == nil {
		return stems.Track{}, &NotFoundError{TrackID: id}
	}
	return m.Track(id)
}

// SetTrackVolume sets one track's stored volume, clamped to [0,1].
func (p *Player) SetTrackVolume(id string, v float64) error {
	return p.mixerOp(func(m *Mixer) error { return m.SetVolume(id, v) })
}

// SetTrackPan sets one track's stored pan, clamped to [-1,1].
func (p *Player) SetTrackPan(id string, pan float64) error {
	return p.mixerOp(func(m *Mixer) error { return m.SetPan(id, pan) })
}

// MuteTrack sets one track's mute flag.
func (p *Player) MuteTrack(id string, muted bool) error {
	return p.mixerOp(func(m *Mixer) error { return m.SetMuted(id, muted) })
}

// SoloTrack sets one track's solo flag.
func (p *Player) SoloTrack(id string, soloed bool) error {
	return p.mixerOp(func(m *Mixer) error { return m.SetSoloed(id, soloed) })
}

// TrackAudible reports a track's resolved audibility.
func (p *Player) TrackAudible(id string) (bool, error) {
	var audible bool
	err := p.mixerOp(func(m *Mixer) error {
		var err error
		audible, err = m.Audible(id)
		return err
	})
	return audible, err
}

func (p *Player) mixerOp(fn func(*Mixer) error) error {
	p.mu.Lock()
	m := p.mixer
	p.mu.Unlock()
	if m == nil {
		return fmt.Errorf("no tracks loaded")
	}
	return fn(m)
}

// Waveforms returns each track's amplitude envelope, keyed by track
// id. Envelopes are cached per buffer, so repeat calls are lookups.
func (p *Player) Waveforms() map[string]waveform.Envelope {
	p.mu.Lock()
	m := p.mixer
	points := p.targetPoints
	p.mu.Unlock()
	if m == nil {
		return nil
	}
	out := make(map[string]waveform.Envelope)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, lt := range m.tracks {
		out[id] = p.cache.Get(id, lt.BufferID, lt.Buf, int(p.sr), points)
	}
	return out
}

// TapSamples returns the most recent master-bus samples for spectrum
// visualization.
func (p *Player) TapSamples(n int) []float64 {
	return p.tap.Samples(n)
}

// OnPositionUpdate subscribes to position notifications, fired every
// 50ms while playing. The returned token unsubscribes.
func (p *Player) OnPositionUpdate(fn PositionFunc) string {
	token := uuid.NewString()
	p.mu.Lock()
	p.subs[token] = fn
	p.mu.Unlock()
	return token
}

// Unsubscribe removes a position subscription. Unknown tokens are
// ignored.
func (p *Player) Unsubscribe(token string) {
	p.mu.Lock()
	delete(p.subs, token)
	p.mu.Unlock()
}

// Dispose tears the session down: playback stops, buffers are
// released, in-flight load results are discarded once they settle.
// Idempotent.
func (p *Player) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.loadStop()
	if p.state == Playing {
		p.out.Clear()
		p.stopTickLocked()
	}
	p.mixer = nil
	p.subs = make(map[string]PositionFunc)
	p.state = Stopped
	p.pos = 0
	p.mu.Unlock()

	p.tickWG.Wait()
	p.out.Close()
}

func (p *Player) startTickLocked() {
	if p.tickStop != nil {
		return
	}
	stop := make(chan struct{})
	p.tickStop = stop
	p.tickWG.Add(1)
	go p.tickLoop(stop)
}

func (p *Player) stopTickLocked() {
	if p.tickStop != nil {
		close(p.tickStop)
		p.tickStop = nil
	}
}

func (p *Player) tickLoop(stop chan struct{}) {
	defer p.tickWG.Done()
	ticker := time.NewTicker(positionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

// tick advances end-of-track detection and fans the position out to
// subscribers. Factored out of the loop so tests can drive it with a
// fake clock.
func (p *Player) tick() {
	p.mu.Lock()
	if p.state != Playing {
		p.mu.Unlock()
		return
	}
	pos := p.positionLocked()
	if dur := p.mixer.Duration(); pos >= dur {
		// Reaching the end auto-pauses and rewinds to the beginning,
		// unlike Stop's revert-to-last-start.
		p.out.Clear()
		p.state = Stopped
		p.pos = 0
		p.stopTickLocked()
		pos = 0
		p.log.Debug().Msg("end of track")
	}
	subs := make([]PositionFunc, 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(pos)
	}
}
