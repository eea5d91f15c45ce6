// Package stretch implements a WSOLA (waveform-similarity overlap-add)
// time-stretcher as a beep.Streamer. It changes playback duration
// without shifting pitch by consuming input frames at a different rate
// than it emits output frames, splicing frames at the most similar
// overlap point.
package stretch

import (
	"errors"
	"math"

	"github.com/gopxl/beep/v2"
)

// Rate bounds accepted by New. Below 1.0 the output is longer than
// the input (slower playback at constant pitch).
const (
	MinRate = 0.5
	MaxRate = 1.0
)

// Defaults at 44.1kHz: ~46ms analysis frame, ~12ms crossfade overlap,
// ~10ms similarity search radius.
const (
	defaultFrame   = 2048
	defaultOverlap = 512
	defaultSearch  = 441

	pullChunk = 512
)

var errRate = errors.New("stretch: rate out of range")

// Option configures a Streamer.
type Option func(*Streamer)

// WithFrameSizes overrides the analysis frame, overlap, and search
// sizes (in samples). frame must be at least 2*overlap.
func WithFrameSizes(frame, overlap, search int) Option {
	return func(s *Streamer) {
		s.frame = frame
		s.overlap = overlap
		s.search = search
	}
}

// WithConsumedFunc installs a callback invoked with the total number
// of input samples consumed so far, after each synthesis cycle. The
// reported value is monotonically non-decreasing. The callback runs
// on the audio thread; keep work brief and non-blocking.
func WithConsumedFunc(fn func(inputSamples int)) Option {
	return func(s *Streamer) { s.consumedFn = fn }
}

// Streamer pulls audio from an upstream streamer and emits it
// time-stretched by 1/rate.
type Streamer struct {
	src  beep.Streamer
	rate float64

	frame   int
	overlap int
	search  int

	consumedFn func(int)

	// Sliding input window. in[0] holds absolute input sample inBase.
	in      [][2]float64
	inBase  int
	srcDone bool

	// Trailing overlap of the previous output frame, kept as the
	// similarity reference for the next splice. tailEnd is the absolute
	// input index just past the samples the tail covers.
	tail    [][2]float64
	tailEnd int
	started bool

	// Absolute input position where the next analysis frame nominally
	// starts. Advances by hop*rate per cycle, so it is the playhead.
	nominal float64

	out    [][2]float64
	outPos int

	pull    [][2]float64
	drained bool
}

// New creates a time-stretcher reading from src. rate must lie in
// [MinRate, MaxRate].
func New(src beep.Streamer, rate float64, opts ...Option) (*Streamer, error) {
	if rate < MinRate || rate > MaxRate || math.IsNaN(rate) {
		return nil, errRate
	}
	s := &Streamer{
		src:     src,
		rate:    rate,
		frame:   defaultFrame,
		overlap: defaultOverlap,
		search:  defaultSearch,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap <= 0 || s.frame < 2*s.overlap || s.search < 0 {
		return nil, errors.New("stretch: invalid frame sizes")
	}
	s.tail = make([][2]float64, 0, s.overlap)
	s.pull = make([][2]float64, pullChunk)
	return s, nil
}

// Rate returns the configured playback rate.
func (s *Streamer) Rate() float64 { return s.rate }

// Consumed returns the number of input samples consumed so far.
func (s *Streamer) Consumed() int { return int(s.nominal) }

// Stream fills samples with stretched audio.
func (s *Streamer) Stream(samples [][2]float64) (int, bool) {
	n := 0
	for n < len(samples) {
		if s.outPos >= len(s.out) {
			if !s.synth() {
				break
			}
		}
		c := copy(samples[n:], s.out[s.outPos:])
		n += c
		s.outPos += c
	}
	return n, n > 0
}

// Err returns the upstream error, if any.
func (s *Streamer) Err() error { return s.src.Err() }

// ensure pulls from the source until the input window covers absolute
// sample absEnd or the source is exhausted.
func (s *Streamer) ensure(absEnd int) {
	for !s.srcDone && s.inBase+len(s.in) < absEnd {
		n, ok := s.src.Stream(s.pull)
		s.in = append(s.in, s.pull[:n]...)
		if !ok {
			s.srcDone = true
		}
	}
}

// trim discards input samples that no future search window can reach.
func (s *Streamer) trim() {
	keepFrom := int(s.nominal) - s.search
	if keepFrom <= s.inBase {
		return
	}
	drop := keepFrom - s.inBase
	if drop > len(s.in) {
		drop = len(s.in)
	}
	s.in = s.in[drop:]
	s.inBase += drop
}

// synth runs one synthesis cycle, refilling the output buffer.
// Returns false when the stream is finished and nothing was emitted.
func (s *Streamer) synth() bool {
	if s.drained {
		return false
	}
	s.trim()

	hop := s.frame - s.overlap
	nom := int(s.nominal)
	s.ensure(nom + s.search + s.frame)

	avail := s.inBase + len(s.in) // absolute end of input
	if nom+s.frame > avail {
		return s.flush(nom, avail)
	}

	var best int
	if !s.started {
		best = nom
	} else {
		best = s.bestOffset(nom, avail)
	}
	seg := s.in[best-s.inBase : best-s.inBase+s.frame]

	s.out = s.out[:0]
	s.outPos = 0
	if !s.started {
		s.out = append(s.out, seg[:hop]...)
	} else {
		// Crossfade the splice, then copy the unblended middle.
		for i := 0; i < s.overlap; i++ {
			t := float64(i+1) / float64(s.overlap+1)
			s.out = append(s.out, [2]float64{
				s.tail[i][0]*(1-t) + seg[i][0]*t,
				s.tail[i][1]*(1-t) + seg[i][1]*t,
			})
		}
		s.out = append(s.out, seg[s.overlap:hop]...)
	}
	s.tail = append(s.tail[:0], seg[hop:s.frame]...)
	s.tailEnd = best + s.frame
	s.started = true

	s.nominal += float64(hop) * s.rate
	if s.consumedFn != nil {
		s.consumedFn(int(s.nominal))
	}
	return true
}

// flush emits the remaining tail and input once the source cannot
// supply a full analysis frame. The raw remainder resumes after the
// samples the tail already covers, so nothing is emitted twice.
func (s *Streamer) flush(nom, avail int) bool {
	s.drained = true
	s.out = s.out[:0]
	s.outPos = 0
	if len(s.tail) > 0 {
		s.out = append(s.out, s.tail...)
		s.tail = s.tail[:0]
	}
	start := nom
	if start < s.tailEnd {
		start = s.tailEnd
	}
	if start < s.inBase {
		start = s.inBase
	}
	if start < avail {
		s.out = append(s.out, s.in[start-s.inBase:]...)
	}
	if float64(avail) > s.nominal {
		s.nominal = float64(avail)
		if s.consumedFn != nil {
			s.consumedFn(avail)
		}
	}
	return len(s.out) > 0
}

// bestOffset searches around the nominal offset for the input segment
// whose leading overlap best matches the previous output tail, by
// normalized cross-correlation on the mono mix.
func (s *Streamer) bestOffset(nom, avail int) int {
	lo := nom - s.search
	if lo < s.inBase {
		lo = s.inBase
	}
	hi := nom + s.search
	if hi > avail-s.frame {
		hi = avail - s.frame
	}
	best, bestScore := nom, math.Inf(-1)
	for c := lo; c <= hi; c++ {
		var dot, energy float64
		seg := s.in[c-s.inBase:]
		for i := 0; i < s.overlap; i++ {
			a := (s.tail[i][0] + s.tail[i][1]) / 2
			b := (seg[i][0] + seg[i][1]) / 2
			dot += a * b
			energy += b * b
		}
		score := dot
		if energy > 0 {
			score = dot / math.Sqrt(energy)
		}
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best
}
