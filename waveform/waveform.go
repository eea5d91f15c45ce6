// Package waveform downsamples raw sample buffers into fixed-length
// amplitude envelopes for visualization.
package waveform

import (
	"math"
	"sync"
)

const (
	// peakBlend mixes peak level into the RMS amplitude so percussive
	// transients survive the downsampling.
	peakBlend = 0.7

	// subdivideThreshold is the samples-per-point ratio above which a
	// window is split into sub-segments and averaged, so a single
	// outlier region cannot dominate a very wide window.
	subdivideThreshold = 4096

	subSegments = 10
)

// Envelope is a fixed-length amplitude summary of one track.
type Envelope struct {
	Amplitudes      []float64 // len == TargetPoints, each in [0,1]
	Duration        float64   // seconds
	SampleRate      int
	SamplesPerPoint float64
}

// TargetPoints returns the envelope length.
func (e Envelope) TargetPoints() int { return len(e.Amplitudes) }

// Extract computes the amplitude envelope of a stereo buffer. It is
// pure: same buffer and targetPoints always yield the same envelope.
func Extract(buf [][2]float64, sampleRate, targetPoints int) Envelope {
	if targetPoints <= 0 {
		targetPoints = 1
	}
	env := Envelope{
		Amplitudes: make([]float64, targetPoints),
		SampleRate: sampleRate,
	}
	n := len(buf)
	if sampleRate > 0 {
		env.Duration = float64(n) / float64(sampleRate)
	}
	if n == 0 {
		return env
	}
	env.SamplesPerPoint = float64(n) / float64(targetPoints)

	for i := 0; i < targetPoints; i++ {
		// Floor-division boundaries cover the full range with no
		// truncation gap at the tail.
		start := i * n / targetPoints
		end := (i + 1) * n / targetPoints
		if end <= start {
			end = start + 1
			if end > n {
				end = n
			}
		}
		env.Amplitudes[i] = windowAmplitude(buf[start:end])
	}
	return env
}

func windowAmplitude(window [][2]float64) float64 {
	if len(window) == 0 {
		return 0
	}
	var amp float64
	if float64(len(window)) > subdivideThreshold {
		// Wide window: average sub-segment amplitudes.
		var sum float64
		m := len(window)
		for s := 0; s < subSegments; s++ {
			lo := s * m / subSegments
			hi := (s + 1) * m / subSegments
			if hi <= lo {
				continue
			}
			sum += rmsPeak(window[lo:hi])
		}
		amp = sum / subSegments
	} else {
		amp = rmsPeak(window)
	}
	if amp > 1 {
		amp = 1
	}
	return amp
}

// rmsPeak blends RMS with scaled peak over the mono mix of a segment.
func rmsPeak(seg [][2]float64) float64 {
	var sumSq, peak float64
	for _, fr := range seg {
		m := (fr[0] + fr[1]) / 2
		sumSq += m * m
		if a := math.Abs(m); a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(sumSq / float64(len(seg)))
	return math.Max(rms, peak*peakBlend)
}

type cacheKey struct {
	trackID      string
	bufferID     uint64
	targetPoints int
}

// Cache memoizes envelopes per (track, buffer identity, targetPoints)
// so repeated visualization requests cost a map lookup.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]Envelope
}

// NewCache creates an empty envelope cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]Envelope)}
}

// Get returns the cached envelope for the key, computing and storing
// it on first request.
func (c *Cache) Get(trackID string, bufferID uint64, buf [][2]float64, sampleRate, targetPoints int) Envelope {
	key := cacheKey{trackID, bufferID, targetPoints}
	c.mu.Lock()
	if env, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return env
	}
	c.mu.Unlock()

	// Extract outside the lock; buffers are immutable after load so a
	// duplicate computation is harmless.
	env := Extract(buf, sampleRate, targetPoints)

	c.mu.Lock()
	c.entries[key] = env
	c.mu.Unlock()
	return env
}

// Drop removes all entries for a track, used when a session replaces
// its track set.
func (c *Cache) Drop(trackID string) {
	c.mu.Lock()
	for k := range c.entries {
		if k.trackID == trackID {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}
