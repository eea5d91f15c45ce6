package stretch

import (
	"math"
	"testing"
)

// bufStreamer streams a fixed buffer, the shape the mixer hands us.
type bufStreamer struct {
	buf [][2]float64
	pos int
}

func (b *bufStreamer) Stream(samples [][2]float64) (int, bool) {
	if b.pos >= len(b.buf) {
		return 0, false
	}
	n := copy(samples, b.buf[b.pos:])
	b.pos += n
	return n, true
}

func (b *bufStreamer) Err() error { return nil }

func sine(n int, freq float64, sr int) [][2]float64 {
	buf := make([][2]float64, n)
	for i := range buf {
		v := 0.8 * math.Sin(2*math.Pi*freq*float64(i)/float64(sr))
		buf[i] = [2]float64{v, v}
	}
	return buf
}

func drain(s *Streamer) [][2]float64 {
	var out [][2]float64
	chunk := make([][2]float64, 1024)
	for {
		n, ok := s.Stream(chunk)
		out = append(out, chunk[:n]...)
		if !ok {
			return out
		}
	}
}

func zeroCrossings(buf [][2]float64) int {
	count := 0
	for i := 1; i < len(buf); i++ {
		if (buf[i-1][0] < 0) != (buf[i][0] < 0) {
			count++
		}
	}
	return count
}

func TestNewRejectsBadRate(t *testing.T) {
	src := &bufStreamer{buf: sine(1000, 440, 44100)}
	for _, rate := range []float64{0.49, 1.01, 0, -1, 2, math.NaN()} {
		if _, err := New(src, rate); err == nil {
			t.Errorf("New(rate=%v) accepted, want error", rate)
		}
	}
	if _, err := New(src, 0.5); err != nil {
		t.Errorf("New(rate=0.5): %v", err)
	}
	if _, err := New(src, 1.0); err != nil {
		t.Errorf("New(rate=1.0): %v", err)
	}
}

func TestNewRejectsBadFrameSizes(t *testing.T) {
	src := &bufStreamer{buf: sine(1000, 440, 44100)}
	if _, err := New(src, 0.75, WithFrameSizes(512, 512, 100)); err == nil {
		t.Error("frame < 2*overlap accepted, want error")
	}
	if _, err := New(src, 0.75, WithFrameSizes(1024, 0, 100)); err == nil {
		t.Error("zero overlap accepted, want error")
	}
}

func TestOutputLengthMatchesRate(t *testing.T) {
	const n = 44100
	for _, rate := range []float64{0.5, 0.75, 1.0} {
		src := &bufStreamer{buf: sine(n, 440, 44100)}
		s, err := New(src, rate)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		out := drain(s)
		want := float64(n) / rate
		got := float64(len(out))
		// A couple of analysis frames of slack at the edges.
		if math.Abs(got-want) > 3*defaultFrame {
			t.Errorf("rate %v: output %v samples, want ~%v", rate, got, want)
		}
	}
}

func TestPitchPreserved(t *testing.T) {
	const (
		n    = 44100
		freq = 440.0
	)
	in := sine(n, freq, 44100)
	inZC := zeroCrossings(in)

	src := &bufStreamer{buf: in}
	s, err := New(src, 0.5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := drain(s)
	outZC := zeroCrossings(out)

	// Same frequency over double the duration: roughly double the
	// zero crossings. A naive resampler would keep the count equal.
	want := float64(inZC) * 2
	if math.Abs(float64(outZC)-want) > want*0.15 {
		t.Errorf("zero crossings = %d, want ~%v (input had %d)", outZC, want, inZC)
	}
}

func TestConsumedMonotonic(t *testing.T) {
	var reports []int
	src := &bufStreamer{buf: sine(44100, 330, 44100)}
	s, err := New(src, 0.6, WithConsumedFunc(func(n int) {
		reports = append(reports, n)
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	drain(s)

	if len(reports) == 0 {
		t.Fatal("no consumed-input reports")
	}
	prev := -1
	for i, r := range reports {
		if r < prev {
			t.Fatalf("report %d moved backward: %d after %d", i, r, prev)
		}
		prev = r
	}
	if final := reports[len(reports)-1]; final != 44100 {
		t.Errorf("final consumed = %d, want 44100 (full input)", final)
	}
}

func TestShortInputPassesThrough(t *testing.T) {
	// Input shorter than one analysis frame is emitted as-is.
	in := sine(300, 440, 44100)
	src := &bufStreamer{buf: in}
	s, err := New(src, 0.5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := drain(s)
	if len(out) != len(in) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(in))
	}
	for i := range out {
		if out[i] != in[i] {
			t.Fatalf("sample %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestDrainEmitsEachInputSampleOnce(t *testing.T) {
	// A monotone ramp at rate 1.0 must come out monotone: any repeated
	// stretch of input in the end-of-stream drain shows up as the ramp
	// jumping backward.
	const n = 10000
	in := make([][2]float64, n)
	for i := range in {
		v := float64(i) / n
		in[i] = [2]float64{v, v}
	}
	s, err := New(&bufStreamer{buf: in}, 1.0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := drain(s)
	if len(out) != n {
		t.Errorf("len(out) = %d, want %d (rate 1.0 reconstructs the input)", len(out), n)
	}
	for i := 1; i < len(out); i++ {
		if out[i][0] < out[i-1][0] {
			t.Fatalf("output moves backward at %d: %v after %v", i, out[i][0], out[i-1][0])
		}
	}
}

func TestEmptySource(t *testing.T) {
	s, err := New(&bufStreamer{}, 0.8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n, ok := s.Stream(make([][2]float64, 64))
	if n != 0 || ok {
		t.Errorf("Stream on empty source = (%d, %v), want (0, false)", n, ok)
	}
}

func TestStreamPartialThenDone(t *testing.T) {
	// After the final partial fill, the next call must report done.
	src := &bufStreamer{buf: sine(10000, 440, 44100)}
	s, err := New(src, 1.0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	total := 0
	chunk := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(chunk)
		total += n
		if !ok {
			if n != 0 {
				// beep streamers may return a final partial chunk with
				// ok=false only when n==0 by our contract.
				t.Errorf("final Stream returned n=%d with ok=false", n)
			}
			break
		}
	}
	if total == 0 {
		t.Error("streamed no samples")
	}
}
