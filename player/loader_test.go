package player

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stemamp/stems"
)

// wavBytes builds a minimal stereo PCM16 WAV file in memory.
func wavBytes(t *testing.T, sampleRate int, frames int) []byte {
	t.Helper()
	var pcm bytes.Buffer
	for i := 0; i < frames; i++ {
		// Constant half-scale signal on both channels.
		binary.Write(&pcm, binary.LittleEndian, int16(16384))
		binary.Write(&pcm, binary.LittleEndian, int16(16384))
	}

	var b bytes.Buffer
	dataLen := pcm.Len()
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+dataLen))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&b, binary.LittleEndian, uint16(2)) // stereo
	binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&b, binary.LittleEndian, uint32(sampleRate*4))
	binary.Write(&b, binary.LittleEndian, uint16(4))  // block align
	binary.Write(&b, binary.LittleEndian, uint16(16)) // bits
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(dataLen))
	b.Write(pcm.Bytes())
	return b.Bytes()
}

func testLoader() *Loader {
	l := NewLoader(testSR, zerolog.Nop())
	l.backoffBase = time.Millisecond
	l.backoffCap = 4 * time.Millisecond
	return l
}

func trackFor(id, url string) stems.Track {
	return stems.Track{ID: id, Name: stems.Vocals, AudioURL: url, Volume: 1}
}

func TestLoadDecodesAllTracks(t *testing.T) {
	body := wavBytes(t, int(testSR), 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	l := testLoader()
	tracks := []stems.Track{
		trackFor("vocals", srv.URL+"/vocals.wav"),
		trackFor("drums", srv.URL+"/drums.wav"),
		trackFor("bass", srv.URL+"/bass.wav"),
	}
	loaded, err := l.Load(context.Background(), tracks)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("len(loaded) = %d, want 3", len(loaded))
	}
	for i, lt := range loaded {
		if lt.Desc.ID != tracks[i].ID {
			t.Errorf("loaded[%d].ID = %q, want %q (descriptor order)", i, lt.Desc.ID, tracks[i].ID)
		}
		if lt.SampleRate != testSR {
			t.Errorf("%s: SampleRate = %d, want %d", lt.Desc.ID, lt.SampleRate, testSR)
		}
		if lt.BufferID == 0 {
			t.Errorf("%s: BufferID not assigned", lt.Desc.ID)
		}
		if len(lt.Buf) != 500 {
			t.Errorf("%s: decoded %d frames, want 500", lt.Desc.ID, len(lt.Buf))
		}
	}
}

func TestLoadResamplesToEngineRate(t *testing.T) {
	// Source at twice the engine rate should roughly halve in frames.
	body := wavBytes(t, int(testSR)*2, 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	loaded, err := testLoader().Load(context.Background(), []stems.Track{
		trackFor("vocals", srv.URL+"/vocals.wav"),
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	n := len(loaded[0].Buf)
	if n < 450 || n > 550 {
		t.Errorf("resampled length = %d, want ~500", n)
	}
}

func TestLoadRetriesServerErrors(t *testing.T) {
	body := wavBytes(t, int(testSR), 100)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	loaded, err := testLoader().Load(context.Background(), []stems.Track{
		trackFor("vocals", srv.URL+"/vocals.wav"),
	})
	if err != nil {
		t.Fatalf("Load after transient 503s: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("len(loaded) = %d, want 1", len(loaded))
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hit %d times, want 3 (two failures + success)", got)
	}
}

func TestLoadExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testLoader().Load(context.Background(), []stems.Track{
		trackFor("vocals", srv.URL+"/vocals.wav"),
	})
	var lerr *LoadError
	if !errors.As(err, &lerr) {
		t.Fatalf("Load = %v, want LoadError", err)
	}
	if lerr.TrackID != "vocals" || lerr.Cause != CauseServer {
		t.Errorf("LoadError = {%q, %s}, want {vocals, serverError}", lerr.TrackID, lerr.Cause)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hit %d times, want exactly 3 attempts", got)
	}
}

func TestLoadDoesNotRetryDecodeErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("this is not audio"))
	}))
	defer srv.Close()

	_, err := testLoader().Load(context.Background(), []stems.Track{
		trackFor("vocals", srv.URL+"/vocals.wav"),
	})
	var lerr *LoadError
	if !errors.As(err, &lerr) {
		t.Fatalf("Load = %v, want LoadError", err)
	}
	if lerr.Cause != CauseDecode {
		t.Errorf("Cause = %s, want decode", lerr.Cause)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1 (decode failures are final)", got)
	}
}

func TestLoadFailsFast(t *testing.T) {
	body := wavBytes(t, int(testSR), 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.wav" {
			w.Write([]byte("garbage"))
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	_, err := testLoader().Load(context.Background(), []stems.Track{
		trackFor("vocals", srv.URL+"/vocals.wav"),
		trackFor("bad", srv.URL+"/bad.wav"),
		trackFor("drums", srv.URL+"/drums.wav"),
	})
	var lerr *LoadError
	if !errors.As(err, &lerr) {
		t.Fatalf("Load = %v, want LoadError", err)
	}
	if lerr.TrackID != "bad" {
		t.Errorf("TrackID = %q, want bad", lerr.TrackID)
	}
}

func TestLoadEmptySet(t *testing.T) {
	if _, err := testLoader().Load(context.Background(), nil); err == nil {
		t.Error("Load(nil) succeeded, want error")
	}
}

func TestLoadCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testLoader().Load(ctx, []stems.Track{
		trackFor("vocals", srv.URL+"/vocals.wav"),
	})
	if err == nil {
		t.Error("Load with cancelled context succeeded, want error")
	}
}

func TestLoadCauseRetryable(t *testing.T) {
	tests := []struct {
		cause LoadCause
		want  bool
	}{
		{CauseNetwork, true},
		{CauseTimeout, true},
		{CauseServer, true},
		{CauseDecode, false},
	}
	for _, tt := range tests {
		if got := tt.cause.Retryable(); got != tt.want {
			t.Errorf("%s.Retryable() = %v, want %v", tt.cause, got, tt.want)
		}
	}
}

func TestClassifyFetchErr(t *testing.T) {
	if got := classifyFetchErr(context.DeadlineExceeded); got != CauseTimeout {
		t.Errorf("deadline exceeded classified as %s, want timeout", got)
	}
	if got := classifyFetchErr(fmt.Errorf("connection refused")); got != CauseNetwork {
		t.Errorf("plain error classified as %s, want network", got)
	}
}
