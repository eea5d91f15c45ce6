package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog"

	"stemamp/stems"
)

const (
	fetchTimeout  = 30 * time.Second
	decodeTimeout = 15 * time.Second

	maxAttempts = 3
	backoffBase = time.Second
	backoffCap  = 8 * time.Second

	decodeChunk = 4096
)

// Loader fetches and decodes a session's tracks into memory. All
// tracks load concurrently; each track retries transient failures
// with exponential backoff. The first track to exhaust its attempts
// fails the whole load.
type Loader struct {
	client *http.Client
	sr     beep.SampleRate
	log    zerolog.Logger

	attempts      int
	backoffBase   time.Duration
	backoffCap    time.Duration
	decodeTimeout time.Duration
}

// NewLoader creates a loader decoding to the given engine sample rate.
func NewLoader(sr beep.SampleRate, log zerolog.Logger) *Loader {
	return &Loader{
		client:        &http.Client{Timeout: fetchTimeout},
		sr:            sr,
		log:           log,
		attempts:      maxAttempts,
		backoffBase:   backoffBase,
		backoffCap:    backoffCap,
		decodeTimeout: decodeTimeout,
	}
}

// SetHTTPTimeout overrides the per-request fetch budget.
func (l *Loader) SetHTTPTimeout(d time.Duration) {
	if d > 0 {
		l.client.Timeout = d
	}
}

type loadResult struct {
	idx   int
	track *LoadedTrack
	err   error
}

// Load fetches and decodes every track. It returns loaded tracks in
// descriptor order, or the first *LoadError once any track's retries
// are exhausted (remaining fetches are cancelled).
func (l *Loader) Load(ctx context.Context, tracks []stems.Track) ([]*LoadedTrack, error) {
	if len(tracks) == 0 {
		return nil, fmt.Errorf("load: no tracks")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan loadResult, len(tracks))
	var wg sync.WaitGroup
	for i, t := range tracks {
		wg.Add(1)
		go func(idx int, desc stems.Track) {
			defer wg.Done()
			lt, err := l.loadOne(ctx, desc)
			results <- loadResult{idx: idx, track: lt, err: err}
		}(i, t)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	loaded := make([]*LoadedTrack, len(tracks))
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel() // fail fast, stop the rest
			}
			continue
		}
		loaded[res.idx] = res.track
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return loaded, nil
}

// loadOne runs the fetch+decode attempt loop for a single track.
func (l *Loader) loadOne(ctx context.Context, desc stems.Track) (*LoadedTrack, error) {
	var lastErr *LoadError
	for attempt := 1; attempt <= l.attempts; attempt++ {
		lt, lerr := l.attempt(ctx, desc)
		if lerr == nil {
			return lt, nil
		}
		lastErr = lerr
		l.log.Warn().
			Str("track", desc.ID).
			Str("cause", string(lerr.Cause)).
			Int("attempt", attempt).
			Err(lerr.Err).
			Msg("track load attempt failed")
		if !lerr.Cause.Retryable() || attempt == l.attempts {
			break
		}
		delay := l.backoffBase << (attempt - 1)
		if delay > l.backoffCap {
			delay = l.backoffCap
		}
		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (l *Loader) attempt(ctx context.Context, desc stems.Track) (*LoadedTrack, *LoadError) {
	data, lerr := l.fetch(ctx, desc)
	if lerr != nil {
		return nil, lerr
	}

	buf, lerr := l.decode(ctx, desc, data)
	if lerr != nil {
		return nil, lerr
	}

	if desc.Title == "" {
		desc.Title = readTitle(data)
	}

	lt := &LoadedTrack{
		Desc:       desc,
		Buf:        buf,
		SampleRate: l.sr,
		BufferID:   nextBufferID(),
	}
	l.log.Debug().
		Str("track", desc.ID).
		Int("samples", len(buf)).
		Msg("track loaded")
	return lt, nil
}

func (l *Loader) fetch(ctx context.Context, desc stems.Track) ([]byte, *LoadError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.AudioURL, nil)
	if err != nil {
		return nil, &LoadError{TrackID: desc.ID, Cause: CauseNetwork, Err: err}
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &LoadError{TrackID: desc.ID, Cause: classifyFetchErr(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &LoadError{TrackID: desc.ID, Cause: CauseServer,
			Err: fmt.Errorf("status %s", resp.Status)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &LoadError{TrackID: desc.ID, Cause: CauseNetwork,
			Err: fmt.Errorf("status %s", resp.Status)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &LoadError{TrackID: desc.ID, Cause: classifyFetchErr(err), Err: err}
	}
	return data, nil
}

func classifyFetchErr(err error) LoadCause {
	if errors.Is(err, context.DeadlineExceeded) {
		return CauseTimeout
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return CauseTimeout
	}
	return CauseNetwork
}

// decode turns fetched bytes into a full in-memory stereo buffer at
// the engine sample rate. Format errors are never retried; blowing the
// decode budget is a timeout.
func (l *Loader) decode(ctx context.Context, desc stems.Track, data []byte) ([][2]float64, *LoadError) {
	dctx, cancel := context.WithTimeout(ctx, l.decodeTimeout)
	defer cancel()

	streamer, format, err := decodeBytes(desc.AudioURL, data)
	if err != nil {
		return nil, &LoadError{TrackID: desc.ID, Cause: CauseDecode, Err: err}
	}
	defer streamer.Close()

	var src beep.Streamer = streamer
	if format.SampleRate != l.sr {
		src = beep.Resample(4, format.SampleRate, l.sr, streamer)
	}

	var buf [][2]float64
	chunk := make([][2]float64, decodeChunk)
	for {
		if dctx.Err() != nil {
			return nil, &LoadError{TrackID: desc.ID, Cause: CauseTimeout, Err: dctx.Err()}
		}
		n, ok := src.Stream(chunk)
		buf = append(buf, chunk[:n]...)
		if !ok {
			break
		}
	}
	if err := src.Err(); err != nil {
		return nil, &LoadError{TrackID: desc.ID, Cause: CauseDecode, Err: err}
	}
	if len(buf) == 0 {
		return nil, &LoadError{TrackID: desc.ID, Cause: CauseDecode,
			Err: fmt.Errorf("decoded zero samples")}
	}
	return buf, nil
}

// decodeBytes picks a decoder from the URL extension. The platform
// job layer serves mp3 stems; the rest cover local fixtures and
// alternate encoders.
func decodeBytes(audioURL string, data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	ext := strings.ToLower(path.Ext(urlPath(audioURL)))
	r := bytes.NewReader(data)
	switch ext {
	case ".wav":
		return wav.Decode(io.NopCloser(r))
	case ".flac":
		return flac.Decode(io.NopCloser(r))
	case ".ogg", ".oga":
		return vorbis.Decode(io.NopCloser(r))
	default:
		return mp3.Decode(io.NopCloser(r))
	}
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}

// readTitle pulls an embedded title tag out of the fetched bytes, for
// stems whose manifest omits a display name.
func readTitle(data []byte) string {
	md, err := tag.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return md.Title()
}
