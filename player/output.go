package player

import (
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// Output isolates the platform audio subsystem. The engine only
// activates it, installs streamers, and clears them; device quirks
// stay behind this interface. Lock/Unlock guard state shared with the
// rendering thread, which the engine treats as an opaque low-latency
// consumer.
type Output interface {
	// Activate brings the subsystem into a playable state. It must be
	// called synchronously inside the user-triggered call that needs
	// audio, must return within a bounded time, and reports failure as
	// a *CapabilityError.
	Activate(sr beep.SampleRate) error
	Play(s beep.Streamer)
	Clear()
	Lock()
	Unlock()
	Close()
}

// SpeakerOutput drives the gopxl speaker. Activation initializes the
// device once with a 100ms buffer; later calls are cheap no-ops.
type SpeakerOutput struct {
	mu     sync.Mutex
	inited bool
}

// NewSpeakerOutput creates an inactive speaker output.
func NewSpeakerOutput() *SpeakerOutput {
	return &SpeakerOutput{}
}

func (o *SpeakerOutput) Activate(sr beep.SampleRate) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inited {
		return nil
	}
	if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
		return &CapabilityError{Reason: "speaker init failed", Err: err}
	}
	o.inited = true
	return nil
}

func (o *SpeakerOutput) Play(s beep.Streamer) { speaker.Play(s) }
func (o *SpeakerOutput) Clear()               { speaker.Clear() }
func (o *SpeakerOutput) Lock()                { speaker.Lock() }
func (o *SpeakerOutput) Unlock()              { speaker.Unlock() }

func (o *SpeakerOutput) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inited {
		speaker.Clear()
		speaker.Close()
		o.inited = false
	}
}
