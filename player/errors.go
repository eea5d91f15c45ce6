package player

import "fmt"

// LoadCause classifies why a track failed to load. Only transient
// causes (network, timeout, server) are retried.
type LoadCause string

const (
	CauseNetwork LoadCause = "network"
	CauseTimeout LoadCause = "timeout"
	CauseDecode  LoadCause = "decode"
	CauseServer  LoadCause = "serverError"
)

// Retryable reports whether a failure with this cause may succeed on
// a later attempt. Decode failures are deterministic and never retried.
func (c LoadCause) Retryable() bool {
	return c == CauseNetwork || c == CauseTimeout || c == CauseServer
}

// LoadError reports a track that exhausted its load attempts. It
// aborts the whole LoadTracks call; no partially-ready session is
// ever exposed.
type LoadError struct {
	TrackID string
	Cause   LoadCause
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load track %q: %s: %v", e.TrackID, e.Cause, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NotFoundError reports a mixer or transport operation that targeted
// an unknown track id. This is a contract violation by the caller,
// never retried internally.
type NotFoundError struct {
	TrackID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("track %q not found", e.TrackID)
}

// CapabilityError reports that the audio subsystem could not be
// activated. Callers should surface it distinctly (typically as a
// "tap to enable audio" affordance) and retry by calling Play again.
type CapabilityError struct {
	Reason string
	Err    error
}

func (e *CapabilityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio unavailable: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("audio unavailable: %s", e.Reason)
}

func (e *CapabilityError) Unwrap() error { return e.Err }
