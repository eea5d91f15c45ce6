package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

const (
	seekStep = 5.0  // seconds
	volStep  = 0.05
	panStep  = 0.1
	rateStep = 0.05
)

// handleKey dispatches a key press. Transport keys act globally;
// mixing keys act on the track under the cursor.
func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.player.Dispose()
		return nil

	// --- Transport ---
	case " ":
		var err error
		if m.player.IsPlaying() {
			err = m.player.Pause()
		} else {
			err = m.player.Play()
		}
		m.err = err
	case "backspace":
		m.err = m.player.Stop()
	case "left":
		m.err = m.player.Seek(m.player.Position() - seekStep)
	case "right":
		m.err = m.player.Seek(m.player.Position() + seekStep)
	case "home":
		m.err = m.player.Seek(0)

	// --- Tempo ---
	case ",":
		m.err = m.player.SetPlaybackRate(m.player.PlaybackRate() - rateStep)
	case ".":
		m.err = m.player.SetPlaybackRate(m.player.PlaybackRate() + rateStep)
	case "0":
		m.err = m.player.SetPlaybackRate(1.0)

	// --- Track cursor ---
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.tracks)-1 {
			m.cursor++
		}

	// --- Per-track mixing ---
	case "m":
		if t, ok := m.selected(); ok {
			m.err = m.player.MuteTrack(t.ID, !t.Muted)
			m.refresh()
		}
	case "s":
		if t, ok := m.selected(); ok {
			m.err = m.player.SoloTrack(t.ID, !t.Soloed)
			m.refresh()
		}
	case "+", "=":
		if t, ok := m.selected(); ok {
			m.err = m.player.SetTrackVolume(t.ID, t.Volume+volStep)
			m.refresh()
		}
	case "-":
		if t, ok := m.selected(); ok {
			m.err = m.player.SetTrackVolume(t.ID, t.Volume-volStep)
			m.refresh()
		}
	case "[":
		if t, ok := m.selected(); ok {
			m.err = m.player.SetTrackPan(t.ID, t.Pan-panStep)
			m.refresh()
		}
	case "]":
		if t, ok := m.selected(); ok {
			m.err = m.player.SetTrackPan(t.ID, t.Pan+panStep)
			m.refresh()
		}
	}
	return nil
}

// refresh re-reads the descriptor snapshot after a mixing change, so
// the same frame shows the new state.
func (m *Model) refresh() {
	m.tracks = m.player.Tracks()
}
