// Package ui implements the Bubbletea TUI for the stem practice session.
package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"stemamp/player"
	"stemamp/stems"
	"stemamp/waveform"
)

type tickMsg time.Time

// Model is the Bubbletea model for the session view.
type Model struct {
	player *player.Player
	song   string
	vis    *Visualizer

	tracks []stems.Track
	waves  map[string]waveform.Envelope

	cursor   int // selected track strip
	err      error
	quitting bool
	width    int
	height   int
}

// NewModel creates a Model wired to a loaded player session.
func NewModel(p *player.Player, song string, sampleRate float64) Model {
	return Model{
		player: p,
		song:   song,
		vis:    NewVisualizer(sampleRate),
		tracks: p.Tracks(),
		waves:  p.Waveforms(),
	}
}

// Init starts the tick timer and requests the terminal size.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), tea.WindowSize())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*50, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages: key presses, ticks, and window resizes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		cmd := m.handleKey(msg)
		if m.quitting {
			return m, tea.Quit
		}
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// Descriptor flags (mute/solo/volume/pan) mutate behind the
		// facade; refresh the snapshot once per frame.
		m.tracks = m.player.Tracks()
		return m, tickCmd()
	}

	return m, nil
}

// selected returns the track under the cursor.
func (m Model) selected() (stems.Track, bool) {
	if m.cursor < 0 || m.cursor >= len(m.tracks) {
		return stems.Track{}, false
	}
	return m.tracks[m.cursor], true
}
