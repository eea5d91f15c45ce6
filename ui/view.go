package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"stemamp/player"
	"stemamp/stems"
)

const panelWidth = 72 // usable inner width (78 frame - 2 border - 4 padding)

// Pre-built styles for elements created per-render to avoid repeated allocation.
var (
	seekFillStyle = lipgloss.NewStyle().Foreground(colorSeekBar)
	seekDimStyle  = lipgloss.NewStyle().Foreground(colorDim)
	volBarStyle   = lipgloss.NewStyle().Foreground(colorVolume)
)

// Unicode block elements for waveform lane height (9 levels including space)
var laneBlocks = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// View renders the full TUI frame.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	sections := []string{
		m.renderTitle(),
		m.renderTransport(),
		m.renderSeekBar(),
		"",
		m.renderSpectrum(),
		"",
	}
	for i := range m.tracks {
		sections = append(sections, m.renderStrip(i), m.renderLane(i))
	}
	sections = append(sections, "", m.renderHelp())

	if m.err != nil {
		sections = append(sections, errorStyle.Render(fmt.Sprintf("ERR: %s", m.err)))
	}

	return frameStyle.Render(strings.Join(sections, "\n"))
}

func (m Model) renderTitle() string {
	title := titleStyle.Render("S T E M A M P")
	if m.song == "" {
		return title
	}
	song := trackStyle.Render(m.song)
	gap := panelWidth - lipgloss.Width(title) - lipgloss.Width(song)
	if gap < 1 {
		gap = 1
	}
	return title + strings.Repeat(" ", gap) + song
}

func (m Model) renderTransport() string {
	pos := m.player.Position()
	dur := m.player.Duration()
	timeStr := fmt.Sprintf("%s / %s", fmtTime(pos), fmtTime(dur))

	rate := m.player.PlaybackRate()
	rateStr := fmt.Sprintf("%.2fx", rate)
	if m.player.Degraded() {
		// Pitch is shifting along with tempo in the fallback path.
		rateStr += " (pitch)"
	}
	if rate != 1.0 {
		rateStr = statusStyle.Render(rateStr)
	} else {
		rateStr = dimStyle.Render(rateStr)
	}

	var status string
	switch {
	case m.player.IsPlaying():
		status = statusStyle.Render(" Playing")
	case m.player.TransportState() == player.Paused:
		status = statusStyle.Render(" Paused")
	default:
		status = dimStyle.Render(" Stopped")
	}

	left := timeStyle.Render(timeStr) + "  " + rateStr
	gap := panelWidth - lipgloss.Width(left) - lipgloss.Width(status)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + status
}

func fmtTime(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	s := int(sec)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

func (m Model) renderSeekBar() string {
	pos := m.player.Position()
	dur := m.player.Duration()

	var progress float64
	if dur > 0 {
		progress = pos / dur
	}
	progress = max(0, min(1, progress))

	filled := int(progress * float64(panelWidth-1))
	return seekFillStyle.Render(strings.Repeat("━", filled)) +
		seekFillStyle.Render("●") +
		seekDimStyle.Render(strings.Repeat("━", max(0, panelWidth-filled-1)))
}

func (m Model) renderSpectrum() string {
	bands := m.vis.Analyze(m.player.TapSamples(fftSize))
	return labelStyle.Render("MIX ") + m.vis.Render(bands, panelWidth-4)
}

// renderStrip draws one track's control line: cursor, badges, name,
// volume bar, pan.
func (m Model) renderStrip(i int) string {
	t := m.tracks[i]

	cursor := "  "
	nameStyle := stripStyle
	if i == m.cursor {
		cursor = "▸ "
		nameStyle = stripSelectedStyle
	}

	mute := badgeOffStyle.Render("[M]")
	if t.Muted {
		mute = muteOnStyle.Render("[M]")
	}
	solo := badgeOffStyle.Render("[S]")
	if t.Soloed {
		solo = soloOnStyle.Render("[S]")
	}

	name := t.DisplayName()
	if r := []rune(name); len(r) > 14 {
		name = string(r[:13]) + "…"
	}
	name = nameStyle.Render(fmt.Sprintf("%-14s", name))

	const volW = 10
	vf := int(max(0, min(1, t.Volume)) * volW)
	vol := volBarStyle.Render(strings.Repeat("█", vf)) +
		dimStyle.Render(strings.Repeat("░", volW-vf))

	pan := dimStyle.Render("C")
	switch {
	case t.Pan < -0.05:
		pan = dimStyle.Render(fmt.Sprintf("L%.0f", -t.Pan*100))
	case t.Pan > 0.05:
		pan = dimStyle.Render(fmt.Sprintf("R%.0f", t.Pan*100))
	}

	audible, err := m.player.TrackAudible(t.ID)
	state := "  "
	if err == nil && !audible {
		state = dimStyle.Render("· ")
	} else if m.player.IsPlaying() {
		state = statusStyle.Render(" ")
	}

	return cursor + state + mute + " " + solo + " " + name + " " + vol + " " + pan
}

// renderLane draws one track's amplitude envelope with the playhead,
// played portion bright and the rest dim.
func (m Model) renderLane(i int) string {
	t := m.tracks[i]
	env, ok := m.waves[t.ID]
	w := panelWidth - 4
	if !ok || env.TargetPoints() == 0 || w < 8 {
		return ""
	}

	var progress float64
	if dur := m.player.Duration(); dur > 0 {
		progress = m.player.Position() / dur
	}
	playhead := int(max(0, min(1, progress)) * float64(w))

	points := env.Amplitudes
	var played, rest strings.Builder
	for c := 0; c < w; c++ {
		a := points[c*len(points)/w]
		idx := int(a * float64(len(laneBlocks)-1))
		idx = max(0, min(idx, len(laneBlocks)-1))
		if c < playhead {
			played.WriteRune(laneBlocks[idx])
		} else {
			rest.WriteRune(laneBlocks[idx])
		}
	}

	lane := waveStyle.Render(played.String()) + waveDimStyle.Render(rest.String())
	if !m.trackAudible(t) {
		lane = waveDimStyle.Render(played.String() + rest.String())
	}
	return "    " + lane
}

func (m Model) trackAudible(t stems.Track) bool {
	audible, err := m.player.TrackAudible(t.ID)
	return err == nil && audible
}

func (m Model) renderHelp() string {
	return helpStyle.Render("[Spc]Play [Bksp]Stop []Seek [jk]Track [M]ute [S]olo [+-]Vol [,.]Tempo [Q]uit")
}
