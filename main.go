// Package main is the entry point for the STEMAMP terminal stem player.
package main

import (
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"

	"stemamp/config"
	"stemamp/player"
	"stemamp/stems"
	"stemamp/ui"
)

func run() error {
	if len(os.Args) < 2 {
		return errors.New("usage: stemamp <manifest.json>")
	}

	cfg := config.Load()

	// The TUI owns stdout, so debug logging goes to a file when asked
	// for and nowhere otherwise.
	log := zerolog.Nop()
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer f.Close()
		log = zerolog.New(f).With().Timestamp().Logger()
	}

	manifest, err := stems.LoadManifest(os.Args[1])
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	sr := beep.SampleRate(cfg.SampleRate)
	loader := player.NewLoader(sr, log)
	loader.SetHTTPTimeout(cfg.HTTPTimeout)

	p := player.New(player.NewSpeakerOutput(), sr,
		player.WithLogger(log),
		player.WithWaveformPoints(cfg.WaveformPoints),
		player.WithLoader(loader),
	)
	defer p.Dispose()

	fmt.Fprintf(os.Stderr, "loading %d stems...\n", len(manifest.Tracks))
	if err := p.LoadTracks(manifest.Tracks); err != nil {
		return fmt.Errorf("load stems: %w", err)
	}

	m := ui.NewModel(p, manifest.Song, float64(sr))
	prog := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := prog.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
