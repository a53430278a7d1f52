package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/model"
)

var (
	accent     = lipgloss.Color("#00ff9f")
	dim        = lipgloss.Color("#6e7681")
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	labelStyle = lipgloss.NewStyle().Foreground(dim).Width(14)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)
)

type row struct{ label, value string }

func renderBox(title string, rows []row) string {
	lines := []string{titleStyle.Render(title), ""}
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(r.label)+" "+r.value)
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// startupSummary renders the effective configuration for the console.
func startupSummary(cfg *config.Config, reg *config.Registry) string {
	scheme := "ws"
	if cfg.Server.TLS != nil {
		scheme = "wss"
	}
	codec := cfg.Audio.Codec
	if codec == "opus" && cfg.Audio.OpusBitrate > 0 {
		codec = fmt.Sprintf("opus / %d bps", cfg.Audio.OpusBitrate)
	}
	return renderBox("voxrelay "+version, []row{
		{"Chat", scheme + "://" + cfg.Server.ListenAddr + cfg.Server.ChatPath},
		{"Model", fmt.Sprintf("%s @ %d Hz / %g fps", cfg.Model.Backend, cfg.Model.SampleRate, cfg.Model.FrameRate)},
		{"Codec", codec},
		{"Tokenizer", orNone(cfg.Tokenizer.Path)},
		{"Static dir", orNone(cfg.Server.StaticDir)},
		{"Metrics", cfg.Telemetry.MetricsPath},
		{"Breaker", fmt.Sprintf("%d failures / %s", cfg.Breaker.MaxFailures, cfg.Breaker.ResetTimeout)},
		{"Backends", strings.Join(reg.Models(), ", ")},
	})
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.2f ms", float64(d)/float64(time.Millisecond))
}

// benchReport renders a [model.BenchResult].
func benchReport(backend string, frameSize int, r model.BenchResult) string {
	return renderBox("bench: "+backend, []row{
		{"Steps", fmt.Sprintf("%d x %d samples", r.Steps, frameSize)},
		{"Min", ms(r.Min)},
		{"Mean", ms(r.Mean)},
		{"P50", ms(r.P50)},
		{"P95", ms(r.P95)},
		{"Max", ms(r.Max)},
	})
}
