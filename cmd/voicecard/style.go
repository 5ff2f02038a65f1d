package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/voicecard/internal/config"
	"github.com/MrWong99/voicecard/internal/enroll"
)

// styles are the terminal styles shared by the commands.
type styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Prompt lipgloss.Style
	Dim    lipgloss.Style
	Good   lipgloss.Style
	Bad    lipgloss.Style
	Box    lipgloss.Style
}

// newStyles returns styles whose color profile matches w, so output to a
// pipe or file carries no escape codes.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	primary := lipgloss.Color("#00ff9f")
	dim := lipgloss.Color("#6e7681")
	return styles{
		Title:  r.NewStyle().Bold(true).Foreground(primary),
		Label:  r.NewStyle().Bold(true).Width(14),
		Prompt: r.NewStyle().Foreground(primary),
		Dim:    r.NewStyle().Foreground(dim),
		Good:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#3fb950")),
		Bad:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#f85149")),
		Box:    r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(primary).Padding(0, 1),
	}
}

// startupSummary renders the boxed overview printed by serve.
func startupSummary(w io.Writer, cfg *config.Config) string {
	s := newStyles(w)
	row := func(label, value string) string {
		return s.Label.Render(label) + value
	}
	rows := []string{
		s.Title.Render("voicecard " + version),
		"",
		row("Listen addr", cfg.Server.ListenAddr),
		row("STT", providerSummary(cfg.Providers.STT)),
		row("TTS", providerSummary(cfg.Providers.TTS)),
		row("Locale", cfg.Enrollment.Locale),
		row("Confirm", string(cfg.Enrollment.ConfirmPolicy)),
		row("Storage", string(cfg.Storage.Backend)),
		row("Metrics", cfg.Telemetry.MetricsPath),
	}
	return s.Box.Render(strings.Join(rows, "\n"))
}

func providerSummary(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	v := e.Name
	if e.Model != "" {
		v += " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 {
		v += fmt.Sprintf(" (+%d fallback)", n)
	}
	return v
}

// renderReply formats one dialogue reply for the simulator.
func renderReply(s styles, r enroll.Reply) string {
	var b strings.Builder
	b.WriteString(s.Prompt.Render("voicecard> " + r.Prompt))

	meta := r.Phase.String()
	if r.Phase == enroll.PhaseCollecting {
		meta += " · " + string(r.Pending)
	}
	if r.Missed {
		meta += " · missed"
	}
	b.WriteString("\n" + s.Dim.Render("["+meta+"]"))

	switch r.Outcome {
	case enroll.OutcomeCommitted:
		line := "card saved"
		if r.Card != nil {
			line = fmt.Sprintf("card saved: **** %s (id %s)", r.Card.LastFour, r.Card.CardID)
			if r.Card.Default {
				line += ", default"
			}
		}
		b.WriteString("\n" + s.Good.Render(line))
	case enroll.OutcomeFailed, enroll.OutcomeAbandoned, enroll.OutcomeCancelled:
		b.WriteString("\n" + s.Bad.Render(r.Outcome.String()))
	}
	return b.String()
}
