package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voicecard/internal/app"
	"github.com/MrWong99/voicecard/internal/config"
	"github.com/MrWong99/voicecard/pkg/provider/tts"
)

func newVoicesCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices of the configured TTS provider",
		Long: `List the voices of the configured TTS provider.

Use the ID column as voice.voice_id in the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load(cmd, false)
			if err != nil {
				return err
			}
			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			ps, err := app.BuildProviders(cfg, reg, nil)
			if err != nil {
				return err
			}
			if ps.TTS == nil {
				return errors.New("providers.tts is not configured")
			}
			voices, err := ps.TTS.ListVoices(cmd.Context())
			if err != nil {
				return fmt.Errorf("list voices: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderVoices(newStyles(out), voices, cfg.Voice.VoiceID))
			return nil
		},
	}
}

// renderVoices formats voices as a table. The configured voice is marked.
func renderVoices(s styles, voices []tts.VoiceProfile, current string) string {
	if len(voices) == 0 {
		return s.Dim.Render("no voices available")
	}
	idWidth := len("ID")
	for _, v := range voices {
		idWidth = max(idWidth, len(v.ID))
	}
	id := s.Label.Width(idWidth + 2)

	lines := []string{s.Title.Render(id.Render("ID") + "NAME")}
	for _, v := range voices {
		line := id.UnsetBold().Render(v.ID) + v.Name
		if v.Language != "" {
			line += s.Dim.Render(" (" + v.Language + ")")
		}
		if v.ID == current {
			line += s.Good.Render("  ← configured")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
