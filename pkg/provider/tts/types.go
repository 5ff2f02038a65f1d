package tts

// VoiceProfile selects and tunes a synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is the language code passed to the provider (e.g., "fa").
	// Empty lets the provider infer it from the text.
	Language string

	// Settings tunes delivery. A nil Settings uses provider defaults.
	Settings *VoiceSettings

	// Metadata holds provider-specific voice attributes (gender, accent, ...).
	Metadata map[string]string
}

// VoiceSettings are delivery parameters in [0, 1].
type VoiceSettings struct {
	Stability       float64
	SimilarityBoost float64
	Style           float64
	UseSpeakerBoost bool
}
