package stt

import "time"

// Transcript is a final speech-to-text result for one utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report it.
	Confidence float64

	// Duration is the length of the utterance.
	Duration time.Duration
}

// KeywordBoost is a vocabulary hint for recognition.
type KeywordBoost struct {
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
