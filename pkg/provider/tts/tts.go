// Package tts defines the speech-synthesis contract the pipeline consumes.
package tts

import "context"

// Request describes one synthesis call. Description carries a prose voice
// description for providers that support it (Parler); Voice and Language
// address named-voice providers (XTTS).
type Request struct {
	Text        string
	Description string
	Voice       string
	Language    string
}

// Synthesizer turns one text segment into a WAV payload at the provider's
// native sample rate. Implementations are safe for concurrent use.
type Synthesizer interface {
	// Name identifies the provider in logs and health reports.
	Name() string

	Synthesize(ctx context.Context, req Request) ([]byte, error)
}
