// Package stt defines the speech-to-text contract the pipeline consumes.
package stt

import "context"

// Transcriber turns one WAV-encoded audio window into text. Implementations
// are safe for concurrent use; each call is an independent request.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}
