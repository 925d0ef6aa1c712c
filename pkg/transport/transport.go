// Package transport defines the contracts between the voice pipeline and
// the real-time media layer. The pipeline consumes decoded PCM frames and
// publishes datagrams plus an outbound audio track; everything else about
// the media layer (codecs, signaling, SFU) stays behind these interfaces.
package transport

import (
	"context"

	"github.com/mvolkert/ekho/pkg/audio"
)

// Participant identifies a remote human connected through the transport.
type Participant struct {
	// Identity is a stable, transport-scoped identifier. Session IDs are
	// derived from it.
	Identity string

	// Name is a display name, may be empty.
	Name string
}

// Publisher is the outbound half of a participant connection. The pipeline
// publishes JSON datagrams and 20ms PCM frames through it.
//
// PublishData order is preserved for reliable payloads; unreliable payloads
// are best-effort and may be dropped under backpressure. WriteAudioFrame
// accepts 16kHz mono signed 16-bit PCM; the transport may upsample.
type Publisher interface {
	PublishData(ctx context.Context, payload []byte, reliable bool) error
	WriteAudioFrame(ctx context.Context, pcm []byte) error
}

// Conn represents one connected participant. The audio and data channels
// are closed when the participant disconnects; after that all Publisher
// calls fail.
type Conn interface {
	Publisher

	Participant() Participant

	// AudioIn delivers the participant's decoded microphone frames.
	AudioIn() <-chan audio.Frame

	// DataIn delivers inbound reliable datagrams (raw JSON payloads).
	DataIn() <-chan []byte

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// ConnHandler is invoked once per accepted participant connection. The
// handler owns the connection until it returns; the transport closes the
// connection afterwards.
type ConnHandler func(ctx context.Context, conn Conn)
