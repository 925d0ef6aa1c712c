// Package ingress accepts raw audio frames from a transport connection,
// normalizes them to the pipeline format (16kHz mono 16-bit PCM), and
// appends them to the session's rolling buffer.
package ingress

import (
	"log/slog"
	"sync/atomic"

	"github.com/mvolkert/ekho/pkg/audio"
)

// PipelineRate is the sample rate all downstream stages operate on.
const PipelineRate = 16000

// Ingress is the per-session audio intake. Safe for use from a single
// reader goroutine; the counters may be read concurrently.
type Ingress struct {
	ring *audio.Ring
	norm *audio.Normalizer

	sessionID string
	logEvery  int
	log       *slog.Logger

	onActivity func()

	frames    atomic.Int64
	malformed atomic.Int64
}

// Option configures an [Ingress].
type Option func(*Ingress)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(i *Ingress) { i.log = l }
}

// WithLogEvery sets the ingest log cadence (every Nth frame). Zero
// disables periodic logging. Default: 50.
func WithLogEvery(n int) Option {
	return func(i *Ingress) { i.logEvery = n }
}

// WithActivityFunc sets a callback invoked on every accepted frame. The
// session uses it to refresh its idle-expiry clock.
func WithActivityFunc(fn func()) Option {
	return func(i *Ingress) { i.onActivity = fn }
}

// New creates an intake writing normalized audio into ring.
func New(sessionID string, ring *audio.Ring, opts ...Option) *Ingress {
	i := &Ingress{
		ring:      ring,
		norm:      &audio.Normalizer{TargetRate: PipelineRate},
		sessionID: sessionID,
		logEvery:  50,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest normalizes one frame and appends it to the buffer. Malformed
// frames are counted and dropped; a corrupt frame must not stall the
// session.
func (i *Ingress) Ingest(f audio.Frame) {
	pcm, ok := i.norm.Normalize(f)
	if !ok {
		i.malformed.Add(1)
		return
	}
	i.ring.Append(pcm)

	n := i.frames.Add(1)
	if i.onActivity != nil {
		i.onActivity()
	}
	if i.logEvery > 0 && n%int64(i.logEvery) == 0 {
		i.log.Debug("audio ingest",
			"session_id", i.sessionID,
			"frames", n,
			"malformed", i.malformed.Load(),
			"buffered", i.ring.Len())
	}
}

// Frames returns the number of accepted frames.
func (i *Ingress) Frames() int64 { return i.frames.Load() }

// Malformed returns the number of dropped frames.
func (i *Ingress) Malformed() int64 { return i.malformed.Load() }
