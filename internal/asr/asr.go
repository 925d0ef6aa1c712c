// Package asr drives streaming transcription: a windower slides over the
// session's rolling audio buffer, sends fixed windows to the STT service,
// grows an utterance-scoped transcript from the overlapping results, and
// finalizes the utterance when trailing silence is detected.
package asr

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mvolkert/ekho/internal/observe"
	"github.com/mvolkert/ekho/internal/resilience"
	"github.com/mvolkert/ekho/pkg/audio"
	"github.com/mvolkert/ekho/pkg/provider"
	"github.com/mvolkert/ekho/pkg/provider/stt"
)

// sampleRate is the pipeline audio format all windows are cut from.
const sampleRate = 16000

// Callbacks connects the windower to the coordinator. Nil fields are
// skipped.
type Callbacks struct {
	// OnPartial receives the growing utterance text after each successful
	// transcription window. chunk counts windows within the utterance.
	OnPartial func(text string, chunk int)

	// OnFinal receives the accumulated utterance text exactly once per
	// utterance, on silence or flush.
	OnFinal func(text string)

	// OnLatency receives the duration of each transcription request.
	OnLatency func(d time.Duration)

	// OnError receives non-retryable or retry-exhausted transcription
	// errors. The windower continues with the next window.
	OnError func(err error)
}

// Config tunes a [Windower].
type Config struct {
	SessionID string

	// Window is the audio span sent per transcription request. Default 500ms.
	Window time.Duration

	// Slide is the interval between windows. Default 250ms.
	Slide time.Duration

	// Silence is how much trailing low-energy audio finalizes an
	// utterance. Default 800ms.
	Silence time.Duration

	// RMSThreshold is the energy level below which audio counts as
	// silence. Default 300.
	RMSThreshold float64

	// RequestTimeout bounds each transcription request. Default 10s.
	RequestTimeout time.Duration

	// Retry is the transient-failure policy. Zero value uses the default
	// (3 retries, 200ms base).
	Retry resilience.Policy

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 500 * time.Millisecond
	}
	if c.Slide <= 0 {
		c.Slide = 250 * time.Millisecond
	}
	if c.Silence <= 0 {
		c.Silence = 800 * time.Millisecond
	}
	if c.RMSThreshold <= 0 {
		c.RMSThreshold = 300
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Windower owns one session's transcription loop.
type Windower struct {
	ring *audio.Ring
	stt  stt.Transcriber
	cfg  Config
	cb   Callbacks

	mu        sync.Mutex
	utterance string
	chunk     int
}

// NewWindower creates a windower reading from ring and transcribing via t.
func NewWindower(ring *audio.Ring, t stt.Transcriber, cb Callbacks, cfg Config) *Windower {
	return &Windower{ring: ring, stt: t, cfg: cfg.withDefaults(), cb: cb}
}

// Run slides over the buffer until ctx is cancelled, then flushes any
// active utterance. Always returns ctx.Err().
func (w *Windower) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Slide)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.Flush()
			return ctx.Err()
		case <-ticker.C:
			w.step(ctx)
		}
	}
}

// step processes one slide tick: silence finalization first, then at most
// one transcription request.
func (w *Windower) step(ctx context.Context) {
	snap := w.ring.Snapshot()

	if w.trailingSilence(snap) {
		w.Flush()
		return
	}

	windowBytes := int(w.cfg.Window.Seconds()*sampleRate) * 2
	if len(snap) < windowBytes {
		return
	}
	win := snap[len(snap)-windowBytes:]
	if audio.RMS(win) < w.cfg.RMSThreshold {
		return
	}

	wav := audio.EncodeWAV(win, sampleRate, 1)

	ctx, span := observe.StartSpan(ctx, "asr.transcribe")
	defer span.End()

	var text string
	start := time.Now()
	err := resilience.Retry(ctx, w.cfg.Retry, provider.IsRetryable, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
		defer cancel()
		var err error
		text, err = w.stt.Transcribe(reqCtx, wav)
		return err
	})
	latency := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.cfg.Logger.Warn("transcription failed",
			"session_id", w.cfg.SessionID, "error", err)
		if w.cb.OnError != nil {
			w.cb.OnError(err)
		}
		return
	}
	if w.cb.OnLatency != nil {
		w.cb.OnLatency(latency)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	w.accumulate(text)
}

// trailingSilence reports whether the utterance is active and the last
// Silence span of the buffer is below the energy threshold.
func (w *Windower) trailingSilence(snap []byte) bool {
	w.mu.Lock()
	active := w.utterance != ""
	w.mu.Unlock()
	if !active {
		return false
	}

	silenceBytes := int(w.cfg.Silence.Seconds()*sampleRate) * 2
	if len(snap) < silenceBytes {
		return false
	}
	tail := snap[len(snap)-silenceBytes:]
	return audio.RMS(tail) < w.cfg.RMSThreshold
}

// accumulate merges a window transcript into the utterance. Overlapping
// windows usually re-transcribe the same speech, so a transcript that
// extends the current utterance replaces it; anything else finalizes the
// old utterance and starts a new one.
func (w *Windower) accumulate(text string) {
	w.mu.Lock()
	var finalText string
	if w.utterance == "" || extends(w.utterance, text) {
		w.utterance = text
		w.chunk++
	} else {
		finalText = w.utterance
		w.utterance = text
		w.chunk = 1
	}
	partial := w.utterance
	chunk := w.chunk
	w.mu.Unlock()

	if finalText != "" && w.cb.OnFinal != nil {
		w.cb.OnFinal(finalText)
	}
	if w.cb.OnPartial != nil {
		w.cb.OnPartial(partial, chunk)
	}
}

// extends reports whether next is a growth of cur, compared without case
// or surrounding whitespace.
func extends(cur, next string) bool {
	return strings.HasPrefix(
		strings.ToLower(strings.TrimSpace(next)),
		strings.ToLower(strings.TrimSpace(cur)),
	)
}

// Flush finalizes the active utterance, if any. The coordinator calls it
// on a client silence hint and on session shutdown; the run loop calls it
// on detected silence.
func (w *Windower) Flush() {
	w.mu.Lock()
	text := w.utterance
	w.utterance = ""
	w.chunk = 0
	w.mu.Unlock()

	if text == "" {
		return
	}
	w.ring.Clear()
	if w.cb.OnFinal != nil {
		w.cb.OnFinal(text)
	}
}
