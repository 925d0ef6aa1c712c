package tts

import (
	"context"
	"log/slog"
	"time"

	"github.com/mvolkert/ekho/internal/observe"
	"github.com/mvolkert/ekho/pkg/audio"
	"github.com/mvolkert/ekho/pkg/provider/tts"
)

// Pipeline frame format: 20ms of 16kHz signed-16-bit mono PCM.
const (
	sampleRate    = 16000
	FrameDuration = 20 * time.Millisecond
	FrameSamples  = 320
	FrameBytes    = FrameSamples * 2
)

// Callbacks connects the consumer to the coordinator. Nil fields are
// skipped.
type Callbacks struct {
	// OnFrame receives each 20ms frame with 1-based segment and frame
	// indices, in strict order.
	OnFrame func(pcm []byte, segment, frame int)

	// OnSpeaking signals is_agent_speaking transitions around each
	// response.
	OnSpeaking func(speaking bool)

	// OnSegment receives the synthesis latency and emitted frame count
	// after each completed segment.
	OnSegment func(latency time.Duration, frames int)

	// OnError receives synthesis failures after retries and failover are
	// exhausted. The segment is skipped.
	OnError func(err error)
}

// Config tunes a [Consumer].
type Config struct {
	SessionID string

	// Voice and Language are forwarded with every synthesis request.
	Voice       string
	Description string
	Language    string

	// MaxSentences is the segmenter packing target. Default 2.
	MaxSentences int

	// SynthTimeout bounds each synthesis request. Default 15s.
	SynthTimeout time.Duration

	// LogFramesEvery controls frame log cadence. Default 25.
	LogFramesEvery int

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxSentences <= 0 {
		c.MaxSentences = 2
	}
	if c.SynthTimeout <= 0 {
		c.SynthTimeout = 15 * time.Second
	}
	if c.LogFramesEvery <= 0 {
		c.LogFramesEvery = 25
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Consumer pulls finalized responses from the queue and streams their
// audio. One consumer runs per session; barge-in cancels it and starts a
// fresh one.
type Consumer struct {
	queue *Queue
	synth tts.Synthesizer
	cfg   Config
	cb    Callbacks
}

// NewConsumer creates a consumer synthesizing via synth. Retry and
// fallback policy belong to the synthesizer, not the consumer.
func NewConsumer(queue *Queue, synth tts.Synthesizer, cb Callbacks, cfg Config) *Consumer {
	return &Consumer{queue: queue, synth: synth, cfg: cfg.withDefaults(), cb: cb}
}

// Run consumes responses until ctx is cancelled. Always returns ctx.Err().
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text := <-c.queue.C():
			c.speak(ctx, text)
		}
	}
}

// speak synthesizes and emits one response. Cancellation is honored at
// segment and frame boundaries.
func (c *Consumer) speak(ctx context.Context, text string) {
	segments := Segment(text, c.cfg.MaxSentences)
	if len(segments) == 0 {
		return
	}

	if c.cb.OnSpeaking != nil {
		c.cb.OnSpeaking(true)
		defer c.cb.OnSpeaking(false)
	}

	for si, seg := range segments {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		pcm, err := c.synthesize(ctx, seg)
		latency := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.cfg.Logger.Error("segment synthesis failed, skipping",
				"session_id", c.cfg.SessionID,
				"segment", si+1,
				"error", err)
			if c.cb.OnError != nil {
				c.cb.OnError(err)
			}
			continue
		}

		frames := c.emitFrames(ctx, pcm, si+1)
		if ctx.Err() != nil {
			return
		}
		if c.cb.OnSegment != nil {
			c.cb.OnSegment(latency, frames)
		}
		c.cfg.Logger.Debug("segment complete",
			"session_id", c.cfg.SessionID,
			"segment", si+1,
			"synthesis", latency,
			"frames", frames)
	}
}

// synthesize requests one segment and normalizes the WAV payload to the
// pipeline format.
func (c *Consumer) synthesize(ctx context.Context, seg string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.SynthTimeout)
	defer cancel()

	reqCtx, span := observe.StartSpan(reqCtx, "tts.synthesize")
	defer span.End()

	wav, err := c.synth.Synthesize(reqCtx, tts.Request{
		Text:        seg,
		Description: c.cfg.Description,
		Voice:       c.cfg.Voice,
		Language:    c.cfg.Language,
	})
	if err != nil {
		return nil, err
	}

	pcm, info, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, err
	}
	if info.Channels == 2 {
		pcm = audio.DownmixToMono(pcm)
	}
	if info.SampleRate != sampleRate {
		pcm = audio.Resample16(pcm, info.SampleRate, sampleRate)
	}
	return pcm, nil
}

// emitFrames slices pcm into 20ms frames and emits them paced at real
// time, padding the last frame with zeros. Returns the frames emitted.
func (c *Consumer) emitFrames(ctx context.Context, pcm []byte, segment int) int {
	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	frames := 0
	for off := 0; off < len(pcm); off += FrameBytes {
		end := off + FrameBytes
		var frame []byte
		if end <= len(pcm) {
			frame = pcm[off:end]
		} else {
			frame = make([]byte, FrameBytes)
			copy(frame, pcm[off:])
		}

		frames++
		if c.cb.OnFrame != nil {
			c.cb.OnFrame(frame, segment, frames)
		}
		if c.cfg.LogFramesEvery > 0 && frames%c.cfg.LogFramesEvery == 0 {
			c.cfg.Logger.Debug("streaming audio",
				"session_id", c.cfg.SessionID,
				"segment", segment,
				"frames", frames)
		}

		select {
		case <-ctx.Done():
			return frames
		case <-ticker.C:
		}
	}
	return frames
}
