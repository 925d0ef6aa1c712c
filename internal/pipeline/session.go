// Package pipeline wires the streaming stages into per-participant
// sessions and coordinates their lifecycle: creation under a concurrency
// quota, callback plumbing between ASR, LLM and TTS, barge-in handling,
// inactivity expiry, and teardown.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mvolkert/ekho/internal/asr"
	"github.com/mvolkert/ekho/internal/ingress"
	"github.com/mvolkert/ekho/internal/llm"
	"github.com/mvolkert/ekho/internal/metrics"
	"github.com/mvolkert/ekho/internal/observe"
	"github.com/mvolkert/ekho/internal/tts"
	"github.com/mvolkert/ekho/pkg/audio"
	providerllm "github.com/mvolkert/ekho/pkg/provider/llm"
	"github.com/mvolkert/ekho/pkg/transport"
)

// publishTimeout bounds every datagram publish and audio frame write so a
// stalled transport cannot wedge a pipeline stage.
const publishTimeout = 200 * time.Millisecond

// Session owns all state and tasks for one connected participant.
type Session struct {
	ID        string
	CreatedAt time.Time

	conn      transport.Conn
	ring      *audio.Ring
	queue     *tts.Queue
	ingress   *ingress.Ingress
	windower  *asr.Windower
	responder *llm.Responder
	consumer  *tts.Consumer
	metrics   *metrics.Session
	obs       *observe.Metrics
	log       *slog.Logger

	// ctx spans the session; cancel tears everything down.
	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	lastActivity atomic.Int64 // unix nanos

	mu             sync.Mutex
	agentSpeaking  bool
	active         bool
	lastASRFinal   time.Time
	e2ePending     bool
	llmCancel      context.CancelFunc
	consumerCancel context.CancelFunc
	consumerDone   chan struct{}
}

// Ingest feeds one inbound audio frame into the session.
func (s *Session) Ingest(f audio.Frame) {
	if s.ctx.Err() != nil {
		return
	}
	s.ingress.Ingest(f)
}

// Flush finalizes any in-progress utterance, as if silence was detected.
// The coordinator calls it on a client silence hint.
func (s *Session) Flush() {
	s.windower.Flush()
}

// IsAgentSpeaking reports whether TTS frames are currently being emitted.
func (s *Session) IsAgentSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentSpeaking
}

// IdleFor returns the time since the last inbound audio frame.
func (s *Session) IdleFor() time.Duration {
	last := s.lastActivity.Load()
	return time.Since(time.Unix(0, last))
}

// touch refreshes the inactivity clock and flips the session active on
// first audio.
func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
	s.mu.Lock()
	if !s.active {
		s.active = true
		s.log.Info("session active", "session_id", s.ID)
	}
	s.mu.Unlock()
}

// publish sends a datagram with the per-publish deadline. Failures are
// logged; a lost datagram never fails a stage.
func (s *Session) publish(d transport.Datagram, reliable bool) {
	ctx, cancel := context.WithTimeout(s.ctx, publishTimeout)
	defer cancel()
	if err := s.conn.PublishData(ctx, d.Encode(), reliable); err != nil && s.ctx.Err() == nil {
		s.log.Warn("datagram publish failed",
			"session_id", s.ID, "type", string(d.Type), "error", err)
	}
}

// emitFrame fans one TTS frame out to both sinks: the audio track and the
// unreliable datagram channel. Either sink failing or stalling past the
// deadline only costs that one frame.
func (s *Session) emitFrame(pcm []byte, segment, frame int) {
	ctx, cancel := context.WithTimeout(s.ctx, publishTimeout)
	defer cancel()
	if err := s.conn.WriteAudioFrame(ctx, pcm); err != nil && s.ctx.Err() == nil {
		s.log.Warn("audio frame write failed",
			"session_id", s.ID, "segment", segment, "frame", frame, "error", err)
	}
	s.publish(transport.TTSChunk(pcm, segment, frame), false)

	s.obs.TTSFrames.Add(s.ctx, 1)

	// First frame of a response closes the end-to-end latency window
	// opened by the triggering final transcript.
	s.mu.Lock()
	pending := s.e2ePending && segment == 1 && frame == 1
	var e2e time.Duration
	if pending {
		e2e = time.Since(s.lastASRFinal)
		s.e2ePending = false
	}
	s.mu.Unlock()
	if pending {
		s.metrics.RecordE2E(e2e)
		s.obs.E2EDuration.Record(s.ctx, e2e.Seconds())
		s.log.Info("first response frame",
			"session_id", s.ID, "e2e", e2e)
	}
}

// startConsumer launches a TTS consumer task. Barge-in cancels it and
// starts a replacement for subsequent responses.
func (s *Session) startConsumer() {
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.consumerCancel = cancel
	s.consumerDone = done
	s.mu.Unlock()

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer close(done)
		s.consumer.Run(ctx)
	}()
}

// stopConsumer cancels the running consumer and waits for it up to grace.
// Returns whether the consumer terminated in time; past the grace it is
// abandoned and will exit on its next cancellation check.
func (s *Session) stopConsumer(grace time.Duration) bool {
	s.mu.Lock()
	cancel := s.consumerCancel
	done := s.consumerDone
	s.mu.Unlock()
	if cancel == nil {
		return true
	}
	cancel()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// cancelLLM aborts the in-flight response stream, if any.
func (s *Session) cancelLLM() {
	s.mu.Lock()
	cancel := s.llmCancel
	s.llmCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// onASRPartial publishes the growing transcript.
func (s *Session) onASRPartial(text string, chunk int) {
	s.publish(transport.Transcript(transport.TypeASRPartial, text), true)
	s.log.Debug("transcript partial",
		"session_id", s.ID, "chunk", chunk, "text_len", len(text))
}

// onASRFinal publishes the final transcript and triggers a response. An
// empty final never reaches the language model.
func (s *Session) onASRFinal(text string) {
	s.publish(transport.Transcript(transport.TypeASRFinal, text), true)
	if text == "" {
		return
	}

	s.mu.Lock()
	s.lastASRFinal = time.Now()
	s.e2ePending = true
	s.mu.Unlock()

	// A new final supersedes any response still streaming.
	s.cancelLLM()

	llmCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.llmCancel = cancel
	s.mu.Unlock()

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer cancel()
		s.respond(llmCtx, text)
	}()
}

// respond runs one LLM request and enqueues the final text for synthesis.
func (s *Session) respond(ctx context.Context, userText string) {
	start := time.Now()
	text, err := s.responder.Respond(ctx, userText)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error("response generation failed",
			"session_id", s.ID, "error", err)
		s.metrics.RecordError()
		s.obs.RecordProviderError(s.ctx, "llm")
		return
	}
	latency := time.Since(start)
	s.metrics.RecordLLM(latency, providerllm.EstimateTokens(text))
	s.obs.LLMDuration.Record(s.ctx, latency.Seconds())

	if text == "" {
		return
	}
	if !s.queue.Enqueue(ctx, text) {
		s.metrics.RecordError()
	}
}
