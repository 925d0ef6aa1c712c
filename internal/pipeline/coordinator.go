package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mvolkert/ekho/internal/asr"
	"github.com/mvolkert/ekho/internal/config"
	"github.com/mvolkert/ekho/internal/ingress"
	"github.com/mvolkert/ekho/internal/llm"
	"github.com/mvolkert/ekho/internal/metrics"
	"github.com/mvolkert/ekho/internal/observe"
	"github.com/mvolkert/ekho/internal/tts"
	"github.com/mvolkert/ekho/pkg/audio"
	providerllm "github.com/mvolkert/ekho/pkg/provider/llm"
	"github.com/mvolkert/ekho/pkg/provider/stt"
	providertts "github.com/mvolkert/ekho/pkg/provider/tts"
	"github.com/mvolkert/ekho/pkg/transport"
)

// ErrQuotaExceeded rejects session creation past the concurrency cap.
var ErrQuotaExceeded = errors.New("pipeline: concurrent session quota exceeded")

// Queue and buffer sizing.
const (
	queueCapacity = 16
	ringSeconds   = 1
	bargeInGrace  = 200 * time.Millisecond
)

// Deps bundles the external services and sinks a coordinator needs.
type Deps struct {
	STT       stt.Transcriber
	Chat      providerllm.ChatStreamer
	Synth     providertts.Synthesizer
	Collector *metrics.Collector
	Obs       *observe.Metrics
	Logger    *slog.Logger
}

// Coordinator owns the session registry and the cross-stage wiring.
type Coordinator struct {
	cfg  *config.Config
	deps Deps
	log  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewCoordinator creates a coordinator for the given configuration.
func NewCoordinator(cfg *config.Config, deps Deps) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Collector == nil {
		deps.Collector = metrics.NewCollector()
	}
	if deps.Obs == nil {
		deps.Obs = observe.DefaultMetrics()
	}
	return &Coordinator{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger,
		sessions: make(map[string]*Session),
	}
}

// SessionID derives the stable session identifier from a participant.
func SessionID(p transport.Participant) string {
	return "ws_" + p.Identity
}

// CreateSession builds and starts a session for conn. It fails with
// [ErrQuotaExceeded] when the concurrency cap is reached, leaving no
// partial state behind.
func (c *Coordinator) CreateSession(ctx context.Context, conn transport.Conn) (*Session, error) {
	id := SessionID(conn.Participant())

	c.mu.Lock()
	if len(c.sessions) >= c.cfg.Session.MaxConcurrent {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %d active", ErrQuotaExceeded, c.cfg.Session.MaxConcurrent)
	}
	if _, exists := c.sessions[id]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("pipeline: session %q already exists", id)
	}
	s := c.buildSession(ctx, id, conn)
	c.sessions[id] = s
	c.mu.Unlock()

	s.startConsumer()
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		s.windower.Run(s.ctx)
	}()

	c.deps.Obs.ActiveSessions.Add(s.ctx, 1)
	c.log.Info("session created",
		"session_id", id, "identity", conn.Participant().Identity)
	return s, nil
}

// buildSession assembles the stages and their callback wiring. Called
// with the registry lock held; does not start any task.
func (c *Coordinator) buildSession(ctx context.Context, id string, conn transport.Conn) *Session {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		conn:      conn,
		ring:      audio.NewRing(ringSeconds * ingress.PipelineRate),
		metrics:   c.deps.Collector.StartSession(id),
		obs:       c.deps.Obs,
		log:       c.log,
		ctx:       sctx,
		cancel:    cancel,
	}
	s.lastActivity.Store(time.Now().UnixNano())

	s.queue = tts.NewQueue(id, queueCapacity, c.log)

	s.ingress = ingress.New(id, s.ring,
		ingress.WithLogger(c.log),
		ingress.WithLogEvery(c.cfg.ASR.LogFramesEvery),
		ingress.WithActivityFunc(s.touch),
	)

	s.windower = asr.NewWindower(s.ring, c.deps.STT, asr.Callbacks{
		OnPartial: s.onASRPartial,
		OnFinal:   s.onASRFinal,
		OnLatency: func(d time.Duration) {
			s.metrics.RecordASR(d)
			c.deps.Obs.ASRDuration.Record(s.ctx, d.Seconds())
		},
		OnError: func(err error) {
			s.metrics.RecordError()
			c.deps.Obs.RecordProviderError(s.ctx, "whisper")
		},
	}, asr.Config{
		SessionID:    id,
		Window:       time.Duration(c.cfg.ASR.WindowMs) * time.Millisecond,
		Slide:        time.Duration(c.cfg.ASR.SlideMs) * time.Millisecond,
		Silence:      time.Duration(c.cfg.ASR.SilenceMs) * time.Millisecond,
		RMSThreshold: c.cfg.ASR.RMSThreshold,
		Logger:       c.log,
	})

	s.responder = llm.NewResponder(c.deps.Chat, llm.Callbacks{
		OnPartial: func(text string, _ int) {
			s.publish(transport.Transcript(transport.TypeLLMPartial, text), true)
		},
		OnFinal: func(text string, tokens int) {
			s.publish(transport.Transcript(transport.TypeLLMFinal, text), true)
		},
	}, llm.Config{
		SessionID:     id,
		MaxTokens:     c.cfg.LLM.MaxTokens,
		Temperature:   c.cfg.LLM.Temperature,
		HistoryTurns:  c.cfg.LLM.MaxHistoryTurns,
		HistoryTokens: c.cfg.LLM.MemoryContextTokens,
		Logger:        c.log,
	})

	s.consumer = tts.NewConsumer(s.queue, c.deps.Synth, tts.Callbacks{
		OnFrame: s.emitFrame,
		OnSpeaking: func(speaking bool) {
			s.mu.Lock()
			s.agentSpeaking = speaking
			s.mu.Unlock()
		},
		OnSegment: func(latency time.Duration, frames int) {
			s.metrics.RecordTTS(latency, frames)
			c.deps.Obs.TTSDuration.Record(s.ctx, latency.Seconds())
		},
		OnError: func(err error) {
			s.metrics.RecordError()
			c.deps.Obs.RecordProviderError(s.ctx, "tts")
		},
	}, tts.Config{
		SessionID:    id,
		Voice:        c.cfg.TTS.Voice,
		Description:  c.cfg.VoiceDescription(),
		Language:     c.cfg.TTS.Language,
		MaxSentences: c.cfg.TTS.ChunkSizeSentences,
		Logger:       c.log,
	})

	return s
}

// Session returns the live session with the given ID, if any.
func (c *Coordinator) Session(id string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

// SessionCount returns the number of live sessions.
func (c *Coordinator) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// HandleBargeIn interrupts the agent mid-response: stop emitting frames,
// abort the response stream, flush pending responses, acknowledge to the
// client, and stand up a fresh consumer for what comes next.
func (c *Coordinator) HandleBargeIn(sessionID string) {
	s, ok := c.Session(sessionID)
	if !ok {
		return
	}
	start := time.Now()

	stopped := s.stopConsumer(bargeInGrace)
	s.cancelLLM()
	dropped := s.queue.Drain()

	s.mu.Lock()
	s.agentSpeaking = false
	s.e2ePending = false
	s.mu.Unlock()

	s.metrics.RecordBargeIn()
	c.deps.Obs.BargeIns.Add(s.ctx, 1)

	s.publish(transport.AgentInterrupted(), true)
	s.startConsumer()

	c.log.Info("barge-in handled",
		"session_id", sessionID,
		"latency", time.Since(start),
		"dropped_responses", dropped,
		"consumer_stopped_in_grace", stopped)
}

// CloseSession tears a session down: cancel every task, wait for them to
// join, flush the transcript in progress, persist the metrics summary and
// release the transport.
func (c *Coordinator) CloseSession(sessionID string) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	s.cancel()
	s.tasks.Wait()
	s.queue.Drain()

	sum := c.deps.Collector.EndSession(sessionID)
	c.deps.Obs.ActiveSessions.Add(context.Background(), -1)
	s.conn.Close()

	c.log.Info("session closed",
		"session_id", sessionID,
		"duration_sec", sum.DurationSec,
		"asr_chunks", sum.ASRChunks,
		"llm_tokens", sum.LLMTokens,
		"tts_frames", sum.TTSFrames,
		"barge_ins", sum.BargeIns,
		"errors", sum.Errors)
}

// CloseAll tears down every live session. Used at server shutdown.
func (c *Coordinator) CloseAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.CloseSession(id)
	}
}

// RunExpiry reclaims sessions idle past the configured expiry, sweeping
// once a minute (or more often for short expiries). Blocks until ctx is
// cancelled.
func (c *Coordinator) RunExpiry(ctx context.Context) error {
	expiry := c.cfg.SessionExpiry()
	sweep := time.Minute
	if expiry < 4*sweep {
		sweep = expiry / 4
	}
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.expireIdle(expiry)
		}
	}
}

func (c *Coordinator) expireIdle(expiry time.Duration) {
	c.mu.Lock()
	var idle []string
	for id, s := range c.sessions {
		if s.IdleFor() > expiry {
			idle = append(idle, id)
		}
	}
	c.mu.Unlock()

	for _, id := range idle {
		c.log.Info("session expired", "session_id", id)
		c.CloseSession(id)
	}
}
