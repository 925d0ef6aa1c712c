// Package metrics implements per-session pipeline metrics: counters and
// rolling latency samples accumulated while a voice session is live, a
// summary produced when it ends, a JSONL sink for summaries, and an
// aggregate view across sessions for the metrics endpoint.
//
// This package tracks application-level numbers (averages, target
// compliance, per-session summaries). Operational telemetry lives in
// internal/observe on the OpenTelemetry instruments.
package metrics

import (
	"sync"
	"time"
)

// Latency targets per pipeline stage, in milliseconds. The aggregate view
// reports whether observed averages stay within them.
const (
	TargetASRMs = 500
	TargetLLMMs = 300
	TargetTTSMs = 200
	TargetE2EMs = 1000
)

// defaultWindow bounds each latency sample list. Older samples are evicted
// so a long session reports recent behaviour, not its lifetime average.
const defaultWindow = 100

// window is a bounded FIFO of latency samples in milliseconds.
type window struct {
	samples []float64
	max     int
}

func (w *window) add(v float64) {
	if w.max <= 0 {
		w.max = defaultWindow
	}
	if len(w.samples) >= w.max {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:len(w.samples)-1]
	}
	w.samples = append(w.samples, v)
}

func (w *window) avg() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.samples {
		sum += v
	}
	return sum / float64(len(w.samples))
}

// Session accumulates metrics for one live voice session. All methods are
// safe for concurrent use; the pipeline stages feed it from their own
// goroutines.
type Session struct {
	mu        sync.Mutex
	sessionID string
	startedAt time.Time

	asrChunks int64
	llmTokens int64
	ttsFrames int64
	bargeIns  int64
	errors    int64

	asrMS window
	llmMS window
	ttsMS window
	e2eMS window
}

// NewSession creates an accumulator for the given session.
func NewSession(sessionID string) *Session {
	return &Session{sessionID: sessionID, startedAt: time.Now()}
}

// SessionID returns the identifier this accumulator was created with.
func (s *Session) SessionID() string { return s.sessionID }

// RecordASR records one completed transcription window.
func (s *Session) RecordASR(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asrChunks++
	s.asrMS.add(float64(latency) / float64(time.Millisecond))
}

// RecordLLM records one completed response stream and its token count.
func (s *Session) RecordLLM(latency time.Duration, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmTokens += int64(tokens)
	s.llmMS.add(float64(latency) / float64(time.Millisecond))
}

// RecordTTS records one completed segment synthesis and its frame count.
func (s *Session) RecordTTS(latency time.Duration, frames int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttsFrames += int64(frames)
	s.ttsMS.add(float64(latency) / float64(time.Millisecond))
}

// RecordE2E records one final-transcript-to-first-frame latency.
func (s *Session) RecordE2E(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.e2eMS.add(float64(latency) / float64(time.Millisecond))
}

// RecordBargeIn counts one mid-response interruption.
func (s *Session) RecordBargeIn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bargeIns++
}

// RecordError counts one pipeline error.
func (s *Session) RecordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

// Summary is the per-session record appended to the JSONL sink when the
// session ends.
type Summary struct {
	SessionID   string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	DurationSec float64   `json:"duration_sec"`

	ASRChunks int64 `json:"asr_chunks"`
	LLMTokens int64 `json:"llm_tokens"`
	TTSFrames int64 `json:"tts_frames"`
	BargeIns  int64 `json:"barge_ins"`
	Errors    int64 `json:"errors"`

	AvgASRMs float64 `json:"avg_asr_ms"`
	AvgLLMMs float64 `json:"avg_llm_ms"`
	AvgTTSMs float64 `json:"avg_tts_ms"`
	AvgE2EMs float64 `json:"avg_e2e_ms"`
}

// Summarize produces a point-in-time summary. The accumulator stays usable
// afterwards; Collector.EndSession calls this once when the session closes.
func (s *Session) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	return Summary{
		SessionID:   s.sessionID,
		StartedAt:   s.startedAt,
		EndedAt:     now,
		DurationSec: now.Sub(s.startedAt).Seconds(),
		ASRChunks:   s.asrChunks,
		LLMTokens:   s.llmTokens,
		TTSFrames:   s.ttsFrames,
		BargeIns:    s.bargeIns,
		Errors:      s.errors,
		AvgASRMs:    s.asrMS.avg(),
		AvgLLMMs:    s.llmMS.avg(),
		AvgTTSMs:    s.ttsMS.avg(),
		AvgE2EMs:    s.e2eMS.avg(),
	}
}
