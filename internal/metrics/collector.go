package metrics

import (
	"log/slog"
	"sync"
)

// Targets reports, per pipeline stage, whether the aggregate average
// latency stays within its target.
type Targets struct {
	ASRWithinTarget bool `json:"asr_within_target"`
	LLMWithinTarget bool `json:"llm_within_target"`
	TTSWithinTarget bool `json:"tts_within_target"`
	E2EWithinTarget bool `json:"e2e_within_target"`
}

// Aggregate is the cross-session view served by the metrics endpoint. Live
// sessions contribute their current numbers; ended sessions contribute
// their final summaries (most recent first, bounded).
type Aggregate struct {
	ActiveSessions    int   `json:"active_sessions"`
	CompletedSessions int   `json:"completed_sessions"`
	TotalASRChunks    int64 `json:"total_asr_chunks"`
	TotalLLMTokens    int64 `json:"total_llm_tokens"`
	TotalTTSFrames    int64 `json:"total_tts_frames"`
	TotalBargeIns     int64 `json:"total_barge_ins"`
	TotalErrors       int64 `json:"total_errors"`

	AvgASRMs float64 `json:"avg_asr_ms"`
	AvgLLMMs float64 `json:"avg_llm_ms"`
	AvgTTSMs float64 `json:"avg_tts_ms"`
	AvgE2EMs float64 `json:"avg_e2e_ms"`

	LatencyTargets Targets `json:"latency_targets"`
}

// Collector tracks live session accumulators and a bounded history of
// completed session summaries.
type Collector struct {
	mu     sync.Mutex
	active map[string]*Session
	recent []Summary // newest last, bounded by maxRecent

	maxRecent int
	sink      SummaryWriter // may be nil
	log       *slog.Logger
}

// CollectorOption configures a [Collector].
type CollectorOption func(*Collector)

// WithSink sets the writer completed summaries are persisted to.
func WithSink(w SummaryWriter) CollectorOption {
	return func(c *Collector) { c.sink = w }
}

// WithHistory bounds the number of retained completed summaries.
func WithHistory(n int) CollectorOption {
	return func(c *Collector) { c.maxRecent = n }
}

// WithLogger sets the logger used for sink write failures.
func WithLogger(l *slog.Logger) CollectorOption {
	return func(c *Collector) { c.log = l }
}

// NewCollector creates a collector with a history of 100 summaries by
// default.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		active:    make(map[string]*Session),
		maxRecent: defaultWindow,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartSession registers and returns a fresh accumulator for sessionID. An
// existing accumulator under the same ID is replaced.
func (c *Collector) StartSession(sessionID string) *Session {
	s := NewSession(sessionID)
	c.mu.Lock()
	c.active[sessionID] = s
	c.mu.Unlock()
	return s
}

// EndSession finalises the accumulator for sessionID: it is removed from
// the active set, its summary is added to the history and written to the
// sink. Returns the zero Summary when the session is unknown. Sink write
// failures are logged, not returned; losing a metrics line must not fail
// session teardown.
func (c *Collector) EndSession(sessionID string) Summary {
	c.mu.Lock()
	s, ok := c.active[sessionID]
	if !ok {
		c.mu.Unlock()
		return Summary{}
	}
	delete(c.active, sessionID)
	c.mu.Unlock()

	sum := s.Summarize()

	c.mu.Lock()
	if len(c.recent) >= c.maxRecent {
		copy(c.recent, c.recent[1:])
		c.recent = c.recent[:len(c.recent)-1]
	}
	c.recent = append(c.recent, sum)
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		if err := sink.Write(sum); err != nil {
			c.log.Error("failed to persist session summary",
				"session_id", sessionID, "error", err)
		}
	}
	return sum
}

// Aggregate computes the cross-session view over live sessions and the
// retained history.
func (c *Collector) Aggregate() Aggregate {
	c.mu.Lock()
	sums := make([]Summary, 0, len(c.active)+len(c.recent))
	for _, s := range c.active {
		sums = append(sums, s.Summarize())
	}
	activeCount := len(c.active)
	sums = append(sums, c.recent...)
	completed := len(c.recent)
	c.mu.Unlock()

	agg := Aggregate{
		ActiveSessions:    activeCount,
		CompletedSessions: completed,
	}

	var asrSum, llmSum, ttsSum, e2eSum float64
	var asrN, llmN, ttsN, e2eN int
	for _, s := range sums {
		agg.TotalASRChunks += s.ASRChunks
		agg.TotalLLMTokens += s.LLMTokens
		agg.TotalTTSFrames += s.TTSFrames
		agg.TotalBargeIns += s.BargeIns
		agg.TotalErrors += s.Errors
		if s.AvgASRMs > 0 {
			asrSum += s.AvgASRMs
			asrN++
		}
		if s.AvgLLMMs > 0 {
			llmSum += s.AvgLLMMs
			llmN++
		}
		if s.AvgTTSMs > 0 {
			ttsSum += s.AvgTTSMs
			ttsN++
		}
		if s.AvgE2EMs > 0 {
			e2eSum += s.AvgE2EMs
			e2eN++
		}
	}
	if asrN > 0 {
		agg.AvgASRMs = asrSum / float64(asrN)
	}
	if llmN > 0 {
		agg.AvgLLMMs = llmSum / float64(llmN)
	}
	if ttsN > 0 {
		agg.AvgTTSMs = ttsSum / float64(ttsN)
	}
	if e2eN > 0 {
		agg.AvgE2EMs = e2eSum / float64(e2eN)
	}

	// A stage with no samples yet counts as within target.
	agg.LatencyTargets = Targets{
		ASRWithinTarget: agg.AvgASRMs <= TargetASRMs,
		LLMWithinTarget: agg.AvgLLMMs <= TargetLLMMs,
		TTSWithinTarget: agg.AvgTTSMs <= TargetTTSMs,
		E2EWithinTarget: agg.AvgE2EMs <= TargetE2EMs,
	}
	return agg
}
