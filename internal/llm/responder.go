// Package llm turns finalized transcripts into streamed agent responses.
// The responder keeps a rolling conversation history, opens a streaming
// chat completion per user turn, emits partial text while tokens arrive,
// and commits the exchange to history only when the stream completes.
package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mvolkert/ekho/internal/observe"
	"github.com/mvolkert/ekho/internal/resilience"
	"github.com/mvolkert/ekho/pkg/provider"
	"github.com/mvolkert/ekho/pkg/provider/llm"
)

// DefaultSystemPrompt frames the model as a voice agent. Responses are
// spoken aloud, so it pushes for short answers.
const DefaultSystemPrompt = "You are a helpful AI assistant in a voice conversation. " +
	"Keep responses concise and conversational (2-3 sentences max). " +
	"Remember previous context."

// Callbacks connects the responder to the coordinator. Nil fields are
// skipped.
type Callbacks struct {
	// OnPartial receives the accumulated response text while the stream
	// is open, throttled by delta count and wall time.
	OnPartial func(text string, tokens int)

	// OnFinal receives the complete response exactly once per
	// uncancelled request. An empty stream still produces a final with
	// empty text.
	OnFinal func(text string, tokens int)
}

// Config tunes a [Responder].
type Config struct {
	SessionID    string
	SystemPrompt string

	MaxTokens   int     // default 256
	Temperature float64 // default 0.8

	// HistoryTurns caps remembered exchanges. Default 10.
	HistoryTurns int

	// HistoryTokens is the approximate token budget for history. Default 512.
	HistoryTokens int

	// PartialEvery emits a partial after this many deltas. Default 5.
	PartialEvery int

	// PartialMinGap is the minimum time between partials. Default 100ms.
	PartialMinGap time.Duration

	// RequestTimeout bounds the whole stream. Default 30s.
	RequestTimeout time.Duration

	// Retry applies to opening the stream. Zero value uses the default
	// policy.
	Retry resilience.Policy

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 256
	}
	if c.Temperature == 0 {
		c.Temperature = 0.8
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 10
	}
	if c.HistoryTokens <= 0 {
		c.HistoryTokens = 512
	}
	if c.PartialEvery <= 0 {
		c.PartialEvery = 5
	}
	if c.PartialMinGap <= 0 {
		c.PartialMinGap = 100 * time.Millisecond
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Responder owns one session's conversation with the language model.
type Responder struct {
	chat llm.ChatStreamer
	cfg  Config
	cb   Callbacks

	mu      sync.Mutex
	history []llm.Message // alternating user/assistant turns
}

// NewResponder creates a responder streaming from chat.
func NewResponder(chat llm.ChatStreamer, cb Callbacks, cfg Config) *Responder {
	return &Responder{chat: chat, cfg: cfg.withDefaults(), cb: cb}
}

// Respond streams one reply to userText. It blocks until the stream
// closes or ctx is cancelled. On success it returns the full response
// text after emitting OnFinal and committing the exchange to history. On
// cancellation it returns ctx.Err() with no final emitted and history
// untouched.
func (r *Responder) Respond(ctx context.Context, userText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "llm.respond")
	defer span.End()

	req := llm.Request{
		Messages:    r.buildMessages(userText),
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	}

	var stream <-chan llm.Chunk
	err := resilience.Retry(ctx, r.cfg.Retry, provider.IsRetryable, func(ctx context.Context) error {
		var err error
		stream, err = r.chat.StreamChat(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}

	var (
		text        string
		deltas      int
		sinceEmit   int
		lastPartial time.Time
	)
	for chunk := range stream {
		if chunk.Err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// A broken stream with content already delivered still
			// finalizes; the user hears what the model said so far.
			r.cfg.Logger.Warn("response stream broke",
				"session_id", r.cfg.SessionID, "error", chunk.Err)
			if text == "" {
				return "", chunk.Err
			}
			break
		}
		if chunk.Delta == "" {
			continue
		}
		text += chunk.Delta
		deltas++
		sinceEmit++

		if sinceEmit >= r.cfg.PartialEvery && time.Since(lastPartial) >= r.cfg.PartialMinGap {
			if r.cb.OnPartial != nil {
				r.cb.OnPartial(text, llm.EstimateTokens(text))
			}
			sinceEmit = 0
			lastPartial = time.Now()
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	tokens := llm.EstimateTokens(text)
	if r.cb.OnFinal != nil {
		r.cb.OnFinal(text, tokens)
	}
	if text != "" {
		r.commit(userText, text)
	}
	return text, nil
}

// buildMessages assembles system prompt, history, and the new user turn.
func (r *Responder) buildMessages(userText string) []llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := make([]llm.Message, 0, len(r.history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: r.cfg.SystemPrompt})
	msgs = append(msgs, r.history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userText})
	return msgs
}

// commit appends the exchange and prunes oldest turns past the turn cap
// or token budget.
func (r *Responder) commit(userText, agentText string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history,
		llm.Message{Role: llm.RoleUser, Content: userText},
		llm.Message{Role: llm.RoleAssistant, Content: agentText},
	)

	maxMsgs := r.cfg.HistoryTurns * 2
	for len(r.history) > maxMsgs {
		r.history = r.history[2:]
	}
	for len(r.history) > 2 && llm.EstimateMessageTokens(r.history) > r.cfg.HistoryTokens {
		r.history = r.history[2:]
	}
}

// History returns a copy of the committed turns.
func (r *Responder) History() []llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]llm.Message, len(r.history))
	copy(out, r.history)
	return out
}
