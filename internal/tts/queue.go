package tts

import (
	"context"
	"log/slog"
	"time"
)

// enqueueDeadline is how long Enqueue blocks on a full queue before
// dropping the response.
const enqueueDeadline = 500 * time.Millisecond

// Queue is the bounded FIFO of finalized response texts awaiting
// synthesis.
type Queue struct {
	ch        chan string
	sessionID string
	log       *slog.Logger
}

// NewQueue creates a queue with the given capacity.
func NewQueue(sessionID string, capacity int, log *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 16
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{ch: make(chan string, capacity), sessionID: sessionID, log: log}
}

// Enqueue offers text to the consumer. On a full queue it blocks up to
// the deadline, then drops the response and logs. Returns whether the
// text was accepted.
func (q *Queue) Enqueue(ctx context.Context, text string) bool {
	select {
	case q.ch <- text:
		return true
	default:
	}

	timer := time.NewTimer(enqueueDeadline)
	defer timer.Stop()
	select {
	case q.ch <- text:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}
	q.log.Warn("synthesis queue full, dropping response",
		"session_id", q.sessionID, "text_len", len(text))
	return false
}

// C exposes the receive side for the consumer.
func (q *Queue) C() <-chan string { return q.ch }

// Drain discards all queued responses. Called on barge-in and shutdown.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}
