// Package llm defines the chat-completion contract the pipeline consumes.
package llm

import "context"

// ChatStreamer opens token-streaming chat completions. The returned channel
// delivers deltas in order and is closed when the stream ends; cancelling
// ctx aborts the underlying request.
type ChatStreamer interface {
	StreamChat(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Request describes one streaming chat completion.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Chunk is one SSE delta from a streaming completion. A non-nil Err ends the
// stream; FinishReason is set on the closing chunk ("stop", "length", ...).
type Chunk struct {
	Delta        string
	FinishReason string
	Err          error
}

// EstimateTokens approximates the token count of a text using the rough
// GPT-series heuristic of ~4 characters per token.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EstimateMessageTokens approximates the token cost of a message list,
// including a small per-message formatting overhead.
func EstimateMessageTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content) + 4
	}
	return total
}
