package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mvolkert/ekho/internal/resilience"
	"github.com/mvolkert/ekho/pkg/provider"
	"github.com/mvolkert/ekho/pkg/provider/llm"
)

// scriptedChat plays back a fixed set of deltas per request. openErrs are
// consumed first, one per StreamChat call, to simulate failures opening
// the stream.
type scriptedChat struct {
	deltas    []string
	streamErr error
	openErrs  []error

	calls    int
	lastReq  llm.Request
	slowSend time.Duration
}

func (s *scriptedChat) StreamChat(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	s.calls++
	s.lastReq = req
	if len(s.openErrs) > 0 {
		err := s.openErrs[0]
		s.openErrs = s.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, d := range s.deltas {
			if s.slowSend > 0 {
				select {
				case <-time.After(s.slowSend):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- llm.Chunk{Delta: d}:
			case <-ctx.Done():
				return
			}
		}
		if s.streamErr != nil {
			select {
			case ch <- llm.Chunk{Err: s.streamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

type recorder struct {
	partials []string
	finals   []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnPartial: func(text string, _ int) { r.partials = append(r.partials, text) },
		OnFinal:   func(text string, _ int) { r.finals = append(r.finals, text) },
	}
}

func fastConfig() Config {
	return Config{
		SessionID:     "ws_test",
		PartialMinGap: time.Nanosecond,
		Retry:         resilience.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
}

func deltas(words ...string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		if i == 0 {
			out[i] = w
		} else {
			out[i] = " " + w
		}
	}
	return out
}

func TestRespond_StreamsAndCommits(t *testing.T) {
	chat := &scriptedChat{deltas: deltas("The", "moon", "drifts", "away", "each", "year", "slowly", ".")}
	rec := &recorder{}
	r := NewResponder(chat, rec.callbacks(), fastConfig())

	text, err := r.Respond(context.Background(), "tell me a fact about space")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	want := "The moon drifts away each year slowly ."
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}

	// 8 deltas with PartialEvery=5 gives exactly one partial.
	if len(rec.partials) != 1 {
		t.Errorf("partials = %v, want 1", rec.partials)
	}
	if len(rec.finals) != 1 || rec.finals[0] != want {
		t.Errorf("finals = %v", rec.finals)
	}

	hist := r.History()
	if len(hist) != 2 {
		t.Fatalf("history = %d messages, want 2", len(hist))
	}
	if hist[0].Role != llm.RoleUser || hist[1].Role != llm.RoleAssistant {
		t.Errorf("history roles = %s/%s", hist[0].Role, hist[1].Role)
	}
}

func TestRespond_PartialsAreMonotonic(t *testing.T) {
	words := make([]string, 20)
	for i := range words {
		words[i] = "w"
	}
	chat := &scriptedChat{deltas: deltas(words...)}
	rec := &recorder{}
	r := NewResponder(chat, rec.callbacks(), fastConfig())

	if _, err := r.Respond(context.Background(), "go"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	for i := 1; i < len(rec.partials); i++ {
		if !strings.HasPrefix(rec.partials[i], rec.partials[i-1]) {
			t.Errorf("partial %d %q does not extend %q", i, rec.partials[i], rec.partials[i-1])
		}
	}
}

func TestRespond_RequestIncludesSystemPromptAndHistory(t *testing.T) {
	chat := &scriptedChat{deltas: deltas("first", "answer", "here", "now", "ok")}
	r := NewResponder(chat, Callbacks{}, fastConfig())

	if _, err := r.Respond(context.Background(), "question one"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if _, err := r.Respond(context.Background(), "question two"); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	msgs := chat.lastReq.Messages
	if msgs[0].Role != llm.RoleSystem || !strings.Contains(msgs[0].Content, "voice conversation") {
		t.Errorf("first message = %+v, want system prompt", msgs[0])
	}
	// system + (user, assistant) from turn one + new user turn.
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[3].Role != llm.RoleUser || msgs[3].Content != "question two" {
		t.Errorf("last message = %+v", msgs[3])
	}
}

func TestRespond_EmptyStreamFinalizesWithoutCommit(t *testing.T) {
	chat := &scriptedChat{}
	rec := &recorder{}
	r := NewResponder(chat, rec.callbacks(), fastConfig())

	text, err := r.Respond(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
	if len(rec.finals) != 1 || rec.finals[0] != "" {
		t.Errorf("finals = %v, want one empty final", rec.finals)
	}
	if len(r.History()) != 0 {
		t.Errorf("history = %v, want empty", r.History())
	}
}

func TestRespond_CancellationSuppressesFinal(t *testing.T) {
	chat := &scriptedChat{
		deltas:   deltas(make([]string, 50)...),
		slowSend: 5 * time.Millisecond,
	}
	rec := &recorder{}
	r := NewResponder(chat, rec.callbacks(), fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := r.Respond(ctx, "long question")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(rec.finals) != 0 {
		t.Errorf("finals = %v, want none after cancellation", rec.finals)
	}
	if len(r.History()) != 0 {
		t.Errorf("history should be unchanged, got %v", r.History())
	}
}

func TestRespond_RetriesOpeningStream(t *testing.T) {
	chat := &scriptedChat{
		openErrs: []error{
			provider.NewStatusError("llm", 503, []byte("busy")),
			provider.NewStatusError("llm", 503, []byte("busy")),
			nil,
		},
		deltas: deltas("recovered", "fine", "after", "retries", "done"),
	}
	rec := &recorder{}
	r := NewResponder(chat, rec.callbacks(), fastConfig())

	text, err := r.Respond(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if chat.calls != 3 {
		t.Errorf("StreamChat calls = %d, want 3", chat.calls)
	}
	if !strings.HasPrefix(text, "recovered") {
		t.Errorf("text = %q", text)
	}
}

func TestRespond_BrokenStreamKeepsDeliveredText(t *testing.T) {
	chat := &scriptedChat{
		deltas:    deltas("partial", "answer", "before", "the", "break"),
		streamErr: errors.New("connection reset"),
	}
	rec := &recorder{}
	r := NewResponder(chat, rec.callbacks(), fastConfig())

	text, err := r.Respond(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(text, "before the break") {
		t.Errorf("text = %q", text)
	}
	if len(rec.finals) != 1 {
		t.Errorf("finals = %v, want one", rec.finals)
	}
}

func TestCommit_PrunesByTurnsAndTokens(t *testing.T) {
	cfg := fastConfig()
	cfg.HistoryTurns = 2
	r := NewResponder(&scriptedChat{}, Callbacks{}, cfg)

	for _, q := range []string{"one", "two", "three"} {
		r.commit(q, "answer to "+q)
	}
	hist := r.History()
	if len(hist) != 4 {
		t.Fatalf("history = %d messages, want 4", len(hist))
	}
	if hist[0].Content != "two" {
		t.Errorf("oldest turn = %q, want two", hist[0].Content)
	}

	// Token budget pruning: one huge old turn gets evicted.
	cfg = fastConfig()
	cfg.HistoryTokens = 50
	r = NewResponder(&scriptedChat{}, Callbacks{}, cfg)
	r.commit("old", strings.Repeat("x", 400))
	r.commit("new", "short")
	hist = r.History()
	if len(hist) != 2 || hist[0].Content != "new" {
		t.Errorf("history after token pruning = %+v", hist)
	}
}
