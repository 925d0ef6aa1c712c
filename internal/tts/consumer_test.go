package tts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mvolkert/ekho/pkg/audio"
	"github.com/mvolkert/ekho/pkg/provider/tts"
)

// fakeSynth returns silence of a fixed duration per request, in the
// configured output format.
type fakeSynth struct {
	duration time.Duration
	rate     int
	channels int
	err      error

	mu    sync.Mutex
	calls []string
}

func (f *fakeSynth) Name() string { return "fake" }

func (f *fakeSynth) Synthesize(_ context.Context, req tts.Request) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rate := f.rate
	if rate == 0 {
		rate = 16000
	}
	channels := f.channels
	if channels == 0 {
		channels = 1
	}
	n := int(f.duration.Seconds()*float64(rate)) * channels * 2
	return audio.EncodeWAV(make([]byte, n), rate, channels), nil
}

type frameRec struct {
	mu       sync.Mutex
	frames   []int // frame index per emission
	segments []int
	sizes    []int
	speaking []bool
}

func (r *frameRec) callbacks() Callbacks {
	return Callbacks{
		OnFrame: func(pcm []byte, segment, frame int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.frames = append(r.frames, frame)
			r.segments = append(r.segments, segment)
			r.sizes = append(r.sizes, len(pcm))
		},
		OnSpeaking: func(s bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.speaking = append(r.speaking, s)
		},
	}
}

func TestSpeak_FramesOrderedAndPadded(t *testing.T) {
	// 90ms of audio yields ceil(90/20) = 5 frames, last one padded.
	synth := &fakeSynth{duration: 90 * time.Millisecond}
	rec := &frameRec{}
	c := NewConsumer(NewQueue("ws_test", 4, nil), synth, rec.callbacks(), Config{SessionID: "ws_test"})

	c.speak(context.Background(), "Hello there.")

	if len(rec.frames) != 5 {
		t.Fatalf("frames = %d, want 5", len(rec.frames))
	}
	for i, fi := range rec.frames {
		if fi != i+1 {
			t.Errorf("frame index %d = %d, want %d", i, fi, i+1)
		}
		if rec.sizes[i] != FrameBytes {
			t.Errorf("frame %d size = %d, want %d", i, rec.sizes[i], FrameBytes)
		}
		if rec.segments[i] != 1 {
			t.Errorf("frame %d segment = %d, want 1", i, rec.segments[i])
		}
	}
	if len(rec.speaking) != 2 || !rec.speaking[0] || rec.speaking[1] {
		t.Errorf("speaking transitions = %v, want [true false]", rec.speaking)
	}
}

func TestSpeak_ResamplesProviderAudio(t *testing.T) {
	// 100ms at 22050Hz stereo must still produce 20ms pipeline frames.
	synth := &fakeSynth{duration: 100 * time.Millisecond, rate: 22050, channels: 2}
	rec := &frameRec{}
	c := NewConsumer(NewQueue("ws_test", 4, nil), synth, rec.callbacks(), Config{SessionID: "ws_test"})

	c.speak(context.Background(), "Resample me.")

	if len(rec.frames) != 5 {
		t.Errorf("frames = %d, want 5 for 100ms", len(rec.frames))
	}
	for i, size := range rec.sizes {
		if size != FrameBytes {
			t.Errorf("frame %d size = %d, want %d", i, size, FrameBytes)
		}
	}
}

func TestSpeak_MultipleSegments(t *testing.T) {
	synth := &fakeSynth{duration: 20 * time.Millisecond}
	rec := &frameRec{}
	c := NewConsumer(NewQueue("ws_test", 4, nil), synth, rec.callbacks(), Config{SessionID: "ws_test", MaxSentences: 1})

	c.speak(context.Background(), "One. Two.")

	if len(synth.calls) != 2 {
		t.Fatalf("synthesis calls = %v, want 2", synth.calls)
	}
	if len(rec.segments) != 2 || rec.segments[0] != 1 || rec.segments[1] != 2 {
		t.Errorf("segments = %v, want [1 2]", rec.segments)
	}
	// Frame index restarts per segment.
	if rec.frames[0] != 1 || rec.frames[1] != 1 {
		t.Errorf("frames = %v, want [1 1]", rec.frames)
	}
}

func TestSpeak_SynthesisFailureSkipsSegment(t *testing.T) {
	synth := &fakeSynth{err: errors.New("both providers down")}
	rec := &frameRec{}
	var errs []error
	cb := rec.callbacks()
	cb.OnError = func(err error) { errs = append(errs, err) }
	c := NewConsumer(NewQueue("ws_test", 4, nil), synth, cb, Config{SessionID: "ws_test", MaxSentences: 1})

	c.speak(context.Background(), "One. Two.")

	if len(rec.frames) != 0 {
		t.Errorf("frames = %d, want 0", len(rec.frames))
	}
	if len(errs) != 2 {
		t.Errorf("errors = %d, want one per segment", len(errs))
	}
	// Both segments were still attempted.
	if len(synth.calls) != 2 {
		t.Errorf("synthesis calls = %v", synth.calls)
	}
}

func TestSpeak_CancelStopsFrames(t *testing.T) {
	synth := &fakeSynth{duration: 2 * time.Second} // 100 frames
	rec := &frameRec{}
	c := NewConsumer(NewQueue("ws_test", 4, nil), synth, rec.callbacks(), Config{SessionID: "ws_test"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.speak(ctx, "A very long response that keeps talking.")
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("speak did not stop after cancel")
	}

	rec.mu.Lock()
	emitted := len(rec.frames)
	rec.mu.Unlock()
	if emitted == 0 || emitted > 20 {
		t.Errorf("frames emitted = %d, want a handful before cancel", emitted)
	}
}

func TestRun_ConsumesQueueUntilCancelled(t *testing.T) {
	synth := &fakeSynth{duration: 20 * time.Millisecond}
	rec := &frameRec{}
	q := NewQueue("ws_test", 4, nil)
	c := NewConsumer(q, synth, rec.callbacks(), Config{SessionID: "ws_test"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	q.Enqueue(ctx, "Hi.")
	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.frames) == 0 {
		t.Error("no frames emitted for queued response")
	}
}
