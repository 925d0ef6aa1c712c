package app

import (
	"context"
	"encoding/binary"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mvolkert/ekho/internal/config"
	"github.com/mvolkert/ekho/internal/metrics"
	"github.com/mvolkert/ekho/internal/observe"
	"github.com/mvolkert/ekho/internal/pipeline"
	"github.com/mvolkert/ekho/pkg/audio"
	providerllm "github.com/mvolkert/ekho/pkg/provider/llm"
	"github.com/mvolkert/ekho/pkg/provider/tts"
	"github.com/mvolkert/ekho/pkg/transport"
	"github.com/mvolkert/ekho/pkg/transport/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type stubSTT struct {
	mu    sync.Mutex
	text  string
	calls int
}

func (s *stubSTT) Transcribe(context.Context, []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.text, nil
}

type stubChat struct {
	response string
}

func (s *stubChat) StreamChat(ctx context.Context, _ providerllm.Request) (<-chan providerllm.Chunk, error) {
	ch := make(chan providerllm.Chunk)
	go func() {
		defer close(ch)
		for _, w := range strings.SplitAfter(s.response, " ") {
			select {
			case ch <- providerllm.Chunk{Delta: w}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

type stubSynth struct{}

func (stubSynth) Name() string { return "stub" }

func (stubSynth) Synthesize(context.Context, tts.Request) ([]byte, error) {
	return audio.EncodeWAV(make([]byte, 1920), 16000, 1), nil
}

func testWorker(t *testing.T, cfg *config.Config) *Worker {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	obs, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	coord := pipeline.NewCoordinator(cfg, pipeline.Deps{
		STT:       &stubSTT{text: "hello there"},
		Chat:      &stubChat{response: "Hi. How can I help?"},
		Synth:     stubSynth{},
		Collector: metrics.NewCollector(),
		Obs:       obs,
	})
	t.Cleanup(coord.CloseAll)
	return NewWorker(coord, slog.Default())
}

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.ASR.WindowMs = 20
	cfg.ASR.SlideMs = 10
	cfg.ASR.SilenceMs = 40
	return cfg
}

func speechFrame(d time.Duration) audio.Frame {
	n := int(d.Seconds() * 16000)
	data := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(data[i*2:], 2000)
	}
	return audio.Frame{Data: data, SampleRate: 16000, Channels: 1, SamplesPerChannel: n}
}

func silenceFrame(d time.Duration) audio.Frame {
	n := int(d.Seconds() * 16000)
	return audio.Frame{Data: make([]byte, n*2), SampleRate: 16000, Channels: 1, SamplesPerChannel: n}
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWorker_AudioFlowsThroughPipeline(t *testing.T) {
	w := testWorker(t, fastConfig())
	conn := mock.NewConn("alice")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Handle(ctx, conn)
	}()

	conn.PushAudio(speechFrame(200 * time.Millisecond))
	waitFor(t, 2*time.Second, "asr partial", func() bool {
		return len(conn.DatagramsOfType(transport.TypeASRPartial)) > 0
	})
	conn.PushAudio(silenceFrame(500 * time.Millisecond))
	waitFor(t, 2*time.Second, "llm final", func() bool {
		return len(conn.DatagramsOfType(transport.TypeLLMFinal)) == 1
	})

	cancel()
	<-done
	if w.coord.SessionCount() != 0 {
		t.Errorf("session count = %d, want 0 after handler return", w.coord.SessionCount())
	}
}

func TestWorker_BargeInDatagram(t *testing.T) {
	w := testWorker(t, fastConfig())
	conn := mock.NewConn("alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Handle(ctx, conn)
	}()

	waitFor(t, time.Second, "session registered", func() bool {
		return w.coord.SessionCount() == 1
	})
	conn.PushData(transport.Datagram{Type: transport.TypeBargeIn}.Encode())
	waitFor(t, time.Second, "agent_interrupted", func() bool {
		return len(conn.DatagramsOfType(transport.TypeAgentInterrupted)) == 1
	})

	cancel()
	<-done
}

func TestWorker_MalformedDatagramIgnored(t *testing.T) {
	w := testWorker(t, fastConfig())
	conn := mock.NewConn("alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Handle(ctx, conn)
	}()

	waitFor(t, time.Second, "session registered", func() bool {
		return w.coord.SessionCount() == 1
	})
	conn.PushData([]byte("{not json"))
	conn.PushData([]byte(`{"text":"no type"}`))

	// The handler must survive garbage and keep serving.
	conn.PushData(transport.Datagram{Type: transport.TypeBargeIn}.Encode())
	waitFor(t, time.Second, "agent_interrupted after garbage", func() bool {
		return len(conn.DatagramsOfType(transport.TypeAgentInterrupted)) == 1
	})

	cancel()
	<-done
}

func TestWorker_ConnCloseEndsSession(t *testing.T) {
	w := testWorker(t, fastConfig())
	conn := mock.NewConn("alice")

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Handle(context.Background(), conn)
	}()

	waitFor(t, time.Second, "session registered", func() bool {
		return w.coord.SessionCount() == 1
	})
	conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after connection close")
	}
	if w.coord.SessionCount() != 0 {
		t.Errorf("session count = %d, want 0", w.coord.SessionCount())
	}
}

func TestWorker_QuotaRejectionClosesConn(t *testing.T) {
	cfg := fastConfig()
	cfg.Session.MaxConcurrent = 1
	w := testWorker(t, cfg)

	first := mock.NewConn("alice")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Handle(ctx, first)
	waitFor(t, time.Second, "first session", func() bool {
		return w.coord.SessionCount() == 1
	})

	second := mock.NewConn("bob")
	w.Handle(context.Background(), second)
	if !second.Closed() {
		t.Error("rejected connection not closed")
	}
	if w.coord.SessionCount() != 1 {
		t.Errorf("session count = %d, want 1", w.coord.SessionCount())
	}
}
