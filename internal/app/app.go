// Package app wires the ekho subsystems into a running server process:
// provider clients, the pipeline coordinator, health monitoring, metrics,
// the websocket transport, and the HTTP surface.
//
// For testing, inject fake providers via functional options. When an
// option is not provided, New builds the real client from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mvolkert/ekho/internal/config"
	"github.com/mvolkert/ekho/internal/health"
	"github.com/mvolkert/ekho/internal/metrics"
	"github.com/mvolkert/ekho/internal/observe"
	"github.com/mvolkert/ekho/internal/pipeline"
	"github.com/mvolkert/ekho/internal/resilience"
	"github.com/mvolkert/ekho/internal/server"
	"github.com/mvolkert/ekho/pkg/provider/llm"
	"github.com/mvolkert/ekho/pkg/provider/llm/openai"
	"github.com/mvolkert/ekho/pkg/provider/stt"
	"github.com/mvolkert/ekho/pkg/provider/stt/whisper"
	"github.com/mvolkert/ekho/pkg/provider/tts"
	"github.com/mvolkert/ekho/pkg/provider/tts/parler"
	"github.com/mvolkert/ekho/pkg/provider/tts/xtts"
	"github.com/mvolkert/ekho/pkg/transport/wsbridge"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	log *slog.Logger

	stt   stt.Transcriber
	chat  llm.ChatStreamer
	synth tts.Synthesizer

	coord     *pipeline.Coordinator
	monitor   *health.Monitor
	collector *metrics.Collector
	sink      *metrics.JSONLSink
	obs       *observe.Metrics
	httpSrv   *http.Server
}

// Option injects a test double instead of a config-built client.
type Option func(*App)

// WithTranscriber injects the STT client.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *App) { a.stt = t }
}

// WithChatStreamer injects the LLM client.
func WithChatStreamer(c llm.ChatStreamer) Option {
	return func(a *App) { a.chat = c }
}

// WithSynthesizer injects the TTS client, bypassing failover construction.
func WithSynthesizer(s tts.Synthesizer) Option {
	return func(a *App) { a.synth = s }
}

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// New wires the application from config. All construction is synchronous;
// nothing runs until [App.Run].
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.obs == nil {
		a.obs = observe.DefaultMetrics()
	}

	if err := a.buildProviders(); err != nil {
		return nil, err
	}
	a.buildMetrics()
	a.buildMonitor()

	a.coord = pipeline.NewCoordinator(cfg, pipeline.Deps{
		STT:       a.stt,
		Chat:      a.chat,
		Synth:     a.synth,
		Collector: a.collector,
		Obs:       a.obs,
		Logger:    a.log,
	})

	worker := NewWorker(a.coord, a.log)
	bridge := wsbridge.New(worker.Handle, wsbridge.WithLogger(a.log))

	mux := server.NewMux(&server.Context{
		Coordinator: a.coord,
		Health:      a.monitor,
		Collector:   a.collector,
		Obs:         a.obs,
		Logger:      a.log,
		Voice:       bridge,
	})
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *App) buildProviders() error {
	svc := a.cfg.Services

	if a.stt == nil {
		if svc.WhisperBaseURL == "" {
			return errors.New("app: whisper_base_url is required")
		}
		c, err := whisper.New(svc.WhisperBaseURL,
			whisper.WithAPIKey(svc.WhisperAPIKey),
			whisper.WithModel(svc.WhisperModel),
		)
		if err != nil {
			return fmt.Errorf("app: build stt client: %w", err)
		}
		a.stt = c
	}

	if a.chat == nil {
		if svc.LLMBaseURL == "" {
			return errors.New("app: llm_base_url is required")
		}
		c, err := openai.New(svc.LLMAPIKey, svc.LLMModel,
			openai.WithBaseURL(svc.LLMBaseURL),
		)
		if err != nil {
			return fmt.Errorf("app: build llm client: %w", err)
		}
		a.chat = c
	}

	if a.synth == nil {
		if svc.ParlerBaseURL == "" {
			return errors.New("app: parler_base_url is required")
		}
		primary, err := parler.New(svc.ParlerBaseURL)
		if err != nil {
			return fmt.Errorf("app: build tts client: %w", err)
		}
		var fallback tts.Synthesizer
		if svc.XTTSBaseURL != "" {
			f, err := xtts.New(svc.XTTSBaseURL)
			if err != nil {
				return fmt.Errorf("app: build fallback tts client: %w", err)
			}
			fallback = f
		}
		a.synth = resilience.NewSynthFailover(primary, resilience.SynthFailoverConfig{
			Fallback: fallback,
			Logger:   a.log,
		})
	}
	return nil
}

func (a *App) buildMetrics() {
	collectorOpts := []metrics.CollectorOption{metrics.WithLogger(a.log)}
	if a.cfg.Metrics.Enabled {
		sink, err := metrics.NewJSONLSink(a.cfg.Metrics.SavePath)
		if err != nil {
			// A broken metrics file should not keep the server down.
			a.log.Error("metrics sink unavailable, summaries will not persist",
				"path", a.cfg.Metrics.SavePath, "error", err)
		} else {
			a.sink = sink
			collectorOpts = append(collectorOpts, metrics.WithSink(sink))
		}
	}
	a.collector = metrics.NewCollector(collectorOpts...)
}

func (a *App) buildMonitor() {
	a.monitor = health.NewMonitor(
		health.WithInterval(a.cfg.HealthInterval()),
		health.WithTimeout(a.cfg.ServiceTimeout()),
		health.WithLogger(a.log),
	)
	svc := a.cfg.Services
	if svc.WhisperBaseURL != "" {
		a.monitor.Register("whisper", health.HTTPCheck(nil, svc.WhisperBaseURL+"/health"))
	}
	if svc.LLMBaseURL != "" {
		a.monitor.Register("llm", health.HTTPCheck(nil, svc.LLMBaseURL+"/health"))
	}
	if svc.ParlerBaseURL != "" {
		a.monitor.Register("tts_parler", health.HTTPCheck(nil, svc.ParlerBaseURL+"/health"))
	}
	if svc.XTTSBaseURL != "" {
		a.monitor.Register("tts_xtts", health.HTTPCheck(nil, svc.XTTSBaseURL+"/health"))
	}
}

// Run serves until ctx is cancelled, then shuts everything down in order.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server listening", "addr", a.cfg.Server.ListenAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := a.monitor.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := a.coord.RunExpiry(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	return g.Wait()
}

// shutdown stops accepting connections, tears down live sessions and
// flushes the metrics sink.
func (a *App) shutdown() {
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(sctx); err != nil {
		a.log.Warn("http shutdown", "error", err)
	}
	a.coord.CloseAll()
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.log.Warn("metrics sink close", "error", err)
		}
	}
	a.log.Info("shutdown complete")
}
