package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty), then environment overrides, then
// validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	ApplyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of the defaults and validates
// the result. Environment overrides are not applied; useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// ApplyEnv overrides cfg fields from environment variables. Unset or
// malformed values leave the field unchanged.
func ApplyEnv(cfg *Config) {
	envString("LOG_LEVEL", func(v string) { cfg.Server.LogLevel = LogLevel(v) })
	envString("LISTEN_ADDR", func(v string) { cfg.Server.ListenAddr = v })

	envString("WHISPER_BASE_URL", func(v string) { cfg.Services.WhisperBaseURL = v })
	envString("WHISPER_API_KEY", func(v string) { cfg.Services.WhisperAPIKey = v })
	envString("WHISPER_MODEL", func(v string) { cfg.Services.WhisperModel = v })
	envString("LLM_BASE_URL", func(v string) { cfg.Services.LLMBaseURL = v })
	envString("LLM_API_KEY", func(v string) { cfg.Services.LLMAPIKey = v })
	envString("LLM_MODEL", func(v string) { cfg.Services.LLMModel = v })
	envString("PARLER_TTS_BASE_URL", func(v string) { cfg.Services.ParlerBaseURL = v })
	envString("XTTS_TTS_BASE_URL", func(v string) { cfg.Services.XTTSBaseURL = v })

	envInt("ASR_BUFFER_WINDOW_MS", &cfg.ASR.WindowMs)
	envInt("ASR_BUFFER_SLIDE_MS", &cfg.ASR.SlideMs)
	envInt("ASR_SILENCE_MS", &cfg.ASR.SilenceMs)
	envFloat("ASR_RMS_THRESHOLD", &cfg.ASR.RMSThreshold)
	envInt("LOG_FRAMES_EVERY", &cfg.ASR.LogFramesEvery)

	envInt("LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envFloat("LLM_TEMPERATURE", &cfg.LLM.Temperature)
	envInt("MEMORY_CONTEXT_TOKENS", &cfg.LLM.MemoryContextTokens)

	envInt("TTS_CHUNK_SIZE_SENTENCES", &cfg.TTS.ChunkSizeSentences)
	envString("TTS_VOICE", func(v string) { cfg.TTS.Voice = v })
	envString("TTS_LANGUAGE", func(v string) { cfg.TTS.Language = v })

	envInt("SESSION_EXPIRY_MINUTES", &cfg.Session.ExpiryMinutes)
	envInt("MAX_CONCURRENT_SESSIONS", &cfg.Session.MaxConcurrent)

	envInt("HEALTH_CHECK_INTERVAL", &cfg.Health.CheckIntervalSec)
	envInt("SERVICE_TIMEOUT", &cfg.Health.ServiceTimeoutSec)

	envString("METRICS_SAVE_PATH", func(v string) { cfg.Metrics.SavePath = v })
	envBool("ENABLE_METRICS", &cfg.Metrics.Enabled)
}

func envString(key string, set func(string)) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		set(v)
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.ASR.WindowMs <= 0 {
		errs = append(errs, fmt.Errorf("asr.window_ms %d must be positive", cfg.ASR.WindowMs))
	}
	if cfg.ASR.SlideMs <= 0 {
		errs = append(errs, fmt.Errorf("asr.slide_ms %d must be positive", cfg.ASR.SlideMs))
	}
	if cfg.ASR.SlideMs > cfg.ASR.WindowMs {
		errs = append(errs, fmt.Errorf("asr.slide_ms %d must not exceed asr.window_ms %d", cfg.ASR.SlideMs, cfg.ASR.WindowMs))
	}
	if cfg.ASR.SilenceMs <= 0 {
		errs = append(errs, fmt.Errorf("asr.silence_ms %d must be positive", cfg.ASR.SilenceMs))
	}
	if cfg.ASR.RMSThreshold < 0 {
		errs = append(errs, fmt.Errorf("asr.rms_threshold %.1f must not be negative", cfg.ASR.RMSThreshold))
	}

	if cfg.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens %d must be positive", cfg.LLM.MaxTokens))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}
	if cfg.LLM.MemoryContextTokens < 0 {
		errs = append(errs, fmt.Errorf("llm.memory_context_tokens %d must not be negative", cfg.LLM.MemoryContextTokens))
	}

	if cfg.TTS.ChunkSizeSentences <= 0 {
		errs = append(errs, fmt.Errorf("tts.chunk_size_sentences %d must be positive", cfg.TTS.ChunkSizeSentences))
	}
	if cfg.TTS.Voice != "" {
		if _, ok := cfg.TTS.Voices[cfg.TTS.Voice]; !ok {
			errs = append(errs, fmt.Errorf("tts.voice %q is not in the voice catalogue", cfg.TTS.Voice))
		}
	}

	if cfg.Session.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("session.max_concurrent %d must be positive", cfg.Session.MaxConcurrent))
	}
	if cfg.Session.ExpiryMinutes <= 0 {
		errs = append(errs, fmt.Errorf("session.expiry_minutes %d must be positive", cfg.Session.ExpiryMinutes))
	}

	if cfg.Health.CheckIntervalSec <= 0 {
		errs = append(errs, fmt.Errorf("health.check_interval_sec %d must be positive", cfg.Health.CheckIntervalSec))
	}
	if cfg.Health.ServiceTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("health.service_timeout_sec %d must be positive", cfg.Health.ServiceTimeoutSec))
	}

	if cfg.Metrics.Enabled && cfg.Metrics.SavePath == "" {
		errs = append(errs, errors.New("metrics.save_path is required when metrics are enabled"))
	}

	return errors.Join(errs...)
}
