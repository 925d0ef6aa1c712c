// Package config provides the configuration schema and loader for the ekho
// voice-agent server. Values come from three layers: compiled-in defaults,
// an optional YAML file, and environment variable overrides (highest
// precedence).
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto the slog level scale. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Services ServicesConfig `yaml:"services"`
	ASR      ASRConfig      `yaml:"asr"`
	LLM      LLMConfig      `yaml:"llm"`
	TTS      TTSConfig      `yaml:"tts"`
	Session  SessionConfig  `yaml:"session"`
	Health   HealthConfig   `yaml:"health"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ServicesConfig points at the three remote inference services.
type ServicesConfig struct {
	// WhisperBaseURL is the Whisper-compatible STT server
	// (POST {base}/audio/transcriptions).
	WhisperBaseURL string `yaml:"whisper_base_url"`

	// WhisperAPIKey is the bearer token for the STT server, optional.
	WhisperAPIKey string `yaml:"whisper_api_key"`

	// WhisperModel is the model hint forwarded with each request.
	WhisperModel string `yaml:"whisper_model"`

	// LLMBaseURL is an OpenAI-compatible chat completions server.
	LLMBaseURL string `yaml:"llm_base_url"`

	// LLMAPIKey is the bearer token for the LLM server. Self-hosted servers
	// usually ignore it but the client requires a non-empty value.
	LLMAPIKey string `yaml:"llm_api_key"`

	// LLMModel is the chat model identifier.
	LLMModel string `yaml:"llm_model"`

	// ParlerBaseURL is the primary TTS server (POST {base}/tts).
	ParlerBaseURL string `yaml:"parler_base_url"`

	// XTTSBaseURL is the fallback TTS server (POST {base}/synthesize).
	// Empty disables failover.
	XTTSBaseURL string `yaml:"xtts_base_url"`
}

// ASRConfig tunes the sliding-window transcription stage.
type ASRConfig struct {
	// WindowMs is the transcription window duration.
	WindowMs int `yaml:"window_ms"`

	// SlideMs is the interval between windows.
	SlideMs int `yaml:"slide_ms"`

	// SilenceMs is how much trailing near-silence finalizes an utterance.
	SilenceMs int `yaml:"silence_ms"`

	// RMSThreshold is the energy level (16-bit PCM units) below which audio
	// counts as silence.
	RMSThreshold float64 `yaml:"rms_threshold"`

	// LogFramesEvery controls ingest log cadence (every Nth frame).
	LogFramesEvery int `yaml:"log_frames_every"`
}

// LLMConfig tunes the response generation stage.
type LLMConfig struct {
	// MaxTokens caps each response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is the sampling temperature.
	Temperature float64 `yaml:"temperature"`

	// MemoryContextTokens is the conversation history budget
	// (~4 characters per token).
	MemoryContextTokens int `yaml:"memory_context_tokens"`

	// MaxHistoryTurns caps the number of remembered turns regardless of
	// the token budget.
	MaxHistoryTurns int `yaml:"max_history_turns"`
}

// TTSConfig tunes the synthesis stage.
type TTSConfig struct {
	// ChunkSizeSentences is the segmenter's sentence target per segment.
	ChunkSizeSentences int `yaml:"chunk_size_sentences"`

	// Voice selects an entry of Voices.
	Voice string `yaml:"voice"`

	// Language is the BCP-47 language forwarded to the fallback provider.
	Language string `yaml:"language"`

	// Voices maps voice names to Parler prose descriptions.
	Voices map[string]string `yaml:"voices"`
}

// SessionConfig bounds session lifecycle.
type SessionConfig struct {
	// ExpiryMinutes reclaims a session after this long without audio.
	ExpiryMinutes int `yaml:"expiry_minutes"`

	// MaxConcurrent is the session quota.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// HealthConfig tunes the service liveness monitor.
type HealthConfig struct {
	// CheckIntervalSec is the probe cadence.
	CheckIntervalSec int `yaml:"check_interval_sec"`

	// ServiceTimeoutSec bounds each probe.
	ServiceTimeoutSec int `yaml:"service_timeout_sec"`
}

// MetricsConfig controls the session metrics sink.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// SavePath is the JSONL file session summaries are appended to.
	SavePath string `yaml:"save_path"`
}

// DefaultVoices is the built-in Parler voice catalogue.
var DefaultVoices = map[string]string{
	"male":          "Jon's voice is monotone yet slightly fast in delivery, with a very close recording that almost has no background noise.",
	"female":        "Lea's voice is warm and clear, delivering her words in a friendly manner with good audio quality.",
	"male_casual":   "Gary's voice is casual and relaxed, speaking naturally with a conversational tone.",
	"female_casual": "Jenny's voice is casual and friendly, speaking naturally with a warm conversational tone.",
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8000",
			LogLevel:   LogInfo,
		},
		Services: ServicesConfig{
			WhisperModel: "openai/whisper-large-v3-turbo",
			LLMModel:     "microsoft/Phi-3.5-mini-instruct",
			LLMAPIKey:    "unused",
		},
		ASR: ASRConfig{
			WindowMs:       500,
			SlideMs:        250,
			SilenceMs:      800,
			RMSThreshold:   300,
			LogFramesEvery: 50,
		},
		LLM: LLMConfig{
			MaxTokens:           256,
			Temperature:         0.8,
			MemoryContextTokens: 512,
			MaxHistoryTurns:     10,
		},
		TTS: TTSConfig{
			ChunkSizeSentences: 2,
			Voice:              "female",
			Language:           "en",
			Voices:             DefaultVoices,
		},
		Session: SessionConfig{
			ExpiryMinutes: 10,
			MaxConcurrent: 5,
		},
		Health: HealthConfig{
			CheckIntervalSec:  30,
			ServiceTimeoutSec: 3,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			SavePath: "./logs/metrics.jsonl",
		},
	}
}

// VoiceDescription resolves the configured voice to its Parler description,
// falling back to the "female" entry for unknown names.
func (c *Config) VoiceDescription() string {
	if desc, ok := c.TTS.Voices[c.TTS.Voice]; ok {
		return desc
	}
	return DefaultVoices["female"]
}

// SessionExpiry returns the idle timeout as a duration.
func (c *Config) SessionExpiry() time.Duration {
	return time.Duration(c.Session.ExpiryMinutes) * time.Minute
}

// HealthInterval returns the probe cadence as a duration.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Health.CheckIntervalSec) * time.Second
}

// ServiceTimeout returns the probe timeout as a duration.
func (c *Config) ServiceTimeout() time.Duration {
	return time.Duration(c.Health.ServiceTimeoutSec) * time.Second
}
