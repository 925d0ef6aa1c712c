// Package xtts provides a tts.Synthesizer backed by an XTTS inference server
// (POST /synthesize with a named voice and language, WAV response). It serves
// as the fallback provider when Parler is unavailable.
package xtts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mvolkert/ekho/pkg/provider"
	"github.com/mvolkert/ekho/pkg/provider/tts"
)

const defaultTimeout = 15 * time.Second

// Compile-time assertion that Client implements tts.Synthesizer.
var _ tts.Synthesizer = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithTimeout bounds each synthesis request. Defaults to 15s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// Client is an HTTP XTTS client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("xtts: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name implements tts.Synthesizer.
func (c *Client) Name() string { return "xtts" }

// Synthesize implements tts.Synthesizer. Voice and Language select the
// speaker; Description is ignored by XTTS.
func (c *Client) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	voice := req.Voice
	if voice == "" {
		voice = "female"
	}
	language := req.Language
	if language == "" {
		language = "en"
	}

	payload, err := json.Marshal(struct {
		Text     string `json:"text"`
		Voice    string `json:"voice"`
		Language string `json:"language"`
		Format   string `json:"format"`
	}{Text: req.Text, Voice: voice, Language: language, Format: "wav"})
	if err != nil {
		return nil, fmt.Errorf("xtts: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("xtts: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("xtts: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("xtts: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewStatusError("xtts", resp.StatusCode, data)
	}
	return data, nil
}
