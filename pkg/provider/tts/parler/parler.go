// Package parler provides a tts.Synthesizer backed by a Parler-TTS inference
// server (POST /tts with a text plus a prose voice description, WAV response).
package parler

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

// Client is an HTTP Parler-TTS client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("parler: baseURL must not be empty")
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
func (c *Client) Name() string { return "parler" }

// Synthesize implements tts.Synthesizer. The request's Description selects
// the voice; Voice and Language are ignored by Parler.
func (c *Client) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Text        string `json:"text"`
		Description string `json:"description"`
	}{Text: req.Text, Description: req.Description})
	if err != nil {
		return nil, fmt.Errorf("parler: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("parler: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("parler: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parler: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewStatusError("parler", resp.StatusCode, data)
	}
	return data, nil
}
