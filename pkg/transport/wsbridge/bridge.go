// Package wsbridge implements transport.Conn over a plain WebSocket. It is
// the development and browser-facing transport: clients send raw PCM as
// binary messages and JSON datagrams as text messages; the server sends
// JSON datagrams (including base64 tts_chunk audio) as text and the
// outbound audio track as binary frames.
package wsbridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mvolkert/ekho/pkg/audio"
	"github.com/mvolkert/ekho/pkg/transport"
)

const (
	defaultSampleRate   = 48000
	defaultChannels     = 1
	defaultWriteTimeout = 200 * time.Millisecond

	// maxMessageBytes bounds inbound messages; 1s of 48kHz stereo PCM is
	// 192000 bytes, anything bigger is a misbehaving client.
	maxMessageBytes = 1 << 20
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

// WithWriteTimeout bounds each outbound write. Defaults to 200ms, matching
// the pipeline's per-frame publish budget.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.writeTimeout = d }
}

// Bridge accepts WebSocket connections and hands each one to a
// transport.ConnHandler as a transport.Conn.
type Bridge struct {
	handler      transport.ConnHandler
	log          *slog.Logger
	writeTimeout time.Duration
}

// New returns a Bridge that invokes handler for every accepted connection.
func New(handler transport.ConnHandler, opts ...Option) *Bridge {
	b := &Bridge{
		handler:      handler,
		log:          slog.Default(),
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ServeHTTP upgrades the request and runs the connection until the handler
// returns or the peer disconnects.
//
// Query parameters: identity (participant identity, generated when absent),
// rate and channels (format of inbound binary PCM, defaults 48000/1).
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser clients connect from the frontend origin; the surrounding
		// process enforces CORS, not the bridge.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		b.log.Warn("wsbridge: accept failed", "error", err)
		return
	}
	ws.SetReadLimit(maxMessageBytes)

	identity := r.URL.Query().Get("identity")
	if identity == "" {
		identity = "guest-" + uuid.NewString()[:8]
	}
	rate := queryInt(r, "rate", defaultSampleRate)
	channels := queryInt(r, "channels", defaultChannels)
	if channels != 1 && channels != 2 {
		channels = defaultChannels
	}

	ctx, cancel := context.WithCancel(r.Context())
	conn := &wsConn{
		ws:           ws,
		participant:  transport.Participant{Identity: identity, Name: r.URL.Query().Get("name")},
		sampleRate:   rate,
		channels:     channels,
		audioIn:      make(chan audio.Frame, 64),
		dataIn:       make(chan []byte, 16),
		writeTimeout: b.writeTimeout,
		cancel:       cancel,
	}

	log := b.log.With("identity", identity)
	log.Info("wsbridge: participant connected", "rate", rate, "channels", channels)

	go conn.readLoop(ctx, log)

	b.handler(ctx, conn)

	conn.Close()
	log.Info("wsbridge: participant disconnected")
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// wsConn adapts a websocket connection to transport.Conn.
type wsConn struct {
	ws          *websocket.Conn
	participant transport.Participant
	sampleRate  int
	channels    int

	audioIn chan audio.Frame
	dataIn  chan []byte

	writeTimeout time.Duration

	// The websocket allows only one concurrent writer.
	writeMu sync.Mutex

	closeOnce sync.Once
	cancel    context.CancelFunc
}

var _ transport.Conn = (*wsConn)(nil)

func (c *wsConn) Participant() transport.Participant { return c.participant }
func (c *wsConn) AudioIn() <-chan audio.Frame        { return c.audioIn }
func (c *wsConn) DataIn() <-chan []byte              { return c.dataIn }

// readLoop pumps inbound messages into the audio and data channels until
// the peer disconnects. Both channels are closed on exit so the handler
// observes end-of-stream.
func (c *wsConn) readLoop(ctx context.Context, log *slog.Logger) {
	defer close(c.audioIn)
	defer close(c.dataIn)
	defer c.cancel()

	start := time.Now()
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				log.Debug("wsbridge: read ended", "error", err)
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			frame := audio.Frame{
				Data:              data,
				SampleRate:        c.sampleRate,
				Channels:          c.channels,
				SamplesPerChannel: len(data) / (2 * c.channels),
				Timestamp:         time.Since(start),
			}
			select {
			case c.audioIn <- frame:
			case <-ctx.Done():
				return
			default:
				// Ingress is not keeping up; drop the oldest behaviour is
				// provided by the pipeline's ring buffer, so dropping here
				// only sheds load during a stall.
			}
		case websocket.MessageText:
			select {
			case c.dataIn <- data:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *wsConn) PublishData(ctx context.Context, payload []byte, reliable bool) error {
	ctx, cancelTimeout := context.WithTimeout(ctx, c.writeTimeout)
	defer cancelTimeout()

	c.writeMu.Lock()
	err := c.ws.Write(ctx, websocket.MessageText, payload)
	c.writeMu.Unlock()

	if err != nil && !reliable {
		// Unreliable datagrams are best-effort; a stalled client loses them.
		return nil
	}
	if err != nil {
		return fmt.Errorf("wsbridge: publish data: %w", err)
	}
	return nil
}

func (c *wsConn) WriteAudioFrame(ctx context.Context, pcm []byte) error {
	ctx, cancelTimeout := context.WithTimeout(ctx, c.writeTimeout)
	defer cancelTimeout()

	c.writeMu.Lock()
	err := c.ws.Write(ctx, websocket.MessageBinary, pcm)
	c.writeMu.Unlock()

	if err != nil {
		return fmt.Errorf("wsbridge: write audio frame: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.ws.Close(websocket.StatusNormalClosure, "session ended")
	})
	return nil
}
