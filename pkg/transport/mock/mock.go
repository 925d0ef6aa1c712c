// Package mock provides an in-memory transport.Conn for tests. It records
// everything the pipeline publishes and lets tests feed inbound audio and
// datagrams.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mvolkert/ekho/pkg/audio"
	"github.com/mvolkert/ekho/pkg/transport"
)

// Published is one recorded PublishData call.
type Published struct {
	Payload  []byte
	Reliable bool
	At       time.Time
}

// FrameWrite is one recorded WriteAudioFrame call.
type FrameWrite struct {
	PCM []byte
	At  time.Time
}

// Conn is an in-memory transport connection.
type Conn struct {
	participant transport.Participant
	audioIn     chan audio.Frame
	dataIn      chan []byte

	mu        sync.Mutex
	published []Published
	frames    []FrameWrite
	closed    bool
}

var _ transport.Conn = (*Conn)(nil)

// NewConn returns a connection for the given participant identity.
func NewConn(identity string) *Conn {
	return &Conn{
		participant: transport.Participant{Identity: identity, Name: identity},
		audioIn:     make(chan audio.Frame, 64),
		dataIn:      make(chan []byte, 16),
	}
}

func (c *Conn) Participant() transport.Participant { return c.participant }
func (c *Conn) AudioIn() <-chan audio.Frame        { return c.audioIn }
func (c *Conn) DataIn() <-chan []byte              { return c.dataIn }

// PushAudio feeds a microphone frame to the pipeline. Blocks when the
// channel buffer is full.
func (c *Conn) PushAudio(f audio.Frame) { c.audioIn <- f }

// PushData feeds an inbound reliable datagram to the pipeline.
func (c *Conn) PushData(payload []byte) { c.dataIn <- payload }

func (c *Conn) PublishData(ctx context.Context, payload []byte, reliable bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("mock: connection closed")
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.published = append(c.published, Published{Payload: cp, Reliable: reliable, At: time.Now()})
	return nil
}

func (c *Conn) WriteAudioFrame(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("mock: connection closed")
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	c.frames = append(c.frames, FrameWrite{PCM: cp, At: time.Now()})
	return nil
}

// Close marks the connection closed and closes the inbound channels.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.audioIn)
	close(c.dataIn)
	return nil
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Published returns a copy of all recorded PublishData calls.
func (c *Conn) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Published, len(c.published))
	copy(out, c.published)
	return out
}

// Frames returns a copy of all recorded audio track writes.
func (c *Conn) Frames() []FrameWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FrameWrite, len(c.frames))
	copy(out, c.frames)
	return out
}

// Datagrams decodes all recorded publishes, skipping any that fail to parse.
func (c *Conn) Datagrams() []transport.Datagram {
	var out []transport.Datagram
	for _, p := range c.Published() {
		d, err := transport.DecodeDatagram(p.Payload)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

// DatagramsOfType filters Datagrams by type.
func (c *Conn) DatagramsOfType(t transport.DatagramType) []transport.Datagram {
	var out []transport.Datagram
	for _, d := range c.Datagrams() {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out
}
