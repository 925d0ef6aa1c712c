package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mvolkert/ekho/internal/pipeline"
	"github.com/mvolkert/ekho/pkg/transport"
)

// Worker binds one transport connection to one pipeline session: it
// feeds inbound audio into the session and dispatches inbound control
// datagrams until the participant disconnects.
type Worker struct {
	coord *pipeline.Coordinator
	log   *slog.Logger
}

// NewWorker creates a worker for the given coordinator.
func NewWorker(coord *pipeline.Coordinator, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{coord: coord, log: log}
}

// Handle implements [transport.ConnHandler]. It returns when the
// connection's inbound channels close or ctx is cancelled; the session is
// torn down before returning.
func (w *Worker) Handle(ctx context.Context, conn transport.Conn) {
	s, err := w.coord.CreateSession(ctx, conn)
	if err != nil {
		if errors.Is(err, pipeline.ErrQuotaExceeded) {
			w.log.Warn("connection rejected, session quota reached",
				"identity", conn.Participant().Identity)
		} else {
			w.log.Error("session creation failed",
				"identity", conn.Participant().Identity, "error", err)
		}
		conn.Close()
		return
	}
	defer w.coord.CloseSession(s.ID)

	audioIn := conn.AudioIn()
	dataIn := conn.DataIn()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-audioIn:
			if !ok {
				return
			}
			s.Ingest(f)
		case payload, ok := <-dataIn:
			if !ok {
				return
			}
			w.dispatch(s, payload)
		}
	}
}

// dispatch routes one inbound control datagram. Malformed or unknown
// messages are logged and dropped.
func (w *Worker) dispatch(s *pipeline.Session, payload []byte) {
	d, err := transport.DecodeDatagram(payload)
	if err != nil {
		w.log.Warn("malformed inbound datagram",
			"session_id", s.ID, "error", err)
		return
	}
	switch d.Type {
	case transport.TypeBargeIn:
		w.coord.HandleBargeIn(s.ID)
	case transport.TypeClientSilence:
		// Client-side VAD hint. Server-side energy detection remains
		// authoritative; the hint just finalizes the utterance sooner.
		s.Flush()
	default:
		w.log.Warn("unexpected inbound datagram type",
			"session_id", s.ID, "type", string(d.Type))
	}
}
