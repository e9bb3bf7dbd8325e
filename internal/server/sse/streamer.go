// Package sse streams a project's change envelopes to HTTP clients as
// Server-Sent Events. It is a read-only alternative to the WebSocket
// endpoint for clients that only watch.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentstation/rddm/internal/server/events"
	"github.com/agentstation/rddm/pkg/envelope"
	"github.com/agentstation/rddm/pkg/errors"
)

// DefaultKeepAlive is the interval between keepalive comments.
const DefaultKeepAlive = 15 * time.Second

// Streamer serves per-project event streams backed by the topic registry.
type Streamer struct {
	registry    *events.Registry
	keepAlive   time.Duration
	sendTimeout time.Duration
	logger      *zerolog.Logger
}

// NewStreamer creates a streamer. keepAlive of zero disables keepalive
// comments. sendTimeout bounds each write; zero means no bound.
func NewStreamer(registry *events.Registry, keepAlive, sendTimeout time.Duration, logger *zerolog.Logger) *Streamer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Streamer{
		registry:    registry,
		keepAlive:   keepAlive,
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// Event is one SSE message.
type Event struct {
	Event string // event name (optional)
	ID    string // event id (optional)
	Data  []byte // data line, written verbatim
}

// Serve streams projectID's envelopes to w until the client goes away, a
// write fails or ctx is cancelled. Cancelling ctx closes the subscription. Each envelope is sent as an event named
// after its kind whose data is the envelope's wire frame.
func (s *Streamer) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, projectID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientID := uuid.NewString()
	logger := s.logger.With().
		Str("project_id", projectID).
		Str("client_id", clientID).
		Logger()

	sub := s.registry.Subscribe(projectID)
	defer func() {
		sub.Close()
		s.registry.RemoveIfEmpty(projectID)
		logger.Info().Msg("SSE client disconnected")
	}()
	logger.Info().Msg("SSE client connected")

	rc := http.NewResponseController(w)
	send := func(ev Event) error {
		if s.sendTimeout > 0 {
			_ = rc.SetWriteDeadline(time.Now().Add(s.sendTimeout))
		}
		if err := writeEvent(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	hello, _ := json.Marshal(map[string]string{
		"project_id": projectID,
		"client_id":  clientID,
		"timestamp":  envelope.Now(),
	})
	if err := send(Event{Event: "connected", Data: hello}); err != nil {
		return
	}

	stop := context.AfterFunc(ctx, func() { sub.Close() })
	defer stop()

	for {
		env, err := next(r.Context(), sub, s.keepAlive)
		switch {
		case errors.Is(err, errIdle):
			if s.sendTimeout > 0 {
				_ = rc.SetWriteDeadline(time.Now().Add(s.sendTimeout))
			}
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			continue
		case errors.IsClosed(err):
			logger.Debug().Msg("SSE subscription closed")
			return
		case err != nil:
			return
		}

		if n := sub.TakeDropped(); n > 0 {
			logger.Warn().Uint64("dropped", n).Msg("SSE client lagging, oldest envelopes dropped")
		}
		data, err := envelope.Encode(env)
		if err != nil {
			logger.Error().Err(err).Str("kind", string(env.Kind())).Msg("Failed to encode envelope")
			continue
		}
		if err := send(Event{Event: string(env.Kind()), Data: data}); err != nil {
			logger.Debug().Err(err).Msg("SSE write failed")
			return
		}
	}
}

// errIdle reports that no envelope arrived within the keepalive interval.
var errIdle = errors.New("idle")

// next waits for the subscription's next envelope. With a positive
// keepAlive it gives up after that long and returns errIdle.
func next(ctx context.Context, sub *events.Subscription, keepAlive time.Duration) (envelope.Envelope, error) {
	if keepAlive <= 0 {
		return sub.Recv(ctx)
	}
	waitCtx, cancel := context.WithTimeout(ctx, keepAlive)
	defer cancel()

	env, err := sub.Recv(waitCtx)
	if err != nil && ctx.Err() == nil && waitCtx.Err() != nil {
		return nil, errIdle
	}
	return env, err
}

// writeEvent renders one event in text/event-stream framing.
func writeEvent(w io.Writer, ev Event) error {
	if ev.Event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Event); err != nil {
			return err
		}
	}
	if ev.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", ev.ID); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", ev.Data)
	return err
}
