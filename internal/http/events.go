package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tmaxmax/go-sse"

	"github.com/nextlevelbuilder/pairgate/internal/bus"
)

const eventsTopic = "lifecycle"

// EventStream serves lifecycle events as server-sent events. Recent events
// are kept for replay so a reconnecting client resumes from Last-Event-ID.
type EventStream struct {
	joe *sse.Joe
}

// NewEventStream keeps events for replay during ttl.
func NewEventStream(ttl time.Duration) *EventStream {
	replayer, err := sse.NewValidReplayer(ttl, false)
	if err != nil {
		panic(err) // only for a non-positive ttl
	}
	return &EventStream{joe: &sse.Joe{Replayer: replayer}}
}

// Publish is a bus.EventHandler. It never blocks on slow clients.
func (e *EventStream) Publish(ev bus.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("events: encode failed", "event", ev.Name, "error", err)
		return
	}
	msg := &sse.Message{ID: sse.ID(ulid.Make().String()), Type: sse.Type(ev.Name)}
	msg.AppendData(string(data))
	if err := e.joe.Publish(msg, []string{eventsTopic}); err != nil && !errors.Is(err, sse.ErrProviderClosed) {
		slog.Warn("events: publish failed", "event", ev.Name, "error", err)
	}
}

// Shutdown disconnects every subscriber.
func (e *EventStream) Shutdown(ctx context.Context) error {
	err := e.joe.Shutdown(ctx)
	if errors.Is(err, sse.ErrProviderClosed) {
		return nil
	}
	return err
}

type channelWriter struct {
	ch chan *sse.Message
}

func (w *channelWriter) Send(m *sse.Message) error {
	select {
	case w.ch <- m.Clone():
		return nil
	default:
		return errors.New("sse subscriber is backpressured")
	}
}

func (w *channelWriter) Flush() error { return nil }

func (e *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lastID := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if lastID == "" {
		lastID = strings.TrimSpace(r.URL.Query().Get("lastEventId"))
	}

	// The server's WriteTimeout is sized for pairing requests; streams stay
	// open until the client leaves.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Debug("events: clear write deadline", "error", err)
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Error: err.Error()})
		return
	}
	ready := &sse.Message{}
	ready.AppendComment("ready")
	if err := sess.Send(ready); err != nil {
		return
	}
	_ = sess.Flush()

	writer := &channelWriter{ch: make(chan *sse.Message, 64)}
	sub := sse.Subscription{Client: writer, Topics: []string{eventsTopic}}
	if lastID != "" {
		sub.LastEventID = sse.ID(lastID)
	}
	done := make(chan error, 1)
	go func() { done <- e.joe.Subscribe(r.Context(), sub) }()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case m := <-writer.ch:
			if err := sess.Send(m); err != nil {
				return
			}
			_ = sess.Flush()
		}
	}
}
