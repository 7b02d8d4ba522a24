package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"homedash/internal/bridge"

	"go.uber.org/zap"
)

// streamKeepAlive is how often an idle stream gets a comment line
const streamKeepAlive = 30 * time.Second

// handleStream relays bridge frames to the client as server-sent events.
// The first event is the bridge's current connectivity; after that every
// relayed frame is sent as one "data:" event, in order. The stream stays open
// until the client goes away or the server shuts down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		writeBadRequest(w, "expected Accept: text/event-stream")
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Debug("Could not clear write deadline", zap.Error(err))
	}

	// Subscribe before reading the status so no transition is missed
	sub := s.relay.Subscribe()
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	first := bridge.Notification{Type: bridge.NotifyDisconnected}
	if s.relay.Status().Connected {
		first.Type = bridge.NotifyConnected
	}
	if err := writeEvent(w, rc, first.Frame()); err != nil {
		return
	}

	s.logger.Debug("Stream opened",
		zap.String("subscriber", sub.ID()),
		zap.String("request_id", requestID(r)))
	defer s.logger.Debug("Stream closed", zap.String("subscriber", sub.ID()))

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeEvent(w, rc, frame); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// writeEvent writes one SSE data event and flushes it.
// A multi-line payload becomes several data lines, which clients rejoin with "\n".
func writeEvent(w http.ResponseWriter, rc *http.ResponseController, data []byte) error {
	var buf bytes.Buffer
	for _, line := range bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	return rc.Flush()
}
