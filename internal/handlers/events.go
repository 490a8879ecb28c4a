package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ubl-proto/ubl/internal/room"
	"github.com/ubl-proto/ubl/internal/ublerr"
)

// Events streams room events over SSE. Clients reconnect with
// ?from_seq=<last id> to replay hot messages they missed; a room.gap event
// precedes the replay when the requested range fell out of the hot window.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	rm, _, _, err := h.roomFor(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.Error(w, r, ublerr.New(ublerr.Internal, "streaming unsupported"))
		return
	}

	fromSeq := int64(-1)
	if raw := r.URL.Query().Get("from_seq"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			h.Error(w, r, ublerr.New(ublerr.ValidationError, "from_seq must be a non-negative integer"))
			return
		}
		fromSeq = n
	}

	sub, backlog, err := rm.Subscribe(fromSeq)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	defer rm.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, ev := range backlog {
		if err := writeEvent(w, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(h.app.Cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ":keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent frames one event. Message events carry their room_seq as the SSE
// id so clients can resume with from_seq.
func writeEvent(w http.ResponseWriter, ev room.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	if ev.ID > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", ev.ID); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
	return err
}
