package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// SSEHandler streams events as Server-Sent Events. A comment ping is
// written immediately so clients see the stream is live before the first
// event; the subscription detaches when the client goes away or a write
// fails.
type SSEHandler struct {
	hub *Hub
}

func NewSSEHandler(h *Hub) *SSEHandler {
	return &SSEHandler{hub: h}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch := h.hub.Subscribe(64, typesFromQuery(r)...)
	defer h.hub.Unsubscribe(id)

	if _, err := fmt.Fprint(w, ":ping\n\n"); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// typesFromQuery reads an optional ?types=volumeChange,muteChange filter.
func typesFromQuery(r *http.Request) []Type {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	var types []Type
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			types = append(types, Type(part))
		}
	}
	return types
}
