package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"

	appLog "schedview/internal/log"
)

// streamKeepAlive is how often an idle auth stream sends a ping event so
// proxies keep the connection open. Pages only listen for "auth".
const streamKeepAlive = 25 * time.Second

// handleAuthStream pushes the scope's authenticated flag as Server-Sent
// Events. The current value is sent first, then one "auth" event per
// change made from any tab sharing the scope.
func (s *Server) handleAuthStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	scope := scopeFrom(ctx)

	// Subscribe before reading so a change between the two is not lost.
	changes, err := s.store.Subscribe(ctx, scope)
	if err != nil {
		appLog.Error("auth stream subscribe failed", err)
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	current, err := s.store.Get(ctx, scope)
	if err != nil {
		appLog.Error("auth flag read failed", err, "scope", scope)
	}

	h := w.Header()
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeAuthEvent(w, current); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-changes:
			if !ok {
				return
			}
			if err := writeAuthEvent(w, v); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if err := sse.Encode(w, sse.Event{Event: "ping", Data: ""}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeAuthEvent(w http.ResponseWriter, authenticated bool) error {
	return sse.Encode(w, sse.Event{Event: "auth", Data: strconv.FormatBool(authenticated)})
}
