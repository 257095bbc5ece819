package web

import (
	"net/http"

	"schedview/internal/ics"
	appLog "schedview/internal/log"
)

// handleCalendar exports the viewer's visible events as iCalendar.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	events, err := s.events.FetchAll(r.Context())
	if err != nil {
		appLog.Error("calendar export: fetch failed", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	body := ics.Export(events, s.authenticated(r), ics.ExportOptions{
		Name: "Hack the North Events",
		Host: r.Host,
	})

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
