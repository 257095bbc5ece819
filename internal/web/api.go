package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"schedview/internal/auth"
	appLog "schedview/internal/log"
	"schedview/internal/model"
	"schedview/internal/view"
)

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events        []model.Event `json:"events"`
	Total         int           `json:"total"`
	Shown         int           `json:"shown"`
	Authenticated bool          `json:"authenticated"`
	Query         string        `json:"query"`
	Error         string        `json:"error,omitempty"`
}

// eventResponse is the JSON response shape for /api/events/{id}.
type eventResponse struct {
	Event      *model.Event  `json:"event,omitempty"`
	DisplayURL string        `json:"display_url,omitempty"`
	Related    []model.Event `json:"related"`
	Error      string        `json:"error,omitempty"`
	Kind       string        `json:"kind,omitempty"`
}

type authResponse struct {
	Authenticated bool   `json:"authenticated"`
	Error         string `json:"error,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleAPIEvents returns the visible, filtered and sorted listing.
//
// GET /api/events?q=workshop
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	l := view.NewListing()
	l.SetAuthenticated(s.authenticated(r))
	l.SetQuery(r.URL.Query().Get("q"))
	res, _ := l.Load(r.Context(), s.events)

	status := http.StatusOK
	if res.Error != "" {
		status = http.StatusBadGateway
	}
	events := res.Events
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, status, eventsResponse{
		Events:        events,
		Total:         res.Total,
		Shown:         res.Shown,
		Authenticated: res.Authenticated,
		Query:         res.Query,
		Error:         res.Error,
	})
}

// handleAPIEvent returns one event with its resolved related events.
func (s *Server) handleAPIEvent(w http.ResponseWriter, r *http.Request) {
	st, _ := view.NewDetail(s.events).Load(r.Context(), mux.Vars(r)["id"], s.authenticated(r))
	if st.Err != nil {
		writeJSON(w, detailErrorStatus(st.Err.Kind), eventResponse{
			Related: []model.Event{},
			Error:   st.Err.Message,
			Kind:    string(st.Err.Kind),
		})
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{
		Event:      st.Event,
		DisplayURL: st.DisplayURL,
		Related:    st.Related,
	})
}

func (s *Server) handleAPIAuth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, authResponse{Authenticated: s.authenticated(r)})
}

// handleAPILogin accepts a JSON body or a form post.
func (s *Server) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	}

	if err := s.authn.Check(req.Username, req.Password); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrMissingCredentials) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, authResponse{Authenticated: false, Error: err.Error()})
		return
	}
	s.setFlagJSON(w, r, true)
}

func (s *Server) handleAPILogout(w http.ResponseWriter, r *http.Request) {
	s.setFlagJSON(w, r, false)
}

func (s *Server) setFlagJSON(w http.ResponseWriter, r *http.Request, authenticated bool) {
	if err := s.store.Set(r.Context(), scopeFrom(r.Context()), authenticated); err != nil {
		appLog.Error("auth flag write failed", err)
		writeError(w, http.StatusInternalServerError, "failed to update sign-in state")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Authenticated: authenticated})
}
