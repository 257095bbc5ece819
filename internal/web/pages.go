package web

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"schedview/internal/auth"
	appLog "schedview/internal/log"
	"schedview/internal/model"
	"schedview/internal/schedule"
	"schedview/internal/view"
)

var pageNames = []string{"listing", "detail", "login"}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New(name).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("web: parse %s template: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

// render executes a page into a buffer first so a template error never
// leaves a half-written response.
func (s *Server) render(w http.ResponseWriter, status int, page string, data any) {
	var buf bytes.Buffer
	if err := s.pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		appLog.Error("template render failed", err, "page", page)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// relatedNameLimit is how many characters of a related event's name a
// listing card shows.
const relatedNameLimit = 15

// eventCard is the listing presentation of one event.
type eventCard struct {
	Event     model.Event
	TypeLabel string
	When      string
	StartISO  string
	Speakers  string
	URL       string
	Related   []relatedLink
}

type relatedLink struct {
	ID    int
	Label string
	Name  string
}

type listingPage struct {
	Title         string
	Authenticated bool
	Result        view.ListingResult
	Cards         []eventCard
}

func (s *Server) handleListingPage(w http.ResponseWriter, r *http.Request) {
	authed := s.authenticated(r)

	l := view.NewListing()
	l.SetAuthenticated(authed)
	l.SetQuery(r.URL.Query().Get("q"))
	res, _ := l.Load(r.Context(), s.events)

	snapshot := l.Snapshot()
	cards := make([]eventCard, 0, len(res.Events))
	for _, ev := range res.Events {
		related := schedule.Preview(schedule.ResolveRelated(ev.RelatedEvents, snapshot, authed), s.cfg.RelatedPreview)
		links := make([]relatedLink, 0, len(related))
		for _, rel := range related {
			links = append(links, relatedLink{
				ID:    rel.ID,
				Label: schedule.Truncate(rel.Name, relatedNameLimit),
				Name:  rel.Name,
			})
		}
		cards = append(cards, eventCard{
			Event:     ev,
			TypeLabel: schedule.FormatEventType(ev.EventType),
			When:      s.when(ev),
			StartISO:  ev.Start().UTC().Format(time.RFC3339),
			Speakers:  schedule.FormatSpeakers(ev.Speakers),
			URL:       schedule.DisplayURL(ev, authed),
			Related:   links,
		})
	}

	status := http.StatusOK
	if res.Error != "" {
		status = http.StatusBadGateway
	}
	s.render(w, status, "listing", listingPage{
		Title:         "Events",
		Authenticated: authed,
		Result:        res,
		Cards:         cards,
	})
}

type relatedCard struct {
	Event     model.Event
	TypeLabel string
}

type detailPage struct {
	Title         string
	Authenticated bool
	Err           *view.DetailError
	Event         *model.Event
	TypeLabel     string
	When          string
	StartISO      string
	Speakers      string
	URL           string
	Related       []relatedCard
}

func (s *Server) handleDetailPage(w http.ResponseWriter, r *http.Request) {
	authed := s.authenticated(r)

	st, _ := view.NewDetail(s.events).Load(r.Context(), mux.Vars(r)["id"], authed)

	page := detailPage{
		Title:         "Event",
		Authenticated: authed,
		Err:           st.Err,
	}
	if st.Err != nil {
		page.Title = "Error"
		s.render(w, detailErrorStatus(st.Err.Kind), "detail", page)
		return
	}

	ev := *st.Event
	page.Title = ev.Name
	page.Event = st.Event
	page.TypeLabel = schedule.FormatEventType(ev.EventType)
	page.When = s.when(ev)
	page.StartISO = ev.Start().UTC().Format(time.RFC3339)
	page.Speakers = schedule.FormatSpeakers(ev.Speakers)
	page.URL = st.DisplayURL
	for _, rel := range st.Related {
		page.Related = append(page.Related, relatedCard{
			Event:     rel,
			TypeLabel: schedule.FormatEventType(rel.EventType),
		})
	}
	s.render(w, http.StatusOK, "detail", page)
}

func detailErrorStatus(k view.ErrorKind) int {
	switch k {
	case view.KindInvalidID:
		return http.StatusBadRequest
	case view.KindPrivate:
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

type loginPage struct {
	Title         string
	Authenticated bool
	Username      string
	Error         string
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "login", loginPage{
		Title:         "Sign In",
		Authenticated: s.authenticated(r),
	})
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	if err := s.authn.Check(username, password); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrMissingCredentials) {
			status = http.StatusBadRequest
		}
		s.render(w, status, "login", loginPage{
			Title:    "Sign In",
			Username: username,
			Error:    err.Error(),
		})
		return
	}

	if err := s.store.Set(r.Context(), scopeFrom(r.Context()), true); err != nil {
		appLog.Error("auth flag write failed", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogoutSubmit(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Set(r.Context(), scopeFrom(r.Context()), false); err != nil {
		appLog.Error("auth flag write failed", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// when renders "Jan 15, 2024, 2:30 PM - 3:30 PM".
func (s *Server) when(ev model.Event) string {
	return schedule.FormatDate(ev.StartTime, s.loc) + " - " + schedule.FormatTime(ev.EndTime, s.loc)
}
