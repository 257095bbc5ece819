package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"schedview/internal/auth"
	"schedview/internal/config"
	appLog "schedview/internal/log"
	"schedview/internal/probe"
	"schedview/internal/view"
)

//go:embed templates/*.html
var templateFS embed.FS

// HealthReporter exposes the last upstream probe result.
type HealthReporter interface {
	Status() probe.Status
}

// Deps are the collaborators a Server needs.
type Deps struct {
	Config        *config.Config
	Events        view.EventSource
	Store         auth.Store
	Scopes        *auth.Scopes
	Authenticator *auth.Authenticator
	// Health and Gatherer are optional.
	Health   HealthReporter
	Gatherer prometheus.Gatherer
}

// Server serves the schedule pages, the JSON API, the auth stream and the
// calendar export.
type Server struct {
	cfg      *config.Config
	events   view.EventSource
	store    auth.Store
	scopes   *auth.Scopes
	authn    *auth.Authenticator
	health   HealthReporter
	gatherer prometheus.Gatherer

	loc    *time.Location
	router *mux.Router
	pages  map[string]*template.Template
}

// NewServer constructs a new Server. It fails only if the embedded
// templates do not parse.
func NewServer(d Deps) (*Server, error) {
	if d.Config == nil || d.Events == nil || d.Store == nil || d.Scopes == nil || d.Authenticator == nil {
		return nil, errors.New("web: missing dependency")
	}

	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      d.Config,
		events:   d.Events,
		store:    d.Store,
		scopes:   d.Scopes,
		authn:    d.Authenticator,
		health:   d.Health,
		gatherer: d.Gatherer,
		loc:      resolveLocationOrLocal(d.Config.Timezone),
		router:   mux.NewRouter(),
		pages:    pages,
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the root http.Handler. CORS applies to /api/* only.
func (s *Server) Handler() http.Handler {
	apiCORS := cors.New(corsOptions(s.cfg.CORSOrigins)).Handler(s.router)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			apiCORS.ServeHTTP(w, r)
			return
		}
		s.router.ServeHTTP(w, r)
	})
}

// corsOptions allows any origin without credentials when origins is empty.
// Browsers refuse credentials alongside a wildcard origin, so cookies are
// only allowed for an explicit origin list.
func corsOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: len(origins) > 0,
	}
}

// StartServer serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) StartServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts derive from ctx, so canceling it also ends
		// long-lived auth streams before Shutdown waits on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(requestLogMiddleware, recoveryMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// Everything below is scoped: the scope cookie decides which
	// authenticated flag applies.
	scoped := r.NewRoute().Subrouter()
	scoped.Use(s.scopeMiddleware)

	scoped.HandleFunc("/", s.handleListingPage).Methods(http.MethodGet)
	scoped.HandleFunc("/event/{id}", s.handleDetailPage).Methods(http.MethodGet)
	scoped.HandleFunc("/login", s.handleLoginPage).Methods(http.MethodGet)
	scoped.HandleFunc("/login", s.handleLoginSubmit).Methods(http.MethodPost)
	scoped.HandleFunc("/logout", s.handleLogoutSubmit).Methods(http.MethodPost)
	scoped.HandleFunc("/calendar.ics", s.handleCalendar).Methods(http.MethodGet)

	api := scoped.PathPrefix("/api").Subrouter()
	api.HandleFunc("/events", s.handleAPIEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", s.handleAPIEvent).Methods(http.MethodGet)
	api.HandleFunc("/auth", s.handleAPIAuth).Methods(http.MethodGet)
	api.HandleFunc("/auth/login", s.handleAPILogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.handleAPILogout).Methods(http.MethodPost)
	api.HandleFunc("/auth/stream", s.handleAuthStream).Methods(http.MethodGet)

	// Unknown pages go home.
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		st := s.health.Status()
		switch {
		case !st.Checked:
			w.Header().Set("X-Upstream-Status", "unknown")
		case st.Up:
			w.Header().Set("X-Upstream-Status", "up")
		default:
			w.Header().Set("X-Upstream-Status", "down")
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// authenticated reads the flag for the request's scope. A store failure is
// logged and treated as signed out.
func (s *Server) authenticated(r *http.Request) bool {
	scope := scopeFrom(r.Context())
	ok, err := s.store.Get(r.Context(), scope)
	if err != nil {
		appLog.Error("auth flag read failed", err, "scope", scope)
		return false
	}
	return ok
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
