package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedview/internal/auth"
	"schedview/internal/config"
	"schedview/internal/eventsapi"
	"schedview/internal/probe"
)

const upstreamEvents = `[
  {"id": 3, "name": "Opening Keynote", "event_type": "tech_talk", "permission": "public",
   "start_time": 1705340000000, "end_time": 1705343600000, "speakers": [{"name": "Grace"}],
   "description": "Welcome", "public_url": "https://pub/3", "private_url": "https://priv/3",
   "related_events": [1, 2, 99]},
  {"id": 1, "name": "Intro to Go", "event_type": "workshop", "permission": "public",
   "start_time": 1705330000000, "end_time": 1705333600000, "speakers": [],
   "description": null, "public_url": "", "private_url": "https://priv/1", "related_events": []},
  {"id": 2, "name": "Hacker Dinner", "event_type": "activity", "permission": "private",
   "start_time": 1705350000000, "end_time": 1705353600000, "speakers": [],
   "description": "food", "private_url": "https://priv/2", "related_events": []}
]`

type upstream struct {
	fail atomic.Bool
	hits atomic.Int32
	// body replaces upstreamEvents when set before the first request.
	body string
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.hits.Add(1)
	if u.fail.Load() {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	body := upstreamEvents
	if u.body != "" {
		body = u.body
	}
	var all []json.RawMessage
	_ = json.Unmarshal([]byte(body), &all)

	switch {
	case r.URL.Path == "/events":
		_, _ = w.Write([]byte(body))
	case strings.HasPrefix(r.URL.Path, "/events/"):
		id := strings.TrimPrefix(r.URL.Path, "/events/")
		for _, raw := range all {
			var head struct {
				ID json.Number `json:"id"`
			}
			_ = json.Unmarshal(raw, &head)
			if head.ID.String() == id {
				_, _ = w.Write(raw)
				return
			}
		}
		http.NotFound(w, r)
	default:
		http.NotFound(w, r)
	}
}

type fixedHealth probe.Status

func (f fixedHealth) Status() probe.Status { return probe.Status(f) }

type testEnv struct {
	cfg      *config.Config
	server   *Server
	srv      *httptest.Server
	upstream *upstream
	store    *auth.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, func(*config.Config) {})
}

func newTestEnvWith(t *testing.T, configure func(*config.Config)) *testEnv {
	t.Helper()

	up := &upstream{}
	upSrv := httptest.NewServer(up)
	t.Cleanup(upSrv.Close)

	cfg := config.DefaultConfig()
	cfg.APIBaseURL = upSrv.URL
	cfg.Timezone = "UTC"
	configure(cfg)

	store := auth.NewMemoryStore(cfg.Auth.StorageKey)
	t.Cleanup(func() { _ = store.Close() })

	s, err := NewServer(Deps{
		Config:        cfg,
		Events:        eventsapi.NewClient(cfg.APIBaseURL, eventsapi.IDRange{Min: 1, Max: 15}),
		Store:         store,
		Scopes:        auth.NewScopes("test-secret", false),
		Authenticator: auth.NewAuthenticator(cfg.Auth.Username, cfg.Auth.Password, ""),
		Health:        fixedHealth{Checked: true, Up: true, EventCount: 3},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{cfg: cfg, server: s, srv: srv, upstream: up, store: store}
}

// browser returns a client with its own cookie jar. Clients sharing a jar
// behave like tabs of one browser.
func browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func tab(c *http.Client) *http.Client {
	return &http.Client{Jar: c.Jar, Timeout: c.Timeout}
}

func get(t *testing.T, c *http.Client, u string) (int, string) {
	t.Helper()
	resp, err := c.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func login(t *testing.T, c *http.Client, base, user, pass string) (int, string) {
	t.Helper()
	resp, err := c.PostForm(base+"/login", url.Values{"username": {user}, "password": {pass}})
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "up", resp.Header.Get("X-Upstream-Status"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestListing_UnauthenticatedHidesPrivate(t *testing.T) {
	env := newTestEnv(t)
	c := browser(t)

	status, body := get(t, c, env.srv.URL+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Showing 2 of 3 events")
	assert.Contains(t, body, "Sign in to view private events")
	assert.NotContains(t, body, "Hacker Dinner")

	// sorted by start time
	assert.Less(t, strings.Index(body, "Intro to Go"), strings.Index(body, "Opening Keynote"))
}

func TestListing_RelatedPreviewShortensNames(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.body = `[
  {"id": 1, "name": "Opening Ceremony", "event_type": "activity", "permission": "public",
   "start_time": 100, "end_time": 200, "speakers": [], "related_events": [2, 3, 4]},
  {"id": 2, "name": "Distributed Systems Deep Dive", "event_type": "workshop", "permission": "public",
   "start_time": 300, "end_time": 400, "speakers": [], "related_events": []},
  {"id": 3, "name": "Exactly fifteen", "event_type": "tech_talk", "permission": "public",
   "start_time": 500, "end_time": 600, "speakers": [], "related_events": []},
  {"id": 4, "name": "Third Related", "event_type": "tech_talk", "permission": "public",
   "start_time": 700, "end_time": 800, "speakers": [], "related_events": []}
]`

	status, body := get(t, browser(t), env.srv.URL+"/")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `title="Distributed Systems Deep Dive">Distributed Sys...</a>`)
	assert.Contains(t, body, `title="Exactly fifteen">Exactly fifteen</a>`)
	// only the first two related events are previewed on a card
	assert.NotContains(t, body, `title="Third Related"`)
}

func TestListing_SearchNoMatch(t *testing.T) {
	env := newTestEnv(t)

	status, body := get(t, browser(t), env.srv.URL+"/?q=zzz")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "No events found")
	assert.Contains(t, body, "Showing 0 of 3 events")
}

func TestListing_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.fail.Store(true)

	status, body := get(t, browser(t), env.srv.URL+"/")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body, "Failed to fetch events")
}

func TestLogin_RevealsPrivateEvents(t *testing.T) {
	env := newTestEnv(t)
	c := browser(t)

	status, body := login(t, c, env.srv.URL, "hacker", "htn2026")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Showing 3 of 3 events")
	assert.Contains(t, body, "Hacker Dinner")
	assert.NotContains(t, body, "Sign in to view private events")

	// logout hides them again
	resp, err := c.PostForm(env.srv.URL+"/logout", nil)
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(b), "Showing 2 of 3 events")
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t)
	c := browser(t)

	status, body := login(t, c, env.srv.URL, "hacker", "nope")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body, "Invalid username or password")

	status, body = login(t, c, env.srv.URL, "", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "Please enter both username and password")

	_, body = get(t, c, env.srv.URL+"/")
	assert.Contains(t, body, "Showing 2 of 3 events")
}

func TestDetail_InvalidIDNeverHitsUpstream(t *testing.T) {
	env := newTestEnv(t)
	c := browser(t)

	for _, id := range []string{"abc", "0", "16", "-1"} {
		status, body := get(t, c, env.srv.URL+"/event/"+id)
		assert.Equal(t, http.StatusBadRequest, status, id)
		assert.Contains(t, body, "Invalid event ID. Must be between 1 and 15.", id)
	}
	assert.Zero(t, env.upstream.hits.Load())
}

func TestDetail_PrivateRequiresSignIn(t *testing.T) {
	env := newTestEnv(t)
	c := browser(t)

	status, body := get(t, c, env.srv.URL+"/event/2")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, body, "This is a private event. Please sign in to view it.")
	assert.Contains(t, body, "Go to Sign In")

	login(t, c, env.srv.URL, "hacker", "htn2026")
	status, body = get(t, c, env.srv.URL+"/event/2")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Hacker Dinner")
	assert.Contains(t, body, "https://priv/2")
}

func TestDetail_RelatedAndLink(t *testing.T) {
	env := newTestEnv(t)
	c := browser(t)

	status, body := get(t, c, env.srv.URL+"/event/3")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Opening Keynote")
	assert.Contains(t, body, "https://pub/3")
	assert.Contains(t, body, "Related Events")
	assert.Contains(t, body, "Intro to Go")
	assert.NotContains(t, body, "Hacker Dinner")
}

func TestDetail_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.fail.Store(true)

	status, body := get(t, browser(t), env.srv.URL+"/event/3")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body, "Failed to fetch event 3")
}

func TestAPIEvents(t *testing.T) {
	env := newTestEnv(t)

	status, body := get(t, browser(t), env.srv.URL+"/api/events?q=GO")
	require.Equal(t, http.StatusOK, status)

	var resp eventsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 1, resp.Shown)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "Intro to Go", resp.Events[0].Name)
	assert.False(t, resp.Authenticated)
}

func TestAPIEvent(t *testing.T) {
	env := newTestEnv(t)
	c := browser(t)

	status, body := get(t, c, env.srv.URL+"/api/events/3")
	require.Equal(t, http.StatusOK, status)
	var resp eventResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.NotNil(t, resp.Event)
	assert.Equal(t, "https://pub/3", resp.DisplayURL)
	require.Len(t, resp.Related, 1)
	assert.Equal(t, 1, resp.Related[0].ID)

	status, body = get(t, c, env.srv.URL+"/api/events/2")
	assert.Equal(t, http.StatusForbidden, status)
	resp = eventResponse{}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "private", resp.Kind)
	assert.Nil(t, resp.Event)
}

func TestAPIAuth_JSONLoginSharedAcrossTabs(t *testing.T) {
	env := newTestEnv(t)
	first := browser(t)
	second := tab(first)
	other := browser(t)

	// establish the scope cookie
	_, body := get(t, first, env.srv.URL+"/api/auth")
	assert.JSONEq(t, `{"authenticated": false}`, body)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/auth/login",
		strings.NewReader(`{"username": "  hacker ", "password": "htn2026"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := first.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = get(t, second, env.srv.URL+"/api/auth")
	assert.JSONEq(t, `{"authenticated": true}`, body)

	_, body = get(t, other, env.srv.URL+"/api/auth")
	assert.JSONEq(t, `{"authenticated": false}`, body)

	resp, err = second.Post(env.srv.URL+"/api/auth/logout", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	_, body = get(t, first, env.srv.URL+"/api/auth")
	assert.JSONEq(t, `{"authenticated": false}`, body)
}

func TestAPIAuth_BadCredentials(t *testing.T) {
	env := newTestEnv(t)

	resp, err := browser(t).PostForm(env.srv.URL+"/api/auth/login", url.Values{"username": {"x"}, "password": {"y"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var out authResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Invalid username or password", out.Error)
}

func TestAuthStream_ReceivesChangesFromOtherTab(t *testing.T) {
	env := newTestEnv(t)
	first := browser(t)
	first.Timeout = 0
	second := tab(first)

	get(t, first, env.srv.URL+"/api/auth")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/auth/stream", nil)
	require.NoError(t, err)
	resp, err := first.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data:"); ok {
				events <- strings.TrimSpace(data)
			}
		}
		close(events)
	}()

	next := func() string {
		select {
		case v := <-events:
			return v
		case <-ctx.Done():
			t.Fatal("timed out waiting for auth event")
			return ""
		}
	}

	assert.Equal(t, "false", next())

	status, _ := login(t, second, env.srv.URL, "hacker", "htn2026")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "true", next())
}

func TestCalendarExport(t *testing.T) {
	env := newTestEnv(t)
	c := browser(t)

	resp, err := c.Get(env.srv.URL + "/calendar.ics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/calendar"))
	assert.Equal(t, 2, strings.Count(string(body), "BEGIN:VEVENT"))

	login(t, c, env.srv.URL, "hacker", "htn2026")
	_, s := get(t, c, env.srv.URL+"/calendar.ics")
	assert.Equal(t, 3, strings.Count(s, "BEGIN:VEVENT"))
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	c := browser(t)
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := c.Get(env.srv.URL + "/nowhere")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	status, body := get(t, c, env.srv.URL+"/api/nowhere")
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{"error": "not found"}`, body)
}

func preflight(t *testing.T, base, origin string) http.Header {
	t.Helper()
	req, err := http.NewRequest(http.MethodOptions, base+"/api/events", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Less(t, resp.StatusCode, 300)
	return resp.Header
}

func TestCORSPreflight_AnyOriginWithoutCredentials(t *testing.T) {
	env := newTestEnv(t)

	h := preflight(t, env.srv.URL, "https://example.com")
	assert.Equal(t, "*", h.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, h.Get("Access-Control-Allow-Credentials"))
}

func TestCORSPreflight_ExplicitOriginsAllowCredentials(t *testing.T) {
	env := newTestEnvWith(t, func(c *config.Config) {
		c.CORSOrigins = []string{"https://schedule.example.com"}
	})

	h := preflight(t, env.srv.URL, "https://schedule.example.com")
	assert.Equal(t, "https://schedule.example.com", h.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", h.Get("Access-Control-Allow-Credentials"))

	h = preflight(t, env.srv.URL, "https://elsewhere.example.com")
	assert.Empty(t, h.Get("Access-Control-Allow-Origin"))
}

func TestScopeCookieIssuedOnce(t *testing.T) {
	env := newTestEnv(t)
	c := browser(t)

	get(t, c, env.srv.URL+"/api/auth")
	u, _ := url.Parse(env.srv.URL)
	cookies := c.Jar.Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.ScopeCookie, cookies[0].Name)

	get(t, c, env.srv.URL+"/")
	after := c.Jar.Cookies(u)
	require.Len(t, after, 1)
	assert.Equal(t, cookies[0].Value, after[0].Value)
}

func TestStartServer_ShutdownEndsAuthStreams(t *testing.T) {
	env := newTestEnv(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	env.cfg.Listen = addr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- env.server.StartServer(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/api/auth/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event:auth\n", line)

	started := time.Now()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Less(t, time.Since(started), 2*time.Second)
	case <-time.After(4 * time.Second):
		t.Fatal("shutdown blocked on an open auth stream")
	}
}
