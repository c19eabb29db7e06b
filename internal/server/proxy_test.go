package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolist/edgeservice/internal/auth"
	"github.com/schoolist/edgeservice/internal/config"
)

type upstreamRequest struct {
	path          string
	authorization string
	cookies       []*http.Cookie
	forwardedFor  string
}

// upstreamRecorder remembers the last request an upstream received.
type upstreamRecorder struct {
	mu   sync.Mutex
	last upstreamRequest
}

func (u *upstreamRecorder) snapshot() upstreamRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.last
}

func newUpstream(t *testing.T) (*url.URL, *upstreamRecorder) {
	t.Helper()
	seen := &upstreamRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.mu.Lock()
		seen.last = upstreamRequest{
			path:          r.URL.RequestURI(),
			authorization: r.Header.Get("Authorization"),
			cookies:       r.Cookies(),
			forwardedFor:  r.Header.Get("X-Forwarded-For"),
		}
		seen.mu.Unlock()
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return u, seen
}

func TestGateway_RelaysAccessToken(t *testing.T) {
	upstream, seen := newUpstream(t)
	handler := newTestRouter(t, RouterOptions{
		Identity: sessionIdentity(testPrincipal("user")),
		Routes:   []config.GatewayRoute{{Prefix: "/api/courses", Upstream: upstream}},
	})

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/courses/42?expand=true", nil))
	req.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTeapot, rec.Code)
	got := seen.snapshot()
	assert.Equal(t, "/api/courses/42?expand=true", got.path)
	assert.Equal(t, "Bearer upstream-access-token", got.authorization)
	assert.NotEmpty(t, got.forwardedFor)

	names := make([]string, 0, len(got.cookies))
	for _, c := range got.cookies {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "theme")
	assert.NotContains(t, names, auth.DefaultSessionCookieName)
}

func TestGateway_ExpiredTokenNotRelayed(t *testing.T) {
	upstream, seen := newUpstream(t)
	principal := testPrincipal("user")
	principal.AccessTokenExpiry = time.Now().Add(-time.Minute)
	handler := newTestRouter(t, RouterOptions{
		Identity: sessionIdentity(principal),
		Routes:   []config.GatewayRoute{{Prefix: "/", Upstream: upstream}},
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodGet, "/reports", nil)))

	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, seen.snapshot().authorization)
}

func TestGateway_PublicPathForwardedAnonymously(t *testing.T) {
	upstream, seen := newUpstream(t)
	handler := newTestRouter(t, RouterOptions{
		Routes: []config.GatewayRoute{{Prefix: "/", Upstream: upstream}},
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_next/static/chunk.js", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	got := seen.snapshot()
	assert.Equal(t, "/_next/static/chunk.js", got.path)
	assert.Empty(t, got.authorization)
}

func TestGateway_DotSegmentsCannotCrossRoutes(t *testing.T) {
	dashboard, dashboardSeen := newUpstream(t)
	frontend, frontendSeen := newUpstream(t)
	handler := newTestRouter(t, RouterOptions{
		Routes: []config.GatewayRoute{
			{Prefix: "/dashboard", Upstream: dashboard},
			{Prefix: "/", Upstream: frontend},
		},
	})

	for _, target := range []string{
		"/dashboard/../_next/app.js",
		"/dashboard/%2e%2e/_next/app.js",
		"/_next/../dashboard/settings",
		"/dashboard%2F..%2F_next/app.js",
	} {
		t.Run(target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, dashboardSeen.snapshot().path)
			assert.Empty(t, frontendSeen.snapshot().path)
		})
	}
}

func TestGateway_LongestPrefixWins(t *testing.T) {
	general, generalSeen := newUpstream(t)
	specific, specificSeen := newUpstream(t)

	g := NewGateway([]config.GatewayRoute{
		{Prefix: "/", Upstream: general},
		{Prefix: "/aggregate", Upstream: specific},
	}, false, auth.CookieSettings{}, nil)

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/aggregate/summary", nil))
	assert.Equal(t, "/aggregate/summary", specificSeen.snapshot().path)
	assert.Empty(t, generalSeen.snapshot().path)

	rec = httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/aggregates", nil))
	assert.Equal(t, "/aggregates", generalSeen.snapshot().path)
}

func TestGateway_NoRoute(t *testing.T) {
	g := NewGateway(nil, true, auth.CookieSettings{}, nil)

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found","status":404}`, rec.Body.String())
}

func TestGateway_UpstreamDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	upstream, err := url.Parse(srv.URL)
	require.NoError(t, err)
	srv.Close()

	g := NewGateway([]config.GatewayRoute{{Prefix: "/", Upstream: upstream}}, false, auth.CookieSettings{}, nil)

	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
