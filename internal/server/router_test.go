package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolist/edgeservice/internal/auth"
	"github.com/schoolist/edgeservice/internal/config"
	"github.com/schoolist/edgeservice/internal/services/identity"
)

const (
	testSessionToken = "session-token"
	testLoginPath    = "/oauth2/authorization/keycloak"
	testCallbackPath = "/login/oauth2/code/keycloak"
)

// mockIdentityService is a mock implementation of the identity service for testing
type mockIdentityService struct {
	loginFunc        func(ctx context.Context, req identity.LoginRequest) (*identity.LoginResult, error)
	authenticateFunc func(ctx context.Context, token string) (*auth.Principal, error)
	logoutFunc       func(ctx context.Context, p *auth.Principal) error
}

func (m *mockIdentityService) Login(ctx context.Context, req identity.LoginRequest) (*identity.LoginResult, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockIdentityService) Authenticate(ctx context.Context, token string) (*auth.Principal, error) {
	if m.authenticateFunc != nil {
		return m.authenticateFunc(ctx, token)
	}
	return nil, auth.ErrUnauthenticated
}

func (m *mockIdentityService) Logout(ctx context.Context, p *auth.Principal) error {
	if m.logoutFunc != nil {
		return m.logoutFunc(ctx, p)
	}
	return nil
}

// mockLoginFlow stands in for the OIDC relying party.
type mockLoginFlow struct {
	result             auth.LoginResult
	endSessionEndpoint string
}

func (m *mockLoginFlow) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://idp.example.com/auth", http.StatusFound)
	}
}

func (m *mockLoginFlow) CallbackHandler(done auth.LoginFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		done(w, r, m.result)
	}
}

func (m *mockLoginFlow) EndSessionURL(idTokenHint, postLogoutRedirectURI string) (string, bool) {
	return auth.BuildEndSessionURL(m.endSessionEndpoint, "edge", idTokenHint, postLogoutRedirectURI)
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{BaseURL: "http://localhost:8080"},
		OIDC:        config.OIDCConfig{Registration: "keycloak"},
		Session:     config.SessionConfig{CookieName: auth.DefaultSessionCookieName},
		Gateway:     config.GatewayConfig{TokenRelay: true},
		Observability: config.ObservabilityConfig{
			ServiceName:    "edgeservice",
			ServiceVersion: "1.2.3",
		},
	}
}

func testPrincipal(roles ...any) *auth.Principal {
	claims := auth.NewAttributeClaims(map[string]any{
		"sub":                "8f14e45f-ceea-467f-a0e6-1b2c3d4e5f60",
		"preferred_username": "jdoe",
		"given_name":         "Jane",
		"family_name":        "Doe",
		"realm_access":       map[string]any{"roles": roles},
	})
	return &auth.Principal{
		Subject:     claims.Subject(),
		SessionID:   "session-1",
		Claims:      claims,
		Authorities: auth.MapAuthorities(claims),
		IDToken:     "raw-id-token",
		AccessToken: "upstream-access-token",
	}
}

func sessionIdentity(p *auth.Principal) *mockIdentityService {
	return &mockIdentityService{
		authenticateFunc: func(ctx context.Context, token string) (*auth.Principal, error) {
			if token == testSessionToken {
				return p, nil
			}
			return nil, auth.ErrUnauthenticated
		},
	}
}

func newTestRouter(t *testing.T, opts RouterOptions) http.Handler {
	t.Helper()
	if opts.Cfg == nil {
		opts.Cfg = testConfig()
	}
	if opts.Identity == nil {
		opts.Identity = &mockIdentityService{}
	}
	r, err := NewRouter(opts)
	require.NoError(t, err)
	return r
}

func withSession(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: auth.DefaultSessionCookieName, Value: testSessionToken})
	return req
}

func withCSRF(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: auth.CSRFCookieName, Value: token})
	req.Header.Set(auth.CSRFHeaderName, token)
	return req
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestNewRouter_RequiresDependencies(t *testing.T) {
	_, err := NewRouter(RouterOptions{Identity: &mockIdentityService{}})
	assert.Error(t, err)

	_, err = NewRouter(RouterOptions{Cfg: testConfig()})
	assert.Error(t, err)
}

func TestCurrentUser(t *testing.T) {
	handler := newTestRouter(t, RouterOptions{Identity: sessionIdentity(testPrincipal("user", "editor"))})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodGet, "/api/user", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"id": "8f14e45f-ceea-467f-a0e6-1b2c3d4e5f60",
		"username": "jdoe",
		"firstName": "Jane",
		"lastName": "Doe",
		"roles": ["user", "editor"]
	}`, rec.Body.String())
}

func TestCurrentUser_NoRoleClaim(t *testing.T) {
	p := &auth.Principal{Subject: "sub-1", Claims: auth.NewAttributeClaims(map[string]any{"sub": "sub-1"})}
	handler := newTestRouter(t, RouterOptions{Identity: sessionIdentity(p)})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodGet, "/api/user", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []any{}, body["roles"])
}

func TestCurrentUser_AnonymousRedirectsToLogin(t *testing.T) {
	handler := newTestRouter(t, RouterOptions{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testLoginPath, rec.Header().Get("Location"))
	assert.NotNil(t, findCookie(rec, auth.RedirectCookieName))
	assert.NotNil(t, findCookie(rec, auth.CSRFCookieName), "every response materialises the CSRF token")
}

func TestDashboard_RequiresUserRole(t *testing.T) {
	tests := []struct {
		name       string
		roles      []any
		wantStatus int
	}{
		{name: "without role", roles: []any{"guest"}, wantStatus: http.StatusForbidden},
		{name: "with role", roles: []any{"user"}, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestRouter(t, RouterOptions{Identity: sessionIdentity(testPrincipal(tt.roles...))})

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodGet, "/dashboard/grades", nil)))
			// Allowed requests fall through to the gateway, which has no routes here.
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestDashboard_AnonymousRedirectsToLogin(t *testing.T) {
	handler := newTestRouter(t, RouterOptions{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard/x", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testLoginPath, rec.Header().Get("Location"))
	assert.NotNil(t, findCookie(rec, auth.RedirectCookieName))
}

func TestLogin(t *testing.T) {
	handler := newTestRouter(t, RouterOptions{RelyingParty: &mockLoginFlow{}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, testLoginPath+"?redirect_uri=%2Fcourses%3Fterm%3D2", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://idp.example.com/auth", rec.Header().Get("Location"))
	saved := findCookie(rec, auth.RedirectCookieName)
	require.NotNil(t, saved)
	target, err := url.QueryUnescape(saved.Value)
	require.NoError(t, err)
	assert.Equal(t, "/courses?term=2", target)
}

func TestLogin_ExternalRedirectIgnored(t *testing.T) {
	handler := newTestRouter(t, RouterOptions{RelyingParty: &mockLoginFlow{}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, testLoginPath+"?redirect_uri=https://evil.example.com", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Nil(t, findCookie(rec, auth.RedirectCookieName))
}

func TestLogin_NotConfigured(t *testing.T) {
	handler := newTestRouter(t, RouterOptions{})

	for _, path := range []string{testLoginPath, testCallbackPath} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestCallback_CreatesSession(t *testing.T) {
	principal := testPrincipal("user")
	expiresAt := time.Now().Add(12 * time.Hour).UTC().Truncate(time.Second)

	var got identity.LoginRequest
	ids := &mockIdentityService{
		loginFunc: func(ctx context.Context, req identity.LoginRequest) (*identity.LoginResult, error) {
			got = req
			return &identity.LoginResult{Token: "new-session-token", Principal: principal, ExpiresAt: expiresAt}, nil
		},
	}
	flow := &mockLoginFlow{result: auth.LoginResult{
		Claims:      principal.Claims,
		RawIDToken:  "raw-id-token",
		AccessToken: "access-token",
	}}
	handler := newTestRouter(t, RouterOptions{Identity: ids, RelyingParty: flow})

	req := httptest.NewRequest(http.MethodGet, testCallbackPath+"?code=abc&state=xyz", nil)
	req.Header.Set("User-Agent", "test-browser")
	req.AddCookie(&http.Cookie{Name: auth.RedirectCookieName, Value: url.QueryEscape("/dashboard/grades")})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard/grades", rec.Header().Get("Location"))

	session := findCookie(rec, auth.DefaultSessionCookieName)
	require.NotNil(t, session)
	assert.Equal(t, "new-session-token", session.Value)
	assert.True(t, session.HttpOnly)

	assert.Equal(t, principal.Subject, got.Claims.Subject())
	assert.Equal(t, "raw-id-token", got.IDToken)
	assert.Equal(t, "access-token", got.AccessToken)
	assert.Equal(t, "test-browser", got.UserAgent)
	assert.Equal(t, "192.0.2.1", got.IPAddress)
}

func TestCallback_DefaultsToRoot(t *testing.T) {
	ids := &mockIdentityService{
		loginFunc: func(ctx context.Context, req identity.LoginRequest) (*identity.LoginResult, error) {
			return &identity.LoginResult{Token: "t", Principal: testPrincipal(), ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	handler := newTestRouter(t, RouterOptions{Identity: ids, RelyingParty: &mockLoginFlow{}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, testCallbackPath, nil))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestCallback_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "missing subject", err: identity.ErrMissingSubject, wantStatus: http.StatusUnauthorized},
		{name: "store failure", err: errors.New("database down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := &mockIdentityService{
				loginFunc: func(ctx context.Context, req identity.LoginRequest) (*identity.LoginResult, error) {
					return nil, tt.err
				},
			}
			handler := newTestRouter(t, RouterOptions{Identity: ids, RelyingParty: &mockLoginFlow{}})

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, testCallbackPath, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Nil(t, findCookie(rec, auth.DefaultSessionCookieName))
		})
	}
}

func TestLogout(t *testing.T) {
	principal := testPrincipal("user")
	ids := sessionIdentity(principal)
	var loggedOut *auth.Principal
	ids.logoutFunc = func(ctx context.Context, p *auth.Principal) error {
		loggedOut = p
		return nil
	}
	flow := &mockLoginFlow{endSessionEndpoint: "https://idp.example.com/logout"}
	handler := newTestRouter(t, RouterOptions{Identity: ids, RelyingParty: flow})

	req := withCSRF(withSession(httptest.NewRequest(http.MethodPost, LogoutPath, nil)), "csrf-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.NotNil(t, loggedOut)
	assert.Equal(t, principal.SessionID, loggedOut.SessionID)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", location.Host)
	assert.Equal(t, "raw-id-token", location.Query().Get("id_token_hint"))
	assert.Equal(t, "http://localhost:8080", location.Query().Get("post_logout_redirect_uri"))

	cleared := findCookie(rec, auth.DefaultSessionCookieName)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)
}

func TestLogout_WithoutEndSessionEndpoint(t *testing.T) {
	handler := newTestRouter(t, RouterOptions{
		Identity:     sessionIdentity(testPrincipal()),
		RelyingParty: &mockLoginFlow{},
	})

	req := withCSRF(withSession(httptest.NewRequest(http.MethodPost, LogoutPath, nil)), "csrf-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://localhost:8080", rec.Header().Get("Location"))
}

func TestLogout_RequiresCSRFToken(t *testing.T) {
	ids := sessionIdentity(testPrincipal())
	called := false
	ids.logoutFunc = func(ctx context.Context, p *auth.Principal) error {
		called = true
		return nil
	}
	handler := newTestRouter(t, RouterOptions{Identity: ids, RelyingParty: &mockLoginFlow{}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withSession(httptest.NewRequest(http.MethodPost, LogoutPath, nil)))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called)
}

func TestLogout_Anonymous(t *testing.T) {
	handler := newTestRouter(t, RouterOptions{RelyingParty: &mockLoginFlow{endSessionEndpoint: "https://idp.example.com/logout"}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withCSRF(httptest.NewRequest(http.MethodPost, LogoutPath, nil), "csrf-1"))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://localhost:8080", rec.Header().Get("Location"))
}

func TestActuator(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "# HELP up\n")
	})
	handler := newTestRouter(t, RouterOptions{
		ReadinessChecks: map[string]HealthCheck{
			"db": func(ctx context.Context) error { return errors.New("connection refused") },
		},
		MetricsHandler: metrics,
	})

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{path: "/actuator/health", wantStatus: http.StatusServiceUnavailable, wantBody: `"status":"DOWN"`},
		{path: "/actuator/health/readiness", wantStatus: http.StatusServiceUnavailable, wantBody: `"error":"connection refused"`},
		{path: "/actuator/health/liveness", wantStatus: http.StatusOK, wantBody: `"status":"UP"`},
		{path: "/actuator/info", wantStatus: http.StatusOK, wantBody: `"version":"1.2.3"`},
		{path: "/actuator/prometheus", wantStatus: http.StatusOK, wantBody: "# HELP up"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestHealth_AllUp(t *testing.T) {
	handler := HandleHealth(map[string]HealthCheck{
		"db": func(ctx context.Context) error { return nil },
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actuator/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"UP","components":{"db":{"status":"UP"}}}`, rec.Body.String())
}

func TestDocs(t *testing.T) {
	handler := newTestRouter(t, RouterOptions{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc struct {
		OpenAPI string                    `json:"openapi"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.True(t, strings.HasPrefix(doc.OpenAPI, "3."))
	assert.Contains(t, doc.Paths, "/api/user")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs/openapi.yaml", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openapi: 3.0.3")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
}
