package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/schoolist/edgeservice/internal/auth"
	"github.com/schoolist/edgeservice/internal/config"
	"github.com/schoolist/edgeservice/internal/logging"
	edgemw "github.com/schoolist/edgeservice/internal/middleware"
	"github.com/schoolist/edgeservice/internal/telemetry"
)

// LogoutPath is the RP-initiated logout endpoint.
const LogoutPath = "/logout"

// RouterOptions controls the construction of the edge HTTP router.
type RouterOptions struct {
	Cfg *config.Config
	// Identity creates and resolves sessions.
	Identity identityService
	// RelyingParty drives the OIDC login; login answers 503 when nil.
	RelyingParty loginFlow
	// Policy defaults to auth.DefaultPolicy().
	Policy          *auth.PolicyTable
	Routes          []config.GatewayRoute
	ReadinessChecks map[string]HealthCheck
	MetricsHandler  http.Handler
	ServerMetrics   *telemetry.ServerMetrics
	AuthMetrics     *telemetry.AuthMetrics
	CORSOptions     *cors.Options
	Logger          *zap.Logger
}

// DefaultCORSOptions returns the CORS policy for the configured frontend origins.
func DefaultCORSOptions(cfg config.CORSConfig) cors.Options {
	return cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"Authorization",
			"X-Requested-With",
			auth.CSRFHeaderName,
		},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           300,
	}
}

// NewRouter assembles the chi router: shared middleware, canonical path
// enforcement, session authentication, CSRF protection and the policy table in
// front of the local endpoints and the gateway.
func NewRouter(opts RouterOptions) (chi.Router, error) {
	if opts.Cfg == nil {
		return nil, errors.New("router requires configuration")
	}
	if opts.Identity == nil {
		return nil, errors.New("router requires the identity service")
	}
	cfg := opts.Cfg
	logger := logging.OrNop(opts.Logger)
	cookies := cfg.CookieSettings()

	policy := opts.Policy
	if policy == nil {
		policy = auth.DefaultPolicy()
	}
	authz, err := edgemw.NewAuthzMiddleware(edgemw.AuthzDependencies{
		Policy:    policy,
		LoginPath: cfg.LoginPath(),
		Bypass:    []string{cfg.LoginPath(), cfg.CallbackPath(), LogoutPath},
		Cookies:   cookies,
		Metrics:   opts.AuthMetrics,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(edgemw.NewAccessLogMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(edgemw.NewMetricsMiddleware(opts.ServerMetrics))
	r.Use(edgemw.NewCanonicalPathMiddleware(logger))

	// Without configured origins the frontend is same-origin and CORS stays off.
	corsCfg := DefaultCORSOptions(cfg.CORS)
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	if len(corsCfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(corsCfg))
	}

	r.Use(edgemw.NewSessionAuthMiddleware(edgemw.AuthnDependencies{
		Authenticator: opts.Identity,
		Cookies:       cookies,
		Logger:        logger,
	}))
	r.Use(edgemw.NewCSRFMiddleware(cookies, logger))
	r.Use(authz)

	if opts.RelyingParty != nil {
		r.Get(cfg.LoginPath(), HandleLogin(opts.RelyingParty, cookies))
		r.Get(cfg.CallbackPath(), HandleCallback(opts.RelyingParty, opts.Identity, cookies, logger))
	} else {
		logger.Warn("OIDC not configured; login endpoints answer 503")
		r.Get(cfg.LoginPath(), handleLoginUnavailable)
		r.Get(cfg.CallbackPath(), handleLoginUnavailable)
	}
	r.Post(LogoutPath, HandleLogout(opts.RelyingParty, opts.Identity, cookies, cfg.Server.BaseURL, logger))

	r.Get("/api/user", HandleCurrentUser(logger))

	mountActuator(r, opts)
	if err := mountDocs(r); err != nil {
		return nil, err
	}

	r.NotFound(NewGateway(opts.Routes, cfg.Gateway.TokenRelay, cookies, logger).ServeHTTP)

	return r, nil
}

// NewH2CHandler wraps the router to serve HTTP/2 over cleartext behind a
// TLS-terminating load balancer.
func NewH2CHandler(handler http.Handler) http.Handler {
	return h2c.NewHandler(handler, &http2.Server{})
}
