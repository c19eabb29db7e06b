package telemetry

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds metric instruments for HTTP server telemetry.
// A nil *ServerMetrics records nothing.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests
	RequestDuration metric.Float64Histogram // HTTP request latency
	ErrorCounter    metric.Int64Counter     // Total HTTP errors (5xx)
}

// NewServerMetrics creates the HTTP instruments on the global meter provider.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter("edgeservice/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP server errors (5xx)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
	}, nil
}

// RecordRequest records an HTTP request with method, route, status, and duration.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route string, status int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
		attribute.String(AttrHTTPStatusCode, strconv.Itoa(status)),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)
	if status >= 500 {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// AuthMetrics holds metric instruments for login, logout, session lookup and
// authorization. A nil *AuthMetrics records nothing.
type AuthMetrics struct {
	Logins        metric.Int64Counter
	Logouts       metric.Int64Counter
	Decisions     metric.Int64Counter
	SessionLookup metric.Int64Counter
}

// NewAuthMetrics creates the authentication instruments on the global meter provider.
func NewAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter("edgeservice/auth")

	logins, err := meter.Int64Counter(
		"auth.login.count",
		metric.WithDescription("Completed OIDC logins"),
		metric.WithUnit("{login}"),
	)
	if err != nil {
		return nil, err
	}

	logouts, err := meter.Int64Counter(
		"auth.logout.count",
		metric.WithDescription("Logouts"),
		metric.WithUnit("{logout}"),
	)
	if err != nil {
		return nil, err
	}

	decisions, err := meter.Int64Counter(
		"auth.decision.count",
		metric.WithDescription("Authorization decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	sessionLookup, err := meter.Int64Counter(
		"auth.session.lookup.count",
		metric.WithDescription("Session lookups by cache result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		Logins:        logins,
		Logouts:       logouts,
		Decisions:     decisions,
		SessionLookup: sessionLookup,
	}, nil
}

// RecordLogin counts a login attempt.
func (a *AuthMetrics) RecordLogin(ctx context.Context, success bool) {
	if a == nil {
		return
	}
	a.Logins.Add(ctx, 1, metric.WithAttributes(attribute.Bool(AttrAuthSuccess, success)))
}

// RecordLogout counts a logout.
func (a *AuthMetrics) RecordLogout(ctx context.Context) {
	if a == nil {
		return
	}
	a.Logouts.Add(ctx, 1)
}

// RecordDecision counts an authorization decision.
func (a *AuthMetrics) RecordDecision(ctx context.Context, decision string) {
	if a == nil {
		return
	}
	a.Decisions.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAuthDecision, decision)))
}

// RecordSessionLookup counts a session lookup; hit reports a cache hit.
func (a *AuthMetrics) RecordSessionLookup(ctx context.Context, hit bool) {
	if a == nil {
		return
	}
	a.SessionLookup.Add(ctx, 1, metric.WithAttributes(attribute.Bool(AttrCacheHit, hit)))
}

// Common metric attribute keys
const (
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"

	AttrAuthSuccess  = "auth.success"
	AttrAuthDecision = "auth.decision"
	AttrCacheHit     = "cache.hit"
)
