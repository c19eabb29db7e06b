package server

import (
	"net/http"
	"net/http/httputil"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/schoolist/edgeservice/internal/auth"
	"github.com/schoolist/edgeservice/internal/config"
	"github.com/schoolist/edgeservice/internal/logging"
	edgemw "github.com/schoolist/edgeservice/internal/middleware"
)

type gatewayRoute struct {
	prefix string
	proxy  *httputil.ReverseProxy
}

// Gateway forwards requests to upstream routes, longest prefix first.
// With token relay on, the session's access token is sent upstream as a
// bearer token while it is still valid. The session cookie itself is never
// forwarded.
type Gateway struct {
	routes []gatewayRoute
	logger *zap.Logger
}

// NewGateway builds one reverse proxy per route.
func NewGateway(routes []config.GatewayRoute, relayToken bool, cookies auth.CookieSettings, logger *zap.Logger) *Gateway {
	logger = logging.OrNop(logger).Named("gateway")
	g := &Gateway{logger: logger}

	sorted := append([]config.GatewayRoute(nil), routes...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].Prefix) > len(sorted[j].Prefix) })

	sessionCookie := cookies.Name
	if sessionCookie == "" {
		sessionCookie = auth.DefaultSessionCookieName
	}

	for _, route := range sorted {
		upstream := route.Upstream
		proxy := &httputil.ReverseProxy{
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.SetURL(upstream)
				pr.SetXForwarded()
				stripCookie(pr.Out, sessionCookie)

				if !relayToken {
					return
				}
				if principal, ok := auth.PrincipalFromContext(pr.In.Context()); ok {
					if token, ok := principal.RelayableAccessToken(time.Now()); ok {
						pr.Out.Header.Set("Authorization", "Bearer "+token)
					}
				}
			},
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				logger.Warn("upstream request failed",
					zap.String("upstream", upstream.Host),
					zap.String("path", r.URL.Path),
					zap.Error(err))
				edgemw.WriteJSONError(w, http.StatusBadGateway, "upstream unavailable")
			},
		}
		g.routes = append(g.routes, gatewayRoute{prefix: route.Prefix, proxy: proxy})
	}
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, route := range g.routes {
		if matchesPrefix(route.prefix, r.URL.Path) {
			route.proxy.ServeHTTP(w, r)
			return
		}
	}
	edgemw.WriteJSONError(w, http.StatusNotFound, "not found")
}

func matchesPrefix(prefix, p string) bool {
	if prefix == "/" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// stripCookie removes one cookie from the outgoing Cookie header.
func stripCookie(r *http.Request, name string) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name != name {
			r.AddCookie(c)
		}
	}
}
