package middleware

import (
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/schoolist/edgeservice/internal/logging"
)

// NewCanonicalPathMiddleware rejects request paths that do not survive
// cleaning unchanged: dot segments, empty segments and encoded slashes. The
// policy table, chi routing and the gateway all read r.URL.Path, so every
// request past this point is judged and forwarded under the same path.
func NewCanonicalPathMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger).Named("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isCanonicalPath(r.URL.Path) || hasEncodedSlash(r.URL.RawPath) {
				logger.Info("rejected non-canonical path",
					zap.String("path", r.URL.Path),
					zap.String("raw_path", r.URL.RawPath))
				WriteJSONError(w, http.StatusBadRequest, "malformed request path")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isCanonicalPath reports whether p equals its cleaned form. A trailing
// slash is kept; backslashes are never canonical.
func isCanonicalPath(p string) bool {
	if !strings.HasPrefix(p, "/") {
		return p == "" || p == "*"
	}
	if strings.ContainsRune(p, '\\') {
		return false
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned == p
}

func hasEncodedSlash(rawPath string) bool {
	lower := strings.ToLower(rawPath)
	return strings.Contains(lower, "%2f") || strings.Contains(lower, "%5c")
}
