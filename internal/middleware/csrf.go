package middleware

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/schoolist/edgeservice/internal/auth"
	"github.com/schoolist/edgeservice/internal/logging"
)

// maxCSRFFormBytes bounds how much of a form body is buffered to find the token field.
const maxCSRFFormBytes = 1 << 20

var errFormTooLarge = errors.New("form body too large")

// NewCSRFMiddleware implements the cookie CSRF scheme. Every response to a
// request without a token cookie issues one. Unsafe methods must echo the
// cookie value in the X-XSRF-TOKEN header or the _csrf form field.
func NewCSRFMiddleware(cookies auth.CookieSettings, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger).Named("csrf")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected, hasCookie := auth.CSRFCookie(r)
			if !hasCookie {
				auth.SetCSRFCookie(w, cookies, auth.NewCSRFToken())
			}

			if auth.IsSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			submitted, err := submittedToken(r)
			if err != nil {
				WriteJSONError(w, http.StatusBadRequest, "unreadable request body")
				return
			}
			if !hasCookie || !auth.CSRFTokensMatch(expected, submitted) {
				logger.Info("csrf token rejected",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Bool("cookie_present", hasCookie))
				WriteJSONError(w, http.StatusForbidden, "invalid CSRF token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// submittedToken reads the echoed token. URL-encoded form bodies are buffered
// and restored so the request can still be forwarded upstream.
func submittedToken(r *http.Request) (string, error) {
	if v := r.Header.Get(auth.CSRFHeaderName); v != "" {
		return v, nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/x-www-form-urlencoded" || r.Body == nil {
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCSRFFormBytes+1))
	if err != nil {
		return "", err
	}
	_ = r.Body.Close()
	if len(body) > maxCSRFFormBytes {
		return "", errFormTooLarge
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	token := auth.SubmittedCSRFToken(r)
	r.Body = io.NopCloser(bytes.NewReader(body))
	return token, nil
}
