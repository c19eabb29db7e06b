package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	edgemw "github.com/schoolist/edgeservice/internal/middleware"
)

// writeError logs err (when present) and answers with the JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, status int, message string, err error) {
	if err != nil {
		logger.Error(message,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	edgemw.WriteJSONError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
