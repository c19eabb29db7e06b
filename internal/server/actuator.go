package server

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	statusUp   = "UP"
	statusDown = "DOWN"

	healthCheckTimeout = 2 * time.Second
)

// HealthComponent is the status of one dependency.
type HealthComponent struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]HealthComponent `json:"components,omitempty"`
}

// InfoResponse is the body of /actuator/info.
type InfoResponse struct {
	App struct {
		Name        string `json:"name"`
		Version     string `json:"version"`
		Environment string `json:"environment"`
	} `json:"app"`
}

// mountActuator registers the operational endpoints.
func mountActuator(r chi.Router, opts RouterOptions) {
	r.Route("/actuator", func(r chi.Router) {
		r.Get("/health", HandleHealth(opts.ReadinessChecks))
		r.Get("/health/liveness", HandleHealth(nil))
		r.Get("/health/readiness", HandleHealth(opts.ReadinessChecks))

		var info InfoResponse
		info.App.Name = opts.Cfg.Observability.ServiceName
		info.App.Version = opts.Cfg.Observability.ServiceVersion
		info.App.Environment = opts.Cfg.Environment
		r.Get("/info", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, info)
		})

		if opts.MetricsHandler != nil {
			r.Handle("/prometheus", opts.MetricsHandler)
		}
	})
}

// HandleHealth runs checks and answers 200 when all pass, 503 otherwise.
// With no checks it reports the process itself as up.
func HandleHealth(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: statusUp}
		if len(names) > 0 {
			resp.Components = make(map[string]HealthComponent, len(names))
		}

		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := checks[name](ctx)
			cancel()

			if err != nil {
				resp.Status = statusDown
				resp.Components[name] = HealthComponent{Status: statusDown, Error: err.Error()}
				continue
			}
			resp.Components[name] = HealthComponent{Status: statusUp}
		}

		status := http.StatusOK
		if resp.Status == statusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
