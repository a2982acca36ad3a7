// Package api serves the dashboard JSON endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GiovanniCrudo00/Docker-Watcher/internal/alerts"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/config"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/models"
)

// DaemonView is the slice of the docker collector the API reads from.
type DaemonView interface {
	SystemStats(ctx context.Context) (models.SystemStats, error)
	Containers(ctx context.Context, state string) ([]models.ContainerInfo, error)
	Images(ctx context.Context) ([]models.ImageInfo, error)
}

// Router handles HTTP routing for the dashboard.
type Router struct {
	mux      *http.ServeMux
	store    *config.Store
	daemon   DaemonView
	detector *alerts.Detector
	version  string
}

// NewRouter creates the dashboard router.
func NewRouter(store *config.Store, daemon DaemonView, detector *alerts.Detector, version string) http.Handler {
	r := &Router{
		mux:      http.NewServeMux(),
		store:    store,
		daemon:   daemon,
		detector: detector,
		version:  version,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/api/health", r.handleHealth)
	r.mux.HandleFunc("/api/stats", r.handleStats)
	r.mux.HandleFunc("/api/containers/running", r.handleContainers("running"))
	r.mux.HandleFunc("/api/containers/stopped", r.handleContainers("stopped"))
	r.mux.HandleFunc("/api/images", r.handleImages)
	r.mux.HandleFunc("/api/alerts", r.handleAlerts)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	r.mux.ServeHTTP(w, req)
	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Dur("duration", time.Since(start)).
		Msg("API request")
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if !requireGet(w, req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": r.version,
	})
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	if !requireGet(w, req) {
		return
	}
	stats, err := r.daemon.SystemStats(req.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read system stats")
		writeError(w, http.StatusBadGateway, "failed to query container runtime")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleContainers(state string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !requireGet(w, req) {
			return
		}
		containers, err := r.daemon.Containers(req.Context(), state)
		if err != nil {
			log.Error().Err(err).Str("state", state).Msg("Failed to list containers")
			writeError(w, http.StatusBadGateway, "failed to query container runtime")
			return
		}
		writeJSON(w, http.StatusOK, containers)
	}
}

func (r *Router) handleImages(w http.ResponseWriter, req *http.Request) {
	if !requireGet(w, req) {
		return
	}
	images, err := r.daemon.Images(req.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list images")
		writeError(w, http.StatusBadGateway, "failed to query container runtime")
		return
	}
	writeJSON(w, http.StatusOK, images)
}

// handleAlerts reports the alert engine's tracked state and the active
// alerting policy.
func (r *Router) handleAlerts(w http.ResponseWriter, req *http.Request) {
	if !requireGet(w, req) {
		return
	}
	cfg := r.store.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":      cfg.AlertsEnabled(),
		"cpuThreshold": cfg.Thresholds.CPUPercent,
		"ramThreshold": cfg.Thresholds.RAMPercent,
		"cooldown":     cfg.Cooldown().String(),
		"containers":   r.detector.Tracker().Summaries(),
		"trackedCount": r.detector.Tracker().Len(),
	})
}

func requireGet(w http.ResponseWriter, req *http.Request) bool {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode API response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
