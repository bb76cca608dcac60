package server

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/conneroisu/hotswap/internal/bundler"
	"github.com/conneroisu/hotswap/internal/cache"
	"github.com/conneroisu/hotswap/internal/errors"
	"github.com/conneroisu/hotswap/internal/identity"
	"github.com/conneroisu/hotswap/internal/version"
)

const (
	bundleSuffix = ".bundle"
	mapSuffix    = ".map"
)

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Clients   int    `json:"clients"`
	Instances int    `json:"instances"`
}

// StatusResponse is the body of /status.json.
type StatusResponse struct {
	Version   string         `json:"version"`
	StartedAt time.Time      `json:"started_at"`
	Instances []bundler.Info `json:"instances"`
	Clients   []ClientInfo   `json:"clients"`
	Cache     CacheStatus    `json:"cache"`
}

// CacheStatus summarizes the persisted transform cache.
type CacheStatus struct {
	Dir     string `json:"dir"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   version.GetVersion(),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Clients:   len(s.snapshotClients()),
		Instances: s.pool.Len(),
	})
}

func (s *Server) handleStatusJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

// Status returns a snapshot of the pool, the clients and the cache.
func (s *Server) Status() StatusResponse {
	instances := s.pool.Instances()
	infos := make([]bundler.Info, len(instances))
	for i, inst := range instances {
		infos[i] = inst.Info()
	}

	status := StatusResponse{
		Version:   version.GetVersion(),
		StartedAt: s.startedAt,
		Instances: infos,
		Clients:   s.Clients(),
		Cache:     CacheStatus{Dir: filepath.Join(s.config.SharedRoot(), cache.DirName)},
	}
	entries, size, err := cache.DiskUsage(s.config.SharedRoot())
	if err != nil {
		status.Cache.Error = err.Error()
	}
	status.Cache.Entries = entries
	status.Cache.Bytes = size
	return status
}

// handleBundle serves /<entry>.bundle and /<entry>.map.
func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestPath := strings.TrimPrefix(r.URL.Path, "/")
	var name string
	var sourceMap bool
	switch {
	case strings.HasSuffix(requestPath, bundleSuffix):
		name = strings.TrimSuffix(requestPath, bundleSuffix)
	case strings.HasSuffix(requestPath, mapSuffix):
		name = strings.TrimSuffix(requestPath, mapSuffix)
		sourceMap = true
	default:
		http.NotFound(w, r)
		return
	}

	query := r.URL.Query()
	platform := query.Get("platform")
	if err := validateTarget(name, platform); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dev := true
	if raw := query.Get("dev"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "Invalid dev flag: "+raw, http.StatusBadRequest)
			return
		}
		dev = parsed
	}

	inst, err := s.pool.Get(r.Context(), name, s.buildOptions(platform, dev))
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.HasErrorType(err, errors.ErrorTypeValidation) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	output, err := inst.Bundle(r.Context())
	if err != nil {
		s.logger.Warn(r.Context(), err, "Bundle request failed", "bundle", name)
		http.Error(w, errors.Normalize(err).Message, http.StatusInternalServerError)
		return
	}

	if sourceMap {
		if output.SourceMap == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(output.SourceMap))
		return
	}

	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("X-Hotswap-Fingerprint", inst.Fingerprint())
	_, _ = w.Write([]byte(output.Code))
}

// validateTarget checks a requested bundle and platform before they reach a
// pool key.
func validateTarget(bundle, platform string) error {
	if err := identity.ValidateBundleName(bundle); err != nil {
		return err
	}
	return identity.ValidatePlatform(platform)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
