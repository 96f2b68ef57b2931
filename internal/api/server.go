// Package api exposes the daemon's status over HTTP: health, the tracked
// objects, the latest downsampled scan, and the active tuning parameters.
package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/fieldrover/fusion/internal/fusion"
)

// Server serves the status endpoints. It only reads engine state.
type Server struct {
	engine *fusion.Engine
	params fusion.Params
}

func NewServer(engine *fusion.Engine, params fusion.Params) *Server {
	return &Server{engine: engine, params: params}
}

// ServeMux returns the handler tree for the status surface.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/api/objects", s.objectsHandler)
	mux.HandleFunc("/api/scan", s.scanHandler)
	mux.HandleFunc("/api/params", s.paramsHandler)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":       "ok",
		"service":      "fusiond",
		"raw_scan_pub": s.engine.RawPublish(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) objectsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	msg := fusion.BuildObjectsMessage(s.engine.Registry(), time.Now().UnixMilli(), false)
	writeJSON(w, msg)
}

type scanEntry struct {
	AngleDeg   int     `json:"angle_deg"`
	DistanceMM float64 `json:"distance_mm"`
}

func (s *Server) scanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	idx := s.engine.ScanSnapshot()
	entries := make([]scanEntry, 0, len(idx))
	for bucket, dist := range idx {
		entries = append(entries, scanEntry{AngleDeg: bucket, DistanceMM: dist})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AngleDeg < entries[j].AngleDeg })
	writeJSON(w, map[string]any{"buckets": entries})
}

func (s *Server) paramsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{
		"bucket_size_deg":    s.params.BucketSizeDeg,
		"max_angle_diff_deg": s.params.MaxAngleDiffDeg,
		"min_distance_mm":    s.params.MinDistanceMM,
		"max_distance_mm":    s.params.MaxDistanceMM,
		"max_object_age_ms":  s.params.MaxObjectAgeMS,
		"force_interval_ms":  s.params.ForceIntervalMS,
	})
}
