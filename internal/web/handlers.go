package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

const defaultRecordLimit = 50

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatsResponse is the /api/stats payload.
type StatsResponse struct {
	Files         int64 `json:"files"`
	Matched       int64 `json:"matched"`
	Uploaded      int64 `json:"uploaded"`
	PendingEvents int64 `json:"pending_events"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.st.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, StatsResponse{
		Files:         stats.Files,
		Matched:       stats.Matched,
		Uploaded:      stats.Uploaded,
		PendingEvents: stats.PendingEvents,
	})
}

// RecordResponse is one processed file in /api/records.
type RecordResponse struct {
	SourcePath       string   `json:"source_path"`
	Matched          bool     `json:"matched"`
	MatchedPerson    string   `json:"matched_person,omitempty"`
	MatchScore       *float64 `json:"match_score,omitempty"`
	Uploaded         bool     `json:"uploaded"`
	ContentDuplicate bool     `json:"content_duplicate"`
	CreatedAt        string   `json:"created_at"`
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecordLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	recs, err := s.st.RecentFiles(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]RecordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, RecordResponse{
			SourcePath:       rec.SourcePath,
			Matched:          rec.Matched,
			MatchedPerson:    rec.MatchedPerson,
			MatchScore:       rec.MatchScore,
			Uploaded:         rec.Uploaded,
			ContentDuplicate: rec.ContentDuplicate,
			CreatedAt:        rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"records": out})
}

// EventResponse is one review event in /api/events.
type EventResponse struct {
	ID            string  `json:"id"`
	Kind          string  `json:"kind"`
	FileRef       string  `json:"file_ref,omitempty"`
	Score         float64 `json:"score,omitempty"`
	ClosestPerson string  `json:"closest_person,omitempty"`
	ErrorType     string  `json:"error_type,omitempty"`
	Message       string  `json:"message,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Only pending events are queryable; alerted ones age out via cleanup.
	if raw := r.URL.Query().Get("pending"); raw != "" && raw != "true" {
		respondError(w, http.StatusBadRequest, "only pending=true is supported")
		return
	}

	events, err := s.st.PendingEvents(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, EventResponse{
			ID:            ev.ID,
			Kind:          string(ev.Kind),
			FileRef:       ev.FileRef,
			Score:         ev.Score,
			ClosestPerson: ev.ClosestPerson,
			ErrorType:     ev.ErrorType,
			Message:       ev.Message,
			CreatedAt:     ev.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": out})
}

// ScanResponse is the /api/scan payload.
type ScanResponse struct {
	Scanned  int `json:"scanned"`
	Matched  int `json:"matched"`
	Uploaded int `json:"uploaded"`
	Errored  int `json:"errored"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scan == nil {
		respondError(w, http.StatusServiceUnavailable, "scanning is not configured")
		return
	}

	select {
	case s.scanning <- struct{}{}:
		defer func() { <-s.scanning }()
	default:
		respondError(w, http.StatusConflict, "a scan is already running")
		return
	}

	res, err := s.scan(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ScanResponse{
		Scanned:  res.Scanned,
		Matched:  res.Matched,
		Uploaded: res.Uploaded,
		Errored:  res.Errored,
	})
}
