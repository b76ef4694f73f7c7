package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

type uploadResponse struct {
	Status        string                `json:"status"`
	TriggeredIPs  []string              `json:"triggered_ips"`
	Predictions   []float64             `json:"predictions"`
	BlockFailures []domain.BlockFailure `json:"block_failures"`
}

type simulateRequest struct {
	SourceIP     string         `json:"source_ip"`
	AlertDetails map[string]any `json:"alert_details"`
}

type simulateResponse struct {
	Status   string         `json:"status"`
	SourceIP string         `json:"source_ip"`
	Details  map[string]any `json:"details"`
	AlertID  string         `json:"alert_id"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, err := s.payload(w, r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer body.Close()

	result, err := s.svc.Upload(r.Context(), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Status:        "success",
		TriggeredIPs:  result.TriggeredIPs(),
		Predictions:   result.Scores,
		BlockFailures: result.Failures,
	})
}

func (s *Server) handleExternalDataset(w http.ResponseWriter, r *http.Request) {
	predictions, err := s.svc.ExternalDataset(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"message":     "External dataset loaded",
		"predictions": predictions,
	})
}

func (s *Server) handleBenchmark(w http.ResponseWriter, r *http.Request) {
	body, err := s.payload(w, r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer body.Close()

	report, err := s.svc.Benchmark(r.Context(), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"benchmark": report,
	})
}

func (s *Server) handleSimulateAlert(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeServiceError(w, r, domain.WrapInputError(err, "invalid json body"))
		return
	}

	alert, err := s.svc.SimulateAlert(r.Context(), req.SourceIP, req.AlertDetails)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, simulateResponse{
		Status:   "alert processed",
		SourceIP: alert.SourceIP,
		Details:  req.AlertDetails,
		AlertID:  alert.ID,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	alerts, err := s.svc.Recent(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*domain.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleBlockState(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "ip")
	blocked, err := s.svc.IsBlocked(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source_ip": addr, "blocked": blocked})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "ip")
	if err := s.svc.Unblock(r.Context(), addr); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "unblocked", "source_ip": addr})
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		resp := map[string]any{"status": "ready"}
		if s.model != nil {
			resp["model"] = s.model()
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	s.health.ServeHTTP(w, r)
}

// payload returns the CSV body of a request: the "file" part of a
// multipart form, or the raw body otherwise.
func (s *Server) payload(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		return r.Body, nil
	}

	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, domain.WrapInputError(err, "invalid multipart form")
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, domain.WrapInputError(err, "missing form field %q", "file")
	}
	return file, nil
}
