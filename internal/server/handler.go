package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"upres/internal/fileutil"
	"upres/internal/jobs"
	"upres/internal/logging"
	"upres/internal/preflight"
	"upres/internal/services/realesrgan"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

var allowedExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".avi":  true,
	".webm": true,
}

type statusPayload struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	Progress        int     `json:"progress"`
	Message         string  `json:"message"`
	ResultURL       string  `json:"resultUrl,omitempty"`
	Model           string  `json:"model"`
	ProcessedFrames int     `json:"processedFrames,omitempty"`
	TotalFrames     int     `json:"totalFrames,omitempty"`
	AvgMsPerFrame   float64 `json:"avgMsPerFrame,omitempty"`
}

func toStatusPayload(job jobs.Job) statusPayload {
	return statusPayload{
		ID:              job.ID,
		Status:          string(job.Status),
		Progress:        job.Progress,
		Message:         job.Message,
		ResultURL:       job.ResultURL,
		Model:           job.Model,
		ProcessedFrames: job.ProcessedFrames,
		TotalFrames:     job.TotalFrames,
		AvgMsPerFrame:   job.AvgMsPerFrame,
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "upres"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.cfg.Workflow.MaxUploadMiB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		writeErr(w, http.StatusBadRequest, "Unsupported format. Use MP4, MOV, MKV, AVI or WEBM.")
		return
	}

	jobID := uuid.NewString()
	uploadPath := filepath.Join(s.cfg.Paths.UploadsDir, fileutil.UploadName(jobID, header.Filename))
	dst, err := os.Create(uploadPath)
	if err != nil {
		s.logger.Error("upload create failed", logging.Error(err))
		writeErr(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		_ = os.Remove(uploadPath)
		writeErr(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
		return
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(uploadPath)
		writeErr(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	modelChoice := r.FormValue("model")
	model := realesrgan.ResolveModel(modelChoice, s.cfg.Enhancer.DefaultModel)
	scale := realesrgan.ScaleForModel(model)

	job := s.registry.CreateWithID(jobID, modelChoice, scale, uploadPath, header.Filename)
	s.logger.Info("upload accepted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("filename", header.Filename),
		logging.String("model", model))

	go s.processor.Process(context.Background(), job.ID)

	writeJSON(w, http.StatusOK, map[string]string{"jobId": job.ID})
}

// handleEnhance acknowledges a processing request for an already uploaded
// job. Processing starts at upload time, so this only validates the job.
func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		JobID string `json:"jobId"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if payload.JobID == "" {
		writeErr(w, http.StatusBadRequest, "Missing jobId")
		return
	}
	if _, ok := s.registry.Get(payload.JobID); !ok {
		writeErr(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, chi.URLParam(r, "jobID"))
}

func (s *Server) handleStatusQuery(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		writeErr(w, http.StatusBadRequest, "Missing jobId")
		return
	}
	s.writeStatus(w, jobID)
}

func (s *Server) writeStatus(w http.ResponseWriter, jobID string) {
	job, ok := s.registry.Get(jobID)
	if !ok {
		writeErr(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, toStatusPayload(job))
}

type streamPayload struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	ResultURL string `json:"resultUrl,omitempty"`
}

// handleStatusStream delivers job snapshots as server-sent events, emitting
// only on change and closing after a terminal snapshot. Between changes a
// comment line is written at the configured stream interval so idle
// connections survive proxies.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	updates, err := s.registry.Subscribe(r.Context(), jobID)
	if err != nil {
		writeErr(w, http.StatusNotFound, "Job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	interval := time.Duration(s.cfg.Workflow.StreamIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	keepalive := time.NewTicker(interval)
	defer keepalive.Stop()

	for {
		select {
		case job, open := <-updates:
			if !open {
				return
			}
			data, err := json.Marshal(streamPayload{
				ID:        job.ID,
				Status:    string(job.Status),
				Progress:  job.Progress,
				Message:   job.Message,
				ResultURL: job.ResultURL,
			})
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
			keepalive.Reset(interval)
		case <-keepalive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.registry.RequestCancel(jobID) {
		writeErr(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	choices := []string{
		realesrgan.ChoiceGeneral,
		realesrgan.ChoiceFace,
		realesrgan.ChoiceAnime,
	}
	var installed []string
	if s.enhancer != nil {
		models, err := s.enhancer.ListModels()
		if err != nil {
			s.logger.Warn("model listing failed", logging.Error(err))
		} else {
			installed = models
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"choices":   choices,
		"installed": installed,
		"default":   s.cfg.Enhancer.DefaultModel,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeErr(w, http.StatusNotFound, "history disabled")
		return
	}
	limit := s.cfg.History.Limit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", logging.Error(err))
		writeErr(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	type entryPayload struct {
		JobID         string  `json:"jobId"`
		SourceName    string  `json:"filename"`
		Model         string  `json:"model"`
		Status        string  `json:"status"`
		Message       string  `json:"message"`
		TotalFrames   int     `json:"totalFrames,omitempty"`
		AvgMsPerFrame float64 `json:"avgMsPerFrame,omitempty"`
		FinishedAt    string  `json:"finishedAt"`
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryPayload{
			JobID:         entry.JobID,
			SourceName:    entry.SourceName,
			Model:         entry.Model,
			Status:        entry.Status,
			Message:       entry.Message,
			TotalFrames:   entry.TotalFrames,
			AvgMsPerFrame: entry.AvgMsPerFrame,
			FinishedAt:    entry.FinishedAt.Format("2006-01-02 15:04:05"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": payload})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	results := preflight.RunAll(r.Context(), s.cfg)
	code := http.StatusOK
	if !preflight.Healthy(results) {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ok":     preflight.Healthy(results),
		"checks": results,
	})
}
