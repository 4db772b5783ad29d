package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/models"
	"github.com/ternarybob/corpus/internal/pipeline"
)

// maxUploadBytes caps source uploads at 32 MB.
const maxUploadBytes = 32 << 20

// JobHandler handles HTTP requests for pipeline job management
type JobHandler struct {
	orchestrator *pipeline.Orchestrator
	logger       arbor.ILogger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(orchestrator *pipeline.Orchestrator, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// SubmitJobHandler handles POST /api/jobs. It accepts either a multipart
// form with a "file" field or a raw body with a filename query parameter,
// and returns the created job record.
func (h *JobHandler) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	filename, payload, err := readUpload(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.orchestrator.Submit(r.Context(), filename, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("filename", filename).Msg("Job submission failed")
		WriteError(w, http.StatusInternalServerError, "Failed to submit job")
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

// GetJobHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.orchestrator.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", id).Msg("Failed to load job")
		WriteError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// ListJobsHandler handles GET /api/jobs with optional status and limit
// query parameters.
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	status := models.JobStatus(r.URL.Query().Get("status"))
	limit := QueryInt(r, "limit", 50)

	jobs, err := h.orchestrator.ListJobs(r.Context(), status, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// readUpload extracts the source filename and payload from the request.
func readUpload(r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return "", nil, errors.New("invalid multipart form")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, errors.New("missing file field")
		}
		defer file.Close()

		payload, err := io.ReadAll(file)
		if err != nil {
			return "", nil, errors.New("failed to read upload")
		}
		return header.Filename, payload, nil
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		return "", nil, errors.New("filename query parameter is required for raw uploads")
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, errors.New("failed to read request body")
	}
	return filename, payload, nil
}
