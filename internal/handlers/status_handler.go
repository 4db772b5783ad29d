package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
	"github.com/ternarybob/corpus/internal/pipeline"
)

// StatusHandler handles HTTP requests for application status
type StatusHandler struct {
	jobs      interfaces.JobStorage
	documents interfaces.DocumentStorage
	queue     interfaces.QueueManager
	llm       interfaces.LLMService
	startedAt time.Time
	logger    arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(jobs interfaces.JobStorage, documents interfaces.DocumentStorage, queue interfaces.QueueManager, llm interfaces.LLMService, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		jobs:      jobs,
		documents: documents,
		queue:     queue,
		llm:       llm,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()

	queues := make([]*interfaces.QueueStats, 0, len(models.PipelineStages))
	for _, stage := range models.PipelineStages {
		stats, err := h.queue.Stats(ctx, pipeline.QueueName(stage))
		if err != nil {
			h.logger.Warn().Err(err).Str("queue", pipeline.QueueName(stage)).Msg("Queue stats unavailable")
			continue
		}
		queues = append(queues, stats)
	}

	jobCounts := make(map[string]int, 4)
	for _, status := range []models.JobStatus{models.JobStatusQueued, models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed} {
		list, err := h.jobs.List(ctx, status, 0)
		if err != nil {
			h.logger.Warn().Err(err).Str("status", string(status)).Msg("Job count unavailable")
			continue
		}
		jobCounts[string(status)] = len(list)
	}

	docStats, err := h.documents.Stats(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Document stats unavailable")
		docStats = &models.DocumentStats{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":        common.GetVersion(),
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"llm": map[string]interface{}{
			"provider":  h.llm.Provider(),
			"available": h.llm.Available(ctx),
		},
		"queues":    queues,
		"jobs":      jobCounts,
		"documents": docStats,
	})
}

// HealthHandler handles GET /api/health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": common.GetVersion(),
	})
}

// VersionHandler handles GET /api/version
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"full":    common.GetFullVersion(),
	})
}
