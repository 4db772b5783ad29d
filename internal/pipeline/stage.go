package pipeline

import (
	"context"

	"github.com/ternarybob/corpus/internal/models"
)

// Result carries what a stage produced for the job record.
type Result struct {
	// Output is a short human-readable summary stored per stage on the job.
	Output string
	// DocumentID is set by the convert stage when it creates the document.
	DocumentID string
}

// ProgressFunc reports intra-stage progress as a 0-100 percentage of the
// current stage. A nil ProgressFunc is valid and discards reports.
type ProgressFunc func(percent int)

func (f ProgressFunc) report(percent int) {
	if f != nil {
		f(percent)
	}
}

// Handler processes one pipeline stage for a claimed job. Implementations
// must be idempotent: the queue delivers at least once, so the same job can
// reach a handler twice. progress keeps the job record's progress moving
// during long-running work; handlers may ignore it.
type Handler interface {
	Stage() models.Stage
	Process(ctx context.Context, job *models.Job, progress ProgressFunc) (*Result, error)
}
