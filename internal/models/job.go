package models

import (
	"errors"
	"time"
)

// ErrStaleTransition is returned by JobStorage.Transition when the job's
// (stage, status) no longer matches what the caller expected. Under
// at-least-once delivery this is the normal signature of a duplicate or
// stale message, not an error condition to escalate.
var ErrStaleTransition = errors.New("stale job transition")

// ErrTransitionContended is returned by JobStorage.Transition when repeated
// write conflicts kept the compare-and-set from committing. Unlike
// ErrStaleTransition the job may still be claimable; callers should retry
// rather than drop.
var ErrTransitionContended = errors.New("job transition contended")

// Stage identifies one step of the document pipeline.
type Stage string

const (
	StageConvert         Stage = "convert"
	StageExtractMetadata Stage = "extract_metadata"
	StageIndexSearch     Stage = "index_search"
	StageIndexVector     Stage = "index_vector"
	StageDone            Stage = "done"
)

// PipelineStages lists the processing stages in execution order (StageDone excluded).
var PipelineStages = []Stage{StageConvert, StageExtractMetadata, StageIndexSearch, StageIndexVector}

// Next returns the stage that follows s, or StageDone after the final stage.
// Next on StageDone returns StageDone.
func (s Stage) Next() Stage {
	switch s {
	case StageConvert:
		return StageExtractMetadata
	case StageExtractMetadata:
		return StageIndexSearch
	case StageIndexSearch:
		return StageIndexVector
	default:
		return StageDone
	}
}

// Valid reports whether s is a known stage value.
func (s Stage) Valid() bool {
	switch s {
	case StageConvert, StageExtractMetadata, StageIndexSearch, StageIndexVector, StageDone:
		return true
	}
	return false
}

// JobStatus is the processing state of a job within its current stage.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status ends the job.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job tracks one document's progress through the pipeline.
//
// The stage only ever advances forward (convert -> extract_metadata ->
// index_search -> index_vector -> done) or the job terminates failed.
// Mutation goes through JobStorage.Transition, a compare-and-set on
// (stage, status), so at most one worker owns a given job+stage even
// under at-least-once queue delivery.
type Job struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"` // Assigned by the convert stage, stable thereafter
	SourceRef  string `json:"source_ref"`  // Opaque object-store pointer, never mutated here

	Stage    Stage     `json:"stage"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"` // 0-100, monotonically non-decreasing within a stage

	RetryCount int    `json:"retry_count"` // Per-stage, reset on successful transition
	Error      string `json:"error,omitempty"`

	// StageOutputs maps a completed stage to its output reference
	// (converted-text object key, document id, sink doc id, chunk count).
	// Each stage writes exactly one entry and never another stage's.
	StageOutputs map[Stage]string `json:"stage_outputs"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob creates a job record in its initial state (convert, queued).
func NewJob(id, sourceRef string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:           id,
		SourceRef:    sourceRef,
		Stage:        StageConvert,
		Status:       JobStatusQueued,
		StageOutputs: make(map[Stage]string),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Snapshot returns a deep copy safe to hand to readers.
func (j *Job) Snapshot() *Job {
	cp := *j
	cp.StageOutputs = make(map[Stage]string, len(j.StageOutputs))
	for k, v := range j.StageOutputs {
		cp.StageOutputs[k] = v
	}
	return &cp
}
