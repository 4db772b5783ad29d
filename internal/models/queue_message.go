package models

import (
	"errors"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// StageMessage is the structure stored in a stage queue.
// Keep it small - just enough to route the job; workers read everything
// else from the job record.
type StageMessage struct {
	JobID string `json:"job_id"`
	Stage Stage  `json:"stage"`
}
