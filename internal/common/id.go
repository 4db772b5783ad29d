package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique pipeline job ID
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewDocumentID generates a unique document ID with the "doc_" prefix
func NewDocumentID() string {
	return "doc_" + uuid.New().String()
}

// NewSessionID generates a unique chat session ID
func NewSessionID() string {
	return "sess_" + uuid.New().String()
}

// NewGenerationID generates a unique generation ID for one streamed chat turn
func NewGenerationID() string {
	return "gen_" + uuid.New().String()
}

// NewArtifactID generates a unique artifact ID
func NewArtifactID() string {
	return "art_" + uuid.New().String()
}
