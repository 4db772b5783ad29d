package models

import (
	"time"
)

// Document represents a normalized document produced by the pipeline.
// PRIMARY CONTENT FORMAT: Markdown (ContentMarkdown field)
type Document struct {
	// Identity
	ID        string `json:"id"`     // doc_{uuid}, equals the job's document id
	JobID     string `json:"job_id"` // Pipeline job that produced this document
	SourceRef string `json:"source_ref"`

	// Content (markdown-first)
	Title           string `json:"title"`
	ContentMarkdown string `json:"content_markdown"`

	// Extraction results
	Metadata DocumentMetadata `json:"metadata"`

	// Sink cross-references
	SearchDocID string `json:"search_doc_id,omitempty"` // Assigned by the search sink
	ChunkCount  int    `json:"chunk_count,omitempty"`   // Chunks written to the vector sink

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentMetadata is the structured record produced by the
// extract-metadata stage.
type DocumentMetadata struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
	Summary      string   `json:"summary"`
	Language     string   `json:"language"`
	WordCount    int      `json:"word_count"`
	HeadingCount int      `json:"heading_count"`
	// Heuristic is true when the metadata backend was unavailable and the
	// deterministic fallback extractor produced this record.
	Heuristic bool `json:"heuristic,omitempty"`
}

// DocumentStats represents statistics about stored documents
type DocumentStats struct {
	TotalDocuments     int       `json:"total_documents"`
	IndexedDocuments   int       `json:"indexed_documents"`
	AverageContentSize int       `json:"average_content_size"`
	LastUpdated        time.Time `json:"last_updated"`
}
