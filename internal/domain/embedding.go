package domain

import (
	"fmt"
	"time"
)

// FieldKind identifies which text field of an item a vector was generated from
type FieldKind string

const (
	FieldKindTitle FieldKind = "title"
	FieldKindBody  FieldKind = "body"
)

// EmbeddingRecord represents a stored vector for one field of one item.
// At most one record exists per (ItemID, Field, Model); re-embedding the
// same field updates the record in place.
type EmbeddingRecord struct {
	ItemID      string
	Field       FieldKind
	Model       string
	Vector      []float32
	GeneratedAt time.Time
	Stale       bool
}

// NewEmbeddingRecord creates a new EmbeddingRecord instance
func NewEmbeddingRecord(
	itemID string,
	field FieldKind,
	model string,
	vector []float32,
	generatedAt time.Time,
) *EmbeddingRecord {
	return &EmbeddingRecord{
		ItemID:      itemID,
		Field:       field,
		Model:       model,
		Vector:      vector,
		GeneratedAt: generatedAt,
		Stale:       false,
	}
}

// ValidateEmbeddingRecord validates an EmbeddingRecord instance
func ValidateEmbeddingRecord(r *EmbeddingRecord) error {
	if r == nil {
		return fmt.Errorf("embedding record cannot be nil")
	}

	if r.ItemID == "" {
		return fmt.Errorf("embedding record ItemID is required")
	}

	if r.Model == "" {
		return fmt.Errorf("embedding record Model is required")
	}

	if !isValidFieldKind(r.Field) {
		return fmt.Errorf("embedding record Field is invalid: %s", r.Field)
	}

	if len(r.Vector) == 0 {
		return fmt.Errorf("embedding record Vector is required")
	}

	return nil
}

// JobStatus represents the status of an index job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IndexJob represents a queued request to (re)generate the embeddings of
// one item. Jobs are enqueued when an item is created, its text changes,
// or it is deleted.
type IndexJob struct {
	ID          string
	ItemID      string
	OwnerScope  string
	Status      JobStatus
	Retries     int32
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// NewIndexJob creates a new IndexJob instance
func NewIndexJob(
	id, itemID, ownerScope string,
	status JobStatus,
	retries int32,
	errMsg string,
	createdAt time.Time,
	processedAt *time.Time,
) *IndexJob {
	return &IndexJob{
		ID:          id,
		ItemID:      itemID,
		OwnerScope:  ownerScope,
		Status:      status,
		Retries:     retries,
		Error:       errMsg,
		CreatedAt:   createdAt,
		ProcessedAt: processedAt,
	}
}

// ValidateIndexJob validates an IndexJob instance
func ValidateIndexJob(j *IndexJob) error {
	if j == nil {
		return fmt.Errorf("index job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("index job ID is required")
	}

	if j.ItemID == "" {
		return fmt.Errorf("index job ItemID is required")
	}

	if !isValidJobStatus(j.Status) {
		return fmt.Errorf("index job Status is invalid: %s", j.Status)
	}

	if j.Retries < 0 {
		return fmt.Errorf("index job Retries cannot be negative")
	}

	return nil
}

// isValidFieldKind checks if a FieldKind is valid
func isValidFieldKind(f FieldKind) bool {
	switch f {
	case FieldKindTitle, FieldKindBody:
		return true
	}
	return false
}

// isValidJobStatus checks if a JobStatus is valid
func isValidJobStatus(s JobStatus) bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}
