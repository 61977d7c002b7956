package status

import (
	"time"

	"hls-segmenter/internal/segmenter"
)

// JobID uniquely identifies a segmenting job.
type JobID string

// Snapshot is the state of a segmenting job, as published by its runner.
// This also matches the JSON payload served by the handlers.
type Snapshot struct {
	ID       JobID             `json:"job_id"`
	Input    string            `json:"input"`
	Playlist string            `json:"playlist"`
	Type     string            `json:"type"`
	Stats    segmenter.Stats   `json:"stats"`
	Segments []segmenter.Entry `json:"segments"`
	Ended    bool              `json:"ended"`

	// Metadata managed by the repository.
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobState holds the in-memory state of a job.
type JobState struct {
	ID       JobID
	Snapshot Snapshot
	Ended    bool
}
