package models

import "time"

// Job is one transcription request and its lifecycle record.
type Job struct {
	ID             string     `json:"id"`
	SourceKind     SourceKind `json:"source_kind"`
	SourceLabel    string     `json:"source_label"`
	SourceURL      string     `json:"source_url,omitempty"`
	OriginalKey    string     `json:"original_key,omitempty"`
	AudioKey       string     `json:"audio_key,omitempty"`
	InputFormat    string     `json:"input_format,omitempty"`
	Duration       *int       `json:"duration_seconds,omitempty"`
	Status         JobStatus  `json:"status"`
	FailureCode    *string    `json:"failure_code,omitempty"`
	FailureMessage *string    `json:"failure_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Locator returns the object-store key for uploads and the external URL otherwise.
func (j *Job) Locator() string {
	if j.SourceKind == SourceUpload {
		return j.OriginalKey
	}
	return j.SourceURL
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

// ジョブステータス
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition may leave this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// SourceKind says where the original media comes from.
type SourceKind string

// ソース種別
const (
	SourceUpload SourceKind = "upload"
	SourceURL    SourceKind = "url"
)

// Valid reports whether k is one of the known source kinds.
func (k SourceKind) Valid() bool {
	return k == SourceUpload || k == SourceURL
}
