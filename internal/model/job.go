package model

import (
	"encoding/json"
	"time"
)

// JobStatus is shared by export jobs and backups.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanTransition reports whether moving from s to next is legal.
//
//	pending -> running | cancelled
//	running -> completed | failed | cancelled
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning || next == JobCancelled
	case JobRunning:
		return next == JobCompleted || next == JobFailed || next == JobCancelled
	}
	return false
}

// JobProgress counts per-item outcomes for a running job.
type JobProgress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Percent returns progress as an integer percentage of processed items.
func (p JobProgress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return (p.Completed + p.Failed) * 100 / p.Total
}

// ExportJob is an asynchronous multi-component export.
type ExportJob struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	Format       string          `json:"format"`
	ComponentIDs []string        `json:"component_ids"`
	Options      json.RawMessage `json:"options,omitempty"`
	Status       JobStatus       `json:"status"`
	Progress     JobProgress     `json:"progress"`
	ArtifactKey  string          `json:"artifact_key,omitempty"`
	ArtifactSize int64           `json:"artifact_size"`
	Error        string          `json:"error,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Backup is a checksummed snapshot of one owner's catalog.
type Backup struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	Label          string     `json:"label"`
	Status         JobStatus  `json:"status"`
	ComponentCount int        `json:"component_count"`
	SizeBytes      int64      `json:"size_bytes"`
	Checksum       string     `json:"checksum,omitempty"`
	StorageKey     string     `json:"storage_key,omitempty"`
	Error          string     `json:"error,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}
