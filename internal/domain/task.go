package domain

import "time"

type SnapshotTaskStatus string

const (
	TaskStatusActive  SnapshotTaskStatus = "ACTIVE"
	TaskStatusSuccess SnapshotTaskStatus = "SUCCESS"
	TaskStatusFailed  SnapshotTaskStatus = "FAILED"
)

// IsTerminal reports whether the status can no longer change.
func (s SnapshotTaskStatus) IsTerminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailed
}

type SnapshotOperation string

const (
	OperationPreSnapshot  SnapshotOperation = "PRE_SNAPSHOT"
	OperationPostSnapshot SnapshotOperation = "POST_SNAPSHOT"
)

// SnapshotTask is the orchestrator-visible record of one freeze or thaw request.
type SnapshotTask struct {
	ID           string             `json:"id"`
	SnapshotName string             `json:"snapshotName"`
	Operation    SnapshotOperation  `json:"operation,omitempty"`
	Status       SnapshotTaskStatus `json:"status"`
	Timeout      int                `json:"timeout"` // seconds
	Message      string             `json:"message,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}
