package domain

type TaskEventType string

const (
	TaskEventSnapshot TaskEventType = "snapshot"
	TaskEventCreated  TaskEventType = "created"
	TaskEventUpdated  TaskEventType = "updated"
	TaskEventRemoved  TaskEventType = "removed"
)

type TaskEvent struct {
	Type TaskEventType `json:"type"`
	Task SnapshotTask  `json:"task"`
}
