package ports

import (
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/domain"
)

// TaskRegistry tracks snapshot tasks by id for the lifetime of the process.
type TaskRegistry interface {
	Put(task domain.SnapshotTask)
	Get(id string) (domain.SnapshotTask, bool)
	// Update applies fn to the stored task atomically. fn reports whether it
	// changed the task.
	Update(id string, fn func(task *domain.SnapshotTask) bool) (domain.SnapshotTask, bool)
	Delete(id string) bool
	// DeleteWhere removes every task matching pred and returns them.
	DeleteWhere(pred func(task domain.SnapshotTask) bool) []domain.SnapshotTask
	List() []domain.SnapshotTask
}

// CorrelationStore maps a snapshot name to its open freeze window.
type CorrelationStore interface {
	Put(window domain.FreezeWindow)
	Get(snapshotName string) (domain.FreezeWindow, bool)
	Delete(snapshotName string) bool
	List() []domain.FreezeWindow
	Len() int
}
