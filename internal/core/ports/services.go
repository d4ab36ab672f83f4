package ports

import (
	"context"
	"time"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/domain"
)

// DatabaseSession is the single logical connection used to freeze and thaw
// the database.
type DatabaseSession interface {
	Open(ctx context.Context, user, password string) error
	IsOpen() bool
	// Freeze opens a freeze window, holds it for settle and commits. A
	// non-empty id returned together with an error means the freeze statement
	// ran and the window may still be open.
	Freeze(ctx context.Context, label string, settle time.Duration) (string, error)
	PendingFreezeIDs(ctx context.Context) ([]string, error)
	Thaw(ctx context.Context, freezeID string, success bool, label string) error
	Close() error
}

type SnapshotTaskInput struct {
	SnapshotName string
}

// SnapshotTaskService is the authenticated request boundary used by the
// transport layer.
type SnapshotTaskService interface {
	Authenticate(ctx context.Context, credential string) error
	BeginFreeze(ctx context.Context, credential string, input *SnapshotTaskInput) (*domain.SnapshotTask, error)
	EndFreeze(ctx context.Context, credential string, input *SnapshotTaskInput) (*domain.SnapshotTask, error)
	ListTasks(ctx context.Context) []domain.SnapshotTask
	GetTask(ctx context.Context, credential string, id string) (*domain.SnapshotTask, error)
	DeleteTask(ctx context.Context, credential string, id string) error
}

type TaskEventSource interface {
	Subscribe(buffer int) (<-chan domain.TaskEvent, func())
}
