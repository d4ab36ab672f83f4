package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/core/ports"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/domain"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/infrastructure/logger"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/metrics"
)

const (
	DefaultTaskTimeout    = 600 * time.Second
	DefaultSettleInterval = 60 * time.Second
)

// Clock returns the current time.
type Clock func() time.Time

// SnapshotCoordinator runs the freeze/thaw protocol for each snapshot name:
// IDLE -> FROZEN on a successful prepare, FROZEN -> IDLE on commit or when the
// window outlives the task timeout.
type SnapshotCoordinator struct {
	session ports.DatabaseSession
	tasks   ports.TaskRegistry
	windows ports.CorrelationStore
	logger  *logger.Logger
	metrics *metrics.Registry
	clock   Clock
	timeout time.Duration
	settle  time.Duration
	locks   *keyedLock

	pendingMu sync.Mutex
	pending   map[string]chan struct{}
}

type SnapshotCoordinatorConfig struct {
	Session        ports.DatabaseSession
	Tasks          ports.TaskRegistry
	Windows        ports.CorrelationStore
	Logger         *logger.Logger
	Metrics        *metrics.Registry
	Clock          Clock
	TaskTimeout    time.Duration
	SettleInterval time.Duration
}

func NewSnapshotCoordinator(cfg SnapshotCoordinatorConfig) *SnapshotCoordinator {
	c := &SnapshotCoordinator{
		session: cfg.Session,
		tasks:   cfg.Tasks,
		windows: cfg.Windows,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		clock:   cfg.Clock,
		timeout: cfg.TaskTimeout,
		settle:  cfg.SettleInterval,
		locks:   newKeyedLock(),
		pending: make(map[string]chan struct{}),
	}
	if c.logger == nil {
		c.logger = logger.NewNop()
	}
	if c.metrics == nil {
		c.metrics = metrics.NewNop()
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTaskTimeout
	}
	if c.settle < 0 {
		c.settle = DefaultSettleInterval
	}
	return c
}

func (c *SnapshotCoordinator) TaskTimeout() time.Duration {
	return c.timeout
}

// ReservePrepare claims snapshotName for a prepare. It fails with
// ErrFreezeInProgress while another prepare for the name is running or a
// freeze window for it is still open. The reservation is released by
// PrepareFreeze.
func (c *SnapshotCoordinator) ReservePrepare(snapshotName string) error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if _, busy := c.pending[snapshotName]; busy {
		return ErrFreezeInProgress
	}
	if w, open := c.windows.Get(snapshotName); open && !w.Expired(c.clock(), c.timeout) {
		return ErrFreezeInProgress
	}
	c.pending[snapshotName] = make(chan struct{})
	return nil
}

func (c *SnapshotCoordinator) release(snapshotName string) {
	c.pendingMu.Lock()
	done := c.pending[snapshotName]
	delete(c.pending, snapshotName)
	c.pendingMu.Unlock()
	if done != nil {
		close(done)
	}
}

// awaitPrepare blocks until no prepare is reserved for snapshotName.
func (c *SnapshotCoordinator) awaitPrepare(snapshotName string) {
	for {
		c.pendingMu.Lock()
		done, busy := c.pending[snapshotName]
		c.pendingMu.Unlock()
		if !busy {
			return
		}
		<-done
	}
}

// PrepareFreeze freezes the database for task and records the freeze window.
// The task ends SUCCESS or FAILED; a failed prepare leaves no window behind.
func (c *SnapshotCoordinator) PrepareFreeze(ctx context.Context, task domain.SnapshotTask) {
	defer c.release(task.SnapshotName)

	c.ReconcileTimeouts(ctx, c.clock())

	unlock := c.locks.Lock(task.SnapshotName)
	defer unlock()

	log := c.logger.With("task_id", task.ID, "snapshot_name", task.SnapshotName)
	log.Infow("freeze_started", "settle", c.settle)

	started := c.clock()
	freezeID, err := c.session.Freeze(ctx, task.SnapshotName, c.settle)
	c.metrics.RecordFreeze(err, c.clock().Sub(started))
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDatabaseFailure, err)
		log.Errorw("freeze_failed", "freeze_id", freezeID, "error", err)
		if freezeID != "" {
			c.abort(context.WithoutCancel(ctx), task.SnapshotName, freezeID)
		}
		c.finish(task.ID, domain.TaskStatusFailed, err.Error())
		return
	}

	c.windows.Put(domain.FreezeWindow{
		SnapshotName: task.SnapshotName,
		FreezeID:     freezeID,
		StartedAt:    c.clock(),
	})
	c.metrics.OpenFreezeWindows.Set(float64(c.windows.Len()))

	log.Infow("freeze_succeeded", "freeze_id", freezeID)
	c.finish(task.ID, domain.TaskStatusSuccess, "")
}

// CommitFreeze thaws the freeze window recorded for task's snapshot name.
// A prepare already accepted for the name is waited for first. Without a
// window it only marks the task SUCCESS.
func (c *SnapshotCoordinator) CommitFreeze(ctx context.Context, task domain.SnapshotTask, success bool) {
	c.awaitPrepare(task.SnapshotName)

	unlock := c.locks.Lock(task.SnapshotName)
	defer unlock()

	log := c.logger.With("task_id", task.ID, "snapshot_name", task.SnapshotName)

	window, ok := c.windows.Get(task.SnapshotName)
	if !ok {
		log.Infow("thaw_skipped_no_freeze_window")
		c.finish(task.ID, domain.TaskStatusSuccess, "")
		return
	}

	err := c.session.Thaw(ctx, window.FreezeID, success, task.SnapshotName)
	c.metrics.RecordThaw(metrics.TriggerCommit, err)

	c.windows.Delete(task.SnapshotName)
	c.metrics.OpenFreezeWindows.Set(float64(c.windows.Len()))

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDatabaseFailure, err)
		log.Errorw("thaw_failed", "freeze_id", window.FreezeID, "error", err)
		c.finish(task.ID, domain.TaskStatusFailed, err.Error())
		return
	}

	log.Infow("thaw_succeeded", "freeze_id", window.FreezeID, "successful", success)
	c.finish(task.ID, domain.TaskStatusSuccess, "")
}

// ReconcileTimeouts closes every freeze window older than the task timeout as
// unsuccessful and drops the tasks that belong to it. It returns the number of
// windows closed.
func (c *SnapshotCoordinator) ReconcileTimeouts(ctx context.Context, now time.Time) int {
	closed := 0
	for _, w := range c.windows.List() {
		if !w.Expired(now, c.timeout) {
			continue
		}
		if c.closeStale(ctx, w.SnapshotName, now) {
			closed++
		}
	}
	if closed > 0 {
		c.metrics.OpenFreezeWindows.Set(float64(c.windows.Len()))
	}
	return closed
}

func (c *SnapshotCoordinator) closeStale(ctx context.Context, snapshotName string, now time.Time) bool {
	unlock := c.locks.Lock(snapshotName)
	defer unlock()

	// A commit may have closed the window while we waited for the lock.
	window, ok := c.windows.Get(snapshotName)
	if !ok || !window.Expired(now, c.timeout) {
		return false
	}

	err := c.session.Thaw(ctx, window.FreezeID, false, snapshotName)
	c.metrics.RecordThaw(metrics.TriggerReconcile, err)
	if err != nil {
		c.logger.Warnw("stale_freeze_thaw_failed",
			"snapshot_name", snapshotName, "freeze_id", window.FreezeID, "error", err)
	}

	c.windows.Delete(snapshotName)
	removed := c.tasks.DeleteWhere(func(t domain.SnapshotTask) bool {
		return t.SnapshotName == snapshotName && !t.CreatedAt.After(window.StartedAt)
	})

	c.logger.Infow("stale_freeze_released",
		"snapshot_name", snapshotName,
		"freeze_id", window.FreezeID,
		"age", window.Age(now),
		"tasks_removed", len(removed))
	return true
}

// ReleaseOrphans closes prepared freezes the database still reports but no
// window tracks, such as those left by a previous agent process. It does
// nothing while a prepare is running.
func (c *SnapshotCoordinator) ReleaseOrphans(ctx context.Context) int {
	c.pendingMu.Lock()
	busy := len(c.pending) > 0
	c.pendingMu.Unlock()
	if busy {
		c.logger.Debugw("orphan_release_skipped_prepare_running")
		return 0
	}

	ids, err := c.session.PendingFreezeIDs(ctx)
	if err != nil {
		c.logger.Warnw("orphan_lookup_failed", "error", err)
		return 0
	}

	tracked := make(map[string]bool)
	for _, w := range c.windows.List() {
		tracked[w.FreezeID] = true
	}

	released := 0
	for _, id := range ids {
		if tracked[id] {
			continue
		}
		err := c.session.Thaw(ctx, id, false, "")
		c.metrics.RecordThaw(metrics.TriggerOrphan, err)
		if err != nil {
			c.logger.Warnw("orphan_freeze_thaw_failed", "freeze_id", id, "error", err)
			continue
		}
		c.logger.Infow("orphan_freeze_released", "freeze_id", id)
		released++
	}
	return released
}

func (c *SnapshotCoordinator) abort(ctx context.Context, snapshotName, freezeID string) {
	err := c.session.Thaw(ctx, freezeID, false, snapshotName)
	c.metrics.RecordThaw(metrics.TriggerAbort, err)
	if err != nil {
		c.logger.Errorw("freeze_abort_failed",
			"snapshot_name", snapshotName, "freeze_id", freezeID, "error", err)
		return
	}
	c.logger.Warnw("freeze_aborted", "snapshot_name", snapshotName, "freeze_id", freezeID)
}

// finish moves an ACTIVE task to its terminal status exactly once.
func (c *SnapshotCoordinator) finish(id string, status domain.SnapshotTaskStatus, message string) {
	now := c.clock()
	_, ok := c.tasks.Update(id, func(t *domain.SnapshotTask) bool {
		if t.Status.IsTerminal() {
			return false
		}
		t.Status = status
		t.Message = message
		t.UpdatedAt = now
		return true
	})
	if !ok {
		c.logger.Debugw("task_gone_before_completion", "task_id", id, "status", status)
	}
}
