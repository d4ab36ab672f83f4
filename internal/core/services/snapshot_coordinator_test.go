package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/domain"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/metrics"
)

func newCoordinator(t *testing.T) (*SnapshotCoordinator, *fakeSession, *fakeClock, *TaskRegistry, *CorrelationStore) {
	t.Helper()
	session := newFakeSession()
	clock := newFakeClock()
	tasks := NewTaskRegistry(nil)
	windows := NewCorrelationStore()
	c := NewSnapshotCoordinator(SnapshotCoordinatorConfig{
		Session: session,
		Tasks:   tasks,
		Windows: windows,
		Clock:   clock.Now,
	})
	return c, session, clock, tasks, windows
}

func activeTask(id, name string, at time.Time) domain.SnapshotTask {
	return domain.SnapshotTask{
		ID:           id,
		SnapshotName: name,
		Status:       domain.TaskStatusActive,
		Timeout:      600,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func TestCoordinator_Defaults(t *testing.T) {
	c := NewSnapshotCoordinator(SnapshotCoordinatorConfig{})
	assert.Equal(t, DefaultTaskTimeout, c.TaskTimeout())
	assert.Equal(t, time.Duration(0), c.settle)
}

func TestReconcileTimeouts_Boundary(t *testing.T) {
	c, session, clock, tasks, windows := newCoordinator(t)
	ctx := context.Background()

	task := activeTask("t1", "snap-1", clock.Now())
	tasks.Put(task)
	require.NoError(t, c.ReservePrepare("snap-1"))
	c.PrepareFreeze(ctx, task)
	require.Equal(t, 1, windows.Len())

	clock.Advance(600 * time.Second)
	assert.Equal(t, 0, c.ReconcileTimeouts(ctx, clock.Now()))
	assert.Equal(t, 1, windows.Len())

	clock.Advance(time.Second)
	assert.Equal(t, 1, c.ReconcileTimeouts(ctx, clock.Now()))
	assert.Equal(t, 0, windows.Len())
	assert.Equal(t, []thawCall{{FreezeID: "101", Success: false, Label: "snap-1"}}, session.thawCalls())

	for _, w := range windows.List() {
		assert.LessOrEqual(t, w.Age(clock.Now()), c.TaskTimeout())
	}
}

func TestReconcileTimeouts_KeepsNewerTasks(t *testing.T) {
	c, _, clock, tasks, windows := newCoordinator(t)
	ctx := context.Background()

	old := activeTask("old", "snap-1", clock.Now())
	tasks.Put(old)
	require.NoError(t, c.ReservePrepare("snap-1"))
	c.PrepareFreeze(ctx, old)

	clock.Advance(700 * time.Second)
	tasks.Put(activeTask("new", "snap-1", clock.Now()))
	tasks.Put(activeTask("other", "snap-9", clock.Now().Add(-time.Hour)))

	assert.Equal(t, 1, c.ReconcileTimeouts(ctx, clock.Now()))
	assert.Equal(t, 0, windows.Len())

	_, ok := tasks.Get("old")
	assert.False(t, ok)
	_, ok = tasks.Get("new")
	assert.True(t, ok)
	_, ok = tasks.Get("other")
	assert.True(t, ok)
}

func TestReconcileTimeouts_ThawFailureStillReleases(t *testing.T) {
	c, session, clock, tasks, windows := newCoordinator(t)
	ctx := context.Background()

	task := activeTask("t1", "snap-1", clock.Now())
	tasks.Put(task)
	require.NoError(t, c.ReservePrepare("snap-1"))
	c.PrepareFreeze(ctx, task)

	session.setThawErr(assert.AnError)
	clock.Advance(601 * time.Second)
	assert.Equal(t, 1, c.ReconcileTimeouts(ctx, clock.Now()))
	assert.Equal(t, 0, windows.Len())
}

func TestReservePrepare_ExpiredWindowAllowsRetry(t *testing.T) {
	c, _, clock, tasks, _ := newCoordinator(t)
	ctx := context.Background()

	task := activeTask("t1", "snap-1", clock.Now())
	tasks.Put(task)
	require.NoError(t, c.ReservePrepare("snap-1"))
	c.PrepareFreeze(ctx, task)

	require.ErrorIs(t, c.ReservePrepare("snap-1"), ErrFreezeInProgress)
	clock.Advance(601 * time.Second)
	require.NoError(t, c.ReservePrepare("snap-1"))
}

func TestFinish_IsExactlyOnce(t *testing.T) {
	c, _, clock, tasks, _ := newCoordinator(t)
	tasks.Put(activeTask("t1", "snap-1", clock.Now()))

	c.finish("t1", domain.TaskStatusFailed, "boom")
	c.finish("t1", domain.TaskStatusSuccess, "")

	got, ok := tasks.Get("t1")
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Message)
}

func TestCoordinator_Metrics(t *testing.T) {
	session := newFakeSession()
	clock := newFakeClock()
	tasks := NewTaskRegistry(nil)
	m := metrics.NewNop()
	c := NewSnapshotCoordinator(SnapshotCoordinatorConfig{
		Session: session,
		Tasks:   tasks,
		Windows: NewCorrelationStore(),
		Metrics: m,
		Clock:   clock.Now,
	})
	ctx := context.Background()

	task := activeTask("t1", "snap-1", clock.Now())
	tasks.Put(task)
	require.NoError(t, c.ReservePrepare("snap-1"))
	c.PrepareFreeze(ctx, task)

	commit := activeTask("t2", "snap-1", clock.Now())
	tasks.Put(commit)
	c.CommitFreeze(ctx, commit, true)

	got, _ := tasks.Get("t2")
	assert.Equal(t, domain.TaskStatusSuccess, got.Status)
	assert.Equal(t, 0.0, testGauge(t, m))
}

func TestReleaseOrphans_SkipsTrackedWindows(t *testing.T) {
	c, session, clock, tasks, _ := newCoordinator(t)
	ctx := context.Background()

	task := activeTask("t1", "snap-1", clock.Now())
	tasks.Put(task)
	require.NoError(t, c.ReservePrepare("snap-1"))
	c.PrepareFreeze(ctx, task)

	session.prepared = []string{"7", "101"}
	assert.Equal(t, 1, c.ReleaseOrphans(ctx))
	assert.Equal(t, []thawCall{{FreezeID: "7", Success: false}}, session.thawCalls())
}

func TestReleaseOrphans_WaitsOutRunningPrepare(t *testing.T) {
	c, session, _, _, _ := newCoordinator(t)
	session.prepared = []string{"7"}

	require.NoError(t, c.ReservePrepare("snap-1"))
	assert.Equal(t, 0, c.ReleaseOrphans(context.Background()))
	assert.Empty(t, session.thawCalls())

	c.release("snap-1")
	assert.Equal(t, 1, c.ReleaseOrphans(context.Background()))
}

func TestCommitFreeze_AfterReleaseProceeds(t *testing.T) {
	c, session, clock, tasks, windows := newCoordinator(t)
	ctx := context.Background()

	require.NoError(t, c.ReservePrepare("snap-1"))
	commit := activeTask("t2", "snap-1", clock.Now())
	tasks.Put(commit)

	done := make(chan struct{})
	go func() {
		c.CommitFreeze(ctx, commit, true)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("commit ignored the reserved prepare")
	case <-time.After(20 * time.Millisecond):
	}

	prepare := activeTask("t1", "snap-1", clock.Now())
	tasks.Put(prepare)
	c.PrepareFreeze(ctx, prepare)
	<-done

	assert.Equal(t, 0, windows.Len())
	assert.Equal(t, []thawCall{{FreezeID: "101", Success: true, Label: "snap-1"}}, session.thawCalls())
}
