package services

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/domain"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/metrics"
)

func testGauge(t *testing.T, m *metrics.Registry) float64 {
	t.Helper()
	return testutil.ToFloat64(m.OpenFreezeWindows)
}

func TestTaskRegistry_PublishesEvents(t *testing.T) {
	hub := NewEventHub()
	events, unsubscribe := hub.Subscribe(8)
	defer unsubscribe()

	reg := NewTaskRegistry(hub)
	task := activeTask("t1", "snap-1", time.Now())

	reg.Put(task)
	_, ok := reg.Update("t1", func(t *domain.SnapshotTask) bool {
		t.Status = domain.TaskStatusSuccess
		return true
	})
	require.True(t, ok)
	_, ok = reg.Update("t1", func(*domain.SnapshotTask) bool { return false })
	require.True(t, ok)
	require.True(t, reg.Delete("t1"))
	assert.False(t, reg.Delete("t1"))

	var kinds []domain.TaskEventType
	for i := 0; i < 3; i++ {
		ev := <-events
		kinds = append(kinds, ev.Type)
	}
	assert.Equal(t, []domain.TaskEventType{
		domain.TaskEventCreated, domain.TaskEventUpdated, domain.TaskEventRemoved,
	}, kinds)
	assert.Empty(t, events)
}

func TestTaskRegistry_UpdateMissing(t *testing.T) {
	reg := NewTaskRegistry(nil)
	called := false
	_, ok := reg.Update("missing", func(*domain.SnapshotTask) bool {
		called = true
		return true
	})
	assert.False(t, ok)
	assert.False(t, called)
}

func TestTaskRegistry_ReturnsCopies(t *testing.T) {
	reg := NewTaskRegistry(nil)
	reg.Put(activeTask("t1", "snap-1", time.Now()))

	got, _ := reg.Get("t1")
	got.Status = domain.TaskStatusFailed

	again, _ := reg.Get("t1")
	assert.Equal(t, domain.TaskStatusActive, again.Status)
}

func TestEventHub_DropsWhenFull(t *testing.T) {
	hub := NewEventHub()
	events, unsubscribe := hub.Subscribe(1)

	hub.Publish(domain.TaskEvent{Type: domain.TaskEventCreated})
	hub.Publish(domain.TaskEvent{Type: domain.TaskEventRemoved})
	assert.Len(t, events, 1)
	assert.Equal(t, 1, hub.Subscribers())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, hub.Subscribers())
	<-events
	_, open := <-events
	assert.False(t, open)
}

func TestCorrelationStore(t *testing.T) {
	s := NewCorrelationStore()
	s.Put(domain.FreezeWindow{SnapshotName: "a", FreezeID: "1"})
	s.Put(domain.FreezeWindow{SnapshotName: "a", FreezeID: "2"})

	w, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "2", w.FreezeID)
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
	assert.Empty(t, s.List())
}

func TestKeyedLock_Serializes(t *testing.T) {
	l := newKeyedLock()
	unlock := l.Lock("a")

	acquired := make(chan struct{})
	go func() {
		u := l.Lock("a")
		close(acquired)
		u()
	}()

	otherDone := make(chan struct{})
	go func() {
		l.Lock("b")()
		close(otherDone)
	}()
	<-otherDone

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired

	assert.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.locks) == 0
	}, time.Second, time.Millisecond)
}
