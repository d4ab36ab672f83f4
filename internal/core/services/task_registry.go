package services

import (
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/domain"
	"github.com/NimbleStorage/nimble-sap-hana-agent/pkg/cmap"
)

// TaskRegistry is the in-memory ports.TaskRegistry. Values are stored by copy,
// so callers never share a task with a concurrent writer.
type TaskRegistry struct {
	tasks  *cmap.Map[domain.SnapshotTask]
	events *EventHub
}

// NewTaskRegistry creates a registry publishing changes to events, which may
// be nil.
func NewTaskRegistry(events *EventHub) *TaskRegistry {
	return &TaskRegistry{
		tasks:  cmap.New[domain.SnapshotTask](),
		events: events,
	}
}

func (r *TaskRegistry) Put(task domain.SnapshotTask) {
	r.tasks.Set(task.ID, task)
	r.publish(domain.TaskEventCreated, task)
}

func (r *TaskRegistry) Get(id string) (domain.SnapshotTask, bool) {
	return r.tasks.Get(id)
}

func (r *TaskRegistry) Update(id string, fn func(task *domain.SnapshotTask) bool) (domain.SnapshotTask, bool) {
	changed := false
	task, ok := r.tasks.Update(id, func(t domain.SnapshotTask) domain.SnapshotTask {
		changed = fn(&t)
		return t
	})
	if ok && changed {
		r.publish(domain.TaskEventUpdated, task)
	}
	return task, ok
}

func (r *TaskRegistry) Delete(id string) bool {
	task, ok := r.tasks.DeleteIf(id, func(domain.SnapshotTask) bool { return true })
	if ok {
		r.publish(domain.TaskEventRemoved, task)
	}
	return ok
}

func (r *TaskRegistry) DeleteWhere(pred func(task domain.SnapshotTask) bool) []domain.SnapshotTask {
	var removed []domain.SnapshotTask
	for _, id := range r.tasks.Keys() {
		if task, ok := r.tasks.DeleteIf(id, pred); ok {
			removed = append(removed, task)
			r.publish(domain.TaskEventRemoved, task)
		}
	}
	return removed
}

func (r *TaskRegistry) List() []domain.SnapshotTask {
	return r.tasks.Values()
}

func (r *TaskRegistry) publish(kind domain.TaskEventType, task domain.SnapshotTask) {
	if r.events != nil {
		r.events.Publish(domain.TaskEvent{Type: kind, Task: task})
	}
}
