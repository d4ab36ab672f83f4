package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/core/ports"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/domain"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/infrastructure/logger"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/metrics"
)

type agentFacade struct {
	auth        *Authenticator
	coordinator *SnapshotCoordinator
	tasks       ports.TaskRegistry
	logger      *logger.Logger
	metrics     *metrics.Registry

	workers   conc.WaitGroup
	workerCtx context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type AgentFacadeConfig struct {
	Authenticator *Authenticator
	Coordinator   *SnapshotCoordinator
	Tasks         ports.TaskRegistry
	Logger        *logger.Logger
	Metrics       *metrics.Registry
}

// AgentFacade is the request boundary plus the worker group that runs
// prepares in the background.
type AgentFacade interface {
	ports.SnapshotTaskService
	Shutdown(ctx context.Context) error
}

func NewAgentFacade(cfg AgentFacadeConfig) AgentFacade {
	ctx, cancel := context.WithCancel(context.Background())
	f := &agentFacade{
		auth:        cfg.Authenticator,
		coordinator: cfg.Coordinator,
		tasks:       cfg.Tasks,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		workerCtx:   ctx,
		cancel:      cancel,
	}
	if f.logger == nil {
		f.logger = logger.NewNop()
	}
	if f.metrics == nil {
		f.metrics = metrics.NewNop()
	}
	if f.auth != nil && f.coordinator != nil {
		f.auth.established = func(ctx context.Context) {
			f.coordinator.ReleaseOrphans(context.WithoutCancel(ctx))
		}
	}
	return f
}

func (f *agentFacade) Authenticate(ctx context.Context, credential string) error {
	return f.auth.Authenticate(ctx, credential)
}

func (f *agentFacade) BeginFreeze(ctx context.Context, credential string, input *ports.SnapshotTaskInput) (*domain.SnapshotTask, error) {
	name, err := f.admit(ctx, credential, input)
	if err != nil {
		return nil, err
	}
	if err := f.coordinator.ReservePrepare(name); err != nil {
		f.logger.Warnw("prepare_rejected", "snapshot_name", name, "error", err)
		return nil, err
	}

	task := f.newTask(name, domain.OperationPreSnapshot)
	f.tasks.Put(task)
	f.logger.Infow("prepare_accepted", "task_id", task.ID, "snapshot_name", name)

	f.workers.Go(func() {
		f.coordinator.PrepareFreeze(f.workerCtx, task)
	})
	return &task, nil
}

func (f *agentFacade) EndFreeze(ctx context.Context, credential string, input *ports.SnapshotTaskInput) (*domain.SnapshotTask, error) {
	name, err := f.admit(ctx, credential, input)
	if err != nil {
		return nil, err
	}

	task := f.newTask(name, domain.OperationPostSnapshot)
	f.tasks.Put(task)
	f.logger.Infow("commit_accepted", "task_id", task.ID, "snapshot_name", name)

	f.coordinator.CommitFreeze(context.WithoutCancel(ctx), task, true)

	if latest, ok := f.tasks.Get(task.ID); ok {
		return &latest, nil
	}
	return &task, nil
}

func (f *agentFacade) ListTasks(ctx context.Context) []domain.SnapshotTask {
	return f.tasks.List()
}

func (f *agentFacade) GetTask(ctx context.Context, credential string, id string) (*domain.SnapshotTask, error) {
	if err := f.auth.Authenticate(ctx, credential); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrBadRequest
	}
	task, ok := f.tasks.Get(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &task, nil
}

func (f *agentFacade) DeleteTask(ctx context.Context, credential string, id string) error {
	if err := f.auth.Authenticate(ctx, credential); err != nil {
		return err
	}
	if id == "" {
		return ErrBadRequest
	}
	if !f.tasks.Delete(id) {
		return ErrTaskNotFound
	}
	f.logger.Infow("task_deleted", "task_id", id)
	return nil
}

// Shutdown waits for running prepares. When ctx expires first, their settle
// waits are interrupted and Shutdown waits for them to unwind.
func (f *agentFacade) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.closeOnce.Do(f.cancel)
		return nil
	case <-ctx.Done():
		f.logger.Warnw("interrupting_running_prepares")
		f.closeOnce.Do(f.cancel)
		<-done
		return ctx.Err()
	}
}

func (f *agentFacade) admit(ctx context.Context, credential string, input *ports.SnapshotTaskInput) (string, error) {
	if err := f.auth.Authenticate(ctx, credential); err != nil {
		return "", err
	}
	if input == nil {
		return "", ErrBadRequest
	}
	if strings.TrimSpace(input.SnapshotName) == "" {
		return "", ErrBadRequest
	}
	return input.SnapshotName, nil
}

func (f *agentFacade) newTask(name string, op domain.SnapshotOperation) domain.SnapshotTask {
	now := f.coordinator.clock()
	f.metrics.TasksCreated.WithLabelValues(string(op)).Inc()
	return domain.SnapshotTask{
		ID:           uuid.NewString(),
		SnapshotName: name,
		Operation:    op,
		Status:       domain.TaskStatusActive,
		Timeout:      int(f.coordinator.TaskTimeout() / time.Second),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
