package services

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/infrastructure/logger"
)

const DefaultReconcileSchedule = "@every 30s"

// Reconciler releases stale freeze windows on a cron schedule, independent of
// incoming prepare requests.
type Reconciler struct {
	coordinator *SnapshotCoordinator
	logger      *logger.Logger
	cron        *cron.Cron
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewReconciler(coordinator *SnapshotCoordinator, schedule string, log *logger.Logger) (*Reconciler, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}

	cl := cronLogger{log: log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(
		cron.Recover(cl),
		cron.SkipIfStillRunning(cl),
	))

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		coordinator: coordinator,
		logger:      log,
		cron:        c,
		ctx:         ctx,
		cancel:      cancel,
	}
	if _, err := c.AddFunc(schedule, r.RunOnce); err != nil {
		cancel()
		return nil, err
	}
	return r, nil
}

func (r *Reconciler) Start() {
	r.cron.Start()
	r.logger.Infow("reconciler_started", "entries", len(r.cron.Entries()))
}

// Stop halts the schedule and waits for a running pass to finish or ctx to
// expire.
func (r *Reconciler) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		r.cancel()
		<-done.Done()
	}
	r.cancel()
	r.logger.Infow("reconciler_stopped")
}

func (r *Reconciler) RunOnce() {
	now := r.coordinator.clock()
	if n := r.coordinator.ReconcileTimeouts(r.ctx, now); n > 0 {
		r.logger.Infow("reconcile_pass_completed", "released", n)
	}
}

// cronLogger adapts the zap logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
