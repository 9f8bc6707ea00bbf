// Package supervisor runs the periodic four-phase tick loop that owns
// every case-status and GPU-resource transition outside a worker's own
// step sequence: recovering stuck submissions, sweeping orphaned running
// cases, reclaiming zombie GPUs, and dispatching new work (spec §4.8).
package supervisor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radonc/mqsupervisor/internal/obslog"
	"github.com/radonc/mqsupervisor/internal/remote"
	"github.com/radonc/mqsupervisor/internal/store"
)

// RemoteExecutor is the subset of internal/remote.Executor the Supervisor
// Loop drives directly (recovery, polling, and kill — never submission;
// that belongs to the workflow a worker runs).
type RemoteExecutor interface {
	FindTaskByLabel(ctx context.Context, labelPrefix string) (remote.FindTaskResultKind, string, error)
	PollTaskStatus(ctx context.Context, taskID string) (remote.PollResultKind, error)
	KillTask(ctx context.Context, taskID string) bool
}

// Scheduler is the subset of internal/scheduler.Scheduler Phase 4 needs.
type Scheduler interface {
	SelectBatch(n int) ([]store.Case, error)
}

// GpuManager is the subset of internal/gpumanager.Manager the tick's GPU
// refresh and Phase 4 need.
type GpuManager interface {
	Refresh(ctx context.Context) error
	ChooseOptimal(ctx context.Context) (string, bool, error)
}

// WorkerPool is the subset of internal/workerpool.Pool Phase 2 and 4 need.
type WorkerPool interface {
	Submit(ctx context.Context, caseID int64) bool
	InFlight(caseID int64) bool
	Shutdown(ctx context.Context) error
}

// Config is the subset of tick-loop tunables the Supervisor reads from
// internal/config.Config.
type Config struct {
	BatchSize                   int
	RunningCaseTimeout          time.Duration
	SleepInterval               time.Duration
	GpuRefreshIntervalIterations int
}

// Supervisor runs the tick loop. It holds no per-case state of its own;
// every phase reloads from the Store, per spec §5's "each worker and the
// Supervisor Loop access [the store] concurrently... must reload before
// mutating".
type Supervisor struct {
	Store      *store.Store
	Remote     RemoteExecutor
	Scheduler  Scheduler
	GpuManager GpuManager
	Pool       WorkerPool
	Cfg        Config
	Log        *zap.Logger

	iteration int
}

// New constructs a Supervisor.
func New(st *store.Store, rx RemoteExecutor, sched Scheduler, gm GpuManager, pool WorkerPool, cfg Config, log *zap.Logger) *Supervisor {
	return &Supervisor{Store: st, Remote: rx, Scheduler: sched, GpuManager: gm, Pool: pool, Cfg: cfg, Log: log}
}

// Run ticks forever until ctx is canceled, sleeping Cfg.SleepInterval
// between ticks. On cancellation it stops dispatching new work and waits
// for the Worker Pool to drain, bounded by a 30-second grace period,
// matching the teacher's graceful-shutdown budget.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.sleepInterval())
	defer ticker.Stop()

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			return s.shutdown()
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) sleepInterval() time.Duration {
	if s.Cfg.SleepInterval <= 0 {
		return 10 * time.Second
	}
	return s.Cfg.SleepInterval
}

func (s *Supervisor) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Pool.Shutdown(shutdownCtx); err != nil {
		s.Log.Warn("worker pool did not drain before shutdown timeout", zap.Error(err))
	}
	return nil
}

// tick runs the four ordered phases. Each phase is wrapped so a failure in
// one never blocks the next (spec §7: "any exception in a phase is logged
// ... and the tick continues").
func (s *Supervisor) tick(ctx context.Context) {
	s.iteration++

	if s.iteration == 1 || (s.Cfg.GpuRefreshIntervalIterations > 0 && s.iteration%s.Cfg.GpuRefreshIntervalIterations == 0) {
		if err := s.GpuManager.Refresh(ctx); err != nil {
			s.Log.Error("gpu manager refresh failed", zap.Error(err))
		}
	}

	s.runPhase("recover_submitting", func() error { return s.recoverSubmitting(ctx) })
	s.runPhase("manage_running", func() error { return s.manageRunning(ctx) })
	s.runPhase("reclaim_zombies", func() error { return s.reclaimZombies(ctx) })
	s.runPhase("dispatch", func() error { return s.dispatch(ctx) })
}

func (s *Supervisor) runPhase(name string, fn func() error) {
	if err := fn(); err != nil {
		s.Log.Error("supervisor phase failed", zap.String("phase", name), zap.Error(err))
	}
}

// recoverSubmitting implements Phase 1 (spec §4.8). Cases stuck in
// "submitting" are looked up by the case-id prefix of the label SubmitJob
// used (see DESIGN.md: the epoch-seconds suffix is unknown to recovery).
func (s *Supervisor) recoverSubmitting(ctx context.Context) error {
	cases, err := s.Store.ListCasesByStatus(store.StatusSubmitting, 0)
	if err != nil {
		return fmt.Errorf("recover submitting: list cases: %w", err)
	}

	for _, c := range cases {
		labelPrefix := fmt.Sprintf("mqic_case_%d_", c.ID)
		kind, taskID, err := s.Remote.FindTaskByLabel(ctx, labelPrefix)
		if err != nil {
			s.Log.Error("recover submitting: find task by label failed", zap.Int64("case_id", c.ID), zap.Error(err))
			continue
		}

		switch kind {
		case remote.FindFound:
			taskIDCopy := taskID
			if err := s.Store.SetCaseRemoteTaskID(c.ID, &taskIDCopy); err != nil {
				s.Log.Error("recover submitting: set remote task id failed", zap.Int64("case_id", c.ID), zap.Error(err))
				continue
			}
			if err := s.Store.UpdateCaseStatus(c.ID, store.StatusRunning, c.Progress); err != nil {
				s.Log.Error("recover submitting: update status failed", zap.Int64("case_id", c.ID), zap.Error(err))
				continue
			}
			s.Log.Info("recovered stuck submission", zap.Int64("case_id", c.ID), zap.String("remote_task_id", taskID))
		case remote.FindNotFound:
			msg := "submission never landed on remote queue"
			if err := s.Store.UpdateCaseCompletion(c.ID, store.StatusFailed, &msg); err != nil {
				s.Log.Error("recover submitting: update completion failed", zap.Int64("case_id", c.ID), zap.Error(err))
				continue
			}
			if err := s.Store.ReleaseGpu(c.ID); err != nil {
				s.Log.Error("recover submitting: release gpu failed", zap.Int64("case_id", c.ID), zap.Error(err))
			}
			s.Log.Warn("stuck submission never landed, marked failed", zap.Int64("case_id", c.ID))
		case remote.FindUnreachable:
			// leave in submitting for a later tick
		}
	}
	return nil
}

// manageRunning implements Phase 2 (spec §4.8). Cases already owned by an
// in-flight worker are skipped: that worker is driving the same remote
// task through its own poll loop, and a second completion/kill here would
// race it (see DESIGN.md's Phase 2 decision). This phase only sweeps
// cases a crash orphaned — no worker left alive to finish them.
func (s *Supervisor) manageRunning(ctx context.Context) error {
	cases, err := s.Store.ListCasesByStatus(store.StatusRunning, 0)
	if err != nil {
		return fmt.Errorf("manage running: list cases: %w", err)
	}

	now := time.Now().UTC()
	for _, c := range cases {
		if s.Pool.InFlight(c.ID) {
			continue
		}
		if c.RemoteTaskID == nil {
			continue
		}

		if s.Cfg.RunningCaseTimeout > 0 && now.Sub(c.StatusUpdatedAt) > s.Cfg.RunningCaseTimeout {
			s.killTimedOutCase(c)
			continue
		}

		kind, err := s.Remote.PollTaskStatus(ctx, *c.RemoteTaskID)
		if err != nil {
			s.Log.Error("manage running: poll task status failed", zap.Int64("case_id", c.ID), zap.Error(err))
			continue
		}
		switch kind {
		case remote.PollSuccess:
			if err := s.Store.UpdateCaseCompletion(c.ID, store.StatusCompleted, nil); err != nil {
				s.Log.Error("manage running: update completion failed", zap.Int64("case_id", c.ID), zap.Error(err))
				continue
			}
			if err := s.Store.ReleaseGpu(c.ID); err != nil {
				s.Log.Error("manage running: release gpu failed", zap.Int64("case_id", c.ID), zap.Error(err))
			}
		case remote.PollFailure, remote.PollNotFound:
			msg := fmt.Sprintf("remote task ended in %s", kind)
			if err := s.Store.UpdateCaseCompletion(c.ID, store.StatusFailed, &msg); err != nil {
				s.Log.Error("manage running: update completion failed", zap.Int64("case_id", c.ID), zap.Error(err))
				continue
			}
			if err := s.Store.ReleaseGpu(c.ID); err != nil {
				s.Log.Error("manage running: release gpu failed", zap.Int64("case_id", c.ID), zap.Error(err))
			}
		case remote.PollRunning, remote.PollUnreachable:
			// no action
		}
	}
	return nil
}

func (s *Supervisor) killTimedOutCase(c store.Case) {
	msg := "processing timeout exceeded"
	if s.Remote.KillTask(context.Background(), *c.RemoteTaskID) {
		if err := s.Store.UpdateCaseCompletion(c.ID, store.StatusFailed, &msg); err != nil {
			s.Log.Error("manage running: update completion failed after kill", zap.Int64("case_id", c.ID), zap.Error(err))
			return
		}
		if err := s.Store.ReleaseGpu(c.ID); err != nil {
			s.Log.Error("manage running: release gpu failed after kill", zap.Int64("case_id", c.ID), zap.Error(err))
		}
		return
	}

	// Kill failed: the remote job may still be running, so the GPU
	// cannot be safely released. Mark zombie for Phase 3 to retry.
	if err := s.Store.UpdateCaseCompletion(c.ID, store.StatusFailed, &msg); err != nil {
		s.Log.Error("manage running: update completion failed after failed kill", zap.Int64("case_id", c.ID), zap.Error(err))
		return
	}
	if c.GpuGroup != nil {
		if err := s.Store.SetGpuStatus(*c.GpuGroup, store.GpuZombie, &c.ID); err != nil {
			s.Log.Error("manage running: set gpu zombie failed", zap.Int64("case_id", c.ID), zap.Error(err))
		}
	}
}

// reclaimZombies implements Phase 3 (spec §4.8).
func (s *Supervisor) reclaimZombies(ctx context.Context) error {
	rows, err := s.Store.ListGpusByStatus(store.GpuZombie)
	if err != nil {
		return fmt.Errorf("reclaim zombies: list gpus: %w", err)
	}

	for _, row := range rows {
		if row.AssignedCaseID == nil {
			continue
		}
		c, err := s.Store.GetCase(*row.AssignedCaseID)
		if err != nil {
			s.Log.Error("reclaim zombies: load case failed", zap.String("group", row.Group), zap.Error(err))
			continue
		}
		if c.RemoteTaskID == nil {
			continue
		}
		if s.Remote.KillTask(ctx, *c.RemoteTaskID) {
			if err := s.Store.ReleaseGpu(c.ID); err != nil {
				s.Log.Error("reclaim zombies: release gpu failed", zap.String("group", row.Group), zap.Error(err))
				continue
			}
			s.Log.Info("reclaimed zombie gpu", zap.String("group", row.Group), zap.Int64("case_id", c.ID))
		}
		// kill failed: leave as zombie, a later tick retries.
	}
	return nil
}

// dispatch implements Phase 4 (spec §4.8).
func (s *Supervisor) dispatch(ctx context.Context) error {
	batch, err := s.Scheduler.SelectBatch(s.batchSize())
	if err != nil {
		return fmt.Errorf("dispatch: select batch: %w", err)
	}

	for _, c := range batch {
		group, ok, err := s.GpuManager.ChooseOptimal(ctx)
		if err != nil {
			return fmt.Errorf("dispatch: choose optimal gpu: %w", err)
		}
		if !ok {
			return nil // no GPU available; stop the phase for this tick
		}

		locked, err := s.Store.FindAndLockAnyAvailableGpu(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("dispatch: lock gpu: %w", err)
		}
		if locked == "" {
			// Another tick or path won the race between ChooseOptimal
			// and the lock; stop for now rather than loop indefinitely.
			return nil
		}
		_ = group // ChooseOptimal only informs readiness; the atomic lock picks the row.

		if err := s.Store.SetCaseGpuGroup(c.ID, &locked); err != nil {
			s.Log.Error("dispatch: set case gpu group failed", zap.Int64("case_id", c.ID), zap.Error(err))
			if relErr := s.Store.ReleaseGpu(c.ID); relErr != nil {
				s.Log.Error("dispatch: release gpu after failed assignment failed", zap.Int64("case_id", c.ID), zap.Error(relErr))
			}
			continue
		}

		if !s.Pool.Submit(ctx, c.ID) {
			s.Log.Warn("dispatch: case already in flight, releasing gpu", zap.Int64("case_id", c.ID))
			if err := s.Store.ReleaseGpu(c.ID); err != nil {
				s.Log.Error("dispatch: release gpu after rejected submit failed", zap.Int64("case_id", c.ID), zap.Error(err))
			}
			continue
		}

		s.Log.Info("dispatched case", append(obslog.CaseFields(c.ID, "dispatch"), zap.String("gpu_group", locked))...)
	}
	return nil
}

func (s *Supervisor) batchSize() int {
	if s.Cfg.BatchSize <= 0 {
		return 1
	}
	return s.Cfg.BatchSize
}
