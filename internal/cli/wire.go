package cli

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radonc/mqsupervisor/internal/config"
	"github.com/radonc/mqsupervisor/internal/gpumanager"
	"github.com/radonc/mqsupervisor/internal/remote"
	"github.com/radonc/mqsupervisor/internal/scheduler"
	"github.com/radonc/mqsupervisor/internal/statusapi"
	"github.com/radonc/mqsupervisor/internal/store"
	"github.com/radonc/mqsupervisor/internal/supervisor"
	"github.com/radonc/mqsupervisor/internal/watcher"
	"github.com/radonc/mqsupervisor/internal/workerpool"
	"github.com/radonc/mqsupervisor/internal/workflow"
)

// Supervisor wires every component the running process needs: the state
// store, remote probe/executor, GPU manager, priority scheduler, worker
// pool, case watcher, supervisor loop, and status API server. It owns
// their lifetimes.
type Supervisor struct {
	Cfg *config.Config
	Log *zap.Logger

	Store     *store.Store
	Watcher   *watcher.Watcher
	Pool      *workerpool.Pool
	Loop      *supervisor.Supervisor
	StatusAPI *statusapi.Server
}

// Wire constructs a Supervisor from cfg. Every failure here is a startup
// failure (spec §6: "configuration or store creation failures are
// fatal").
func Wire(cfg *config.Config, log *zap.Logger) (*Supervisor, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	st, err := store.Open(cfg.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	probe := remote.NewProbe(remote.ProbeConfig{
		Host:             cfg.SSHHost,
		User:             cfg.SSHUser,
		KeyPath:          cfg.SSHKeyPath,
		PueueCommand:     cfg.PueueCommand,
		NvidiaSmiCommand: cfg.NvidiaSmiCommand,
	}, log)
	executor := remote.NewExecutor(remote.ExecutorConfig{
		Host:         cfg.SSHHost,
		User:         cfg.SSHUser,
		KeyPath:      cfg.SSHKeyPath,
		PueueCommand: cfg.PueueCommand,
	}, log)

	gm := gpumanager.New(st, probe, log)

	sched := scheduler.New(st, scheduler.Algorithm(cfg.PriorityScheduling.Algorithm),
		cfg.PriorityScheduling.AgingFactor, cfg.PriorityScheduling.StarvationThresholdHours, log)

	engine := workflow.NewEngine(st, executor, cfg, log)
	pool := workerpool.New(cfg.MaxWorkers, engine,
		time.Duration(cfg.ProcessingTimeoutSeconds)*time.Second, log)

	w := watcher.New(cfg.WatchDir, st,
		time.Duration(cfg.QuiescencePeriodSeconds)*time.Second, 0, log)

	loop := supervisor.New(st, executor, sched, gm, pool, supervisor.Config{
		BatchSize:                    cfg.BatchSize,
		RunningCaseTimeout:           time.Duration(cfg.RunningCaseTimeoutHours * float64(time.Hour)),
		SleepInterval:                time.Duration(cfg.SleepIntervalSeconds) * time.Second,
		GpuRefreshIntervalIterations: cfg.GpuRefreshIntervalIterations,
	}, log)

	api := statusapi.New(st, pool, sched.Metrics, log)

	return &Supervisor{
		Cfg:       cfg,
		Log:       log,
		Store:     st,
		Watcher:   w,
		Pool:      pool,
		Loop:      loop,
		StatusAPI: api,
	}, nil
}

// Close releases the store handle. Called after every goroutine this
// process started has returned.
func (s *Supervisor) Close() error {
	return s.Store.Close()
}
