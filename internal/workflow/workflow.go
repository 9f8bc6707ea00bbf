// Package workflow drives one case through the ordered step sequence
// preprocess -> generate-tps -> upload -> submit -> poll -> download ->
// postprocess, checkpointing each step in the state store so a crash can
// resume at the right place (spec §4.6).
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/radonc/mqsupervisor/internal/config"
	"github.com/radonc/mqsupervisor/internal/errkind"
	"github.com/radonc/mqsupervisor/internal/localexec"
	"github.com/radonc/mqsupervisor/internal/obslog"
	"github.com/radonc/mqsupervisor/internal/remote"
	"github.com/radonc/mqsupervisor/internal/store"
	"github.com/radonc/mqsupervisor/internal/tpsfile"
)

// RetryPolicy is carried as explicit per-step data rather than inferred, per
// Design Note 3 (§9): each step declares its own max attempts, fixed delay,
// and (optionally) the specific error kinds worth retrying. A nil
// RetryableKinds falls back to the kind's own Retryable().
type RetryPolicy struct {
	MaxAttempts    int
	Delay          time.Duration
	RetryableKinds []errkind.Kind
}

func (p RetryPolicy) allows(k errkind.Kind) bool {
	if p.RetryableKinds == nil {
		return k.Retryable()
	}
	for _, allowed := range p.RetryableKinds {
		if allowed == k {
			return true
		}
	}
	return false
}

// Step is one named stage of the sequence. OnStart/OnSuccess/OnFailure are
// the case statuses written to the store at the corresponding transitions;
// resumption matches against OnSuccess (spec §4.6 "Resumption").
type Step struct {
	Name        string
	OnStart     store.CaseStatus
	OnSuccess   store.CaseStatus
	OnFailure   store.CaseStatus
	Retry       RetryPolicy
	// OnStartProgress is the progress value written on entry to the step.
	// It must be >= the previous step's ProgressBump so reported progress
	// never regresses (spec §3's monotone-progress invariant).
	OnStartProgress int
	ProgressBump    int
}

const (
	StepPreprocess  = "preprocess"
	StepGenerateTPS = "generate-tps"
	StepUpload      = "upload"
	StepSubmit      = "submit"
	StepPoll        = "poll"
	StepDownload    = "download"
	StepPostprocess = "postprocess"
)

// DefaultSteps is the documented default sequence (Design Note 10, §9: the
// source gives no authoritative step-list schema, so this is treated as
// the default of a pluggable list sharing the same state-machine contract).
func DefaultSteps() []Step {
	return []Step{
		{Name: StepPreprocess, OnStart: "preprocessing", OnSuccess: "preprocessed", OnFailure: store.StatusFailed,
			Retry: RetryPolicy{MaxAttempts: 2, Delay: 5 * time.Second}, OnStartProgress: 0, ProgressBump: 10},
		{Name: StepGenerateTPS, OnStart: "generating_tps", OnSuccess: "tps_ready", OnFailure: store.StatusFailed,
			Retry: RetryPolicy{MaxAttempts: 2, Delay: 2 * time.Second}, OnStartProgress: 10, ProgressBump: 20},
		{Name: StepUpload, OnStart: "uploading", OnSuccess: "uploaded", OnFailure: store.StatusFailed,
			Retry: RetryPolicy{MaxAttempts: 3, Delay: 10 * time.Second}, OnStartProgress: 20, ProgressBump: 35},
		{Name: StepSubmit, OnStart: store.StatusSubmitting, OnSuccess: store.StatusRunning, OnFailure: store.StatusFailed,
			Retry: RetryPolicy{MaxAttempts: 3, Delay: 10 * time.Second}, OnStartProgress: 35, ProgressBump: 45},
		{Name: StepPoll, OnStart: store.StatusRunning, OnSuccess: "downloading", OnFailure: store.StatusFailed,
			Retry: RetryPolicy{MaxAttempts: 1, Delay: 0}, OnStartProgress: 45, ProgressBump: 80},
		{Name: StepDownload, OnStart: "downloading", OnSuccess: "postprocessing", OnFailure: store.StatusFailed,
			Retry: RetryPolicy{MaxAttempts: 3, Delay: 10 * time.Second}, OnStartProgress: 80, ProgressBump: 90},
		{Name: StepPostprocess, OnStart: "postprocessing", OnSuccess: store.StatusCompleted, OnFailure: store.StatusFailed,
			Retry: RetryPolicy{MaxAttempts: 2, Delay: 5 * time.Second}, OnStartProgress: 90, ProgressBump: 100},
	}
}

// CaseContext is the immutable per-case record threaded through step
// execution (Design Note 2, §9): executors return a fresh record rather
// than mutating a shared one.
type CaseContext struct {
	CaseID   int64
	CasePath string
	GpuGroup string
	RunID    string
}

func newRunID() string {
	return ulid.Make().String()
}

// WithFreshRunID returns a copy of cc with a newly generated run id, used
// so retries of the same step never collide with a prior attempt's
// subdirectory.
func (cc CaseContext) WithFreshRunID() CaseContext {
	cc.RunID = newRunID()
	return cc
}

// LocalRunFunc matches localexec.Run, injectable for tests.
type LocalRunFunc func(ctx context.Context, executable, inputDir, outputDir string, args []string, onProgress localexec.ProgressFunc) (localexec.Result, error)

// RemoteExecutor is the subset of internal/remote.Executor the workflow
// drives directly.
type RemoteExecutor interface {
	EnsureRemoteDirs(ctx context.Context, caseDir, csvOutputDir, rawDoseDir string) error
	UploadTPSFile(ctx context.Context, content []byte, remotePath string) error
	UploadCaseDir(ctx context.Context, local, remote string) error
	SubmitJob(ctx context.Context, remoteDir, group, label, cmdLine string) (string, error)
	PollTaskStatus(ctx context.Context, taskID string) (remote.PollResultKind, error)
	DownloadResults(ctx context.Context, remoteDir, localDir string) ([]string, error)
}

// Engine drives the step sequence for one case at a time. It holds no
// per-case mutable state; everything it needs travels in CaseContext or is
// reloaded from the store.
type Engine struct {
	Store  *store.Store
	Remote RemoteExecutor
	Local  LocalRunFunc
	Cfg    *config.Config
	Steps  []Step
	Log    *zap.Logger
}

// NewEngine constructs an Engine with the default step sequence and
// localexec.Run as the local runner.
func NewEngine(st *store.Store, rx RemoteExecutor, cfg *config.Config, log *zap.Logger) *Engine {
	return &Engine{Store: st, Remote: rx, Local: localexec.Run, Cfg: cfg, Steps: DefaultSteps(), Log: log}
}

// DetermineStartIndex implements the §4.6 resumption contract: find the
// highest step index whose OnSuccess matches the case's current status and
// begin at index+1; if the current status matches some step's OnFailure,
// resume at that step (retry from failure); otherwise start at 0.
func DetermineStartIndex(steps []Step, current store.CaseStatus) int {
	best := -1
	for i, s := range steps {
		if s.OnSuccess == current && i > best {
			best = i
		}
	}
	if best >= 0 {
		return best + 1
	}
	for i, s := range steps {
		if s.OnFailure == current {
			return i
		}
	}
	return 0
}

// Run drives caseID through the step sequence to a terminal state. It is
// safe to call after a crash: it reloads the case and its recorded steps
// and resumes per DetermineStartIndex.
func (e *Engine) Run(ctx context.Context, caseID int64) error {
	c, err := e.Store.GetCase(caseID)
	if err != nil {
		return fmt.Errorf("workflow: load case: %w", err)
	}
	gpuGroup := ""
	if c.GpuGroup != nil {
		gpuGroup = *c.GpuGroup
	}
	cc := CaseContext{CaseID: c.ID, CasePath: c.Path, GpuGroup: gpuGroup}.WithFreshRunID()

	start := DetermineStartIndex(e.Steps, c.Status)
	log := e.Log.With(obslog.CaseFields(caseID, "workflow")...)

	for idx := start; idx < len(e.Steps); idx++ {
		step := e.Steps[idx]
		if err := e.runStepWithRetry(ctx, step, &cc, log); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runStepWithRetry(ctx context.Context, step Step, cc *CaseContext, log *zap.Logger) error {
	if err := e.Store.RecordWorkflowStep(cc.CaseID, step.Name, store.StepStarted, nil); err != nil {
		return fmt.Errorf("workflow: record step started: %w", err)
	}
	if err := e.transition(cc.CaseID, step.OnStart, step.OnStartProgress); err != nil {
		return err
	}

	maxAttempts := step.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		runErr := e.execute(ctx, step, *cc, log)
		if runErr == nil {
			if err := e.Store.RecordWorkflowStep(cc.CaseID, step.Name, store.StepCompleted, nil); err != nil {
				return fmt.Errorf("workflow: record step completed: %w", err)
			}
			return e.transition(cc.CaseID, step.OnSuccess, step.ProgressBump)
		}

		lastErr = runErr
		kind := errkind.Classify(runErr)
		log.Warn("step attempt failed", append([]zap.Field{
			zap.String("step", step.Name), zap.Int("attempt", attempt), zap.Error(runErr)},
			obslog.ErrorFields(string(kind), kind.Retryable())...)...)

		if attempt < maxAttempts && step.Retry.allows(kind) {
			*cc = cc.WithFreshRunID()
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = maxAttempts
			case <-time.After(step.Retry.Delay):
			}
			continue
		}
		break
	}

	msg := lastErr.Error()
	if err := e.Store.RecordWorkflowStep(cc.CaseID, step.Name, store.StepFailed, &msg); err != nil {
		return fmt.Errorf("workflow: record step failed: %w", err)
	}
	if err := e.transition(cc.CaseID, step.OnFailure, step.ProgressBump); err != nil {
		return err
	}
	return fmt.Errorf("workflow: step %s failed: %w", step.Name, lastErr)
}

// transition moves the case to status. Terminal statuses go through
// UpdateCaseCompletion (and release the GPU); everything else is a plain
// UpdateCaseStatus.
func (e *Engine) transition(caseID int64, status store.CaseStatus, progress int) error {
	if status.IsTerminal() {
		var finalErr *string
		if status == store.StatusFailed {
			msg := "workflow step failure"
			finalErr = &msg
		}
		if err := e.Store.UpdateCaseCompletion(caseID, status, finalErr); err != nil {
			return fmt.Errorf("workflow: update case completion: %w", err)
		}
		return e.Store.ReleaseGpu(caseID)
	}
	return e.Store.UpdateCaseStatus(caseID, status, progress)
}

// execute dispatches one step's actual work. Each case is a concrete,
// named method rather than a generic interface — the steps do genuinely
// different things and gain nothing from a shared shape.
func (e *Engine) execute(ctx context.Context, step Step, cc CaseContext, log *zap.Logger) error {
	switch step.Name {
	case StepPreprocess:
		return e.runPreprocess(ctx, step, cc, log)
	case StepGenerateTPS:
		return e.runGenerateTPS(ctx, cc)
	case StepUpload:
		return e.runUpload(ctx, cc)
	case StepSubmit:
		return e.runSubmit(ctx, cc)
	case StepPoll:
		return e.runPoll(ctx, cc)
	case StepDownload:
		return e.runDownload(ctx, cc)
	case StepPostprocess:
		return e.runPostprocess(ctx, step, cc, log)
	default:
		return errkind.New(errkind.Configuration, fmt.Errorf("unknown step %q", step.Name))
	}
}

// stepProgressCallback scales the 0..100 PROGRESS:: markers a local tool
// reports into this step's own [OnStartProgress, ProgressBump] band and
// persists them, so intra-step progress (spec §4.5) is visible without
// letting a tool's self-reported progress overrun into the next step's
// range or regress behind OnStartProgress.
func (e *Engine) stepProgressCallback(caseID int64, step Step, log *zap.Logger) localexec.ProgressFunc {
	band := step.ProgressBump - step.OnStartProgress
	return func(update localexec.ProgressUpdate) {
		if update.Status != "" || update.Subtask != "" {
			log.Debug("step progress",
				zap.String("step", step.Name), zap.String("status", update.Status), zap.String("subtask", update.Subtask))
			return
		}
		scaled := step.OnStartProgress + update.Progress*band/100
		if scaled < step.OnStartProgress {
			scaled = step.OnStartProgress
		}
		if scaled > step.ProgressBump {
			scaled = step.ProgressBump
		}
		if err := e.Store.UpdateCaseStatus(caseID, step.OnStart, scaled); err != nil {
			log.Warn("persist step progress", zap.String("step", step.Name), zap.Error(err))
		}
	}
}

func (e *Engine) runPreprocess(ctx context.Context, step Step, cc CaseContext, log *zap.Logger) error {
	inputDir := cc.CasePath
	outputDir := filepath.Join(cc.CasePath, "intermediate")
	_, err := e.Local(ctx, e.Cfg.InterpreterCommand, inputDir, outputDir, []string{cc.CasePath, outputDir},
		e.stepProgressCallback(cc.CaseID, step, log))
	return err
}

func (e *Engine) remoteCaseDir(cc CaseContext) string {
	return e.Cfg.RemoteBaseDir + "/" + filepath.Base(cc.CasePath) + "/" + cc.RunID
}

func (e *Engine) interpOutputsDir(cc CaseContext) string {
	return e.Cfg.InterpreterOutputsDir + "/" + filepath.Base(cc.CasePath)
}

func (e *Engine) outputsDir(cc CaseContext) string {
	return e.Cfg.OutputsDir + "/" + filepath.Base(cc.CasePath)
}

func (e *Engine) runGenerateTPS(ctx context.Context, cc CaseContext) error {
	content, err := tpsfile.Generate(
		tpsfile.CaseInfo{ID: cc.CaseID, CasePath: cc.CasePath, GpuGroup: cc.GpuGroup},
		tpsfile.PlanInfo{},
		tpsfile.Paths{BaseDir: e.Cfg.RemoteBaseDir, InterpreterOutputsDir: e.Cfg.InterpreterOutputsDir, OutputsDir: e.Cfg.OutputsDir},
		nil,
	)
	if err != nil {
		return errkind.New(errkind.Configuration, err)
	}
	remotePath := e.remoteCaseDir(cc) + "/moqui_tps.in"
	return e.Remote.UploadTPSFile(ctx, content, remotePath)
}

func (e *Engine) runUpload(ctx context.Context, cc CaseContext) error {
	if err := e.Remote.EnsureRemoteDirs(ctx, e.remoteCaseDir(cc), e.interpOutputsDir(cc), e.outputsDir(cc)); err != nil {
		return err
	}
	return e.Remote.UploadCaseDir(ctx, cc.CasePath, e.remoteCaseDir(cc))
}

func (e *Engine) runSubmit(ctx context.Context, cc CaseContext) error {
	label := fmt.Sprintf("mqic_case_%d_%d", cc.CaseID, time.Now().Unix())
	taskID, err := e.Remote.SubmitJob(ctx, e.remoteCaseDir(cc), cc.GpuGroup, label, e.Cfg.RemoteRunCommand)
	if err != nil {
		return err
	}
	taskIDCopy := taskID
	return e.Store.SetCaseRemoteTaskID(cc.CaseID, &taskIDCopy)
}

func (e *Engine) runPoll(ctx context.Context, cc CaseContext) error {
	c, err := e.Store.GetCase(cc.CaseID)
	if err != nil {
		return errkind.New(errkind.System, err)
	}
	if c.RemoteTaskID == nil {
		return errkind.New(errkind.Configuration, fmt.Errorf("no remote task id recorded for case %d", cc.CaseID))
	}

	interval := time.Duration(e.Cfg.PollingIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	for {
		kind, err := e.Remote.PollTaskStatus(ctx, *c.RemoteTaskID)
		if err != nil {
			return err
		}
		switch kind {
		case remote.PollSuccess:
			return nil
		case remote.PollFailure, remote.PollNotFound:
			return errkind.New(errkind.Application, fmt.Errorf("remote task %s ended in %s", *c.RemoteTaskID, kind))
		case remote.PollRunning, remote.PollUnreachable:
			select {
			case <-ctx.Done():
				return errkind.New(errkind.Network, ctx.Err())
			case <-time.After(interval):
			}
		}
	}
}

func (e *Engine) runDownload(ctx context.Context, cc CaseContext) error {
	files, err := e.Remote.DownloadResults(ctx, e.remoteCaseDir(cc), cc.CasePath)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errkind.New(errkind.Application, fmt.Errorf("download produced no files for case %d", cc.CaseID))
	}
	return nil
}

func (e *Engine) runPostprocess(ctx context.Context, step Step, cc CaseContext, log *zap.Logger) error {
	inputDir := filepath.Join(cc.CasePath, "raw_output")
	outputDir := filepath.Join(cc.CasePath, "final_dcm")
	if _, err := os.Stat(inputDir); err != nil {
		return errkind.New(errkind.Configuration, fmt.Errorf("postprocess: missing raw_output: %w", err))
	}
	_, err := e.Local(ctx, e.Cfg.RawToDicomCommand, inputDir, outputDir, []string{inputDir, outputDir},
		e.stepProgressCallback(cc.CaseID, step, log))
	return err
}
