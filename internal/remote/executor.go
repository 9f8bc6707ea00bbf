package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/radonc/mqsupervisor/internal/errkind"
)

// ExecutorConfig configures where ExecExecutor reaches the remote host.
type ExecutorConfig struct {
	Host         string
	User         string
	KeyPath      string
	PueueCommand string
}

// Executor runs the side-effecting remote operations from spec §4.4. Every
// error it returns is an *errkind.ClassifiedError, mapping the
// operation-local network|timeout|validation|parsing|execution taxonomy
// onto the five-kind scheme from spec §7 so the workflow's retry policy can
// decide retryability uniformly across local and remote steps.
// FindTaskByLabel and PollTaskStatus report an SSH or parse failure as their
// unreachable result with a nil error, and KillTask reports failure as false.
type Executor struct {
	cfg    ExecutorConfig
	runner Runner
	log    *zap.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(cfg ExecutorConfig, log *zap.Logger) *Executor {
	return &Executor{cfg: cfg, runner: DefaultRunner(), log: log}
}

// SetRunner overrides the Runner (tests).
func (e *Executor) SetRunner(r Runner) { e.runner = r }

func (e *Executor) ssh(ctx context.Context, timeout time.Duration, cmd string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.runner.SSH(ctx, e.cfg.Host, e.cfg.User, e.cfg.KeyPath, cmd)
}

func normalizeRemotePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "~/")
	return p
}

// EnsureRemoteDirs creates the case working directory, CSV output
// directory, and raw dose directory.
func (e *Executor) EnsureRemoteDirs(ctx context.Context, caseDir, csvOutputDir, rawDoseDir string) error {
	dirs := []string{normalizeRemotePath(caseDir), normalizeRemotePath(csvOutputDir), normalizeRemotePath(rawDoseDir)}
	cmd := fmt.Sprintf("mkdir -p %s", strings.Join(quoteAll(dirs), " "))
	if _, err := e.ssh(ctx, 30*time.Second, cmd); err != nil {
		return errkind.New(errkind.Network, fmt.Errorf("ensure remote dirs: %w", err))
	}
	return nil
}

func quoteAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
	}
	return out
}

// UploadTPSFile writes content as remotePath, a small generated text file
// (the TPS parameter file built by internal/tpsfile).
func (e *Executor) UploadTPSFile(ctx context.Context, content []byte, remotePath string) error {
	remotePath = normalizeRemotePath(remotePath)
	cmd := fmt.Sprintf("cat > '%s'", strings.ReplaceAll(remotePath, "'", `'\''`))
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := e.runner.SSH(ctx, e.cfg.Host, e.cfg.User, e.cfg.KeyPath, cmd+" <<'MQSUP_EOF'\n"+string(content)+"\nMQSUP_EOF"); err != nil {
		return errkind.New(errkind.Network, fmt.Errorf("upload tps file: %w", err))
	}
	return nil
}

// UploadCaseDir recursively transfers local to remote, 5-minute timeout.
func (e *Executor) UploadCaseDir(ctx context.Context, local, remote string) error {
	remote = normalizeRemotePath(remote)
	target := e.cfg.Host + ":" + remote
	if e.cfg.User != "" {
		target = e.cfg.User + "@" + target
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if _, err := e.runner.SCP(ctx, e.cfg.Host, e.cfg.User, e.cfg.KeyPath, "-r", local, target); err != nil {
		return errkind.New(errkind.Network, fmt.Errorf("upload case dir: %w", err))
	}
	return nil
}

// SubmitJob submits cmd to group under label, returning the remote task id
// parsed from the "(id: N)" response. label must follow the
// mqic_case_<id>_<epoch_seconds> convention (§4.4) — the caller builds it.
func (e *Executor) SubmitJob(ctx context.Context, remoteDir, group, label, cmdLine string) (string, error) {
	full := fmt.Sprintf("%s add --label %s --group %s -- sh -c %s",
		e.cfg.PueueCommand, label, group, shellQuote(fmt.Sprintf("cd %s && %s", normalizeRemotePath(remoteDir), cmdLine)))
	out, err := e.ssh(ctx, 30*time.Second, full)
	if err != nil {
		return "", errkind.New(errkind.Network, fmt.Errorf("submit job: %w", err))
	}
	id, ok := parseSubmitResponse(out)
	if !ok {
		return "", errkind.New(errkind.Application, fmt.Errorf("submit job: unparseable response: %q", out))
	}
	return id, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// FindTaskByLabel looks up a task whose label starts with labelPrefix, the
// crash recovery handle used by Supervisor Loop Phase 1. Recovery only knows
// the case id, not the epoch_seconds suffix SubmitJob appended at submission
// time, so this matches on the mqic_case_<id>_ prefix rather than equality.
func (e *Executor) FindTaskByLabel(ctx context.Context, labelPrefix string) (FindTaskResultKind, string, error) {
	out, err := e.ssh(ctx, 30*time.Second, e.cfg.PueueCommand+" status --json")
	if err != nil {
		return FindUnreachable, "", nil
	}
	snap, err := parseQueueStatus([]byte(out))
	if err != nil {
		return FindUnreachable, "", nil
	}
	for id, task := range snap.Tasks {
		if strings.HasPrefix(task.Label, labelPrefix) {
			return FindFound, id, nil
		}
	}
	return FindNotFound, "", nil
}

// PollTaskStatus returns the current queue status for taskID.
func (e *Executor) PollTaskStatus(ctx context.Context, taskID string) (PollResultKind, error) {
	out, err := e.ssh(ctx, 30*time.Second, e.cfg.PueueCommand+" status --json")
	if err != nil {
		return PollUnreachable, nil
	}
	snap, err := parseQueueStatus([]byte(out))
	if err != nil {
		return PollUnreachable, nil
	}
	task, ok := snap.Tasks[taskID]
	if !ok {
		return PollNotFound, nil
	}
	switch task.Status {
	case QueueSuccess:
		return PollSuccess, nil
	case QueueFailure:
		return PollFailure, nil
	case QueueRunning:
		return PollRunning, nil
	default:
		return PollNotFound, nil
	}
}

// KillTask requests cancellation of a remote task; non-zero exit indicates
// failure, reported as a bool rather than an error per spec §4.4 (the
// Supervisor Loop branches on success/failure, not on error content).
func (e *Executor) KillTask(ctx context.Context, taskID string) bool {
	_, err := e.ssh(ctx, 30*time.Second, fmt.Sprintf("%s kill %s", e.cfg.PueueCommand, taskID))
	return err == nil
}

// DownloadResults pulls remoteDir into localDir/raw_output, creating it if
// missing, and returns the downloaded file paths.
func (e *Executor) DownloadResults(ctx context.Context, remoteDir, localDir string) ([]string, error) {
	remoteDir = normalizeRemotePath(remoteDir)
	rawOutputDir := localDir + "/raw_output"
	if err := os.MkdirAll(rawOutputDir, 0700); err != nil {
		return nil, errkind.New(errkind.System, fmt.Errorf("download results: create local dir: %w", err))
	}

	source := e.cfg.Host + ":" + remoteDir + "/."
	if e.cfg.User != "" {
		source = e.cfg.User + "@" + source
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if _, err := e.runner.SCP(ctx, e.cfg.Host, e.cfg.User, e.cfg.KeyPath, "-r", source, rawOutputDir); err != nil {
		return nil, errkind.New(errkind.Network, fmt.Errorf("download results: %w", err))
	}

	var files []string
	err := filepath.WalkDir(rawOutputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errkind.New(errkind.System, fmt.Errorf("download results: list fetched files: %w", err))
	}
	return files, nil
}
