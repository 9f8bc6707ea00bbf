package remote

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ProbeConfig configures where and how Probe reaches the remote host.
type ProbeConfig struct {
	Host             string
	User             string
	KeyPath          string
	PueueCommand     string
	NvidiaSmiCommand string
	Timeout          time.Duration
}

// Probe runs the three read-only queries from spec §4.3. Every method
// folds transport/parse failures into ErrUnreachable; callers must never
// treat Unreachable as evidence of absence or failure.
type Probe struct {
	cfg    ProbeConfig
	runner Runner
	log    *zap.Logger
}

// ErrUnreachable is returned by every Probe method on any transport or
// parse failure.
var ErrUnreachable = fmt.Errorf("remote: unreachable")

// NewProbe constructs a Probe. If cfg.Timeout is zero, a 45s default
// (within spec's 30-60s window) is used.
func NewProbe(cfg ProbeConfig, log *zap.Logger) *Probe {
	if cfg.Timeout == 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &Probe{cfg: cfg, runner: DefaultRunner(), log: log}
}

// SetRunner overrides the Runner (tests).
func (p *Probe) SetRunner(r Runner) { p.runner = r }

func (p *Probe) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.Timeout)
}

// ListGroups parses a human-readable group listing, returning the set of
// group names.
func (p *Probe) ListGroups(ctx context.Context) (map[string]struct{}, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	out, err := p.runner.SSH(ctx, p.cfg.Host, p.cfg.User, p.cfg.KeyPath, p.cfg.PueueCommand+" group")
	if err != nil {
		p.log.Warn("remote probe: list groups failed", zap.Error(err))
		return nil, ErrUnreachable
	}
	return parseGroupListing(out), nil
}

// QueueStatus returns per-group occupancy and per-task queue status.
func (p *Probe) QueueStatus(ctx context.Context) (QueueSnapshot, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	out, err := p.runner.SSH(ctx, p.cfg.Host, p.cfg.User, p.cfg.KeyPath, p.cfg.PueueCommand+" status --json")
	if err != nil {
		p.log.Warn("remote probe: queue status failed", zap.Error(err))
		return QueueSnapshot{}, ErrUnreachable
	}
	snap, err := parseQueueStatus([]byte(out))
	if err != nil {
		p.log.Warn("remote probe: queue status unparseable", zap.Error(err))
		return QueueSnapshot{}, ErrUnreachable
	}
	return snap, nil
}

// HardwareUsage parses CSV from nvidia-smi, returning per-index samples.
func (p *Probe) HardwareUsage(ctx context.Context) ([]HardwareSample, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	cmd := p.cfg.NvidiaSmiCommand + " --query-gpu=index,utilization.gpu,memory.used,memory.total --format=csv,noheader,nounits"
	out, err := p.runner.SSH(ctx, p.cfg.Host, p.cfg.User, p.cfg.KeyPath, cmd)
	if err != nil {
		p.log.Warn("remote probe: hardware usage failed", zap.Error(err))
		return nil, ErrUnreachable
	}
	samples, err := parseHardwareUsage(out)
	if err != nil {
		p.log.Warn("remote probe: hardware usage unparseable", zap.Error(err))
		return nil, ErrUnreachable
	}
	return samples, nil
}
