// Package gpumanager refreshes the GPU resource lock table from the remote
// queue manager and hardware sensors, and scores available groups to
// choose the best one for a new case (spec §4.7).
package gpumanager

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/radonc/mqsupervisor/internal/remote"
	"github.com/radonc/mqsupervisor/internal/store"
)

// Probe is the subset of internal/remote.Probe the manager needs.
type Probe interface {
	ListGroups(ctx context.Context) (map[string]struct{}, error)
	QueueStatus(ctx context.Context) (remote.QueueSnapshot, error)
	HardwareUsage(ctx context.Context) ([]remote.HardwareSample, error)
}

// Manager runs one reconciliation cycle per invocation of Refresh; it holds
// no state of its own beyond its dependencies, matching the store's
// fresh-handle-per-caller convention.
type Manager struct {
	Store *store.Store
	Probe Probe
	Log   *zap.Logger
}

// New constructs a Manager.
func New(st *store.Store, probe Probe, log *zap.Logger) *Manager {
	return &Manager{Store: st, Probe: probe, Log: log}
}

var gpuGroupIndexRe = regexp.MustCompile(`^gpu[_-]?(\d+)$`)

// groupToIndex maps a pueue group name to its hardware index by the
// gpu_<N> convention; unrecognized names map to (0, false), meaning
// "hardware status unknown, rely on queue status" (spec §4.7).
func groupToIndex(group string) (int, bool) {
	m := gpuGroupIndexRe.FindStringSubmatch(strings.ToLower(group))
	if m == nil {
		return 0, false
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return idx, true
}

// Refresh runs one GPU Manager cycle: discover groups, sync the store, then
// mark manager-owned rows (neither assigned nor zombie) busy or available
// from queue and hardware state.
func (m *Manager) Refresh(ctx context.Context) error {
	groups, err := m.Probe.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("gpumanager: list groups: %w", err)
	}
	for name := range groups {
		if err := m.Store.EnsureGpuExists(name); err != nil {
			return fmt.Errorf("gpumanager: ensure gpu exists %q: %w", name, err)
		}
	}

	queue, err := m.Probe.QueueStatus(ctx)
	if err != nil {
		return fmt.Errorf("gpumanager: queue status: %w", err)
	}
	hardware, err := m.Probe.HardwareUsage(ctx)
	if err != nil {
		return fmt.Errorf("gpumanager: hardware usage: %w", err)
	}
	hwByIndex := make(map[int]remote.HardwareSample, len(hardware))
	for _, h := range hardware {
		hwByIndex[h.Index] = h
	}

	rows, err := m.Store.ListGpus()
	if err != nil {
		return fmt.Errorf("gpumanager: list gpus: %w", err)
	}

	for _, row := range rows {
		if row.Status == store.GpuAssigned || row.Status == store.GpuZombie {
			continue
		}
		busy := queue.Groups[row.Group].Running > 0
		if !busy {
			if idx, ok := groupToIndex(row.Group); ok {
				if hw, found := hwByIndex[idx]; found && hw.IsHardwareBusy() {
					busy = true
				}
			}
		}
		newStatus := store.GpuAvailable
		if busy {
			newStatus = store.GpuBusy
		}
		if newStatus == row.Status {
			continue
		}
		if err := m.Store.SetGpuStatus(row.Group, newStatus, nil); err != nil {
			return fmt.Errorf("gpumanager: set gpu status %q: %w", row.Group, err)
		}
		m.Log.Info("gpu status updated",
			zap.String("group", row.Group), zap.String("old_status", string(row.Status)), zap.String("new_status", string(newStatus)))
	}
	return nil
}

type candidate struct {
	group string
	score float64
}

// ChooseOptimal returns the store-available group with no running queued
// jobs and no hardware-busy index, lowest composite score first. Ties
// break lexicographically on group name. Returns ("", false) if none
// qualify.
func (m *Manager) ChooseOptimal(ctx context.Context) (string, bool, error) {
	rows, err := m.Store.ListGpusByStatus(store.GpuAvailable)
	if err != nil {
		return "", false, fmt.Errorf("gpumanager: list available gpus: %w", err)
	}
	if len(rows) == 0 {
		return "", false, nil
	}

	queue, err := m.Probe.QueueStatus(ctx)
	if err != nil {
		return "", false, fmt.Errorf("gpumanager: queue status: %w", err)
	}
	hardware, err := m.Probe.HardwareUsage(ctx)
	if err != nil {
		return "", false, fmt.Errorf("gpumanager: hardware usage: %w", err)
	}
	hwByIndex := make(map[int]remote.HardwareSample, len(hardware))
	for _, h := range hardware {
		hwByIndex[h.Index] = h
	}

	var candidates []candidate
	for _, row := range rows {
		load := queue.Groups[row.Group]
		if load.Running > 0 {
			continue
		}
		score := float64(load.Running + load.Queued)

		if idx, ok := groupToIndex(row.Group); ok {
			if hw, found := hwByIndex[idx]; found {
				if hw.IsHardwareBusy() {
					continue
				}
				score += hw.UtilPct/100 + memPercent(hw)/100
			}
		}
		candidates = append(candidates, candidate{group: row.Group, score: score})
	}
	if len(candidates) == 0 {
		return "", false, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].group < candidates[j].group
	})
	return candidates[0].group, true, nil
}

func memPercent(h remote.HardwareSample) float64 {
	if h.MemTotalMB == 0 {
		return 0
	}
	return h.MemUsedMB / h.MemTotalMB * 100
}
