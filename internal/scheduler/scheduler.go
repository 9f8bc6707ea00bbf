// Package scheduler selects which submitted cases the Supervisor Loop's
// dispatch phase should hand to the Worker Pool next (spec §4.9).
package scheduler

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/radonc/mqsupervisor/internal/store"
)

// Algorithm is one of the three ordering strategies spec §4.9 names.
type Algorithm string

const (
	StrategyStrictPriority Algorithm = "strict_priority"
	StrategyAging          Algorithm = "aging"
	StrategyWeightedFair   Algorithm = "weighted_fair"
)

// Scheduler orders pending cases for dispatch. It holds no case state of its
// own — only the tunables and the in-memory metrics counters — reloading
// from the Store on every call, matching the store's own fresh-read
// convention.
type Scheduler struct {
	Store                    *store.Store
	Algorithm                Algorithm
	AgingFactor              float64
	StarvationThresholdHours float64
	Metrics                  *Metrics
	Log                      *zap.Logger
}

// New constructs a Scheduler.
func New(st *store.Store, algorithm Algorithm, agingFactor, starvationThresholdHours float64, log *zap.Logger) *Scheduler {
	return &Scheduler{
		Store:                    st,
		Algorithm:                algorithm,
		AgingFactor:              agingFactor,
		StarvationThresholdHours: starvationThresholdHours,
		Metrics:                  NewMetrics(),
		Log:                      log,
	}
}

// scored pairs a case with its ordering score under the active algorithm.
type scored struct {
	c     store.Case
	score float64
}

// SelectBatch returns up to n submitted cases in dispatch order. Any
// internal failure degrades to the basic ORDER BY COALESCE(priority,
// normal) DESC, created_at ASC ordering (spec §4.9) rather than failing the
// dispatch phase outright.
func (s *Scheduler) SelectBatch(n int) ([]store.Case, error) {
	if n <= 0 {
		return nil, nil
	}

	var batch []store.Case
	switch s.Algorithm {
	case StrategyStrictPriority:
		cases, err := s.Store.ListCasesByStatus(store.StatusSubmitted, n)
		if err != nil {
			return s.degradedFallback(n)
		}
		batch = cases
	case StrategyAging:
		cases, err := s.selectAging(n)
		if err != nil {
			return s.degradedFallback(n)
		}
		batch = cases
	case StrategyWeightedFair:
		cases, err := s.selectWeightedFair(n)
		if err != nil {
			return s.degradedFallback(n)
		}
		batch = cases
	default:
		cases, err := s.degradedFallback(n)
		if err != nil {
			return nil, err
		}
		batch = cases
	}

	s.recordBatch(batch)
	return batch, nil
}

// degradedFallback is the unconditional basic ordering; ListCasesByStatus
// already implements `ORDER BY priority DESC, created_at ASC` with NOT NULL
// priority, which is the same ordering the original's basic-priority
// fallback produces.
func (s *Scheduler) degradedFallback(n int) ([]store.Case, error) {
	cases, err := s.Store.ListCasesByStatus(store.StatusSubmitted, n)
	if err != nil {
		if s.Log != nil {
			s.Log.Error("scheduler degraded fallback also failed", zap.Error(err))
		}
		return nil, err
	}
	return cases, nil
}

func (s *Scheduler) selectAging(n int) ([]store.Case, error) {
	all, err := s.Store.ListCasesByStatus(store.StatusSubmitted, 0)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	items := make([]scored, 0, len(all))
	for _, c := range all {
		waitHours := now.Sub(c.CreatedAt).Hours()
		priority := CasePriority(c.Priority)
		agedPriority := float64(priority) + waitHours*s.AgingFactor
		if waitHours > s.StarvationThresholdHours && eligibleForStarvationBoost(priority) {
			agedPriority += 2.0
			s.Metrics.recordStarvationPrevented()
		}
		items = append(items, scored{c: c, score: agedPriority})
	}
	sortScored(items)
	return truncate(items, n), nil
}

func (s *Scheduler) selectWeightedFair(n int) ([]store.Case, error) {
	all, err := s.Store.ListCasesByStatus(store.StatusSubmitted, 0)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	items := make([]scored, 0, len(all))
	for _, c := range all {
		waitHours := now.Sub(c.CreatedAt).Hours()
		priority := CasePriority(c.Priority)
		score := weightOf(priority) * (1.0 + 0.05*waitHours)
		if waitHours > s.StarvationThresholdHours && eligibleForStarvationBoost(priority) {
			score *= 2.0
			s.Metrics.recordStarvationPrevented()
		}
		items = append(items, scored{c: c, score: score})
	}
	sortScored(items)
	return truncate(items, n), nil
}

// sortScored orders by descending score, tie-broken by ascending created_at,
// matching the original's `sort(key=lambda x: (-score, created_at))`.
func sortScored(items []scored) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].c.CreatedAt.Before(items[j].c.CreatedAt)
	})
}

func truncate(items []scored, n int) []store.Case {
	if n > 0 && len(items) > n {
		items = items[:n]
	}
	out := make([]store.Case, len(items))
	for i, it := range items {
		out[i] = it.c
	}
	return out
}

func (s *Scheduler) recordBatch(batch []store.Case) {
	now := time.Now().UTC()
	for _, c := range batch {
		waitHours := now.Sub(c.CreatedAt).Hours()
		s.Metrics.recordScheduled(CasePriority(c.Priority), waitHours)
	}
}
