package scheduler

import "sync"

// Metrics accumulates in-memory scheduling-decision counters (spec §4.9),
// matching the original's SchedulingMetrics/record_case_scheduled shape. It
// is intentionally process-local and reset on restart — it is an
// observability aid, not durable state.
type Metrics struct {
	mu sync.Mutex

	casesByPriority    map[CasePriority]int
	avgWaitByPriority  map[CasePriority]float64
	starvationPrevented int
	totalDecisions     int
}

// NewMetrics constructs an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		casesByPriority:   make(map[CasePriority]int),
		avgWaitByPriority: make(map[CasePriority]float64),
	}
}

// recordScheduled folds one dispatched case's (priority, wait_hours) into
// the running per-priority average, the same incremental-mean update the
// original uses.
func (m *Metrics) recordScheduled(priority CasePriority, waitHours float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.casesByPriority[priority]++
	count := m.casesByPriority[priority]
	prevAvg := m.avgWaitByPriority[priority]
	m.avgWaitByPriority[priority] = (prevAvg*float64(count-1) + waitHours) / float64(count)
	m.totalDecisions++
}

func (m *Metrics) recordStarvationPrevented() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starvationPrevented++
}

// Snapshot is a point-in-time copy of the scheduler's counters, safe to read
// without holding the scheduler's lock.
type Snapshot struct {
	CasesByPriority      map[CasePriority]int
	AverageWaitByPriority map[CasePriority]float64
	StarvationPrevented  int
	TotalDecisions       int
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	byPriority := make(map[CasePriority]int, len(m.casesByPriority))
	for k, v := range m.casesByPriority {
		byPriority[k] = v
	}
	avgWait := make(map[CasePriority]float64, len(m.avgWaitByPriority))
	for k, v := range m.avgWaitByPriority {
		avgWait[k] = v
	}
	return Snapshot{
		CasesByPriority:       byPriority,
		AverageWaitByPriority: avgWait,
		StarvationPrevented:   m.starvationPrevented,
		TotalDecisions:        m.totalDecisions,
	}
}
