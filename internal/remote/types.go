package remote

// QueueStatusKind is the result of mapping a remote job manager's raw
// status+result pair onto the four-value enum defined in spec §4.3.
type QueueStatusKind string

const (
	QueueSuccess  QueueStatusKind = "success"
	QueueFailure  QueueStatusKind = "failure"
	QueueRunning  QueueStatusKind = "running"
	QueueNotFound QueueStatusKind = "not_found"
)

// GroupLoad is a group's queue occupancy, as reported by `pueue status`.
type GroupLoad struct {
	Running int
	Queued  int
}

// TaskQueueStatus is a single task's status as reported by the queue
// manager, already mapped onto the four-value enum.
type TaskQueueStatus struct {
	Status QueueStatusKind
	Label  string
}

// QueueSnapshot is the structured result of the QueueStatus probe.
type QueueSnapshot struct {
	Groups map[string]GroupLoad
	Tasks  map[string]TaskQueueStatus
}

// HardwareSample is one GPU index's utilization/memory snapshot from
// nvidia-smi.
type HardwareSample struct {
	Index     int
	UtilPct   float64
	MemUsedMB float64
	MemTotalMB float64
}

// IsHardwareBusy reports whether utilization or memory usage crosses the
// spec §4.3 "hardware busy" thresholds (util > 5% OR mem usage > 10%).
func (h HardwareSample) IsHardwareBusy() bool {
	memPct := 0.0
	if h.MemTotalMB > 0 {
		memPct = h.MemUsedMB / h.MemTotalMB * 100
	}
	return h.UtilPct > 5 || memPct > 10
}

// FindTaskResultKind is the result of FindTaskByLabel.
type FindTaskResultKind string

const (
	FindFound       FindTaskResultKind = "found"
	FindNotFound    FindTaskResultKind = "not_found"
	FindUnreachable FindTaskResultKind = "unreachable"
)

// PollResultKind is the result of PollTaskStatus, adding "unreachable" to
// the four queue-status values.
type PollResultKind string

const (
	PollSuccess     PollResultKind = "success"
	PollFailure     PollResultKind = "failure"
	PollRunning     PollResultKind = "running"
	PollNotFound    PollResultKind = "not_found"
	PollUnreachable PollResultKind = "unreachable"
)
