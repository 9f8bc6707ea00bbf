// Package store is the durable state store: cases, workflow steps, and the
// GPU resource lock table. It is the single source of truth the rest of the
// supervisor reloads from before every mutation.
package store

import "time"

// CaseStatus is the lifecycle status of a Case.
type CaseStatus string

const (
	StatusSubmitted  CaseStatus = "submitted"
	StatusSubmitting CaseStatus = "submitting"
	StatusRunning    CaseStatus = "running"
	StatusCompleted  CaseStatus = "completed"
	StatusFailed     CaseStatus = "failed"
)

// IsTerminal reports whether status is a terminal case status.
func (s CaseStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// GpuStatus is the lock-table status of a GpuResource.
type GpuStatus string

const (
	GpuAvailable GpuStatus = "available"
	GpuAssigned  GpuStatus = "assigned"
	GpuBusy      GpuStatus = "busy"
	GpuZombie    GpuStatus = "zombie"
)

// StepStatus is the status of a single WorkflowStep checkpoint.
type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Case is the central entity: one radiotherapy treatment plan in flight.
type Case struct {
	ID              int64
	Path            string
	Status          CaseStatus
	Progress        int
	Priority        int
	GpuGroup        *string
	RemoteTaskID    *string
	CreatedAt       time.Time
	StatusUpdatedAt time.Time
	CompletedAt     *time.Time
	FinalError      *string
}

// WorkflowStep is a checkpoint per (case, step name).
type WorkflowStep struct {
	CaseID      int64
	Step        string
	Status      StepStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       *string
}

// GpuResource is a row in the GPU resource lock table.
type GpuResource struct {
	Group          string
	Status         GpuStatus
	AssignedCaseID *int64
	LastUpdated    time.Time
}
