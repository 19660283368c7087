package model

import (
	"fmt"
	"maps"
	"time"
)

// ExecutionStatus is the lifecycle state of one execution
type ExecutionStatus string

const (
	StatusRunning    ExecutionStatus = "running"
	StatusCompleted  ExecutionStatus = "completed"
	StatusFailed     ExecutionStatus = "failed"
	StatusRolledBack ExecutionStatus = "rolled_back"
)

// Terminal reports whether no further forward transition is possible
func (s ExecutionStatus) Terminal() bool {
	return s == StatusFailed || s == StatusRolledBack
}

// Execution is the durable record of one attempt to apply a rule
type Execution struct {
	ID                string             `json:"executionId"`
	RuleID            string             `json:"ruleId"`
	Status            ExecutionStatus    `json:"status"`
	StartTime         time.Time          `json:"startTime"`
	EndTime           *time.Time         `json:"endTime,omitempty"`
	AffectedRows      int                `json:"affectedRows"`
	ErrorMessage      string             `json:"errorMessage,omitempty"`
	RollbackAvailable bool               `json:"rollbackAvailable"`
	BackupTable       string             `json:"backupTable,omitempty"`
	Applied           []AppliedOperation `json:"applied,omitempty"`
}

// NewExecution starts a running execution record
func NewExecution(id, ruleID string, start time.Time) *Execution {
	return &Execution{
		ID:        id,
		RuleID:    ruleID,
		Status:    StatusRunning,
		StartTime: start,
	}
}

// Record appends an applied operation and adds its rows to the total
func (e *Execution) Record(applied AppliedOperation) {
	e.Applied = append(e.Applied, applied)
	e.AffectedRows += applied.RowsAffected
}

// Complete moves running -> completed
func (e *Execution) Complete(end time.Time) error {
	if e.Status != StatusRunning {
		return e.transitionError(StatusCompleted)
	}
	e.Status = StatusCompleted
	e.EndTime = &end
	e.RollbackAvailable = true
	return nil
}

// Fail moves running -> failed and records the message
func (e *Execution) Fail(end time.Time, message string) error {
	if e.Status != StatusRunning {
		return e.transitionError(StatusFailed)
	}
	e.Status = StatusFailed
	e.EndTime = &end
	e.ErrorMessage = message
	e.RollbackAvailable = false
	return nil
}

// MarkRolledBack moves completed -> rolled_back
func (e *Execution) MarkRolledBack(end time.Time) error {
	if e.Status != StatusCompleted {
		return e.transitionError(StatusRolledBack)
	}
	e.Status = StatusRolledBack
	e.EndTime = &end
	e.RollbackAvailable = false
	return nil
}

func (e *Execution) transitionError(to ExecutionStatus) error {
	return fmt.Errorf("%w: execution %s cannot move from %s to %s", ErrInvalidTransition, e.ID, e.Status, to)
}

// Duration returns the wall time of the execution so far
func (e *Execution) Duration() time.Duration {
	if e.EndTime == nil {
		return time.Since(e.StartTime)
	}
	return e.EndTime.Sub(e.StartTime)
}

// Clone returns a deep copy safe to hand to callers
func (e *Execution) Clone() Execution {
	out := *e
	if e.EndTime != nil {
		end := *e.EndTime
		out.EndTime = &end
	}
	if e.Applied != nil {
		out.Applied = make([]AppliedOperation, len(e.Applied))
		for i, a := range e.Applied {
			a.RowIDs = append([]string(nil), a.RowIDs...)
			a.Operation.RowIDs = append([]string(nil), a.Operation.RowIDs...)
			a.Before = maps.Clone(a.Before)
			out.Applied[i] = a
		}
	}
	return out
}
