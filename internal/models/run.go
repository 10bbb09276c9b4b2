package models

import (
	"fmt"
	"time"
)

// RunSummary counts target results for one run.
type RunSummary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Total returns the number of attempted targets.
func (s RunSummary) Total() int {
	return s.Succeeded + s.Failed
}

// String renders the operator summary line.
func (s RunSummary) String() string {
	return fmt.Sprintf("Successfully processed %d servers, failed for %d servers.", s.Succeeded, s.Failed)
}

// RunStatus is the final status of a persisted run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
)

// StatusFor derives the run status from a summary.
func StatusFor(summary RunSummary) RunStatus {
	switch {
	case summary.Total() == 0:
		return RunStatusFailed
	case summary.Failed == 0:
		return RunStatusSucceeded
	case summary.Succeeded == 0:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}

// RunRecord is a persisted collection run.
type RunRecord struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Summary    RunSummary `json:"summary"`
	Error      string     `json:"error,omitempty"`
}

// TargetRecord is a persisted per-target outcome.
type TargetRecord struct {
	RunID      string       `json:"run_id"`
	Target     string       `json:"target"`
	Address    string       `json:"address"`
	State      OutcomeState `json:"state"`
	RemotePath string       `json:"remote_path,omitempty"`
	LocalPath  string       `json:"local_path,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}
