package domain

import (
	"fmt"
	"time"
)

// ScreeningStatus is the per-customer screening state.
// Pending -> Screening -> Completed | Failed.
type ScreeningStatus string

const (
	ScreeningPending   ScreeningStatus = "Pending"
	ScreeningActive    ScreeningStatus = "Screening"
	ScreeningCompleted ScreeningStatus = "Completed"
	ScreeningFailed    ScreeningStatus = "Failed"
)

// ComplianceFlags are the mandatory actions derived from a screening.
type ComplianceFlags struct {
	RequiresEDD bool `json:"requiresEdd"`
	RequiresSTR bool `json:"requiresStr"`
	RequiresSAR bool `json:"requiresSar"`
}

// Merge ORs other into f.
func (f *ComplianceFlags) Merge(other ComplianceFlags) {
	f.RequiresEDD = f.RequiresEDD || other.RequiresEDD
	f.RequiresSTR = f.RequiresSTR || other.RequiresSTR
	f.RequiresSAR = f.RequiresSAR || other.RequiresSAR
}

// ScreeningResult is returned by every screening entry point.
type ScreeningResult struct {
	CustomerID string             `json:"customerId"`
	Status     ScreeningStatus    `json:"status"`
	Matches    []*NameMatchResult `json:"matches"`
	RiskScore  float64            `json:"riskScore"`
	RiskLevel  RiskLevel          `json:"riskLevel"`
	ComplianceFlags
	Alerts       []*Alert      `json:"alerts"`
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// JobStatus is the batch job state.
// Pending -> Running -> Completed | Failed | Cancelled.
type JobStatus string

const (
	JobPending   JobStatus = "Pending"
	JobRunning   JobStatus = "Running"
	JobCompleted JobStatus = "Completed"
	JobFailed    JobStatus = "Failed"
	JobCancelled JobStatus = "Cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending: {JobRunning, JobCancelled, JobFailed},
	JobRunning: {JobCompleted, JobFailed, JobCancelled},
}

// JobKindScreening is the only job kind today.
const JobKindScreening = "screening"

// ScreeningJob tracks a batch screening run.
type ScreeningJob struct {
	ID               string     `json:"id"`
	Kind             string     `json:"kind"`
	Status           JobStatus  `json:"status"`
	TotalRecords     int        `json:"totalRecords"`
	ProcessedRecords int        `json:"processedRecords"`
	FailedRecords    int        `json:"failedRecords"`
	MatchesFound     int        `json:"matchesFound"`
	AlertsGenerated  int        `json:"alertsGenerated"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// Transition moves the job to the next state, rejecting illegal moves.
func (j *ScreeningJob) Transition(to JobStatus, now time.Time) error {
	for _, allowed := range jobTransitions[j.Status] {
		if allowed != to {
			continue
		}
		j.Status = to
		switch {
		case to == JobRunning:
			j.StartedAt = &now
		case to.Terminal():
			j.CompletedAt = &now
		}
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
}

// BatchScreeningRequest is the API payload for a batch run.
type BatchScreeningRequest struct {
	CustomerIDs []string `json:"customerIds"`
	Async       bool     `json:"async,omitempty"`
}

// ScreeningRequest is the API payload for screening one customer.
type ScreeningRequest struct {
	CustomerID string       `json:"customerId,omitempty"`
	Customer   *Customer    `json:"customer,omitempty"`
	Options    MatchOptions `json:"options"`
}
