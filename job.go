// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobsched

import "time"

// Kind distinguishes one-time from recurring jobs.
type Kind string

const (
	// OneTime jobs run once, then reach a terminal state.
	OneTime Kind = "once"
	// Recurring jobs are rearmed after every successful run.
	Recurring Kind = "recurring"
)

// Status is the lifecycle state of a job record.
type Status string

const (
	// Pending jobs are waiting to be claimed by a dispatcher.
	Pending Status = "pending"
	// Processing jobs are currently leased by a worker.
	Processing Status = "processing"
	// Completed is the terminal state of a successful one-time job.
	Completed Status = "completed"
	// Failed is the terminal state of a job that exhausted its retries.
	Failed Status = "failed"
	// Cancelled jobs were stopped by a caller before being claimed.
	Cancelled Status = "cancelled"
)

// JobRecord is the unit of schedulable work. It is persisted in a Store
// and shared by all dispatcher instances.
type JobRecord struct {
	ID              string     `json:"id"`                         // internal identifier, immutable
	JobName         string     `json:"job_name"`                   // stable identity for recurring jobs
	HandlerID       string     `json:"handler_id"`                 // resolved via the Registry at dispatch time
	Payload         string     `json:"payload,omitempty"`          // opaque serialized argument blob
	Kind            Kind       `json:"kind"`                       // one-time or recurring, immutable
	Status          Status     `json:"status"`                     // current lifecycle state
	ScheduledAt     time.Time  `json:"scheduled_at"`               // not claimable before this instant
	IntervalSeconds int        `json:"interval_seconds,omitempty"` // cadence, recurring jobs only
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`      // when the next cycle is due (recurring)
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`      // most recent attempt
	StartedAt       *time.Time `json:"started_at,omitempty"`       // start of the current/last attempt
	CompletedAt     *time.Time `json:"completed_at,omitempty"`     // when a terminal state was reached
	RetryCount      int        `json:"retry_count"`                // failures so far
	MaxRetries      int        `json:"max_retries"`                // retry budget
	ErrorMessage    string     `json:"error_message,omitempty"`    // last failure reason, cleared on success
	LockID          string     `json:"lock_id,omitempty"`          // lease token of the owning worker
	LockExpiresAt   *time.Time `json:"lock_expires_at,omitempty"`  // lease expiry
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Deleted         bool       `json:"deleted,omitempty"` // soft-delete marker
}

// Terminal reports whether the record is in a state that the dispatcher
// will never pick up again.
func (j *JobRecord) Terminal() bool {
	switch j.Status {
	case Completed, Failed, Cancelled:
		return true
	default:
		return false
	}
}

// LockExpired reports whether the record's lease has expired at the
// given instant. Records without a lease count as expired.
func (j *JobRecord) LockExpired(now time.Time) bool {
	return j.LockExpiresAt == nil || !j.LockExpiresAt.After(now)
}

// Clone returns a deep copy of the record.
func (j *JobRecord) Clone() *JobRecord {
	c := *j
	c.NextRunAt = copyTime(j.NextRunAt)
	c.LastRunAt = copyTime(j.LastRunAt)
	c.StartedAt = copyTime(j.StartedAt)
	c.CompletedAt = copyTime(j.CompletedAt)
	c.LockExpiresAt = copyTime(j.LockExpiresAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
