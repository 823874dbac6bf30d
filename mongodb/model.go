package mongodb

import (
	"time"

	"github.com/edukit/jobsched"
)

// -- MongoDB-internal representation of a job record --
//
// Timestamps are stored as Unix nanoseconds, matching the SQL stores.
// Optional timestamps are pointers so that absent fields stay absent in
// the document, which lets claim queries match on nil.

type doc struct {
	ID              string  `bson:"_id"`
	JobName         string  `bson:"job_name"`
	HandlerID       string  `bson:"handler_id"`
	Payload         string  `bson:"payload,omitempty"`
	Kind            string  `bson:"kind"`
	Status          string  `bson:"status"`
	ScheduledAt     int64   `bson:"scheduled_at"`
	IntervalSeconds int     `bson:"interval_seconds,omitempty"`
	NextRunAt       *int64  `bson:"next_run_at,omitempty"`
	LastRunAt       *int64  `bson:"last_run_at,omitempty"`
	StartedAt       *int64  `bson:"started_at,omitempty"`
	CompletedAt     *int64  `bson:"completed_at,omitempty"`
	RetryCount      int     `bson:"retry_count"`
	MaxRetries      int     `bson:"max_retries"`
	ErrorMessage    string  `bson:"error_message,omitempty"`
	LockID          string  `bson:"lock_id,omitempty"`
	LockExpiresAt   *int64  `bson:"lock_expires_at,omitempty"`
	CreatedAt       int64   `bson:"created_at"`
	UpdatedAt       int64   `bson:"updated_at"`
	Deleted         bool    `bson:"deleted,omitempty"`
}

func newDoc(record *jobsched.JobRecord) *doc {
	return &doc{
		ID:              record.ID,
		JobName:         record.JobName,
		HandlerID:       record.HandlerID,
		Payload:         record.Payload,
		Kind:            string(record.Kind),
		Status:          string(record.Status),
		ScheduledAt:     record.ScheduledAt.UnixNano(),
		IntervalSeconds: record.IntervalSeconds,
		NextRunAt:       nanos(record.NextRunAt),
		LastRunAt:       nanos(record.LastRunAt),
		StartedAt:       nanos(record.StartedAt),
		CompletedAt:     nanos(record.CompletedAt),
		RetryCount:      record.RetryCount,
		MaxRetries:      record.MaxRetries,
		ErrorMessage:    record.ErrorMessage,
		LockID:          record.LockID,
		LockExpiresAt:   nanos(record.LockExpiresAt),
		CreatedAt:       record.CreatedAt.UnixNano(),
		UpdatedAt:       record.UpdatedAt.UnixNano(),
		Deleted:         record.Deleted,
	}
}

func (d *doc) toRecord() *jobsched.JobRecord {
	return &jobsched.JobRecord{
		ID:              d.ID,
		JobName:         d.JobName,
		HandlerID:       d.HandlerID,
		Payload:         d.Payload,
		Kind:            jobsched.Kind(d.Kind),
		Status:          jobsched.Status(d.Status),
		ScheduledAt:     time.Unix(0, d.ScheduledAt),
		IntervalSeconds: d.IntervalSeconds,
		NextRunAt:       timePtr(d.NextRunAt),
		LastRunAt:       timePtr(d.LastRunAt),
		StartedAt:       timePtr(d.StartedAt),
		CompletedAt:     timePtr(d.CompletedAt),
		RetryCount:      d.RetryCount,
		MaxRetries:      d.MaxRetries,
		ErrorMessage:    d.ErrorMessage,
		LockID:          d.LockID,
		LockExpiresAt:   timePtr(d.LockExpiresAt),
		CreatedAt:       time.Unix(0, d.CreatedAt),
		UpdatedAt:       time.Unix(0, d.UpdatedAt),
		Deleted:         d.Deleted,
	}
}

func nanos(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := t.UnixNano()
	return &n
}

func timePtr(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := time.Unix(0, *n)
	return &t
}
