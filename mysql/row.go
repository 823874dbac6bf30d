package mysql

import (
	"database/sql"
	"time"

	"github.com/edukit/jobsched"
)

// -- MySQL-internal representation of a job record --
//
// All timestamps are stored as Unix nanoseconds so comparisons in claim
// queries do not depend on the server's time zone handling.

type jobRow struct {
	ID              string
	JobName         string
	HandlerID       string
	Payload         sql.NullString
	Kind            string
	Status          string
	ScheduledAt     int64
	IntervalSeconds int
	NextRunAt       sql.NullInt64
	LastRunAt       sql.NullInt64
	StartedAt       sql.NullInt64
	CompletedAt     sql.NullInt64
	RetryCount      int
	MaxRetries      int
	ErrorMessage    sql.NullString
	LockID          sql.NullString
	LockExpiresAt   sql.NullInt64
	CreatedAt       int64
	UpdatedAt       int64
	Deleted         bool
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func (r *jobRow) scan(sc scanner) error {
	return sc.Scan(
		&r.ID, &r.JobName, &r.HandlerID, &r.Payload, &r.Kind, &r.Status,
		&r.ScheduledAt, &r.IntervalSeconds, &r.NextRunAt, &r.LastRunAt,
		&r.StartedAt, &r.CompletedAt, &r.RetryCount, &r.MaxRetries,
		&r.ErrorMessage, &r.LockID, &r.LockExpiresAt,
		&r.CreatedAt, &r.UpdatedAt, &r.Deleted,
	)
}

func newRow(record *jobsched.JobRecord) *jobRow {
	return &jobRow{
		ID:              record.ID,
		JobName:         record.JobName,
		HandlerID:       record.HandlerID,
		Payload:         sql.NullString{String: record.Payload, Valid: record.Payload != ""},
		Kind:            string(record.Kind),
		Status:          string(record.Status),
		ScheduledAt:     record.ScheduledAt.UnixNano(),
		IntervalSeconds: record.IntervalSeconds,
		NextRunAt:       nullNanos(record.NextRunAt),
		LastRunAt:       nullNanos(record.LastRunAt),
		StartedAt:       nullNanos(record.StartedAt),
		CompletedAt:     nullNanos(record.CompletedAt),
		RetryCount:      record.RetryCount,
		MaxRetries:      record.MaxRetries,
		ErrorMessage:    sql.NullString{String: record.ErrorMessage, Valid: record.ErrorMessage != ""},
		LockID:          sql.NullString{String: record.LockID, Valid: record.LockID != ""},
		LockExpiresAt:   nullNanos(record.LockExpiresAt),
		CreatedAt:       record.CreatedAt.UnixNano(),
		UpdatedAt:       record.UpdatedAt.UnixNano(),
		Deleted:         record.Deleted,
	}
}

func (r *jobRow) toRecord() *jobsched.JobRecord {
	return &jobsched.JobRecord{
		ID:              r.ID,
		JobName:         r.JobName,
		HandlerID:       r.HandlerID,
		Payload:         r.Payload.String,
		Kind:            jobsched.Kind(r.Kind),
		Status:          jobsched.Status(r.Status),
		ScheduledAt:     time.Unix(0, r.ScheduledAt),
		IntervalSeconds: r.IntervalSeconds,
		NextRunAt:       nanosPtr(r.NextRunAt),
		LastRunAt:       nanosPtr(r.LastRunAt),
		StartedAt:       nanosPtr(r.StartedAt),
		CompletedAt:     nanosPtr(r.CompletedAt),
		RetryCount:      r.RetryCount,
		MaxRetries:      r.MaxRetries,
		ErrorMessage:    r.ErrorMessage.String,
		LockID:          r.LockID.String,
		LockExpiresAt:   nanosPtr(r.LockExpiresAt),
		CreatedAt:       time.Unix(0, r.CreatedAt),
		UpdatedAt:       time.Unix(0, r.UpdatedAt),
		Deleted:         r.Deleted,
	}
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nanosPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}
