// Package sqlite provides a jobsched.Store backed by an embedded SQLite
// database. It is the store of choice for single-host deployments: the
// database is a plain file, all worker goroutines of one process share
// it, and records survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/edukit/jobsched"
)

const (
	jobsTable = "jobsched_jobs"

	sqliteSchema = `CREATE TABLE IF NOT EXISTS jobsched_jobs (
id text primary key,
job_name text not null,
handler_id text not null,
payload text,
kind text not null,
status text not null,
scheduled_at integer not null,
interval_seconds integer not null default 0,
next_run_at integer,
last_run_at integer,
started_at integer,
completed_at integer,
retry_count integer not null default 0,
max_retries integer not null default 0,
error_message text,
lock_id text,
lock_expires_at integer,
created_at integer not null,
updated_at integer not null,
deleted integer not null default 0);
CREATE INDEX IF NOT EXISTS ix_jobs_job_name ON jobsched_jobs (job_name);
CREATE INDEX IF NOT EXISTS ix_jobs_status_scheduled_at ON jobsched_jobs (status, scheduled_at);
CREATE INDEX IF NOT EXISTS ix_jobs_lock_expires_at ON jobsched_jobs (lock_expires_at);`

	claimCandidates = 5
)

var jobsColumns = []string{
	"id", "job_name", "handler_id", "payload", "kind", "status",
	"scheduled_at", "interval_seconds", "next_run_at", "last_run_at",
	"started_at", "completed_at", "retry_count", "max_retries",
	"error_message", "lock_id", "lock_expires_at",
	"created_at", "updated_at", "deleted",
}

// Store represents a persistent SQLite storage implementation.
// It implements the jobsched.Store interface.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if necessary creates) the SQLite database at the
// given path and ensures the jobs table exists.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("no database path specified")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; queue writers instead of failing
	// with SQLITE_BUSY when workers contend.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Start is called when the dispatcher starts up.
func (s *Store) Start(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

// Insert adds a new record to the store.
func (s *Store) Insert(ctx context.Context, record *jobsched.JobRecord) error {
	if record.Kind == jobsched.Recurring {
		_, err := s.FindRecurringByName(ctx, record.JobName)
		if err == nil {
			return jobsched.ErrDuplicateJob
		}
		if err != jobsched.ErrNotFound {
			return err
		}
	}
	r := newRow(record)
	query, args, err := sq.Insert(jobsTable).Columns(jobsColumns...).Values(
		r.ID, r.JobName, r.HandlerID, r.Payload, r.Kind, r.Status,
		r.ScheduledAt, r.IntervalSeconds, r.NextRunAt, r.LastRunAt,
		r.StartedAt, r.CompletedAt, r.RetryCount, r.MaxRetries,
		r.ErrorMessage, r.LockID, r.LockExpiresAt,
		r.CreatedAt, r.UpdatedAt, r.Deleted,
	).ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// Update persists full-record changes.
func (s *Store) Update(ctx context.Context, record *jobsched.JobRecord) error {
	r := newRow(record)
	query, args, err := sq.Update(jobsTable).
		Set("job_name", r.JobName).
		Set("handler_id", r.HandlerID).
		Set("payload", r.Payload).
		Set("kind", r.Kind).
		Set("status", r.Status).
		Set("scheduled_at", r.ScheduledAt).
		Set("interval_seconds", r.IntervalSeconds).
		Set("next_run_at", r.NextRunAt).
		Set("last_run_at", r.LastRunAt).
		Set("started_at", r.StartedAt).
		Set("completed_at", r.CompletedAt).
		Set("retry_count", r.RetryCount).
		Set("max_retries", r.MaxRetries).
		Set("error_message", r.ErrorMessage).
		Set("lock_id", r.LockID).
		Set("lock_expires_at", r.LockExpiresAt).
		Set("updated_at", r.UpdatedAt).
		Set("deleted", r.Deleted).
		Where(sq.Eq{"id": r.ID}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return jobsched.ErrNotFound
	}
	return nil
}

// Delete soft-deletes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE "+jobsTable+" SET deleted = 1 WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return jobsched.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single record by its identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*jobsched.JobRecord, error) {
	b := sq.Select(jobsColumns...).From(jobsTable).Where(sq.Eq{"id": id})
	return s.getOne(ctx, b)
}

// ListByName returns all non-deleted records with the given job name.
func (s *Store) ListByName(ctx context.Context, jobName string) ([]*jobsched.JobRecord, error) {
	b := sq.Select(jobsColumns...).From(jobsTable).
		Where(sq.Eq{"job_name": jobName, "deleted": 0}).
		OrderBy("created_at ASC")
	return s.getMany(ctx, b)
}

// FindRecurringByName returns the active recurring record with the
// given job name.
func (s *Store) FindRecurringByName(ctx context.Context, jobName string) (*jobsched.JobRecord, error) {
	b := sq.Select(jobsColumns...).From(jobsTable).
		Where(sq.Eq{"job_name": jobName, "kind": string(jobsched.Recurring), "deleted": 0}).
		Where(sq.NotEq{"status": string(jobsched.Cancelled)}).
		Limit(1)
	return s.getOne(ctx, b)
}

// TryClaim leases one due record via a conditional update on the
// record's updated_at, exactly like the MySQL store. SQLite serializes
// writers, but the optimistic check still guards against a second
// dispatcher process sharing the database file.
func (s *Store) TryClaim(ctx context.Context, now time.Time, lockID string, lease time.Duration) (*jobsched.JobRecord, error) {
	nowNanos := now.UnixNano()

	query, args, err := sq.Select("id", "updated_at").From(jobsTable).
		Where(sq.Eq{"deleted": 0}).
		Where(sq.LtOrEq{"scheduled_at": nowNanos}).
		Where(claimEligible(nowNanos)).
		OrderBy("scheduled_at ASC").
		Limit(claimCandidates).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	type candidate struct {
		id        string
		updatedAt int64
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.updatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, c := range candidates {
		query, args, err := sq.Update(jobsTable).
			Set("status", string(jobsched.Processing)).
			Set("lock_id", lockID).
			Set("lock_expires_at", now.Add(lease).UnixNano()).
			Set("started_at", nowNanos).
			Set("updated_at", nowNanos).
			Where(sq.Eq{"id": c.id, "updated_at": c.updatedAt}).
			ToSql()
		if err != nil {
			return nil, err
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			return s.GetByID(ctx, c.id)
		}
	}
	return nil, nil
}

func claimEligible(nowNanos int64) sq.Sqlizer {
	return sq.Or{
		sq.And{
			sq.Eq{"status": string(jobsched.Pending)},
			sq.Or{
				sq.Eq{"lock_expires_at": nil},
				sq.LtOrEq{"lock_expires_at": nowNanos},
			},
		},
		sq.And{
			sq.Eq{"status": string(jobsched.Processing)},
			sq.NotEq{"lock_expires_at": nil},
			sq.LtOrEq{"lock_expires_at": nowNanos},
		},
	}
}

// Cancel transitions a Pending record to Cancelled with a single
// conditional update: a worker that claimed the record in the meantime
// keeps it, and Cancel reports nil.
func (s *Store) Cancel(ctx context.Context, id string, now time.Time) (*jobsched.JobRecord, error) {
	nowNanos := now.UnixNano()
	res, err := s.db.ExecContext(ctx,
		"UPDATE "+jobsTable+" SET status = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(jobsched.Cancelled), nowNanos, nowNanos, id, string(jobsched.Pending))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Missing or not Pending; GetByID tells the two apart.
		if _, err := s.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

// CancelByName cancels all Pending recurring records with the given name.
func (s *Store) CancelByName(ctx context.Context, jobName string, now time.Time) ([]*jobsched.JobRecord, error) {
	query, args, err := sq.Select("id").From(jobsTable).
		Where(sq.Eq{
			"job_name": jobName,
			"kind":     string(jobsched.Recurring),
			"status":   string(jobsched.Pending),
			"deleted":  0,
		}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var cancelled []*jobsched.JobRecord
	for _, id := range ids {
		record, err := s.Cancel(ctx, id, now)
		if err != nil {
			return nil, err
		}
		if record != nil {
			cancelled = append(cancelled, record)
		}
	}
	return cancelled, nil
}

// Stats returns statistics about the records in the store.
func (s *Store) Stats(ctx context.Context) (*jobsched.Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM "+jobsTable+" WHERE deleted = 0 GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats := &jobsched.Stats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch jobsched.Status(status) {
		case jobsched.Pending:
			stats.Pending = count
		case jobsched.Processing:
			stats.Processing = count
		case jobsched.Completed:
			stats.Completed = count
		case jobsched.Failed:
			stats.Failed = count
		case jobsched.Cancelled:
			stats.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) getOne(ctx context.Context, b sq.SelectBuilder) (*jobsched.JobRecord, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var r jobRow
	err = r.scan(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, jobsched.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.toRecord(), nil
}

func (s *Store) getMany(ctx context.Context, b sq.SelectBuilder) ([]*jobsched.JobRecord, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*jobsched.JobRecord
	for rows.Next() {
		var r jobRow
		if err := r.scan(rows); err != nil {
			return nil, err
		}
		list = append(list, r.toRecord())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
