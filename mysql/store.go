package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	sq "github.com/Masterminds/squirrel"
	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/edukit/jobsched"
	"github.com/edukit/jobsched/mysql/internal"
)

const (
	jobsTable = "jobsched_jobs"

	mysqlSchema = `CREATE TABLE IF NOT EXISTS jobsched_jobs (
id varchar(36) primary key,
job_name varchar(255) not null,
handler_id varchar(255) not null,
payload text,
kind varchar(20) not null,
status varchar(20) not null,
scheduled_at bigint not null,
interval_seconds integer not null default 0,
next_run_at bigint,
last_run_at bigint,
started_at bigint,
completed_at bigint,
retry_count integer not null default 0,
max_retries integer not null default 0,
error_message text,
lock_id varchar(36),
lock_expires_at bigint,
created_at bigint not null,
updated_at bigint not null,
deleted tinyint(1) not null default 0,
index ix_jobs_job_name (job_name),
index ix_jobs_status_scheduled_at (status, scheduled_at),
index ix_jobs_lock_expires_at (lock_expires_at),
index ix_jobs_updated_at (updated_at));`

	// claimCandidates is the number of due records inspected per claim
	// attempt before giving up; losing the conditional update for all of
	// them means other workers are keeping up anyway.
	claimCandidates = 5
)

var jobsColumns = []string{
	"id", "job_name", "handler_id", "payload", "kind", "status",
	"scheduled_at", "interval_seconds", "next_run_at", "last_run_at",
	"started_at", "completed_at", "retry_count", "max_retries",
	"error_message", "lock_id", "lock_expires_at",
	"created_at", "updated_at", "deleted",
}

// Store represents a persistent MySQL storage implementation.
// It implements the jobsched.Store interface.
type Store struct {
	db    *sql.DB
	debug bool
}

// StoreOption is an options provider for Store.
type StoreOption func(*Store)

// SetDebug indicates whether to enable or disable debugging (which will
// output SQL to the console).
func SetDebug(enabled bool) StoreOption {
	return func(s *Store) {
		s.debug = enabled
	}
}

// NewStore initializes a new MySQL-based storage. The database named in
// the DSN is created if it does not exist, as is the jobs table.
func NewStore(url string, options ...StoreOption) (*Store, error) {
	st := &Store{}
	for _, opt := range options {
		opt(st)
	}
	cfg, err := mysqldriver.ParseDSN(url)
	if err != nil {
		return nil, err
	}
	dbname := cfg.DBName
	if dbname == "" {
		return nil, errors.New("no database specified")
	}
	// First connect without DB name
	cfg.DBName = ""
	setupdb, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	defer setupdb.Close()
	// Create database
	_, err = setupdb.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbname))
	if err != nil {
		return nil, err
	}

	// Now connect again, this time with the db name
	st.db, err = sql.Open("mysql", url)
	if err != nil {
		return nil, err
	}

	// Create schema
	_, err = st.db.Exec(mysqlSchema)
	if err != nil {
		return nil, err
	}

	return st, nil
}

// Close the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Start is called when the dispatcher starts up. The schema already
// exists at this point; stale Processing records are left alone on
// purpose, as their expired leases make them eligible for reclaim by
// the next TryClaim.
func (s *Store) Start(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, mysqlSchema)
	return err
}

func (s *Store) logSQL(query string, args []interface{}) {
	if s.debug {
		log.Printf("jobsched/mysql: %s %v", query, args)
	}
}

func (s *Store) execContext(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	s.logSQL(query, args)
	return s.db.ExecContext(ctx, query, args...)
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
	b := sq.Insert(jobsTable).Columns(jobsColumns...).Values(
		r.ID, r.JobName, r.HandlerID, r.Payload, r.Kind, r.Status,
		r.ScheduledAt, r.IntervalSeconds, r.NextRunAt, r.LastRunAt,
		r.StartedAt, r.CompletedAt, r.RetryCount, r.MaxRetries,
		r.ErrorMessage, r.LockID, r.LockExpiresAt,
		r.CreatedAt, r.UpdatedAt, r.Deleted,
	)
	return internal.RunWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.execContext(ctx, b)
		if internal.IsDup(err) {
			return jobsched.ErrDuplicateJob
		}
		return err
	}, internal.IsRetryable)
}

// Update persists full-record changes.
func (s *Store) Update(ctx context.Context, record *jobsched.JobRecord) error {
	r := newRow(record)
	b := sq.Update(jobsTable).
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
		Where(sq.Eq{"id": r.ID})
	return internal.RunWithRetry(ctx, func(ctx context.Context) error {
		res, err := s.execContext(ctx, b)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// MySQL reports zero affected rows for no-op updates, too,
			// so confirm the record really is missing.
			if _, err := s.GetByID(ctx, record.ID); err != nil {
				return err
			}
		}
		return nil
	}, internal.IsRetryable)
}

// Delete soft-deletes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	b := sq.Update(jobsTable).Set("deleted", true).Where(sq.Eq{"id": id})
	return internal.RunWithRetry(ctx, func(ctx context.Context) error {
		res, err := s.execContext(ctx, b)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			if _, err := s.GetByID(ctx, id); err != nil {
				return err
			}
		}
		return nil
	}, internal.IsRetryable)
}

// GetByID retrieves a single record by its identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*jobsched.JobRecord, error) {
	b := sq.Select(jobsColumns...).From(jobsTable).Where(sq.Eq{"id": id})
	return s.getOne(ctx, b)
}

// ListByName returns all non-deleted records with the given job name.
func (s *Store) ListByName(ctx context.Context, jobName string) ([]*jobsched.JobRecord, error) {
	b := sq.Select(jobsColumns...).From(jobsTable).
		Where(sq.Eq{"job_name": jobName, "deleted": false}).
		OrderBy("created_at ASC")
	return s.getMany(ctx, b)
}

// FindRecurringByName returns the active recurring record with the
// given job name.
func (s *Store) FindRecurringByName(ctx context.Context, jobName string) (*jobsched.JobRecord, error) {
	b := sq.Select(jobsColumns...).From(jobsTable).
		Where(sq.Eq{"job_name": jobName, "kind": string(jobsched.Recurring), "deleted": false}).
		Where(sq.NotEq{"status": string(jobsched.Cancelled)}).
		Limit(1)
	return s.getOne(ctx, b)
}

// TryClaim leases one due record. The lease is taken with a single
// conditional update guarded by the record's updated_at, so losing a
// race against another worker simply means zero affected rows, and we
// move on to the next candidate.
func (s *Store) TryClaim(ctx context.Context, now time.Time, lockID string, lease time.Duration) (*jobsched.JobRecord, error) {
	nowNanos := now.UnixNano()

	b := sq.Select("id", "updated_at").From(jobsTable).
		Where(sq.Eq{"deleted": false}).
		Where(sq.LtOrEq{"scheduled_at": nowNanos}).
		Where(claimEligible(nowNanos)).
		OrderBy("scheduled_at ASC").
		Limit(claimCandidates)
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	s.logSQL(query, args)
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
		ub := sq.Update(jobsTable).
			Set("status", string(jobsched.Processing)).
			Set("lock_id", lockID).
			Set("lock_expires_at", now.Add(lease).UnixNano()).
			Set("started_at", nowNanos).
			Set("updated_at", nowNanos).
			Where(sq.Eq{"id": c.id, "updated_at": c.updatedAt})
		res, err := s.execContext(ctx, ub)
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
		// Another worker won this candidate; try the next one.
	}
	return nil, nil
}

// claimEligible is the claim condition: Pending with an absent or
// expired lock, or Processing with an expired lock.
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
	b := sq.Update(jobsTable).
		Set("status", string(jobsched.Cancelled)).
		Set("completed_at", nowNanos).
		Set("updated_at", nowNanos).
		Where(sq.Eq{"id": id, "status": string(jobsched.Pending)})
	res, err := s.execContext(ctx, b)
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

// CancelByName cancels all Pending recurring records with the given
// name. Every record is cancelled with its own conditional update, so a
// record a worker claims concurrently is left alone.
func (s *Store) CancelByName(ctx context.Context, jobName string, now time.Time) ([]*jobsched.JobRecord, error) {
	b := sq.Select("id").From(jobsTable).
		Where(sq.Eq{
			"job_name": jobName,
			"kind":     string(jobsched.Recurring),
			"status":   string(jobsched.Pending),
			"deleted":  false,
		})
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	s.logSQL(query, args)
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
	b := sq.Select("status", "COUNT(*)").From(jobsTable).
		Where(sq.Eq{"deleted": false}).
		GroupBy("status")
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	s.logSQL(query, args)
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	s.logSQL(query, args)
	var r jobRow
	err = r.scan(s.db.QueryRowContext(ctx, query, args...))
	if internal.IsNotFound(err) {
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
	s.logSQL(query, args)
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
