// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobsched

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound must be returned from Store implementations when a
	// certain job record could not be found in the specific data store.
	ErrNotFound = errors.New("jobsched: job not found")

	// ErrDuplicateJob must be returned from Store implementations when
	// inserting a recurring record whose name is already taken by a
	// non-deleted, non-cancelled recurring record.
	ErrDuplicateJob = errors.New("jobsched: duplicate job name")
)

// Store implements persistent storage of job records. All operations
// must be atomic with respect to concurrent callers: several dispatcher
// instances may share one store, and coordination between them happens
// exclusively through TryClaim.
type Store interface {
	// Start is called once before dispatching begins. This is a good
	// time for setup, e.g. a SQL store creates its schema here.
	Start(ctx context.Context) error

	// Insert adds a new record to the store. It returns ErrDuplicateJob
	// if a non-deleted, non-cancelled recurring record with the same
	// job name already exists.
	Insert(ctx context.Context, record *JobRecord) error

	// Update persists full-record changes (status transitions, retry
	// bookkeeping, recurrence rearm). It returns ErrNotFound if the
	// record does not exist.
	Update(ctx context.Context, record *JobRecord) error

	// Delete soft-deletes the record with the given identifier. Deleted
	// records are excluded from name-based lookups and from dispatch.
	Delete(ctx context.Context, id string) error

	// GetByID returns the record with the given identifier, or
	// ErrNotFound.
	GetByID(ctx context.Context, id string) (*JobRecord, error)

	// ListByName returns all non-deleted records with the given job
	// name. An empty slice is returned when there is no match.
	ListByName(ctx context.Context, jobName string) ([]*JobRecord, error)

	// FindRecurringByName returns the non-deleted, non-cancelled
	// recurring record with the given job name, or ErrNotFound. It is
	// used to detect an existing recurring job before creating a
	// duplicate.
	FindRecurringByName(ctx context.Context, jobName string) (*JobRecord, error)

	// TryClaim atomically selects one due record and leases it to the
	// caller: status becomes Processing, the lock fields are set to
	// lockID and now+lease, and StartedAt is set to now. A record is
	// due when it is not deleted, its ScheduledAt is not after now, and
	// it is either Pending with an absent or expired lock, or
	// Processing with an expired lock (an orphaned claim from a crashed
	// worker).
	//
	// The claim must be implemented as a single conditional update so
	// that at most one caller ever claims a given record. If no record
	// is eligible, TryClaim returns nil for both the record and the
	// error.
	TryClaim(ctx context.Context, now time.Time, lockID string, lease time.Duration) (*JobRecord, error)

	// Cancel transitions the Pending record with the given identifier
	// to Cancelled and returns it. The status check and the write must
	// be a single atomic conditional update: if the record is not
	// Pending (a worker claimed it in the meantime, or it is already
	// terminal), Cancel returns nil for both the record and the error
	// and leaves the record untouched. A missing record is ErrNotFound.
	Cancel(ctx context.Context, id string, now time.Time) (*JobRecord, error)

	// CancelByName transitions all non-deleted Pending recurring
	// records with the given job name to Cancelled and returns the
	// records it changed.
	CancelByName(ctx context.Context, jobName string, now time.Time) ([]*JobRecord, error)

	// Stats returns the number of records per status.
	Stats(ctx context.Context) (*Stats, error)
}
