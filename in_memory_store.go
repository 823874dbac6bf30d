// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobsched

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryStore is a simple in-memory store implementation.
// It implements the Store interface. Do not use in production: records
// do not survive a restart, and the store cannot be shared between
// processes.
type InMemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*JobRecord
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs: make(map[string]*JobRecord),
	}
}

// Start the store.
func (st *InMemoryStore) Start(ctx context.Context) error {
	return nil
}

// Insert adds a new record.
func (st *InMemoryStore) Insert(ctx context.Context, record *JobRecord) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, found := st.jobs[record.ID]; found {
		return fmt.Errorf("jobsched: job %s already exists", record.ID)
	}
	if record.Kind == Recurring {
		for _, job := range st.jobs {
			if !job.Deleted && job.Kind == Recurring && job.JobName == record.JobName && job.Status != Cancelled {
				return ErrDuplicateJob
			}
		}
	}
	st.jobs[record.ID] = record.Clone()
	return nil
}

// Update updates the record.
func (st *InMemoryStore) Update(ctx context.Context, record *JobRecord) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, found := st.jobs[record.ID]; !found {
		return ErrNotFound
	}
	st.jobs[record.ID] = record.Clone()
	return nil
}

// Delete soft-deletes the record.
func (st *InMemoryStore) Delete(ctx context.Context, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	job, found := st.jobs[id]
	if !found {
		return ErrNotFound
	}
	job.Deleted = true
	return nil
}

// GetByID returns the record with the specified identifier (or ErrNotFound).
func (st *InMemoryStore) GetByID(ctx context.Context, id string) (*JobRecord, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	job, found := st.jobs[id]
	if !found {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

// ListByName returns all non-deleted records with the given job name.
func (st *InMemoryStore) ListByName(ctx context.Context, jobName string) ([]*JobRecord, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var list []*JobRecord
	for _, job := range st.jobs {
		if !job.Deleted && job.JobName == jobName {
			list = append(list, job.Clone())
		}
	}
	return list, nil
}

// FindRecurringByName returns the active recurring record with the
// given job name (or ErrNotFound).
func (st *InMemoryStore) FindRecurringByName(ctx context.Context, jobName string) (*JobRecord, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, job := range st.jobs {
		if !job.Deleted && job.Kind == Recurring && job.JobName == jobName && job.Status != Cancelled {
			return job.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// TryClaim leases the due record with the earliest ScheduledAt. The
// whole operation runs under the store mutex, so at most one caller
// claims a given record.
func (st *InMemoryStore) TryClaim(ctx context.Context, now time.Time, lockID string, lease time.Duration) (*JobRecord, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var next *JobRecord
	for _, job := range st.jobs {
		if !claimable(job, now) {
			continue
		}
		if next == nil || job.ScheduledAt.Before(next.ScheduledAt) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}
	expires := now.Add(lease)
	next.Status = Processing
	next.LockID = lockID
	next.LockExpiresAt = &expires
	next.StartedAt = &now
	next.UpdatedAt = now
	return next.Clone(), nil
}

// claimable reports whether the record is eligible for a claim: due,
// not deleted, and either Pending with an absent or expired lock, or
// Processing with an expired lock (orphaned by a crashed worker).
func claimable(job *JobRecord, now time.Time) bool {
	if job.Deleted || job.ScheduledAt.After(now) {
		return false
	}
	switch job.Status {
	case Pending:
		return job.LockExpired(now)
	case Processing:
		return job.LockExpiresAt != nil && !job.LockExpiresAt.After(now)
	default:
		return false
	}
}

// Cancel transitions a Pending record to Cancelled. The status check
// and the write happen under the store mutex, so a concurrent TryClaim
// cannot interleave between them.
func (st *InMemoryStore) Cancel(ctx context.Context, id string, now time.Time) (*JobRecord, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	job, found := st.jobs[id]
	if !found {
		return nil, ErrNotFound
	}
	if job.Status != Pending {
		return nil, nil
	}
	job.Status = Cancelled
	job.CompletedAt = &now
	job.UpdatedAt = now
	return job.Clone(), nil
}

// CancelByName cancels all Pending recurring records with the given name.
func (st *InMemoryStore) CancelByName(ctx context.Context, jobName string, now time.Time) ([]*JobRecord, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var cancelled []*JobRecord
	for _, job := range st.jobs {
		if job.Deleted || job.Kind != Recurring || job.JobName != jobName || job.Status != Pending {
			continue
		}
		job.Status = Cancelled
		job.CompletedAt = &now
		job.UpdatedAt = now
		cancelled = append(cancelled, job.Clone())
	}
	return cancelled, nil
}

// Stats returns statistics about the records in the store.
func (st *InMemoryStore) Stats(ctx context.Context) (*Stats, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	stats := &Stats{}
	for _, job := range st.jobs {
		if job.Deleted {
			continue
		}
		switch job.Status {
		default:
			return nil, fmt.Errorf("found unknown status %v", job.Status)
		case Pending:
			stats.Pending++
		case Processing:
			stats.Processing++
		case Completed:
			stats.Completed++
		case Failed:
			stats.Failed++
		case Cancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}
