// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobsched

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxRetries = 3
)

// Scheduler is the public surface used by application code to enqueue
// one-time jobs, enqueue or upsert recurring jobs, cancel jobs, and
// query job state. Create a new scheduler via New.
//
// A scheduler only writes records; executing them is the dispatcher's
// business. Both can live in the same process or in different ones, as
// all coordination goes through the shared Store.
type Scheduler struct {
	logger     Logger
	observer   Observer
	st         Store // persistent storage
	maxRetries int   // retry budget for new records
	now        func() time.Time
}

// New creates a new scheduler. Pass options to configure it. By default
// it uses an in-memory store, which is fine for tests but loses all
// records on restart.
func New(options ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		logger:     stdLogger{},
		observer:   nopObserver{},
		st:         NewInMemoryStore(),
		maxRetries: defaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// -- Configuration --

// SchedulerOption is the signature of an options provider.
type SchedulerOption func(*Scheduler)

// SetLogger specifies the logger to use when e.g. reporting errors.
func SetLogger(logger Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// SetStore specifies the backing Store implementation for the scheduler.
func SetStore(store Store) SchedulerOption {
	return func(s *Scheduler) {
		s.st = store
	}
}

// SetObserver specifies the observer that is notified of persisted job
// state changes.
func SetObserver(observer Observer) SchedulerOption {
	return func(s *Scheduler) {
		if observer != nil {
			s.observer = observer
		} else {
			s.observer = nopObserver{}
		}
	}
}

// SetMaxRetries sets the retry budget assigned to newly enqueued
// records. It must be greater or equal to 1 and is 3 by default.
func SetMaxRetries(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n < 1 {
			n = 1
		}
		s.maxRetries = n
	}
}

// SetNowFunc overrides the scheduler's clock. Used in tests.
func SetNowFunc(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		} else {
			s.now = time.Now
		}
	}
}

// Store returns the backing store.
func (s *Scheduler) Store() Store {
	return s.st
}

// -- Enqueue --

// EnqueueOnce creates a one-time Pending record for the given handler.
// The job name is synthesized from the handler id and a random suffix to
// avoid accidental name collisions. A zero runAt means "run now". The
// handler id is not resolved here: scheduling is decoupled from handler
// availability, and an unknown id only surfaces when the job is
// dispatched.
func (s *Scheduler) EnqueueOnce(ctx context.Context, handlerID, payload string, runAt time.Time) (*JobRecord, error) {
	if handlerID == "" {
		return nil, errors.New("jobsched: no handler id specified")
	}
	now := s.now()
	if runAt.IsZero() {
		runAt = now
	}
	record := &JobRecord{
		ID:          uuid.New().String(),
		JobName:     fmt.Sprintf("%s_%s", handlerID, randomSuffix()),
		HandlerID:   handlerID,
		Payload:     payload,
		Kind:        OneTime,
		Status:      Pending,
		ScheduledAt: runAt,
		MaxRetries:  s.maxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.st.Insert(ctx, record); err != nil {
		return nil, err
	}
	s.observer.JobStateChanged(record)
	return record, nil
}

// EnqueueRecurring creates or updates a recurring record. The job name
// is the stable identity: if a non-cancelled recurring record with that
// name and the same handler id already exists, its interval and payload
// are updated in place and the existing record is returned. Re-register
// at will; the upsert is idempotent. If the existing record is Failed
// (its last cycle exhausted the retry budget), re-registering rearms it
// with a fresh retry budget. A zero startAt means "start now".
func (s *Scheduler) EnqueueRecurring(ctx context.Context, jobName, handlerID string, intervalSeconds int, payload string, startAt time.Time) (*JobRecord, error) {
	if jobName == "" {
		return nil, errors.New("jobsched: no job name specified")
	}
	if handlerID == "" {
		return nil, errors.New("jobsched: no handler id specified")
	}
	if intervalSeconds <= 0 {
		return nil, fmt.Errorf("jobsched: interval must be positive, got %d", intervalSeconds)
	}
	now := s.now()
	if startAt.IsZero() {
		startAt = now
	}

	existing, err := s.st.FindRecurringByName(ctx, jobName)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	if existing != nil {
		if existing.HandlerID != handlerID {
			return nil, fmt.Errorf("jobsched: job %s is already registered with handler %s", jobName, existing.HandlerID)
		}
		existing.IntervalSeconds = intervalSeconds
		existing.Payload = payload
		if existing.Status == Failed {
			existing.Status = Pending
			existing.RetryCount = 0
			existing.ErrorMessage = ""
			existing.CompletedAt = nil
			existing.ScheduledAt = startAt
			existing.NextRunAt = &startAt
		}
		existing.UpdatedAt = now
		if err := s.st.Update(ctx, existing); err != nil {
			return nil, err
		}
		s.observer.JobStateChanged(existing)
		return existing, nil
	}

	record := &JobRecord{
		ID:              uuid.New().String(),
		JobName:         jobName,
		HandlerID:       handlerID,
		Payload:         payload,
		Kind:            Recurring,
		Status:          Pending,
		ScheduledAt:     startAt,
		IntervalSeconds: intervalSeconds,
		NextRunAt:       &startAt,
		MaxRetries:      s.maxRetries,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.st.Insert(ctx, record); err != nil {
		return nil, err
	}
	s.observer.JobStateChanged(record)
	return record, nil
}

// -- Cancel --

// Cancel transitions a Pending record to Cancelled and returns true. It
// returns false without touching the record if the record is already in
// a terminal state, or if it is currently Processing: a job a worker
// owns must not be cancelled underneath it. The store performs the
// transition as a single conditional update, so a worker claiming the
// record concurrently either loses the claim or keeps the record.
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	record, err := s.st.Cancel(ctx, id, s.now())
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}
	s.observer.JobStateChanged(record)
	return true, nil
}

// CancelRecurring cancels all Pending recurring records sharing the
// given job name and returns the number of records cancelled.
func (s *Scheduler) CancelRecurring(ctx context.Context, jobName string) (int, error) {
	if jobName == "" {
		return 0, errors.New("jobsched: no job name specified")
	}
	cancelled, err := s.st.CancelByName(ctx, jobName, s.now())
	if err != nil {
		return 0, err
	}
	for _, record := range cancelled {
		s.observer.JobStateChanged(record)
	}
	return len(cancelled), nil
}

// Delete soft-deletes the record with the given identifier. Deleted
// records no longer show up in name-based lookups and are never
// dispatched.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	return s.st.Delete(ctx, id)
}

// -- Lookup --

// GetByID returns the record with the specified identifier.
// If no such record exists, ErrNotFound is returned.
func (s *Scheduler) GetByID(ctx context.Context, id string) (*JobRecord, error) {
	return s.st.GetByID(ctx, id)
}

// ListByName returns all records with the specified job name. Callers
// use it to observe status, retry count, and error message of jobs they
// enqueued: completion is strictly pull-based, there is no push
// notification.
func (s *Scheduler) ListByName(ctx context.Context, jobName string) ([]*JobRecord, error) {
	return s.st.ListByName(ctx, jobName)
}

// Stats returns current statistics about the job queue.
func (s *Scheduler) Stats(ctx context.Context) (*Stats, error) {
	return s.st.Stats(ctx)
}

// randomSuffix returns a short random string for synthesized job names.
func randomSuffix() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
