// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobsched

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// run is the main loop of a single worker. On every tick it drains the
// store: claim a due record, execute it, repeat until nothing is
// eligible, then go back to sleep.
func (d *Dispatcher) run(ctx context.Context) {
	t := time.NewTicker(d.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for {
				if ctx.Err() != nil {
					return
				}
				record, err := d.claim(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					// A store outage fails this poll iteration only. No
					// record state changes; we retry on the next tick.
					d.s.logger.Printf("jobsched: error claiming next job: %v", err)
					d.testPollErrored()
					break
				}
				if record == nil {
					break
				}
				d.process(record)
			}
		}
	}
}

// claim attempts to lease one due record with a lock id unique to this
// attempt.
func (d *Dispatcher) claim(ctx context.Context) (*JobRecord, error) {
	record, err := d.s.st.TryClaim(ctx, d.s.now(), uuid.New().String(), d.lease)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	d.testJobClaimed()
	d.s.observer.JobStateChanged(record)
	return record, nil
}

// process runs a single claimed record and persists the outcome. It
// deliberately does not run under the worker's shutdown context: Close
// waits for working jobs to finish, so an in-flight handler is bounded
// by its lease only, and the outcome write must still succeed after
// shutdown has begun.
func (d *Dispatcher) process(record *JobRecord) {
	if err := d.invoke(record); err != nil {
		d.fail(record, err)
		return
	}
	d.succeed(record)
}

// invoke resolves the record's handler and executes it. An unknown
// handler id is an execution failure like any other: it feeds the retry
// path and must never stop the dispatcher loop, because jobs may
// reference handlers from a not-yet-deployed version.
func (d *Dispatcher) invoke(record *JobRecord) (err error) {
	h, found := d.reg.Resolve(record.HandlerID)
	if !found {
		return fmt.Errorf("jobsched: no handler registered for id %s", record.HandlerID)
	}

	// The lease is the only timeout mechanism: the handler gets a
	// deadline at lease expiry.
	runCtx := context.Background()
	if record.LockExpiresAt != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, *record.LockExpiresAt)
		defer cancel()
	}

	defer func() {
		if rerr := recover(); rerr != nil {
			err = fmt.Errorf("jobsched: handler %s panicked: %v", record.HandlerID, rerr)
		}
	}()
	return h.Execute(runCtx, record.Payload)
}

// succeed handles a successful execution. One-time records complete
// terminally; recurring records are immediately rearmed for their next
// cycle. A new cycle is never armed before the previous one finished,
// so runs of the same recurring job are strictly serialized.
func (d *Dispatcher) succeed(record *JobRecord) {
	now := d.s.now()
	record.LockID = ""
	record.LockExpiresAt = nil
	record.ErrorMessage = ""
	record.LastRunAt = &now

	switch record.Kind {
	case Recurring:
		next := now.Add(time.Duration(record.IntervalSeconds) * time.Second)
		record.Status = Pending
		record.ScheduledAt = next
		record.NextRunAt = &next
		record.RetryCount = 0 // each cycle gets a fresh retry budget
	default:
		record.Status = Completed
		record.CompletedAt = &now
	}
	record.UpdatedAt = now

	if err := d.s.st.Update(context.Background(), record); err != nil {
		d.s.logger.Printf("jobsched: error updating job %v: %v", record.ID, err)
		return
	}
	d.testJobSucceeded()
	d.s.observer.JobStateChanged(record)
}

// fail handles a failed execution: retry with backoff while the budget
// lasts, terminal failure once it is exhausted.
func (d *Dispatcher) fail(record *JobRecord, execErr error) {
	d.s.logger.Printf("jobsched: job %v failed: %v", record.ID, execErr)

	now := d.s.now()
	record.RetryCount++
	record.ErrorMessage = execErr.Error()
	record.LockID = ""
	record.LockExpiresAt = nil
	record.LastRunAt = &now

	if record.RetryCount >= record.MaxRetries {
		record.Status = Failed
		record.CompletedAt = &now
		record.UpdatedAt = now
		if err := d.s.st.Update(context.Background(), record); err != nil {
			d.s.logger.Printf("jobsched: error updating job %v: %v", record.ID, err)
			return
		}
		d.testJobFailed()
		d.s.observer.JobStateChanged(record)
		return
	}

	record.Status = Pending
	record.ScheduledAt = now.Add(d.backoff(record.RetryCount))
	record.UpdatedAt = now
	if err := d.s.st.Update(context.Background(), record); err != nil {
		d.s.logger.Printf("jobsched: error updating job %v: %v", record.ID, err)
		return
	}
	d.testJobRetry()
	d.s.observer.JobStateChanged(record)
}
