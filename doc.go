// Package jobsched implements a persistent background job scheduling
// engine: a durable work queue with one-time and recurring jobs that
// survives process restarts, tolerates multiple concurrent worker
// instances without double execution, and retries failures with
// exponential backoff.
//
// Applications first register handlers with a Registry. A handler is an
// executable unit of business logic identified by a stable string id;
// the engine only invokes handlers by that id and observes success or
// failure.
//
// Scheduling and executing are decoupled. The Scheduler is the write
// side: EnqueueOnce creates a one-time Pending record, EnqueueRecurring
// idempotently upserts a recurring record by its job name, Cancel and
// CancelRecurring stop jobs that have not been claimed yet, and
// GetByID/ListByName are the pull-based status surface. Convenience
// wrappers (RunNow, RunAfter, RunDailyAt, RunEverySeconds and friends)
// compose the two enqueue operations with human-friendly schedules.
//
// The Dispatcher is the execution side. Every worker loop polls the
// shared Store on a fixed interval and attempts an atomic claim: the
// store conditionally moves one due Pending record to Processing, and
// stamps it with a lock id and a lease expiry. Because the claim is a
// single conditional update, at most one worker ever obtains a given
// record, no matter how many dispatcher instances run against the same
// store. A worker that crashes leaves its record Processing with an
// expired lock; any dispatcher's next claim picks the orphan back up.
// The lease is therefore also the execution timeout: handlers receive a
// context with a deadline at lease expiry and should be idempotent if
// they may outlive it.
//
// On success a one-time record becomes Completed, while a recurring
// record is rearmed: next run = last run + interval, back to Pending.
// On failure the retry count increments; under the budget the record
// returns to Pending with a backoff-delayed schedule (10s * 2^n by
// default), at the budget it becomes terminally Failed, with the last
// error kept on the record for inspection.
//
// The Store interface has an in-memory implementation in this package
// (for tests) and persistent implementations backed by MySQL ("mysql"
// package), SQLite ("sqlite" package), and MongoDB ("mongodb" package).
package jobsched
