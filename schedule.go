// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobsched

import (
	"context"
	"fmt"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// RunNow enqueues a one-time job that is due immediately.
func (s *Scheduler) RunNow(ctx context.Context, handlerID, payload string) (*JobRecord, error) {
	return s.EnqueueOnce(ctx, handlerID, payload, time.Time{})
}

// RunAfter enqueues a one-time job that is due after the given delay.
func (s *Scheduler) RunAfter(ctx context.Context, handlerID, payload string, delay time.Duration) (*JobRecord, error) {
	if delay < 0 {
		return nil, fmt.Errorf("jobsched: delay must not be negative, got %v", delay)
	}
	return s.EnqueueOnce(ctx, handlerID, payload, s.now().Add(delay))
}

// RunDailyAt enqueues (or upserts) a recurring job that runs once a day
// at the given wall-clock time. The first run is at the next occurrence
// of hour:minute: today if that time has not passed yet, otherwise
// tomorrow.
func (s *Scheduler) RunDailyAt(ctx context.Context, jobName, handlerID, payload string, hour, minute int) (*JobRecord, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("jobsched: hour out of range: %d", hour)
	}
	if minute < 0 || minute > 59 {
		return nil, fmt.Errorf("jobsched: minute out of range: %d", minute)
	}
	startAt := nextDailyRun(s.now(), hour, minute)
	return s.EnqueueRecurring(ctx, jobName, handlerID, secondsPerDay, payload, startAt)
}

// RunEverySeconds enqueues (or upserts) a recurring job with a cadence
// of n seconds.
func (s *Scheduler) RunEverySeconds(ctx context.Context, jobName, handlerID, payload string, n int) (*JobRecord, error) {
	return s.EnqueueRecurring(ctx, jobName, handlerID, n, payload, time.Time{})
}

// RunEveryMinutes enqueues (or upserts) a recurring job with a cadence
// of n minutes.
func (s *Scheduler) RunEveryMinutes(ctx context.Context, jobName, handlerID, payload string, n int) (*JobRecord, error) {
	return s.EnqueueRecurring(ctx, jobName, handlerID, n*60, payload, time.Time{})
}

// RunEveryHours enqueues (or upserts) a recurring job with a cadence of
// n hours.
func (s *Scheduler) RunEveryHours(ctx context.Context, jobName, handlerID, payload string, n int) (*JobRecord, error) {
	return s.EnqueueRecurring(ctx, jobName, handlerID, n*60*60, payload, time.Time{})
}

// nextDailyRun returns the first instant at hour:minute that is not
// before now, in now's location.
func nextDailyRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if next.Before(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
