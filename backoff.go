// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobsched

import "time"

// BackoffFunc is a callback that returns a backoff. It is configurable
// via the SetBackoffFunc option on the dispatcher. The BackoffFunc is
// used to vary the timespan between retries of failed jobs.
type BackoffFunc func(retryCount int) time.Duration

// exponentialBackoff is the default backoff function. It doubles the
// delay on every retry, starting at 20 seconds for the first retry:
// 10s * 2^n for retry count n.
func exponentialBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return 10 * time.Second * time.Duration(int64(1)<<uint(retryCount))
}
