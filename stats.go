// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobsched

// Stats returns statistics about the job records in the store.
type Stats struct {
	Pending    int `json:"pending"`    // number of jobs waiting to be claimed
	Processing int `json:"processing"` // number of jobs currently leased by workers
	Completed  int `json:"completed"`  // number of successfully completed one-time jobs
	Failed     int `json:"failed"`     // number of failed jobs (even after retries)
	Cancelled  int `json:"cancelled"`  // number of cancelled jobs
}
