// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobsched

// Observer is notified whenever a job record changed state and the
// change has been persisted. Implementers can use it to feed dashboards
// or metrics without the engine depending on a concrete logging or
// monitoring implementation. The record passed to the observer is a
// snapshot; implementations must not block for long, as notifications
// happen on the scheduler and dispatcher goroutines.
type Observer interface {
	JobStateChanged(record *JobRecord)
}

// ObserverFunc adapts an ordinary function to the Observer interface.
type ObserverFunc func(record *JobRecord)

// JobStateChanged calls f(record).
func (f ObserverFunc) JobStateChanged(record *JobRecord) {
	f(record)
}

// nopObserver is the default observer. It discards all notifications.
type nopObserver struct{}

func (nopObserver) JobStateChanged(*JobRecord) {}
