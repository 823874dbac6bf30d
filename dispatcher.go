// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobsched

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultLease        = 5 * time.Minute
	defaultWorkers      = 5
)

func nop() {}

// Dispatcher polls the store for due records, leases them, executes
// their handlers, and reports the outcome back to the store. Create a
// new dispatcher via NewDispatcher.
//
// Multiple dispatcher instances may run concurrently against one shared
// store, in the same process or spread over several; there is no
// in-process coordination between them. Mutual exclusion over a given
// record comes entirely from the store's atomic TryClaim.
type Dispatcher struct {
	s       *Scheduler
	reg     *Registry
	backoff BackoffFunc
	poll    time.Duration
	lease   time.Duration
	workers int

	mu      sync.Mutex // guards the following block
	started bool
	cancel  context.CancelFunc
	g       *errgroup.Group

	testJobClaimed   func() // testing hook
	testJobSucceeded func() // testing hook
	testJobRetry     func() // testing hook
	testJobFailed    func() // testing hook
	testPollErrored  func() // testing hook
}

// NewDispatcher creates a new dispatcher executing jobs from the
// scheduler's store with handlers from the given registry. Pass options
// to configure it.
func NewDispatcher(s *Scheduler, reg *Registry, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		s:                s,
		reg:              reg,
		backoff:          exponentialBackoff,
		poll:             defaultPollInterval,
		lease:            defaultLease,
		workers:          defaultWorkers,
		testJobClaimed:   nop,
		testJobSucceeded: nop,
		testJobRetry:     nop,
		testJobFailed:    nop,
		testPollErrored:  nop,
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// -- Configuration --

// DispatcherOption is the signature of an options provider.
type DispatcherOption func(*Dispatcher)

// SetPollInterval sets the interval in which idle workers ask the store
// for due records. It is 1 second by default.
func SetPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.poll = interval
		}
	}
}

// SetLeaseDuration sets the lease a worker takes on a claimed record.
// The lease must exceed the slowest expected handler by a comfortable
// margin: once it expires, any dispatcher may reclaim the record, and a
// handler that is still running past its lease risks double execution.
// The default is 5 minutes.
func SetLeaseDuration(lease time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if lease > 0 {
			d.lease = lease
		}
	}
}

// SetWorkers sets the number of concurrent worker loops this dispatcher
// runs. It must be greater or equal to 1 and is 5 by default.
func SetWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n < 1 {
			n = 1
		}
		d.workers = n
	}
}

// SetBackoffFunc specifies the backoff function that returns the time
// span between retries of failed jobs. Exponential backoff is used by
// default.
func SetBackoffFunc(fn BackoffFunc) DispatcherOption {
	return func(d *Dispatcher) {
		if fn != nil {
			d.backoff = fn
		} else {
			d.backoff = exponentialBackoff
		}
	}
}

// -- Start and Stop --

// Start runs the dispatcher. Use Stop, Close, or CloseWithTimeout to
// stop it.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("jobsched: dispatcher already started")
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Initialize the store
	if err := d.s.st.Start(ctx); err != nil {
		cancel()
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.run(ctx)
			return nil
		})
	}

	d.cancel = cancel
	d.g = g
	d.started = true
	return nil
}

// Stop stops the dispatcher. It waits for working jobs to finish.
func (d *Dispatcher) Stop() error {
	return d.Close()
}

// Close is an alias to Stop. It stops the dispatcher and waits for
// working jobs to finish.
func (d *Dispatcher) Close() error {
	return d.CloseWithTimeout(-1 * time.Second)
}

// CloseWithTimeout stops the dispatcher. It waits for the specified
// timeout, then closes down, even if there are still jobs working. If
// the timeout is negative, it waits forever for all working jobs to end.
func (d *Dispatcher) CloseWithTimeout(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	g := d.g
	d.started = false
	d.mu.Unlock()

	// Stop claiming new jobs; workers finish their current job first.
	cancel()

	if timeout.Nanoseconds() < 0 {
		return g.Wait()
	}

	complete := make(chan error, 1)
	go func() {
		complete <- g.Wait()
	}()
	select {
	case err := <-complete:
		return err
	case <-time.After(timeout):
		return errors.New("jobsched: close timed out")
	}
}
