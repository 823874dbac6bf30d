// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobsched_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/edukit/jobsched"
)

func Example() {
	// A scheduler enqueues jobs. The in-memory store is fine for a demo;
	// use one of the persistent stores in production.
	s := jobsched.New()

	// Handlers carry the business logic. Register them under stable
	// identifiers before starting the dispatcher.
	reg := jobsched.NewRegistry()
	err := reg.Register("mail.welcome", jobsched.HandlerFunc(func(ctx context.Context, payload string) error {
		fmt.Printf("sending welcome mail with payload %s\n", payload)
		return nil
	}))
	if err != nil {
		log.Fatal(err)
	}

	// The dispatcher claims due records and executes them.
	d := jobsched.NewDispatcher(s, reg,
		jobsched.SetPollInterval(100*time.Millisecond),
		jobsched.SetWorkers(2),
	)
	if err := d.Start(); err != nil {
		log.Fatal(err)
	}
	defer d.Stop()

	// Run a job immediately...
	job, err := s.RunNow(context.Background(), "mail.welcome", `{"user":42}`)
	if err != nil {
		log.Fatal(err)
	}

	// ...and check on it later. Completion is pull-based.
	for {
		job, err = s.GetByID(context.Background(), job.ID)
		if err != nil {
			log.Fatal(err)
		}
		if job.Terminal() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Printf("job ended with status %s\n", job.Status)

	// Output:
	// sending welcome mail with payload {"user":42}
	// job ended with status completed
}
