// Command e2e exercises the job scheduling engine end to end: it keeps
// enqueueing one-time jobs with a configurable failure rate, arms a few
// recurring jobs, and logs queue statistics until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/edukit/jobsched"
	"github.com/edukit/jobsched/mysql"
	"github.com/edukit/jobsched/sqlite"
)

func main() {
	const (
		exampleDBURL = "root@tcp(127.0.0.1:3306)/jobsched_e2e?loc=UTC&parseTime=true"
	)
	var (
		workers         = flag.Int("c", 2, "number of concurrent worker loops")
		pollInterval    = flag.Duration("poll-interval", 1*time.Second, "dispatcher poll interval")
		lease           = flag.Duration("lease", 1*time.Minute, "lease duration for claimed jobs")
		fillTime        = flag.Duration("fill-time", 5*time.Second, "interval in which new jobs get added")
		runTime         = flag.Duration("run-time", 2*time.Second, "maximum run time of a single job")
		logInterval     = flag.Duration("log-interval", 1*time.Second, "log interval for stats")
		maxRetries      = flag.Int("max-retries", 2, "maximum number of retries per job")
		dbpath          = flag.String("dbpath", "jobsched_e2e.db", "SQLite database path for persistent storage")
		dburl           = flag.String("dburl", "", "MySQL dsn for persistent storage, e.g. "+exampleDBURL)
		handlersList    = flag.String("handlers", "a,b,c", "comma-separated list of handler ids")
		recurringEvery  = flag.Int("recurring-every", 15, "cadence of the recurring demo job in seconds")
		failureRate     = flag.Float64("failure-rate", 0.05, "failure rate in the interval [0.0,1.0]")
		shutdownTimeout = flag.Duration("shutdown-timeout", -1*time.Second, "timeout to wait after shutdown (negative to wait forever)")
	)
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	rand.Seed(time.Now().UnixNano())

	// Initialize the store
	var store jobsched.Store
	var err error
	if *dburl != "" {
		store, err = mysql.NewStore(*dburl)
	} else {
		store, err = sqlite.NewStore(*dbpath)
	}
	if err != nil {
		log.Fatal(err)
	}

	s := jobsched.New(
		jobsched.SetStore(store),
		jobsched.SetMaxRetries(*maxRetries),
	)

	// Register handlers
	reg := jobsched.NewRegistry()
	handlerIDs := strings.Split(*handlersList, ",")
	for _, id := range handlerIDs {
		err := reg.Register(id, makeHandler(*failureRate, *runTime))
		if err != nil {
			log.Fatal(err)
		}
	}

	// Start the dispatcher
	d := jobsched.NewDispatcher(s, reg,
		jobsched.SetWorkers(*workers),
		jobsched.SetPollInterval(*pollInterval),
		jobsched.SetLeaseDuration(*lease),
	)
	if err := d.Start(); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	// Arm a recurring job per handler
	for _, id := range handlerIDs {
		_, err := s.RunEverySeconds(ctx, "heartbeat_"+id, id, "", *recurringEvery)
		if err != nil {
			log.Fatal(err)
		}
	}

	errc := make(chan error, 1)

	// Enqueue one-time jobs
	go func() {
		errc <- enqueuer(ctx, s, handlerIDs, *fillTime)
	}()

	// Print stats
	go logger(ctx, s, *logInterval)

	// Wait for e.g. Ctrl+C
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
		log.Printf("signal %v", fmt.Sprint(<-c))
		errc <- d.CloseWithTimeout(*shutdownTimeout)
	}()

	if err := <-errc; err != nil {
		log.Fatal(err)
	}
	log.Print("exiting")
}

func enqueuer(ctx context.Context, s *jobsched.Scheduler, handlerIDs []string, fillTime time.Duration) error {
	var cnt int

	fillTimeNanos := fillTime.Nanoseconds()
	for {
		time.Sleep(time.Duration(rand.Int63n(fillTimeNanos)) * time.Nanosecond)
		handlerID := handlerIDs[rand.Intn(len(handlerIDs))]
		cnt++
		payload := fmt.Sprintf("#%05d", cnt)
		_, err := s.RunNow(ctx, handlerID, payload)
		if err != nil {
			return err
		}
	}
}

func logger(ctx context.Context, s *jobsched.Scheduler, d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()

	for range t.C {
		stats, err := s.Stats(ctx)
		if err == nil {
			fmt.Printf("Pending=%6d Processing=%6d Completed=%6d Failed=%6d Cancelled=%6d\n",
				stats.Pending,
				stats.Processing,
				stats.Completed,
				stats.Failed,
				stats.Cancelled)
		}
	}
}

func makeHandler(failureRate float64, runTime time.Duration) jobsched.Handler {
	runTimeNanos := runTime.Nanoseconds()
	return jobsched.HandlerFunc(func(ctx context.Context, payload string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(rand.Int63n(runTimeNanos)) * time.Nanosecond):
		}
		if rand.Float64() < failureRate {
			return errors.New("handler failed")
		}
		return nil
	})
}
