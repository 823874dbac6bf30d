// Command ui serves a small web dashboard over a running job queue. It
// streams queue statistics and live job state changes to the browser
// over a websocket.
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"time"

	"github.com/edukit/jobsched"
	"github.com/edukit/jobsched/mongodb"
	"github.com/edukit/jobsched/mysql"
	"github.com/edukit/jobsched/sqlite"
	"github.com/edukit/jobsched/ui/server"
)

func main() {
	const (
		exampleDBURL = "root@tcp(127.0.0.1:3306)/jobsched_ui?loc=UTC&parseTime=true"
	)
	var (
		addr    = flag.String("addr", "127.0.0.1:12345", "HTTP bind address")
		dbtype  = flag.String("dbtype", "sqlite", "Storage type (memory, sqlite, mysql or mongodb)")
		dburl   = flag.String("dburl", "jobsched_ui.db", "database path/dsn, e.g. "+exampleDBURL)
		dbdebug = flag.Bool("dbdebug", false, "Enabled debug output for DB store")
		demo    = flag.Bool("demo", true, "run a demo dispatcher that generates traffic")
	)
	flag.Parse()

	rand.Seed(time.Now().UnixNano())

	// Initialize the store
	var err error
	var store jobsched.Store
	switch *dbtype {
	case "mysql":
		var dboptions []mysql.StoreOption
		if *dbdebug {
			dboptions = append(dboptions, mysql.SetDebug(true))
		}
		store, err = mysql.NewStore(*dburl, dboptions...)
	case "mongodb":
		store, err = mongodb.NewStore(*dburl)
	case "sqlite":
		store, err = sqlite.NewStore(*dburl)
	case "memory":
		store = jobsched.NewInMemoryStore()
	default:
		log.Fatalf("unknown dbtype %q", *dbtype)
	}
	if err != nil {
		log.Fatal(err)
	}

	var srv *server.Server
	s := jobsched.New(
		jobsched.SetStore(store),
		jobsched.SetObserver(jobsched.ObserverFunc(func(record *jobsched.JobRecord) {
			if srv != nil {
				srv.Notify(record)
			}
		})),
	)
	srv = server.New(s)

	if *demo {
		if err := runDemo(s); err != nil {
			log.Fatal(err)
		}
	}

	log.Printf("listening on %s", *addr)
	log.Fatal(srv.Serve(*addr))
}

// runDemo registers a couple of handlers, starts a dispatcher, and
// keeps the queue busy so there is something to look at.
func runDemo(s *jobsched.Scheduler) error {
	reg := jobsched.NewRegistry()
	err := reg.Register("demo.sleep", jobsched.HandlerFunc(func(ctx context.Context, payload string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(rand.Int63n(int64(2 * time.Second)))):
			return nil
		}
	}))
	if err != nil {
		return err
	}
	err = reg.Register("demo.flaky", jobsched.HandlerFunc(func(ctx context.Context, payload string) error {
		if rand.Float64() < 0.3 {
			return context.DeadlineExceeded
		}
		return nil
	}))
	if err != nil {
		return err
	}

	d := jobsched.NewDispatcher(s, reg, jobsched.SetWorkers(2))
	if err := d.Start(); err != nil {
		return err
	}

	ctx := context.Background()
	if _, err := s.RunEverySeconds(ctx, "demo_heartbeat", "demo.sleep", "", 10); err != nil {
		return err
	}
	go func() {
		for {
			time.Sleep(time.Duration(rand.Int63n(int64(3 * time.Second))))
			handlerID := "demo.sleep"
			if rand.Float64() < 0.5 {
				handlerID = "demo.flaky"
			}
			if _, err := s.RunNow(ctx, handlerID, ""); err != nil {
				log.Printf("enqueue: %v", err)
				return
			}
		}
	}()
	return nil
}
