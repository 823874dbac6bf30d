package mongodb

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/globalsign/mgo"

	"github.com/edukit/jobsched"
)

const (
	testDBURL = "mongodb://localhost/jobsched_test"
)

func TestMain(m *testing.M) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	uri, err := url.Parse(testDBURL)
	if err != nil {
		panic(fmt.Sprintf("unable to parse connection string %q: %v", testDBURL, err))
	}
	if uri.Path == "" || uri.Path == "/" {
		panic(fmt.Sprintf("no database specified in connection string %q", testDBURL))
	}
	dbname := strings.TrimLeft(uri.Path, "/") // uri.Path[1:]

	session, err := mgo.DialWithTimeout(testDBURL, 15*time.Second)
	if err != nil {
		panic(fmt.Sprintf("unable to connect to %q: %v", testDBURL, err))
	}
	defer session.Close()

	code := m.Run()

	err = session.DB(dbname).DropDatabase()
	if err != nil {
		panic(fmt.Sprintf("unable to drop database in connection string %q: %v", testDBURL, err))
	}

	os.Exit(code)
}

func TestMongoDBNewStore(t *testing.T) {
	_, err := NewStore(testDBURL)
	if err != nil {
		t.Fatalf("NewStore returned %v", err)
	}
}

func TestMongoDBInsertAndGet(t *testing.T) {
	st, err := NewStore(testDBURL)
	if err != nil {
		t.Fatalf("NewStore returned %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	record := &jobsched.JobRecord{
		ID:          "mongo-insert-1",
		JobName:     "a",
		HandlerID:   "demo.tick",
		Kind:        jobsched.OneTime,
		Status:      jobsched.Pending,
		ScheduledAt: now,
		MaxRetries:  3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := st.Insert(ctx, record); err != nil {
		t.Fatalf("Insert failed with %v", err)
	}
	job, err := st.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID failed with %v", err)
	}
	if have, want := job.JobName, "a"; have != want {
		t.Fatalf("JobName = %q, want %q", have, want)
	}
	if !job.ScheduledAt.Equal(now) {
		t.Fatalf("ScheduledAt = %v, want %v", job.ScheduledAt, now)
	}

	if _, err := st.GetByID(ctx, "mongo-no-such-id"); err != jobsched.ErrNotFound {
		t.Fatalf("expected ErrNotFound, have %v", err)
	}
}

func TestMongoDBTryClaim(t *testing.T) {
	st, err := NewStore(testDBURL)
	if err != nil {
		t.Fatalf("NewStore returned %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	record := &jobsched.JobRecord{
		ID:          "mongo-claim-1",
		JobName:     "b",
		HandlerID:   "demo.tick",
		Kind:        jobsched.OneTime,
		Status:      jobsched.Pending,
		ScheduledAt: now.Add(-time.Minute),
		MaxRetries:  3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := st.Insert(ctx, record); err != nil {
		t.Fatalf("Insert failed with %v", err)
	}

	job, err := st.TryClaim(ctx, now, "lock-1", time.Hour)
	if err != nil {
		t.Fatalf("TryClaim failed with %v", err)
	}
	if job == nil {
		t.Fatal("expected a claim")
	}
	if have, want := job.Status, jobsched.Processing; have != want {
		t.Fatalf("Status = %v, want %v", have, want)
	}
	if have, want := job.LockID, "lock-1"; have != want {
		t.Fatalf("LockID = %q, want %q", have, want)
	}

	second, err := st.TryClaim(ctx, now, "lock-2", time.Hour)
	if err != nil {
		t.Fatalf("TryClaim failed with %v", err)
	}
	if second != nil && second.ID == job.ID {
		t.Fatalf("record %q claimed twice", job.ID)
	}
}

// TestMongoDBJobSuccess is the green case where a job runs end to end
// against a live MongoDB store.
func TestMongoDBJobSuccess(t *testing.T) {
	jobDone := make(chan struct{}, 1)

	st, err := NewStore(testDBURL)
	if err != nil {
		t.Fatalf("NewStore returned %v", err)
	}
	defer st.Close()

	s := jobsched.New(jobsched.SetStore(st))
	reg := jobsched.NewRegistry()
	err = reg.Register("demo.hello", jobsched.HandlerFunc(func(ctx context.Context, payload string) error {
		if have, want := payload, "Hello"; have != want {
			return fmt.Errorf("expected payload %q, have %q", want, have)
		}
		jobDone <- struct{}{}
		return nil
	}))
	if err != nil {
		t.Fatalf("Register failed with %v", err)
	}

	d := jobsched.NewDispatcher(s, reg, jobsched.SetPollInterval(100*time.Millisecond))
	if err := d.Start(); err != nil {
		t.Fatalf("Start failed with %v", err)
	}
	defer d.Stop()

	job, err := s.RunNow(context.Background(), "demo.hello", "Hello")
	if err != nil {
		t.Fatalf("RunNow failed with %v", err)
	}
	if job.ID == "" {
		t.Fatalf("Job ID = %q", job.ID)
	}
	select {
	case <-jobDone:
	case <-time.After(5 * time.Second):
		t.Fatal("handler timed out")
	}
}
