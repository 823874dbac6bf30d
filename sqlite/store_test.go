package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/edukit/jobsched"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "jobsched_test.db"))
	if err != nil {
		t.Fatalf("NewStore returned %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Start(context.Background()); err != nil {
		t.Fatalf("Start failed with %v", err)
	}
	return st
}

func testRecord(id, name string, scheduledAt time.Time) *jobsched.JobRecord {
	return &jobsched.JobRecord{
		ID:          id,
		JobName:     name,
		HandlerID:   "demo.tick",
		Kind:        jobsched.OneTime,
		Status:      jobsched.Pending,
		ScheduledAt: scheduledAt,
		MaxRetries:  3,
		CreatedAt:   scheduledAt,
		UpdatedAt:   scheduledAt,
	}
}

func TestSQLiteInsertAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	record := testRecord("1", "a", now)
	record.Payload = `{"user":42}`
	if err := st.Insert(ctx, record); err != nil {
		t.Fatalf("Insert failed with %v", err)
	}

	job, err := st.GetByID(ctx, "1")
	if err != nil {
		t.Fatalf("GetByID failed with %v", err)
	}
	if have, want := job.JobName, "a"; have != want {
		t.Fatalf("JobName = %q, want %q", have, want)
	}
	if have, want := job.Payload, `{"user":42}`; have != want {
		t.Fatalf("Payload = %q, want %q", have, want)
	}
	if !job.ScheduledAt.Equal(now) {
		t.Fatalf("ScheduledAt = %v, want %v", job.ScheduledAt, now)
	}

	if _, err := st.GetByID(ctx, "2"); err != jobsched.ErrNotFound {
		t.Fatalf("expected ErrNotFound, have %v", err)
	}
}

func TestSQLiteUpdate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	record := testRecord("1", "a", now)
	if err := st.Insert(ctx, record); err != nil {
		t.Fatalf("Insert failed with %v", err)
	}
	record.Status = jobsched.Cancelled
	record.CompletedAt = &now
	if err := st.Update(ctx, record); err != nil {
		t.Fatalf("Update failed with %v", err)
	}
	job, err := st.GetByID(ctx, "1")
	if err != nil {
		t.Fatalf("GetByID failed with %v", err)
	}
	if have, want := job.Status, jobsched.Cancelled; have != want {
		t.Fatalf("Status = %v, want %v", have, want)
	}
	if job.CompletedAt == nil || !job.CompletedAt.Equal(now) {
		t.Fatalf("CompletedAt = %v, want %v", job.CompletedAt, now)
	}

	missing := testRecord("2", "b", now)
	if err := st.Update(ctx, missing); err != jobsched.ErrNotFound {
		t.Fatalf("expected ErrNotFound, have %v", err)
	}
}

func TestSQLiteInsertDuplicateRecurringName(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := testRecord("1", "nightlyReport", now)
	first.Kind = jobsched.Recurring
	first.IntervalSeconds = 60
	if err := st.Insert(ctx, first); err != nil {
		t.Fatalf("Insert failed with %v", err)
	}
	second := testRecord("2", "nightlyReport", now)
	second.Kind = jobsched.Recurring
	second.IntervalSeconds = 60
	if err := st.Insert(ctx, second); err != jobsched.ErrDuplicateJob {
		t.Fatalf("expected ErrDuplicateJob, have %v", err)
	}
}

func TestSQLiteTryClaim(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := st.Insert(ctx, testRecord("late", "a", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Insert failed with %v", err)
	}
	if err := st.Insert(ctx, testRecord("early", "b", now.Add(-time.Hour))); err != nil {
		t.Fatalf("Insert failed with %v", err)
	}
	if err := st.Insert(ctx, testRecord("future", "c", now.Add(time.Hour))); err != nil {
		t.Fatalf("Insert failed with %v", err)
	}

	job, err := st.TryClaim(ctx, now, "lock-1", time.Minute)
	if err != nil {
		t.Fatalf("TryClaim failed with %v", err)
	}
	if job == nil {
		t.Fatal("expected a claim")
	}
	if have, want := job.ID, "early"; have != want {
		t.Fatalf("claimed %q, want %q", have, want)
	}
	if have, want := job.Status, jobsched.Processing; have != want {
		t.Fatalf("Status = %v, want %v", have, want)
	}
	if have, want := job.LockID, "lock-1"; have != want {
		t.Fatalf("LockID = %q, want %q", have, want)
	}
	if job.LockExpiresAt == nil {
		t.Fatal("LockExpiresAt is nil")
	}

	// Second claim picks the remaining due record
	job, err = st.TryClaim(ctx, now, "lock-2", time.Minute)
	if err != nil {
		t.Fatalf("TryClaim failed with %v", err)
	}
	if job == nil {
		t.Fatal("expected a claim")
	}
	if have, want := job.ID, "late"; have != want {
		t.Fatalf("claimed %q, want %q", have, want)
	}

	// Third claim finds nothing: the future record is not due
	job, err = st.TryClaim(ctx, now, "lock-3", time.Minute)
	if err != nil {
		t.Fatalf("TryClaim failed with %v", err)
	}
	if job != nil {
		t.Fatalf("expected no claim, claimed %q", job.ID)
	}
}

func TestSQLiteTryClaimReclaimsExpiredLock(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := st.Insert(ctx, testRecord("1", "a", now.Add(-time.Hour))); err != nil {
		t.Fatalf("Insert failed with %v", err)
	}
	if _, err := st.TryClaim(ctx, now.Add(-30*time.Minute), "lock-1", time.Minute); err != nil {
		t.Fatalf("TryClaim failed with %v", err)
	}

	job, err := st.TryClaim(ctx, now, "lock-2", time.Minute)
	if err != nil {
		t.Fatalf("TryClaim failed with %v", err)
	}
	if job == nil {
		t.Fatal("expected to reclaim the orphaned record")
	}
	if have, want := job.LockID, "lock-2"; have != want {
		t.Fatalf("LockID = %q, want %q", have, want)
	}
}

func TestSQLiteCancel(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := st.Insert(ctx, testRecord("1", "a", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Insert failed with %v", err)
	}

	record, err := st.Cancel(ctx, "1", now)
	if err != nil {
		t.Fatalf("Cancel failed with %v", err)
	}
	if record == nil {
		t.Fatal("expected Cancel to cancel a Pending record")
	}
	if have, want := record.Status, jobsched.Cancelled; have != want {
		t.Fatalf("Status = %v, want %v", have, want)
	}
	if record.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}

	// Already terminal: refused without error
	record, err = st.Cancel(ctx, "1", now)
	if err != nil {
		t.Fatalf("Cancel failed with %v", err)
	}
	if record != nil {
		t.Fatal("expected Cancel to refuse a Cancelled record")
	}

	// Claimed by a worker: refused, lock untouched
	if err := st.Insert(ctx, testRecord("2", "b", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Insert failed with %v", err)
	}
	if _, err := st.TryClaim(ctx, now, "lock-1", time.Hour); err != nil {
		t.Fatalf("TryClaim failed with %v", err)
	}
	record, err = st.Cancel(ctx, "2", now)
	if err != nil {
		t.Fatalf("Cancel failed with %v", err)
	}
	if record != nil {
		t.Fatal("expected Cancel to refuse a Processing record")
	}
	job, err := st.GetByID(ctx, "2")
	if err != nil {
		t.Fatalf("GetByID failed with %v", err)
	}
	if have, want := job.Status, jobsched.Processing; have != want {
		t.Fatalf("Status = %v, want %v", have, want)
	}
	if have, want := job.LockID, "lock-1"; have != want {
		t.Fatalf("LockID = %q, want %q", have, want)
	}

	if _, err := st.Cancel(ctx, "no-such-id", now); err != jobsched.ErrNotFound {
		t.Fatalf("expected ErrNotFound, have %v", err)
	}
}

func TestSQLiteCancelByName(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	record := testRecord("1", "nightlyReport", now)
	record.Kind = jobsched.Recurring
	record.IntervalSeconds = 60
	if err := st.Insert(ctx, record); err != nil {
		t.Fatalf("Insert failed with %v", err)
	}

	cancelled, err := st.CancelByName(ctx, "nightlyReport", now)
	if err != nil {
		t.Fatalf("CancelByName failed with %v", err)
	}
	if have, want := len(cancelled), 1; have != want {
		t.Fatalf("len(cancelled) = %d, want %d", have, want)
	}
	if have, want := cancelled[0].Status, jobsched.Cancelled; have != want {
		t.Fatalf("Status = %v, want %v", have, want)
	}

	if _, err := st.FindRecurringByName(ctx, "nightlyReport"); err != jobsched.ErrNotFound {
		t.Fatalf("expected ErrNotFound, have %v", err)
	}
}

func TestSQLiteDeleteAndStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := st.Insert(ctx, testRecord("1", "a", now)); err != nil {
		t.Fatalf("Insert failed with %v", err)
	}
	if err := st.Insert(ctx, testRecord("2", "b", now)); err != nil {
		t.Fatalf("Insert failed with %v", err)
	}
	if err := st.Delete(ctx, "2"); err != nil {
		t.Fatalf("Delete failed with %v", err)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed with %v", err)
	}
	if have, want := stats.Pending, 1; have != want {
		t.Fatalf("Pending = %d, want %d", have, want)
	}
}

// TestSQLiteJobSuccess is the green case end to end: a scheduler and a
// dispatcher sharing a SQLite store run a one-time job to completion.
func TestSQLiteJobSuccess(t *testing.T) {
	st := newTestStore(t)

	jobDone := make(chan struct{}, 1)

	s := jobsched.New(jobsched.SetStore(st))
	reg := jobsched.NewRegistry()
	err := reg.Register("demo.hello", jobsched.HandlerFunc(func(ctx context.Context, payload string) error {
		if have, want := payload, "Hello"; have != want {
			t.Errorf("payload = %q, want %q", have, want)
		}
		jobDone <- struct{}{}
		return nil
	}))
	if err != nil {
		t.Fatalf("Register failed with %v", err)
	}

	d := jobsched.NewDispatcher(s, reg,
		jobsched.SetPollInterval(10*time.Millisecond),
		jobsched.SetWorkers(2),
	)
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

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err = s.GetByID(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetByID failed with %v", err)
		}
		if job.Status == jobsched.Completed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never completed, status is %v", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
