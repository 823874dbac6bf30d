package mongodb

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"

	"github.com/edukit/jobsched"
)

const (
	// socketTimeout should be long enough that even a slow mongo server
	// will respond in that length of time. Since mongo servers ping themselves
	// every 10 seconds, we use a value just over 2 ping periods to allow
	// for delayed pings due to issues such as CPU starvation etc.
	socketTimeout = 21 * time.Second

	// dialTimeout should be representative of the upper bound of the
	// time taken to dial a mongo server from within the same cloud/private
	// network.
	dialTimeout = 30 * time.Second

	// defaultCollectionName is the name of the collection in MongoDB.
	// It can be overridden by SetCollectionName.
	defaultCollectionName = "jobsched_jobs"
)

// Store represents a MongoDB-based storage backend.
// It implements the jobsched.Store interface.
type Store struct {
	session        *mgo.Session
	db             *mgo.Database
	coll           *mgo.Collection
	collectionName string
}

// StoreOption is an options provider for Store.
type StoreOption func(*Store)

// SetCollectionName overrides the default collection name.
func SetCollectionName(collectionName string) StoreOption {
	return func(s *Store) {
		s.collectionName = collectionName
	}
}

// NewStore creates a new MongoDB-based storage backend.
func NewStore(mongodbURL string, options ...StoreOption) (*Store, error) {
	st := &Store{
		collectionName: defaultCollectionName,
	}
	for _, opt := range options {
		opt(st)
	}

	uri, err := url.Parse(mongodbURL)
	if err != nil {
		return nil, err
	}
	if uri.Path == "" || uri.Path == "/" {
		return nil, errors.New("mongodb: database missing in URL")
	}
	dbname := uri.Path[1:]

	st.session, err = mgo.DialWithTimeout(mongodbURL, dialTimeout)
	if err != nil {
		return nil, err
	}

	st.session.SetMode(mgo.Monotonic, true)
	st.session.SetSocketTimeout(socketTimeout)

	// Create collection if it does not exist
	st.db = st.session.DB(dbname)
	st.coll = st.db.C(st.collectionName)

	// Create indices
	err = st.coll.EnsureIndexKey("job_name")
	if err != nil {
		return nil, err
	}
	err = st.coll.EnsureIndexKey("status", "scheduled_at")
	if err != nil {
		return nil, err
	}
	err = st.coll.EnsureIndexKey("lock_expires_at")
	if err != nil {
		return nil, err
	}

	return st, nil
}

// Close the MongoDB store.
func (s *Store) Close() error {
	s.session.Close()
	return nil
}

func (s *Store) wrapError(err error) error {
	if err == mgo.ErrNotFound {
		// Map mgo.ErrNotFound to jobsched-specific "not found" error
		return jobsched.ErrNotFound
	}
	return err
}

// Start is called when the dispatcher starts up. Stale Processing
// records are deliberately left alone: their expired leases make them
// eligible for reclaim by the next TryClaim, even across restarts.
func (s *Store) Start(ctx context.Context) error {
	return nil
}

// Insert adds a new record to the store.
func (s *Store) Insert(ctx context.Context, record *jobsched.JobRecord) error {
	if record.Kind == jobsched.Recurring {
		_, err := s.FindRecurringByName(ctx, record.JobName)
		if err == nil {
			return jobsched.ErrDuplicateJob
		}
		if err != jobsched.ErrNotFound {
			return err
		}
	}
	err := s.coll.Insert(newDoc(record))
	if mgo.IsDup(err) {
		return jobsched.ErrDuplicateJob
	}
	return s.wrapError(err)
}

// Update persists full-record changes.
func (s *Store) Update(ctx context.Context, record *jobsched.JobRecord) error {
	return s.wrapError(s.coll.UpdateId(record.ID, newDoc(record)))
}

// Delete soft-deletes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.wrapError(s.coll.UpdateId(id, bson.M{"$set": bson.M{"deleted": true}}))
}

// GetByID retrieves a single record by its identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*jobsched.JobRecord, error) {
	var d doc
	if err := s.coll.FindId(id).One(&d); err != nil {
		return nil, s.wrapError(err)
	}
	return d.toRecord(), nil
}

// ListByName returns all non-deleted records with the given job name.
func (s *Store) ListByName(ctx context.Context, jobName string) ([]*jobsched.JobRecord, error) {
	var docs []doc
	err := s.coll.Find(bson.M{
		"job_name": jobName,
		"deleted":  bson.M{"$ne": true},
	}).Sort("created_at").All(&docs)
	if err != nil {
		return nil, s.wrapError(err)
	}
	records := make([]*jobsched.JobRecord, len(docs))
	for i := range docs {
		records[i] = docs[i].toRecord()
	}
	return records, nil
}

// FindRecurringByName returns the active recurring record with the
// given job name.
func (s *Store) FindRecurringByName(ctx context.Context, jobName string) (*jobsched.JobRecord, error) {
	var d doc
	err := s.coll.Find(bson.M{
		"job_name": jobName,
		"kind":     string(jobsched.Recurring),
		"status":   bson.M{"$ne": string(jobsched.Cancelled)},
		"deleted":  bson.M{"$ne": true},
	}).One(&d)
	if err != nil {
		return nil, s.wrapError(err)
	}
	return d.toRecord(), nil
}

// TryClaim leases one due record. findAndModify applies the update to a
// single matching document atomically, so at most one caller claims a
// given record.
func (s *Store) TryClaim(ctx context.Context, now time.Time, lockID string, lease time.Duration) (*jobsched.JobRecord, error) {
	nowNanos := now.UnixNano()
	eligible := bson.M{
		"deleted":      bson.M{"$ne": true},
		"scheduled_at": bson.M{"$lte": nowNanos},
		"$or": []bson.M{
			{
				"status": string(jobsched.Pending),
				"$or": []bson.M{
					{"lock_expires_at": nil},
					{"lock_expires_at": bson.M{"$lte": nowNanos}},
				},
			},
			{
				"status":          string(jobsched.Processing),
				"lock_expires_at": bson.M{"$ne": nil, "$lte": nowNanos},
			},
		},
	}
	change := mgo.Change{
		Update: bson.M{"$set": bson.M{
			"status":          string(jobsched.Processing),
			"lock_id":         lockID,
			"lock_expires_at": now.Add(lease).UnixNano(),
			"started_at":      nowNanos,
			"updated_at":      nowNanos,
		}},
		ReturnNew: true,
	}
	var d doc
	_, err := s.coll.Find(eligible).Sort("scheduled_at").Apply(change, &d)
	if err == mgo.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d.toRecord(), nil
}

// Cancel transitions a Pending record to Cancelled with a single
// conditional update: a worker that claimed the record in the meantime
// keeps it, and Cancel reports nil.
func (s *Store) Cancel(ctx context.Context, id string, now time.Time) (*jobsched.JobRecord, error) {
	nowNanos := now.UnixNano()
	err := s.coll.Update(
		bson.M{"_id": id, "status": string(jobsched.Pending)},
		bson.M{"$set": bson.M{
			"status":       string(jobsched.Cancelled),
			"completed_at": nowNanos,
			"updated_at":   nowNanos,
		}},
	)
	if err == mgo.ErrNotFound {
		// Missing or not Pending; GetByID tells the two apart.
		if _, err := s.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// CancelByName cancels all Pending recurring records with the given
// name, each with its own conditional update so records claimed by a
// worker in the meantime are left alone.
func (s *Store) CancelByName(ctx context.Context, jobName string, now time.Time) ([]*jobsched.JobRecord, error) {
	var docs []doc
	err := s.coll.Find(bson.M{
		"job_name": jobName,
		"kind":     string(jobsched.Recurring),
		"status":   string(jobsched.Pending),
		"deleted":  bson.M{"$ne": true},
	}).All(&docs)
	if err != nil {
		return nil, s.wrapError(err)
	}

	var cancelled []*jobsched.JobRecord
	for i := range docs {
		record, err := s.Cancel(ctx, docs[i].ID, now)
		if err != nil {
			return nil, err
		}
		if record != nil {
			cancelled = append(cancelled, record)
		}
	}
	return cancelled, nil
}

// Stats returns statistics about the records in the store.
func (s *Store) Stats(ctx context.Context) (*jobsched.Stats, error) {
	count := func(status jobsched.Status) (int, error) {
		return s.coll.Find(bson.M{
			"status":  string(status),
			"deleted": bson.M{"$ne": true},
		}).Count()
	}
	stats := &jobsched.Stats{}
	var err error
	if stats.Pending, err = count(jobsched.Pending); err != nil {
		return nil, err
	}
	if stats.Processing, err = count(jobsched.Processing); err != nil {
		return nil, err
	}
	if stats.Completed, err = count(jobsched.Completed); err != nil {
		return nil, err
	}
	if stats.Failed, err = count(jobsched.Failed); err != nil {
		return nil, err
	}
	if stats.Cancelled, err = count(jobsched.Cancelled); err != nil {
		return nil, err
	}
	return stats, nil
}
