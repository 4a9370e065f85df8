package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"quizcast/internal/bulk"
	"quizcast/internal/storage"
	"quizcast/pkg/logx"
)

// Ledger owns every Job for its lifetime. The dispatch engine is the only
// writer while a job is RUNNING; readers get snapshots. Persistence is a
// best-effort write-through to the audit store.
type Ledger struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*Job

	store storage.Store
	log   logx.Logger
}

const storeTimeout = 2 * time.Second

// New builds a ledger. store may be nil (no persistence). When a store is
// present, the id counter resumes above the highest persisted job id.
func New(store storage.Store, log logx.Logger) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Ledger{nextID: 1, jobs: map[int64]*Job{}, store: store, log: log}
	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if last, err := store.LastJobID(ctx); err == nil && last >= l.nextID {
			l.nextID = last + 1
		} else if err != nil {
			log.Warn("ledger could not resume job counter", logx.Err(err))
		}
	}
	return l
}

// Create allocates a new PENDING job with a monotonic id.
func (l *Ledger) Create(createdBy int64, actions []bulk.Action, destinations []int64) int64 {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	j := &Job{
		ID:           id,
		CreatedBy:    createdBy,
		Actions:      append([]bulk.Action(nil), actions...),
		Destinations: append([]int64(nil), destinations...),
		Status:       StatusPending,
		CreatedAt:    time.Now(),
	}
	l.jobs[id] = j
	l.mu.Unlock()

	l.persist(func(ctx context.Context, st storage.Store) error {
		return st.InsertJob(ctx, storage.JobRecord{
			ID:           id,
			CreatedBy:    createdBy,
			Status:       string(StatusPending),
			Actions:      len(actions),
			Destinations: len(destinations),
			CreatedAt:    j.CreatedAt,
		})
	})
	return id
}

// Begin transitions PENDING → RUNNING.
func (l *Ledger) Begin(id int64) error {
	l.mu.Lock()
	j, ok := l.jobs[id]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownJob
	}
	if j.Status != StatusPending {
		l.mu.Unlock()
		return ErrNotPending
	}
	j.Status = StatusRunning
	j.StartedAt = time.Now()
	l.mu.Unlock()

	l.persist(func(ctx context.Context, st storage.Store) error {
		return st.SetJobStatus(ctx, id, string(StatusRunning))
	})
	return nil
}

// Record appends an item result; valid only while RUNNING.
func (l *Ledger) Record(id int64, r ItemResult) error {
	l.mu.Lock()
	j, ok := l.jobs[id]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownJob
	}
	if j.Status != StatusRunning {
		l.mu.Unlock()
		return ErrNotRunning
	}
	j.Results = append(j.Results, r)
	l.mu.Unlock()

	l.persist(func(ctx context.Context, st storage.Store) error {
		return st.AppendResult(ctx, storage.ResultRecord{
			JobID:       id,
			Destination: r.Destination,
			ActionIndex: r.ActionIndex,
			Outcome:     string(r.Outcome),
			Attempts:    r.Attempts,
			Err:         r.Err,
		})
	})
	return nil
}

// Finish transitions RUNNING → COMPLETED or ABORTED. Terminal states are
// never re-entered and the job becomes immutable.
func (l *Ledger) Finish(id int64, status Status) error {
	if !status.Terminal() {
		return ErrNotRunning
	}
	l.mu.Lock()
	j, ok := l.jobs[id]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownJob
	}
	if j.Status != StatusRunning {
		l.mu.Unlock()
		return ErrNotRunning
	}
	j.Status = status
	j.FinishedAt = time.Now()
	l.mu.Unlock()

	l.persist(func(ctx context.Context, st storage.Store) error {
		return st.SetJobStatus(ctx, id, string(status))
	})
	return nil
}

// Snapshot returns a copy of the job safe for concurrent readers.
func (l *Ledger) Snapshot(id int64) (Job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, ok := l.jobs[id]
	if !ok {
		return Job{}, false
	}
	cp := *j
	cp.Actions = append([]bulk.Action(nil), j.Actions...)
	cp.Destinations = append([]int64(nil), j.Destinations...)
	cp.Results = append([]ItemResult(nil), j.Results...)
	return cp, true
}

// Recent returns snapshots of the newest jobs, newest first.
func (l *Ledger) Recent(n int) []Job {
	if n <= 0 {
		return nil
	}
	l.mu.Lock()
	ids := make([]int64, 0, len(l.jobs))
	for id := range l.jobs {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if len(ids) > n {
		ids = ids[:n]
	}
	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		if j, ok := l.Snapshot(id); ok {
			out = append(out, j)
		}
	}
	return out
}

func (l *Ledger) persist(fn func(ctx context.Context, st storage.Store) error) {
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := fn(ctx, l.store); err != nil {
		l.log.Warn("ledger persistence failed", logx.Err(err))
	}
}
