package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBroker keeps everything in process memory. It is used in tests and
// single-process development setups; jobs are lost on restart.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	dedup  map[string]time.Time // queue/id -> reservation expiry
	seq    uint64
	closed bool
	now    func() time.Time
}

type memQueue struct {
	jobs      map[string]*Job
	seq       map[string]uint64
	wait      map[string]struct{}
	delayed   map[string]struct{}
	active    map[string]time.Time
	completed []string // newest first
	failed    []string
	repeat    map[string]RecurringEntry
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: map[string]*memQueue{},
		dedup:  map[string]time.Time{},
		now:    time.Now,
	}
}

func (b *MemoryBroker) q(name string) *memQueue {
	mq := b.queues[name]
	if mq == nil {
		mq = &memQueue{
			jobs:    map[string]*Job{},
			seq:     map[string]uint64{},
			wait:    map[string]struct{}{},
			delayed: map[string]struct{}{},
			active:  map[string]time.Time{},
			repeat:  map[string]RecurringEntry{},
		}
		b.queues[name] = mq
	}
	return mq
}

func (b *MemoryBroker) Push(_ context.Context, job *Job, dedupTTL time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	now := b.now()
	dk := job.Queue + "/" + job.ID
	if exp, ok := b.dedup[dk]; ok {
		if now.Before(exp) {
			return ErrDuplicate
		}
		delete(b.dedup, dk)
	}
	mq := b.q(job.Queue)
	if _, ok := mq.jobs[job.ID]; ok {
		return ErrDuplicate
	}
	if dedupTTL > 0 {
		b.dedup[dk] = now.Add(dedupTTL)
	}
	b.seq++
	if b.seq%dedupSweepEvery == 0 {
		b.sweepDedup(now)
	}
	j := job.clone()
	mq.jobs[j.ID] = j
	mq.seq[j.ID] = b.seq
	if j.State == StateDelayed {
		mq.delayed[j.ID] = struct{}{}
	} else {
		j.State = StateWaiting
		mq.wait[j.ID] = struct{}{}
	}
	return nil
}

// dedupSweepEvery is how many pushes pass between sweeps of expired
// reservations.
const dedupSweepEvery = 256

func (b *MemoryBroker) sweepDedup(now time.Time) {
	for k, exp := range b.dedup {
		if !now.Before(exp) {
			delete(b.dedup, k)
		}
	}
}

func (b *MemoryBroker) Pop(_ context.Context, queue string, now time.Time) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	mq := b.q(queue)
	for id := range mq.delayed {
		j := mq.jobs[id]
		if j == nil {
			delete(mq.delayed, id)
			continue
		}
		if !j.RunAt.After(now) {
			delete(mq.delayed, id)
			j.State = StateWaiting
			mq.wait[id] = struct{}{}
		}
	}

	var best *Job
	for id := range mq.wait {
		j := mq.jobs[id]
		if j == nil {
			delete(mq.wait, id)
			continue
		}
		if best == nil || j.Opts.Priority < best.Opts.Priority ||
			(j.Opts.Priority == best.Opts.Priority && mq.seq[id] < mq.seq[best.ID]) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	delete(mq.wait, best.ID)
	best.State = StateActive
	best.ProcessedAt = now
	mq.active[best.ID] = now
	return best.clone(), nil
}

func (b *MemoryBroker) finish(job *Job, state State, keep int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	mq := b.q(job.Queue)
	delete(mq.active, job.ID)
	delete(mq.wait, job.ID)
	delete(mq.delayed, job.ID)

	j := job.clone()
	j.State = state
	keep = retainLimit(keep)
	if keep == 0 {
		delete(mq.jobs, j.ID)
		delete(mq.seq, j.ID)
		return nil
	}
	mq.jobs[j.ID] = j

	list := &mq.completed
	if state == StateFailed {
		list = &mq.failed
	}
	*list = append([]string{j.ID}, *list...)
	if len(*list) > keep {
		for _, id := range (*list)[keep:] {
			delete(mq.jobs, id)
			delete(mq.seq, id)
		}
		*list = (*list)[:keep]
	}
	return nil
}

func (b *MemoryBroker) Complete(_ context.Context, job *Job) error {
	return b.finish(job, StateCompleted, job.Opts.RemoveOnComplete)
}

func (b *MemoryBroker) Fail(_ context.Context, job *Job) error {
	return b.finish(job, StateFailed, job.Opts.RemoveOnFail)
}

func (b *MemoryBroker) Retry(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	mq := b.q(job.Queue)
	delete(mq.active, job.ID)
	delete(mq.wait, job.ID)
	j := job.clone()
	j.State = StateDelayed
	mq.jobs[j.ID] = j
	mq.delayed[j.ID] = struct{}{}
	return nil
}

func (b *MemoryBroker) RequeueStalled(_ context.Context, queue string, before time.Time) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	mq := b.q(queue)
	var ids []string
	for id, started := range mq.active {
		if started.Before(before) {
			delete(mq.active, id)
			if j := mq.jobs[id]; j != nil {
				j.State = StateWaiting
				mq.wait[id] = struct{}{}
			}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *MemoryBroker) Get(_ context.Context, queue, id string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j := b.q(queue).jobs[id]
	if j == nil {
		return nil, ErrNotFound
	}
	return j.clone(), nil
}

func (b *MemoryBroker) History(_ context.Context, queue string, state State, limit int) ([]*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mq := b.q(queue)
	var ids []string
	switch state {
	case StateCompleted:
		ids = mq.completed
	case StateFailed:
		ids = mq.failed
	default:
		return nil, nil
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		if j := mq.jobs[id]; j != nil {
			out = append(out, j.clone())
		}
	}
	return out, nil
}

func (b *MemoryBroker) Counts(_ context.Context, queue string) (Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mq := b.q(queue)
	return Counts{
		Waiting:   int64(len(mq.wait)),
		Delayed:   int64(len(mq.delayed)),
		Active:    int64(len(mq.active)),
		Completed: int64(len(mq.completed)),
		Failed:    int64(len(mq.failed)),
	}, nil
}

func (b *MemoryBroker) PutRecurring(_ context.Context, e RecurringEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	e.Payload = append([]byte(nil), e.Payload...)
	b.q(e.Queue).repeat[e.Key] = e
	return nil
}

func (b *MemoryBroker) ListRecurring(_ context.Context, queue string) ([]RecurringEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	mq := b.q(queue)
	out := make([]RecurringEntry, 0, len(mq.repeat))
	for _, e := range mq.repeat {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (b *MemoryBroker) AdvanceRecurring(_ context.Context, queue, key string, next time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	mq := b.q(queue)
	e, ok := mq.repeat[key]
	if !ok {
		return ErrNotFound
	}
	e.NextRun = next
	mq.repeat[key] = e
	return nil
}

func (b *MemoryBroker) RemoveRecurring(_ context.Context, queue, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	mq := b.q(queue)
	if _, ok := mq.repeat[key]; !ok {
		return ErrNotFound
	}
	delete(mq.repeat, key)
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
