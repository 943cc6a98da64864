package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"meetflow/internal/eventbus"
	logx "meetflow/pkg/logx"
)

// Handler processes one job attempt. The returned value is stored as the
// job result (JSON). Returning an error schedules a retry unless attempts are
// exhausted or the error is wrapped with NoRetry.
type Handler func(ctx context.Context, job *Job) (any, error)

type WorkerOptions struct {
	// Concurrency is the number of jobs processed at once (default 1).
	Concurrency int
	// Limiter, when set, caps how fast jobs are started across all slots.
	Limiter *rate.Limiter
	// PollInterval is the idle sleep between dequeue attempts.
	PollInterval time.Duration
	// Timeout bounds one attempt; zero means no deadline.
	Timeout time.Duration
	// MaxBackoff caps retry delays.
	MaxBackoff time.Duration
	// StallAfter requeues jobs left active longer than this by a dead process.
	StallAfter time.Duration
}

// Worker consumes one queue.
type Worker struct {
	q       *Queue
	handler Handler
	opt     WorkerOptions
	log     logx.Logger

	inFlight  atomic.Int32
	processed atomic.Uint64
	failed    atomic.Uint64
}

func NewWorker(q *Queue, h Handler, opt WorkerOptions) *Worker {
	if opt.Concurrency <= 0 {
		opt.Concurrency = 1
	}
	if opt.PollInterval <= 0 {
		opt.PollInterval = time.Second
	}
	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = defaultMaxBackoff
	}
	if opt.StallAfter <= 0 {
		opt.StallAfter = max(30*time.Minute, 2*opt.Timeout)
	}
	return &Worker{q: q, handler: h, opt: opt, log: q.log.With(logx.String("comp", "worker"))}
}

func (w *Worker) Queue() *Queue { return w.q }

// WorkerStats is a point-in-time view for the admin API.
type WorkerStats struct {
	Queue       string `json:"queue"`
	Concurrency int    `json:"concurrency"`
	InFlight    int    `json:"in_flight"`
	Processed   uint64 `json:"processed"`
	Failed      uint64 `json:"failed"`
}

func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Queue:       w.q.name,
		Concurrency: w.opt.Concurrency,
		InFlight:    int(w.inFlight.Load()),
		Processed:   w.processed.Load(),
		Failed:      w.failed.Load(),
	}
}

// Run consumes jobs until ctx is done. Each slot handles one job at a time,
// so Concurrency 1 serializes the queue within this process.
func (w *Worker) Run(ctx context.Context) error {
	if w.handler == nil {
		return errors.New("queue: worker handler is nil")
	}
	w.log.Info("worker started", logx.Int("concurrency", w.opt.Concurrency))
	w.requeueStalled(ctx)

	var wg sync.WaitGroup
	for i := 0; i < w.opt.Concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			w.slot(ctx, idx)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(max(w.opt.StallAfter/4, time.Minute))
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				w.requeueStalled(ctx)
			}
		}
	}()
	wg.Wait()
	w.log.Info("worker stopped")
	return ctx.Err()
}

func (w *Worker) requeueStalled(ctx context.Context) {
	now := w.q.now()
	ids, err := w.q.broker.RequeueStalled(ctx, w.q.name, now.Add(-w.opt.StallAfter))
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("stalled check failed", logx.Err(err))
		}
		return
	}
	for _, id := range ids {
		w.log.Warn("job stalled; requeued", logx.String("id", id))
		w.publish(EventStalled, Event{Queue: w.q.name, JobID: id})
	}
}

func (w *Worker) slot(ctx context.Context, idx int) {
	// Per-slot RNG: avoids global lock contention when many jobs retry at once.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))
	for ctx.Err() == nil {
		job, err := w.q.broker.Pop(ctx, w.q.name, w.q.now())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("dequeue failed", logx.Err(err))
			w.idle(ctx, rng, true)
			continue
		}
		if job == nil {
			w.idle(ctx, rng, false)
			continue
		}
		// Dequeue first, then wait for a rate token.
		if w.opt.Limiter != nil {
			if err := w.opt.Limiter.Wait(ctx); err != nil {
				w.release(job)
				return
			}
		}
		w.inFlight.Add(1)
		w.execOne(ctx, job, rng)
		w.inFlight.Add(-1)
	}
}

// release hands an unstarted job back on shutdown without spending an attempt.
func (w *Worker) release(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job.RunAt = w.q.now()
	if err := w.q.broker.Retry(ctx, job); err != nil {
		w.log.Warn("release job failed", logx.String("id", job.ID), logx.Err(err))
	}
}

func (w *Worker) idle(ctx context.Context, rng *rand.Rand, errored bool) {
	d := w.opt.PollInterval
	if errored {
		d *= 5
	}
	d += time.Duration(rng.Int63n(int64(d/5) + 1))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.q.wake:
	case <-t.C:
	}
}

func (w *Worker) execOne(ctx context.Context, job *Job, rng *rand.Rand) {
	start := time.Now()
	job.AttemptsMade++
	log := w.log.With(logx.String("job", job.Name), logx.String("id", job.ID), logx.Int("attempt", job.AttemptsMade))
	log.Debug("job.started")

	runCtx := ctx
	var cancel context.CancelFunc
	if w.opt.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, w.opt.Timeout)
	}
	var (
		result any
		err    error
	)
	// A panicking handler fails the attempt instead of killing the slot.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Error("job.panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		result, err = w.handler(runCtx, job)
	}()
	if cancel != nil {
		cancel()
	}
	dur := time.Since(start)
	w.processed.Add(1)

	// Bookkeeping must survive shutdown of the consume context.
	bctx, bcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer bcancel()
	now := w.q.now()

	if err == nil {
		if result != nil {
			if b, merr := json.Marshal(result); merr == nil {
				job.Result = b
			} else {
				log.Warn("job result not serializable", logx.Err(merr))
			}
		}
		job.FinishedAt = now
		job.FailedReason = ""
		if cerr := w.q.broker.Complete(bctx, job); cerr != nil {
			log.Error("complete job failed", logx.Err(cerr))
		}
		if dur >= 750*time.Millisecond {
			log.Info("job.completed", logx.Duration("dur", dur))
		} else {
			log.Debug("job.completed", logx.Duration("dur", dur))
		}
		w.publish(EventCompleted, Event{Queue: w.q.name, JobID: job.ID, Name: job.Name, Attempt: job.AttemptsMade, Result: job.Result, Duration: dur})
		return
	}

	job.FailedReason = err.Error()
	if IsNoRetry(err) || job.AttemptsMade >= job.Opts.Attempts {
		job.FinishedAt = now
		w.failed.Add(1)
		if ferr := w.q.broker.Fail(bctx, job); ferr != nil {
			log.Error("fail job failed", logx.Err(ferr))
		}
		log.Warn("job.failed", logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", job.Opts.Attempts))
		w.publish(EventFailed, Event{Queue: w.q.name, JobID: job.ID, Name: job.Name, Attempt: job.AttemptsMade, Err: job.FailedReason, Duration: dur, Final: true})
		return
	}

	delay := backoffDelay(job.Opts.Backoff, job.AttemptsMade, err, w.opt.MaxBackoff, rng)
	job.RunAt = now.Add(delay)
	if rerr := w.q.broker.Retry(bctx, job); rerr != nil {
		log.Error("retry job failed", logx.Err(rerr))
	}
	log.Debug("job retry scheduled", logx.Duration("delay", delay), logx.Err(err))
	w.publish(EventRetrying, Event{Queue: w.q.name, JobID: job.ID, Name: job.Name, Attempt: job.AttemptsMade, Err: job.FailedReason, Delay: delay, Duration: dur})
}

func (w *Worker) publish(typ string, ev Event) {
	if w.q.bus == nil {
		return
	}
	w.q.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
