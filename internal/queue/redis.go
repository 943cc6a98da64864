package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker stores queues in Redis so several meetflowd processes can share
// them. Per queue, with prefix p:
//
//	p:{q}:jobs       HASH  id -> job JSON
//	p:{q}:wait       ZSET  id scored by priority, then enqueue time
//	p:{q}:delayed    ZSET  id scored by run-at (unix ms)
//	p:{q}:active     ZSET  id scored by start time (unix ms)
//	p:{q}:completed  LIST  ids, newest first, trimmed to the retention option
//	p:{q}:failed     LIST  ids, newest first
//	p:{q}:repeat     HASH  key -> recurring entry JSON
//	p:{q}:dedup:{id} STRING reservation with TTL
type RedisBroker struct {
	rdb    *redis.Client
	prefix string
	// promoteBatch bounds how many due delayed jobs one Pop moves.
	promoteBatch int64
}

// ConnectRedis parses a redis:// URL and verifies the connection with PING.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func NewRedisBroker(rdb *redis.Client, prefix string) *RedisBroker {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "meetflow"
	}
	return &RedisBroker{rdb: rdb, prefix: prefix, promoteBatch: 100}
}

func (b *RedisBroker) key(queue, part string) string {
	return b.prefix + ":" + queue + ":" + part
}

// waitScore orders by priority first, then FIFO. Fits a float64 exactly for
// priorities up to 100 and millisecond timestamps.
func waitScore(j *Job) float64 {
	return float64(j.Opts.Priority)*1e13 + float64(j.CreatedAt.UnixMilli())
}

func (b *RedisBroker) Push(ctx context.Context, job *Job, dedupTTL time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if dedupTTL > 0 {
		ok, err := b.rdb.SetNX(ctx, b.key(job.Queue, "dedup:"+job.ID), "1", dedupTTL).Result()
		if err != nil {
			return err
		}
		if !ok {
			return ErrDuplicate
		}
	}
	ok, err := b.rdb.HSetNX(ctx, b.key(job.Queue, "jobs"), job.ID, data).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicate
	}
	if job.State == StateDelayed {
		return b.rdb.ZAdd(ctx, b.key(job.Queue, "delayed"), redis.Z{
			Score:  float64(job.RunAt.UnixMilli()),
			Member: job.ID,
		}).Err()
	}
	return b.rdb.ZAdd(ctx, b.key(job.Queue, "wait"), redis.Z{Score: waitScore(job), Member: job.ID}).Err()
}

func (b *RedisBroker) getJob(ctx context.Context, queue, id string) (*Job, error) {
	raw, err := b.rdb.HGet(ctx, b.key(queue, "jobs"), id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

// promote moves due delayed jobs to the wait set. Concurrent promoters may
// both ZADD the same id; the sorted set keeps it once.
func (b *RedisBroker) promote(ctx context.Context, queue string, now time.Time) error {
	ids, err := b.rdb.ZRangeByScore(ctx, b.key(queue, "delayed"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: b.promoteBatch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}
	vals, err := b.rdb.HMGet(ctx, b.key(queue, "jobs"), ids...).Result()
	if err != nil {
		return err
	}
	pipe := b.rdb.TxPipeline()
	for i, id := range ids {
		pipe.ZRem(ctx, b.key(queue, "delayed"), id)
		s, ok := vals[i].(string)
		if !ok {
			continue
		}
		var j Job
		if err := json.Unmarshal([]byte(s), &j); err != nil {
			continue
		}
		pipe.ZAdd(ctx, b.key(queue, "wait"), redis.Z{Score: waitScore(&j), Member: id})
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Pop(ctx context.Context, queue string, now time.Time) (*Job, error) {
	if err := b.promote(ctx, queue, now); err != nil {
		return nil, fmt.Errorf("promote delayed: %w", err)
	}
	for {
		zs, err := b.rdb.ZPopMin(ctx, b.key(queue, "wait"), 1).Result()
		if err != nil {
			return nil, err
		}
		if len(zs) == 0 {
			return nil, nil
		}
		id, _ := zs[0].Member.(string)
		j, err := b.getJob(ctx, queue, id)
		if errors.Is(err, ErrNotFound) {
			// Record trimmed away while waiting.
			continue
		}
		if err != nil {
			return nil, err
		}
		j.State = StateActive
		j.ProcessedAt = now
		data, err := json.Marshal(j)
		if err != nil {
			return nil, err
		}
		pipe := b.rdb.TxPipeline()
		pipe.HSet(ctx, b.key(queue, "jobs"), id, data)
		pipe.ZAdd(ctx, b.key(queue, "active"), redis.Z{Score: float64(now.UnixMilli()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		return j, nil
	}
}

func (b *RedisBroker) finish(ctx context.Context, job *Job, state State, keep int) error {
	j := job.clone()
	j.State = state
	keep = retainLimit(keep)
	list := b.key(j.Queue, string(state))
	jobs := b.key(j.Queue, "jobs")

	// A stalled requeue may have put the id back in wait while it still ran.
	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, b.key(j.Queue, "active"), j.ID)
	pipe.ZRem(ctx, b.key(j.Queue, "wait"), j.ID)
	pipe.ZRem(ctx, b.key(j.Queue, "delayed"), j.ID)
	if keep == 0 {
		pipe.HDel(ctx, jobs, j.ID)
	} else {
		data, err := json.Marshal(j)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, jobs, j.ID, data)
		pipe.LPush(ctx, list, j.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if keep == 0 {
		return nil
	}

	stale, err := b.rdb.LRange(ctx, list, int64(keep), -1).Result()
	if err != nil || len(stale) == 0 {
		return err
	}
	pipe = b.rdb.TxPipeline()
	pipe.HDel(ctx, jobs, stale...)
	pipe.LTrim(ctx, list, 0, int64(keep-1))
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Complete(ctx context.Context, job *Job) error {
	return b.finish(ctx, job, StateCompleted, job.Opts.RemoveOnComplete)
}

func (b *RedisBroker) Fail(ctx context.Context, job *Job) error {
	return b.finish(ctx, job, StateFailed, job.Opts.RemoveOnFail)
}

func (b *RedisBroker) Retry(ctx context.Context, job *Job) error {
	j := job.clone()
	j.State = StateDelayed
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, b.key(j.Queue, "active"), j.ID)
	pipe.ZRem(ctx, b.key(j.Queue, "wait"), j.ID)
	pipe.HSet(ctx, b.key(j.Queue, "jobs"), j.ID, data)
	pipe.ZAdd(ctx, b.key(j.Queue, "delayed"), redis.Z{Score: float64(j.RunAt.UnixMilli()), Member: j.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) RequeueStalled(ctx context.Context, queue string, before time.Time) ([]string, error) {
	ids, err := b.rdb.ZRangeByScore(ctx, b.key(queue, "active"), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	var moved []string
	for _, id := range ids {
		// Only the process that wins the ZREM requeues the job.
		n, err := b.rdb.ZRem(ctx, b.key(queue, "active"), id).Result()
		if err != nil {
			return moved, err
		}
		if n == 0 {
			continue
		}
		j, err := b.getJob(ctx, queue, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return moved, err
		}
		j.State = StateWaiting
		data, err := json.Marshal(j)
		if err != nil {
			return moved, err
		}
		pipe := b.rdb.TxPipeline()
		pipe.HSet(ctx, b.key(queue, "jobs"), id, data)
		pipe.ZAdd(ctx, b.key(queue, "wait"), redis.Z{Score: waitScore(j), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, err
		}
		moved = append(moved, id)
	}
	return moved, nil
}

func (b *RedisBroker) Get(ctx context.Context, queue, id string) (*Job, error) {
	return b.getJob(ctx, queue, id)
}

func (b *RedisBroker) History(ctx context.Context, queue string, state State, limit int) ([]*Job, error) {
	if state != StateCompleted && state != StateFailed {
		return nil, nil
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := b.rdb.LRange(ctx, b.key(queue, string(state)), 0, stop).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	vals, err := b.rdb.HMGet(ctx, b.key(queue, "jobs"), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var j Job
		if err := json.Unmarshal([]byte(s), &j); err != nil {
			continue
		}
		out = append(out, &j)
	}
	return out, nil
}

func (b *RedisBroker) Counts(ctx context.Context, queue string) (Counts, error) {
	pipe := b.rdb.Pipeline()
	wait := pipe.ZCard(ctx, b.key(queue, "wait"))
	delayed := pipe.ZCard(ctx, b.key(queue, "delayed"))
	active := pipe.ZCard(ctx, b.key(queue, "active"))
	completed := pipe.LLen(ctx, b.key(queue, "completed"))
	failed := pipe.LLen(ctx, b.key(queue, "failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, err
	}
	return Counts{
		Waiting:   wait.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func (b *RedisBroker) PutRecurring(ctx context.Context, e RecurringEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.rdb.HSet(ctx, b.key(e.Queue, "repeat"), e.Key, data).Err()
}

func (b *RedisBroker) ListRecurring(ctx context.Context, queue string) ([]RecurringEntry, error) {
	m, err := b.rdb.HGetAll(ctx, b.key(queue, "repeat")).Result()
	if err != nil {
		return nil, err
	}
	out := make([]RecurringEntry, 0, len(m))
	for k, v := range m {
		var e RecurringEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("decode recurring %s: %w", k, err)
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (b *RedisBroker) AdvanceRecurring(ctx context.Context, queue, key string, next time.Time) error {
	hk := b.key(queue, "repeat")
	err := b.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, hk, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var e RecurringEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return err
		}
		e.NextRun = next
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hk, key, data)
			return nil
		})
		return err
	}, hk)
	if errors.Is(err, redis.TxFailedErr) {
		// Someone else changed the entries; their write wins.
		return nil
	}
	return err
}

func (b *RedisBroker) RemoveRecurring(ctx context.Context, queue, key string) error {
	n, err := b.rdb.HDel(ctx, b.key(queue, "repeat"), key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *RedisBroker) Close() error { return b.rdb.Close() }
