package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue state keys. A job lives in exactly one of the three ZSETs; its
// payload sits in a hash keyed by the deterministic job id.
const (
	delayedKey = "pulseguard:queue:delayed" // score = due unix ms
	waitingKey = "pulseguard:queue:waiting" // score = priority bucket + enqueue ms
	activeKey  = "pulseguard:queue:active"  // score = lease expiry unix ms
	jobPrefix  = "pulseguard:job:"
)

const (
	KindScheduled = "scheduled"
	KindImmediate = "immediate"

	priorityImmediate = 1
	priorityScheduled = 5

	// JobLease covers the 120s maximum probe timeout plus overhead. Workers
	// renew at half-life.
	JobLease = 180 * time.Second
)

// Job is one claimed unit of work.
type Job struct {
	ID        string
	MonitorID string
	Kind      string
}

// JobID is deterministic so a double enqueue collapses into an upsert.
func JobID(kind, monitorID string) string {
	return kind + "-" + monitorID
}

// waitingScore buckets by priority first, FIFO within a bucket.
const priorityBucket = 1e15

// enqueueLua places a job into delayed or waiting. An immediate job that
// already exists in any state is skipped (de-bounce); a scheduled job is
// upserted.
var enqueueLua = redis.NewScript(`
local delayed = KEYS[1]
local waiting = KEYS[2]
local active  = KEYS[3]
local jobKey  = KEYS[4]
local id        = ARGV[1]
local monitorId = ARGV[2]
local kind      = ARGV[3]
local priority  = tonumber(ARGV[4])
local now       = tonumber(ARGV[5])
local due       = tonumber(ARGV[6])

if kind == 'immediate' then
  if redis.call('ZSCORE', delayed, id) or redis.call('ZSCORE', waiting, id)
      or redis.call('ZSCORE', active, id) then
    return 0
  end
end

redis.call('HSET', jobKey, 'monitor_id', monitorId, 'kind', kind, 'priority', priority)
if due > now then
  redis.call('ZREM', waiting, id)
  redis.call('ZADD', delayed, due, id)
else
  redis.call('ZREM', delayed, id)
  redis.call('ZADD', waiting, priority * 1e15 + now, id)
end
return 1
`)

// promoteLua moves due delayed jobs into waiting at their priority.
var promoteLua = redis.NewScript(`
local delayed = KEYS[1]
local waiting = KEYS[2]
local prefix  = ARGV[1]
local now     = tonumber(ARGV[2])
local limit   = tonumber(ARGV[3])

local ids = redis.call('ZRANGEBYSCORE', delayed, '-inf', now, 'LIMIT', 0, limit)
for i = 1, #ids do
  local priority = tonumber(redis.call('HGET', prefix .. ids[i], 'priority')) or 5
  redis.call('ZREM', delayed, ids[i])
  redis.call('ZADD', waiting, priority * 1e15 + now, ids[i])
end
return #ids
`)

// claimLua takes the best waiting jobs and leases them.
var claimLua = redis.NewScript(`
local waiting = KEYS[1]
local active  = KEYS[2]
local now   = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local lease = tonumber(ARGV[3])

local ids = redis.call('ZRANGEBYSCORE', waiting, '-inf', '+inf', 'LIMIT', 0, limit)
for i = 1, #ids do
  redis.call('ZREM', waiting, ids[i])
  redis.call('ZADD', active, now + lease, ids[i])
end
return ids
`)

// reclaimLua returns expired active jobs to waiting. A worker that died
// mid-check loses its lease and the job is retried elsewhere.
var reclaimLua = redis.NewScript(`
local active  = KEYS[1]
local waiting = KEYS[2]
local prefix  = ARGV[1]
local now     = tonumber(ARGV[2])

local ids = redis.call('ZRANGEBYSCORE', active, '-inf', now)
for i = 1, #ids do
  local priority = tonumber(redis.call('HGET', prefix .. ids[i], 'priority')) or 5
  redis.call('ZREM', active, ids[i])
  redis.call('ZADD', waiting, priority * 1e15 + now, ids[i])
end
return #ids
`)

// completeLua drops a finished job from active and deletes its payload hash
// unless a re-enqueued run with the same id is already sitting in delayed or
// waiting, in which case the hash belongs to that job now.
var completeLua = redis.NewScript(`
local delayed = KEYS[1]
local waiting = KEYS[2]
local active  = KEYS[3]
local prefix  = ARGV[1]
local id      = ARGV[2]

redis.call('ZREM', active, id)
if not redis.call('ZSCORE', delayed, id) and not redis.call('ZSCORE', waiting, id) then
  redis.call('DEL', prefix .. id)
end
return 1
`)

// removeLua evicts a monitor's jobs from delayed and waiting. Active jobs
// are left to drain; they cannot be interrupted cleanly.
var removeLua = redis.NewScript(`
local delayed = KEYS[1]
local waiting = KEYS[2]
local active  = KEYS[3]
local prefix  = ARGV[1]
local removed = 0
for i = 2, #ARGV do
  local id = ARGV[i]
  if not redis.call('ZSCORE', active, id) then
    removed = removed + redis.call('ZREM', delayed, id)
    removed = removed + redis.call('ZREM', waiting, id)
    redis.call('DEL', prefix .. id)
  end
end
return removed
`)

// purgeLua clears delayed and waiting wholesale, skipping any job currently
// active. Used once per master tenure before resyncing from the store.
var purgeLua = redis.NewScript(`
local delayed = KEYS[1]
local waiting = KEYS[2]
local active  = KEYS[3]
local prefix  = ARGV[1]
local purged = 0
for _, key in ipairs({delayed, waiting}) do
  local ids = redis.call('ZRANGE', key, 0, -1)
  for i = 1, #ids do
    if not redis.call('ZSCORE', active, ids[i]) then
      redis.call('ZREM', key, ids[i])
      redis.call('DEL', prefix .. ids[i])
      purged = purged + 1
    end
  end
end
return purged
`)

// Queue is the Redis-backed job queue. Deterministic ids give upsert
// semantics; three ZSETs model the delayed, waiting and active states.
type Queue struct {
	rdb redis.UniversalClient
}

func NewQueue(rdb redis.UniversalClient) *Queue {
	return &Queue{rdb: rdb}
}

func jobPriority(kind string) int {
	if kind == KindImmediate {
		return priorityImmediate
	}
	return priorityScheduled
}

// Enqueue adds a job for the monitor. delay <= 0 lands it in waiting
// directly. Returns false when an immediate job was de-bounced.
func (q *Queue) Enqueue(ctx context.Context, monitorID, kind string, delay time.Duration) (bool, error) {
	id := JobID(kind, monitorID)
	now := time.Now().UnixMilli()
	due := now
	if delay > 0 {
		due = now + delay.Milliseconds()
	}
	n, err := enqueueLua.Run(ctx, q.rdb,
		[]string{delayedKey, waitingKey, activeKey, jobPrefix + id},
		id, monitorID, kind, jobPriority(kind), now, due).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", id, err)
	}
	return n == 1, nil
}

// Promote moves due delayed jobs to waiting.
func (q *Queue) Promote(ctx context.Context) (int, error) {
	return promoteLua.Run(ctx, q.rdb,
		[]string{delayedKey, waitingKey},
		jobPrefix, time.Now().UnixMilli(), 1000).Int()
}

// Claim leases up to limit waiting jobs, immediate jobs first.
func (q *Queue) Claim(ctx context.Context, limit int) ([]Job, error) {
	res, err := claimLua.Run(ctx, q.rdb,
		[]string{waitingKey, activeKey},
		time.Now().UnixMilli(), limit, JobLease.Milliseconds()).StringSlice()
	if err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(res))
	for _, id := range res {
		fields, err := q.rdb.HGetAll(ctx, jobPrefix+id).Result()
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, Job{
			ID:        id,
			MonitorID: fields["monitor_id"],
			Kind:      fields["kind"],
		})
	}
	return jobs, nil
}

// ExtendLease renews an active job's lease. The XX flag means a job that was
// reclaimed in the meantime stays reclaimed.
func (q *Queue) ExtendLease(ctx context.Context, jobID string) error {
	expiry := float64(time.Now().Add(JobLease).UnixMilli())
	return q.rdb.ZAddXX(ctx, activeKey, redis.Z{Score: expiry, Member: jobID}).Err()
}

// Complete removes a finished job and its payload. The worker re-enqueues
// the next scheduled run before calling Complete, and the deterministic id
// means that fresh job shares this payload hash; the hash is only deleted
// when no delayed or waiting entry still points at it.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	return completeLua.Run(ctx, q.rdb,
		[]string{delayedKey, waitingKey, activeKey},
		jobPrefix, jobID).Err()
}

// Reclaim returns jobs with expired leases to waiting.
func (q *Queue) Reclaim(ctx context.Context) (int, error) {
	return reclaimLua.Run(ctx, q.rdb,
		[]string{activeKey, waitingKey},
		jobPrefix, time.Now().UnixMilli()).Int()
}

// RemoveMonitor evicts the monitor's queue entries. In-flight jobs drain.
func (q *Queue) RemoveMonitor(ctx context.Context, monitorID string) error {
	return removeLua.Run(ctx, q.rdb,
		[]string{delayedKey, waitingKey, activeKey},
		jobPrefix, JobID(KindScheduled, monitorID), JobID(KindImmediate, monitorID)).Err()
}

// Purge clears delayed and waiting, skipping active jobs.
func (q *Queue) Purge(ctx context.Context) (int, error) {
	return purgeLua.Run(ctx, q.rdb,
		[]string{delayedKey, waitingKey, activeKey}, jobPrefix).Int()
}

// Counts reports queue depth per state for metrics.
func (q *Queue) Counts(ctx context.Context) (delayed, waiting, active int64, err error) {
	pipe := q.rdb.Pipeline()
	d := pipe.ZCard(ctx, delayedKey)
	w := pipe.ZCard(ctx, waitingKey)
	a := pipe.ZCard(ctx, activeKey)
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return d.Val(), w.Val(), a.Val(), nil
}
