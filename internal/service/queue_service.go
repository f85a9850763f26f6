package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is the worker side of the job queue.
type Queue interface {
	Enqueue(ctx context.Context, jobID string, priority int) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	Touch(ctx context.Context, jobID string) error
	RequeueStale(ctx context.Context, olderThan time.Duration, maxPerLane int64) (int64, error)
}

type Lane struct {
	QueueKey      string
	ProcessingKey string
}

// QueueKeys names every Redis key the queue uses.
type QueueKeys struct {
	Low, Normal, High Lane
	// ProcessingMapKey maps a claimed id to the processing list holding it.
	ProcessingMapKey string
	// ClaimsKey is a sorted set of claimed ids scored by their last heartbeat.
	ClaimsKey string
}

// DefaultQueueKeys derives lane keys from a queue and a processing prefix.
func DefaultQueueKeys(queueKey, processingKey string) QueueKeys {
	return QueueKeys{
		Low:              Lane{QueueKey: queueKey + ":low", ProcessingKey: processingKey + ":low"},
		Normal:           Lane{QueueKey: queueKey + ":normal", ProcessingKey: processingKey + ":normal"},
		High:             Lane{QueueKey: queueKey + ":high", ProcessingKey: processingKey + ":high"},
		ProcessingMapKey: processingKey + ":map",
		ClaimsKey:        processingKey + ":claims",
	}
}

// redisPriorityQueue is a reliable priority queue on Redis lists.
// Claim: BRPOPLPUSH lane.queue -> lane.processing, then record the lane and
// the claim time. Ack removes the id from its processing list. Ids whose
// claim was not refreshed for a while are pushed back to the head of their
// queue (at-least-once delivery).
type redisPriorityQueue struct {
	rdb  *redis.Client
	keys QueueKeys
	now  func() time.Time
}

func NewRedisPriorityQueue(rdb *redis.Client, keys QueueKeys) Queue {
	return &redisPriorityQueue{rdb: rdb, keys: keys, now: time.Now}
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 2 {
		return 2
	}
	return p
}

func (q *redisPriorityQueue) laneByPriority(p int) Lane {
	switch clampPriority(p) {
	case 2:
		return q.keys.High
	case 1:
		return q.keys.Normal
	default:
		return q.keys.Low
	}
}

func (q *redisPriorityQueue) lanes() []Lane {
	return []Lane{q.keys.High, q.keys.Normal, q.keys.Low}
}

func (q *redisPriorityQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	ln := q.laneByPriority(priority)
	return q.rdb.LPush(ctx, ln.QueueKey, jobID).Err()
}

// ClaimBlocking tries high->normal->low with short blocking slots, so it
// mostly blocks but still respects priority. It returns redis.Nil when
// nothing arrived within timeout.
func (q *redisPriorityQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	forever := timeout <= 0
	deadline := time.Now().Add(timeout)

	slot := 1 * time.Second
	if !forever && timeout < slot {
		slot = timeout
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !forever && time.Now().After(deadline) {
			return "", redis.Nil
		}

		for _, ln := range q.lanes() {
			wait := slot
			if !forever {
				remain := time.Until(deadline)
				if remain <= 0 {
					return "", redis.Nil
				}
				if remain < wait {
					wait = remain
				}
			}

			id, err := q.rdb.BRPopLPush(ctx, ln.QueueKey, ln.ProcessingKey, wait).Result()
			if err == nil {
				if err := q.recordClaim(ctx, id, ln); err != nil {
					return "", err
				}
				return id, nil
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return "", err
		}
	}
}

func (q *redisPriorityQueue) recordClaim(ctx context.Context, id string, ln Lane) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.keys.ProcessingMapKey, id, ln.ProcessingKey)
		p.ZAdd(ctx, q.keys.ClaimsKey, redis.Z{Score: float64(q.now().Unix()), Member: id})
		return nil
	})
	return err
}

// Touch refreshes the claim of an in-flight job so the reaper leaves it alone.
func (q *redisPriorityQueue) Touch(ctx context.Context, jobID string) error {
	return q.rdb.ZAddXX(ctx, q.keys.ClaimsKey, redis.Z{Score: float64(q.now().Unix()), Member: jobID}).Err()
}

func (q *redisPriorityQueue) Ack(ctx context.Context, jobID string) error {
	processingKey, err := q.rdb.HGet(ctx, q.keys.ProcessingMapKey, jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// mapping is missing (requeued meanwhile or claimed by an older
			// version): try every processing list
			for _, ln := range q.lanes() {
				_ = q.rdb.LRem(ctx, ln.ProcessingKey, 1, jobID).Err()
			}
			_ = q.rdb.ZRem(ctx, q.keys.ClaimsKey, jobID).Err()
			return nil
		}
		return err
	}

	if err := q.rdb.LRem(ctx, processingKey, 1, jobID).Err(); err != nil {
		return err
	}
	_ = q.rdb.HDel(ctx, q.keys.ProcessingMapKey, jobID).Err()
	_ = q.rdb.ZRem(ctx, q.keys.ClaimsKey, jobID).Err()
	return nil
}

// requeueScript moves one id from a processing list back to the head of its
// queue unless it was acked meanwhile.
var requeueScript = redis.NewScript(`
local removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
if removed > 0 then
	redis.call('RPUSH', KEYS[2], ARGV[1])
end
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
return removed
`)

// RequeueStale hands back claims older than olderThan, at most maxPerLane
// per lane.
func (q *redisPriorityQueue) RequeueStale(ctx context.Context, olderThan time.Duration, maxPerLane int64) (int64, error) {
	cutoff := q.now().Add(-olderThan).Unix()
	ids, err := q.rdb.ZRangeByScore(ctx, q.keys.ClaimsKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoff, 10),
		Count: maxPerLane * 3,
	}).Result()
	if err != nil {
		return 0, err
	}

	var moved int64
	perLane := map[string]int64{}
	for _, id := range ids {
		processingKey, err := q.rdb.HGet(ctx, q.keys.ProcessingMapKey, id).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return moved, err
		}
		ln, ok := q.laneByProcessingKey(processingKey)
		if !ok {
			_ = q.rdb.ZRem(ctx, q.keys.ClaimsKey, id).Err()
			continue
		}
		if perLane[ln.QueueKey] >= maxPerLane {
			continue
		}

		n, err := requeueScript.Run(ctx, q.rdb,
			[]string{ln.ProcessingKey, ln.QueueKey, q.keys.ProcessingMapKey, q.keys.ClaimsKey}, id,
		).Int64()
		if err != nil {
			return moved, err
		}
		if n > 0 {
			moved++
			perLane[ln.QueueKey]++
		}
	}
	return moved, nil
}

func (q *redisPriorityQueue) laneByProcessingKey(key string) (Lane, bool) {
	for _, ln := range q.lanes() {
		if ln.ProcessingKey == key {
			return ln, true
		}
	}
	return Lane{}, false
}
