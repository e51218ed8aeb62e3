package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxPending bounds the kick list; extra kicks carry no information.
const maxPending = 100

// KickQueue is a Redis list the API pushes to when new work arrives. The
// worker blocks on it between scheduled passes.
type KickQueue struct {
	rdb       *redis.Client
	queueName string
}

func NewKickQueue(rdb *redis.Client, queueName string) *KickQueue {
	return &KickQueue{rdb: rdb, queueName: queueName}
}

// Kick pushes reason onto the queue.
func (q *KickQueue) Kick(ctx context.Context, reason string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, q.queueName, reason)
		p.LTrim(ctx, q.queueName, 0, maxPending-1)
		return nil
	})
	return err
}

// Wait blocks up to timeout for a kick (BRPOP). Kicks queued behind the one
// received are dropped: a single pass serves all of them.
func (q *KickQueue) Wait(ctx context.Context, timeout time.Duration) (string, bool, error) {
	if timeout < time.Second {
		timeout = time.Second
	}
	res, err := q.rdb.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	if len(res) < 2 {
		return "", false, nil
	}
	_ = q.rdb.Del(ctx, q.queueName).Err()
	return res[1], true, nil
}
