package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const reevalList = "policylens:reeval"

// RedisQueue pushes re-evaluation batches onto a Redis list. A worker (or
// the batch endpoint) drains it; the durable token lives in MySQL, the
// list entry is only the wake-up signal.
type RedisQueue struct {
	client *redis.Client
}

type batchMessage struct {
	Token       string    `json:"token"`
	DecisionIDs []string  `json:"decision_ids"`
	QueuedAt    time.Time `json:"queued_at"`
}

func NewRedisQueue(addr, password string, db int) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisQueue{client: client}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, token string, decisionIDs []string) error {
	msg, err := json.Marshal(batchMessage{
		Token:       token,
		DecisionIDs: decisionIDs,
		QueuedAt:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("encode batch message: %w", err)
	}
	if err := q.client.RPush(ctx, reevalList, msg).Err(); err != nil {
		return fmt.Errorf("enqueue batch: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next batch. Returns empty token
// when nothing arrived.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, []string, error) {
	res, err := q.client.BLPop(ctx, timeout, reevalList).Result()
	if err == redis.Nil {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("dequeue batch: %w", err)
	}
	var msg batchMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return "", nil, fmt.Errorf("decode batch message: %w", err)
	}
	return msg.Token, msg.DecisionIDs, nil
}

// Ping for health checks
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
