package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a durable intake for run requests: producers LPUSH onto a
// list and consumers BRPOP from it, so requests come out oldest first and
// survive a restart of the server.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(addr, password, key string) *RedisQueue {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	return &RedisQueue{client: rdb, key: key}
}

func (r *RedisQueue) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisQueue) Push(ctx context.Context, req RunRequest) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return r.client.LPush(ctx, r.key, b).Err()
}

// Requeue puts req back at the consuming end, so it is the next one popped.
func (r *RedisQueue) Requeue(ctx context.Context, req RunRequest) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.key, b).Err()
}

// Pop waits up to timeout for a request. It returns nil, nil when none
// arrived in time.
func (r *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*RunRequest, error) {
	res, err := r.client.BRPop(ctx, timeout, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// BRPOP replies with [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply: %v", res)
	}

	var req RunRequest
	if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
		return nil, fmt.Errorf("decoding run request: %w", err)
	}
	return &req, nil
}

func (r *RedisQueue) Len(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.key).Result()
}

// Consume hands every request to handle until ctx is done. A request that
// handle fails is put back for the next pop. Malformed requests are logged
// and dropped; connection errors back off briefly.
func (r *RedisQueue) Consume(ctx context.Context, l *slog.Logger, handle func(context.Context, RunRequest) error) {
	for ctx.Err() == nil {
		req, err := r.Pop(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.Error("failed to pop run request", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if req == nil {
			continue
		}
		if err := handle(ctx, *req); err != nil {
			l.Warn("run request not accepted, requeueing", "run", req.RunId().String(), "error", err)
			// ctx may be done already, the request must still go back
			requeueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := r.Requeue(requeueCtx, *req); err != nil {
				l.Error("failed to requeue run request", "run", req.RunId().String(), "error", err)
			}
			cancel()
		}
	}
}

func (r *RedisQueue) Close() error {
	return r.client.Close()
}
