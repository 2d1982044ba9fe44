// queue.go
//
// Redis-backed background task queue. Request handlers Submit a task kind and
// return immediately; StartWorker drains the list in a background goroutine
// and runs the handler registered for each kind. Tasks carry no arguments:
// they are maintenance jobs that look at current state when they run.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list used as the task queue.
const QueueKey = "provenance:tasks"

// debouncePrefix namespaces the per-kind debounce keys.
const debouncePrefix = "provenance:tasks:debounce:"

// ErrQueueFull is returned by Submit when the queue has reached its size cap.
var ErrQueueFull = errors.New("task queue full")

// Handler runs one task. Returned errors are logged by the worker.
type Handler func(ctx context.Context) error

// Task is the serialized payload pushed onto the queue.
type Task struct {
	Kind        string `json:"kind"`
	SubmittedAt int64  `json:"submitted_at"` // unix millis
}

// Queue submits and runs tasks.
type Queue struct {
	rdb          *redis.Client
	maxQueueSize int64         // 0 = unlimited
	debounce     time.Duration // 0 = every Submit enqueues

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewQueue returns a Queue on the shared Redis client.
// A kind submitted again within debounce of an accepted submission is dropped.
func NewQueue(rdb *redis.Client, maxSize int64, debounce time.Duration) *Queue {
	return &Queue{
		rdb:          rdb,
		maxQueueSize: maxSize,
		debounce:     debounce,
		handlers:     make(map[string]Handler),
	}
}

// Register sets the handler for kind. Call before StartWorker.
func (q *Queue) Register(kind string, h Handler) {
	q.mu.Lock()
	q.handlers[kind] = h
	q.mu.Unlock()
}

// submitScript atomically applies the size cap and the debounce, then pushes.
// Returns 1 if enqueued, 0 if the queue is full, 2 if debounced.
// KEYS[1] = queue key, KEYS[2] = debounce key,
// ARGV[1] = max size (0 = skip check), ARGV[2] = payload, ARGV[3] = debounce ms (0 = off).
var submitScript = redis.NewScript(`
local max = tonumber(ARGV[1])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
    return 0
end
local debounce = tonumber(ARGV[3])
if debounce > 0 then
    if not redis.call('SET', KEYS[2], '1', 'NX', 'PX', debounce) then
        return 2
    end
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// Submit enqueues a task of the given kind.
// Returns ErrQueueFull if the queue has reached its cap; a debounced submit is not an error.
func (q *Queue) Submit(ctx context.Context, kind string) error {
	data, err := json.Marshal(Task{Kind: kind, SubmittedAt: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshaling task: %w", err)
	}
	res, err := submitScript.Run(ctx, q.rdb,
		[]string{QueueKey, debouncePrefix + kind},
		q.maxQueueSize, data, q.debounce.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("enqueuing task: %w", err)
	}
	switch res {
	case 0:
		return ErrQueueFull
	case 2:
		slog.Debug("task debounced", "kind", kind)
	}
	return nil
}

// StartWorker drains the queue in a loop, dispatching each task to its handler.
// Blocks until ctx is cancelled (server shutdown). Call in a goroutine.
func (q *Queue) StartWorker(ctx context.Context) {
	for {
		// BLPop blocks up to 2s then returns redis.Nil -- keeps the loop
		// responsive to ctx cancellation without busy-spinning.
		res, err := q.rdb.BLPop(ctx, 2*time.Second, QueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return // server shutting down
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			slog.Error("task worker: queue pop failed", "error", err)
			// Back off so a dead Redis doesn't spin the loop.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		// res[0] = key name, res[1] = payload
		var task Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			slog.Error("task worker: bad task payload", "error", err)
			continue
		}
		q.dispatch(ctx, task)
	}
}

// dispatch runs the handler registered for task.Kind.
// Errors are logged and dropped -- tasks are idempotent maintenance, the next submit retries.
func (q *Queue) dispatch(ctx context.Context, task Task) {
	q.mu.RLock()
	h, ok := q.handlers[task.Kind]
	q.mu.RUnlock()
	if !ok {
		slog.Error("task worker: unknown task kind", "kind", task.Kind)
		return
	}

	start := time.Now()
	if err := h(ctx); err != nil {
		slog.Error("task worker: task failed", "kind", task.Kind, "error", err)
		return
	}
	slog.Debug("task complete", "kind", task.Kind,
		"queued_ms", start.UnixMilli()-task.SubmittedAt, "run_ms", time.Since(start).Milliseconds())
}
