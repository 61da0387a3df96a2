// Package queue implements an at-least-once message queue on Redis.
// Entries are JSON payloads; a dequeue takes a visibility lease, and an
// entry must end in exactly one of Complete (ack) or Abandon (nack).
// Abandoned or orphaned entries become redeliverable after the lease
// expires and ReclaimExpired runs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Entry wraps a dequeued payload with delivery metadata.
type Entry[T any] struct {
	ID         string
	Deliveries int
	LeaseUntil time.Time
	Payload    T
}

// Queue is a named Redis-backed queue for payloads of type T.
type Queue[T any] struct {
	client     *redis.Client
	name       string
	visibility time.Duration
}

// New builds a queue. visibility is the lease taken by each dequeue.
func New[T any](client *redis.Client, name string, visibility time.Duration) *Queue[T] {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &Queue[T]{client: client, name: name, visibility: visibility}
}

// Name returns the queue name.
func (q *Queue[T]) Name() string { return q.name }

func (q *Queue[T]) readyKey() string    { return fmt.Sprintf("q:%s:ready", q.name) }
func (q *Queue[T]) inflightKey() string { return fmt.Sprintf("q:%s:inflight", q.name) }
func (q *Queue[T]) deadKey() string     { return fmt.Sprintf("q:%s:dead", q.name) }
func (q *Queue[T]) entryKey(id string) string {
	return fmt.Sprintf("q:%s:entry:%s", q.name, id)
}

// Enqueue inserts a payload and returns the new entry id.
func (q *Queue[T]) Enqueue(ctx context.Context, payload T) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id := uuid.New().String()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.entryKey(id), "body", body, "deliveries", 0)
	pipe.RPush(ctx, q.readyKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", q.name, err)
	}
	return id, nil
}

// Dequeue pops the oldest ready entry and leases it for the visibility
// window. It returns nil when the queue is empty.
func (q *Queue[T]) Dequeue(ctx context.Context) (*Entry[T], error) {
	leaseUntil := time.Now().Add(q.visibility)
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey(), q.inflightKey()}, leaseUntil.UnixMilli()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", q.name, err)
	}
	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	vals, err := q.client.HMGet(ctx, q.entryKey(id), "body", "deliveries").Result()
	if err != nil {
		return nil, fmt.Errorf("load entry %s: %w", id, err)
	}
	body, _ := vals[0].(string)
	if body == "" {
		// Entry record vanished (completed by a racing worker); drop the lease.
		_ = q.client.ZRem(ctx, q.inflightKey(), id).Err()
		return nil, nil
	}
	deliveries := 1
	if raw, ok := vals[1].(string); ok {
		fmt.Sscanf(raw, "%d", &deliveries)
	}

	var payload T
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal entry %s: %w", id, err)
	}
	return &Entry[T]{ID: id, Deliveries: deliveries, LeaseUntil: leaseUntil, Payload: payload}, nil
}

// Complete acknowledges the entry, removing it permanently.
func (q *Queue[T]) Complete(ctx context.Context, e *Entry[T]) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey(), e.ID)
	pipe.Del(ctx, q.entryKey(e.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete %s: %w", e.ID, err)
	}
	return nil
}

// Abandon leaves the entry leased; it becomes redeliverable once the lease
// expires and a consumer reclaims it.
func (q *Queue[T]) Abandon(ctx context.Context, e *Entry[T]) error {
	// The lease already carries the redelivery deadline. Nothing to write;
	// verify the entry is still tracked so lost completes surface early.
	err := q.client.ZScore(ctx, q.inflightKey(), e.ID).Err()
	if err == redis.Nil {
		return fmt.Errorf("abandon %s: entry not in flight", e.ID)
	}
	if err != nil {
		return fmt.Errorf("abandon %s: %w", e.ID, err)
	}
	return nil
}

// ReclaimExpired moves entries whose lease lapsed back to the ready queue.
func (q *Queue[T]) ReclaimExpired(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan expired %s: %w", q.name, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey(), id)
		pipe.RPush(ctx, q.readyKey(), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("reclaim %s: %w", q.name, err)
	}
	return len(ids), nil
}

// DeadLetter parks the entry body on the dead-letter list and removes it
// from circulation.
func (q *Queue[T]) DeadLetter(ctx context.Context, e *Entry[T]) error {
	body, err := q.client.HGet(ctx, q.entryKey(e.ID), "body").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("dead letter load %s: %w", e.ID, err)
	}
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.deadKey(), body)
	pipe.ZRem(ctx, q.inflightKey(), e.ID)
	pipe.Del(ctx, q.entryKey(e.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead letter %s: %w", e.ID, err)
	}
	return nil
}

// DeadLetterPeek reads the oldest dead-lettered bodies for inspection.
func (q *Queue[T]) DeadLetterPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.deadKey(), 0, count-1).Result()
}

// Depth returns the ready queue length.
func (q *Queue[T]) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey()).Result()
}

// InFlight returns the number of leased entries.
func (q *Queue[T]) InFlight(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey()).Result()
}

// The dequeue script pops an id and records its lease in one round trip,
// bumping the delivery counter so redeliveries are observable.
var dequeueScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then
  return nil
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
local prefix = string.sub(KEYS[1], 1, #KEYS[1] - #':ready')
redis.call('HINCRBY', prefix .. ':entry:' .. id, 'deliveries', 1)
return id
`)
