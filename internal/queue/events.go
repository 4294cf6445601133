package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nimbusbuild/orchestrator/internal/job"
	"github.com/redis/go-redis/v9"
)

// EventBus carries job.Event frames from the worker process (which runs
// the pipeline) to the server process (which owns the client's SSE
// connection), over a per-job Redis pub/sub channel. Grounded on the
// go-redis/v9 client construction used throughout the pack (e.g.
// hiromu1018ks-paper-forge's internal/jobs.Store), generalized here from
// get/set to Publish/Subscribe since no pack repo exercises pub/sub.
type EventBus struct {
	rdb *redis.Client
}

func NewEventBus(addr, password string, db int) *EventBus {
	return &EventBus{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func channelName(jobID string) string { return fmt.Sprintf("job:%s:events", jobID) }

// Publish sends one event frame to jobID's channel. Publishing to a channel
// with no subscribers is not an error — the worker does not wait for the
// HTTP surface to be listening (spec.md §5 "the pipeline continues to
// completion" even if the client disconnects).
func (b *EventBus) Publish(ctx context.Context, jobID string, ev job.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channelName(jobID), body).Err()
}

// Subscribe opens a subscription to jobID's channel. The caller must close
// the returned *redis.PubSub when done.
func (b *EventBus) Subscribe(ctx context.Context, jobID string) *redis.PubSub {
	return b.rdb.Subscribe(ctx, channelName(jobID))
}

// Close releases the underlying connection pool.
func (b *EventBus) Close() error { return b.rdb.Close() }

// DecodeEvent parses a pub/sub message payload back into a job.Event.
func DecodeEvent(payload string) (job.Event, error) {
	var ev job.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, err
	}
	return ev, nil
}
