package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// repairUniqueTTL keeps a second manual trigger from queueing behind a
// pending one.
const repairUniqueTTL = 5 * time.Minute

// ErrRepairQueued reports that an identical repair task is already pending.
var ErrRepairQueued = errors.New("jobs: repair already queued")

// Client enqueues accessctl tasks for the worker.
type Client struct {
	client *asynq.Client
}

// NewClient builds a Client. The connection is opened lazily.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	if redisOpts.Addr == "" {
		return nil, errors.New("jobs: redis address required")
	}
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueRepair queues a repair run with payload.
func (c *Client) EnqueueRepair(ctx context.Context, payload RepairPayload) (*asynq.TaskInfo, error) {
	task, err := NewRepairTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.Unique(repairUniqueTTL))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, ErrRepairQueued
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: enqueue repair: %w", err)
	}
	return info, nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
