package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/accessctl/internal/jobs"
	"github.com/odyssey-erp/accessctl/internal/rbac"
)

const repairJobName = "rbac_repair"

// Repairer runs a consistency repair.
type Repairer interface {
	Repair(ctx context.Context, opts rbac.RepairOptions) (rbac.Report, error)
}

// RepairJob executes rbac:repair tasks.
type RepairJob struct {
	Repairer Repairer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewRepairJob initialises the repair handler.
func NewRepairJob(repairer Repairer, logger *slog.Logger, metrics *jobmetrics.Metrics) *RepairJob {
	return &RepairJob{Repairer: repairer, Logger: logger, Metrics: metrics}
}

// Handle runs the repair. Malformed payloads and invalid options are not
// retried; a run that finds the lock held is dropped.
func (j *RepairJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Repairer == nil {
		return errors.New("rbac repair: handler not configured")
	}
	var payload RepairPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("rbac repair: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	tracker := j.Metrics.Track(repairJobName)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Bool("dry_run", payload.DryRun))
	logger.Info("starting rbac repair")
	start := time.Now()

	report, err := j.Repairer.Repair(ctx, payload.Options())
	switch {
	case errors.Is(err, rbac.ErrRepairInProgress):
		logger.Warn("rbac repair skipped, another run holds the lock")
		return nil
	case errors.Is(err, rbac.ErrInvalidOptions):
		logger.Error("rbac repair rejected", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case err != nil:
		logger.Error("rbac repair failed", slog.Any("error", err))
		return err
	}

	logger.Info("completed rbac repair",
		slog.Int("changed", report.Changed()),
		slog.Int("steps", len(report.Steps)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *RepairJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
