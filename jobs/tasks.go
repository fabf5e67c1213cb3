package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/accessctl/internal/rbac"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRBACRepair runs the RBAC consistency repair.
	TaskRBACRepair = "rbac:repair"
)

// RepairPayload carries the repair options of a scheduled or enqueued run.
type RepairPayload struct {
	DryRun          bool     `json:"dry_run"`
	SuperAdminEmail string   `json:"super_admin_email,omitempty"`
	AdminEmails     []string `json:"admin_emails,omitempty"`
}

// Options converts the payload into repair options.
func (p RepairPayload) Options() rbac.RepairOptions {
	return rbac.RepairOptions{DryRun: p.DryRun, SuperAdminEmail: p.SuperAdminEmail, AdminEmails: p.AdminEmails}
}

// NewRepairTask constructs a repair task.
func NewRepairTask(payload RepairPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobs: marshal repair payload: %w", err)
	}
	return asynq.NewTask(TaskRBACRepair, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
