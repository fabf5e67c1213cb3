package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/accessctl/internal/jobs"
	"github.com/odyssey-erp/accessctl/internal/rbac"
	"github.com/odyssey-erp/accessctl/internal/rbac/memstore"
)

type stubRepairer struct {
	got    rbac.RepairOptions
	report rbac.Report
	err    error
}

func (s *stubRepairer) Repair(_ context.Context, opts rbac.RepairOptions) (rbac.Report, error) {
	s.got = opts
	return s.report, s.err
}

func TestRepairJobPassesOptions(t *testing.T) {
	stub := &stubRepairer{}
	job := NewRepairJob(stub, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewRepairTask(RepairPayload{DryRun: true, SuperAdminEmail: "root@example.com", AdminEmails: []string{"a@example.com"}})
	require.NoError(t, err)
	require.Equal(t, TaskRBACRepair, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, stub.got.DryRun)
	require.Equal(t, "root@example.com", stub.got.SuperAdminEmail)
	require.Equal(t, []string{"a@example.com"}, stub.got.AdminEmails)
}

func TestRepairJobEmptyPayloadRunsDefaults(t *testing.T) {
	stub := &stubRepairer{}
	job := NewRepairJob(stub, nil, nil)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskRBACRepair, nil)))
	require.False(t, stub.got.DryRun)
}

func TestRepairJobErrorClassification(t *testing.T) {
	ctx := context.Background()

	bad := NewRepairJob(&stubRepairer{}, nil, nil)
	err := bad.Handle(ctx, asynq.NewTask(TaskRBACRepair, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	busy := NewRepairJob(&stubRepairer{err: rbac.ErrRepairInProgress}, nil, nil)
	require.NoError(t, busy.Handle(ctx, asynq.NewTask(TaskRBACRepair, nil)))

	invalid := NewRepairJob(&stubRepairer{err: rbac.ErrInvalidOptions}, nil, nil)
	err = invalid.Handle(ctx, asynq.NewTask(TaskRBACRepair, nil))
	require.ErrorIs(t, err, asynq.SkipRetry)

	boom := errors.New("boom")
	failing := NewRepairJob(&stubRepairer{err: boom}, nil, nil)
	err = failing.Handle(ctx, asynq.NewTask(TaskRBACRepair, nil))
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestRepairJobAgainstStore(t *testing.T) {
	store := memstore.New()
	roles := store.SeedRequiredRoles()
	user := store.SeedUser(rbac.User{Email: "new@example.com"})

	repairer := rbac.NewRepairer(store, nil, nil, rbac.RepairConfig{})
	job := NewRepairJob(repairer, nil, nil)

	task, err := NewRepairTask(RepairPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	var active int
	for _, a := range store.UserRoles() {
		if a.UserID == user.ID && a.RoleID == roles[rbac.RoleUser].ID && a.Lifecycle.IsActive() {
			active++
		}
	}
	require.Equal(t, 1, active)
}

func TestRepairPayloadJSON(t *testing.T) {
	task, err := NewRepairTask(RepairPayload{DryRun: true})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, true, decoded["dry_run"])
	require.NotContains(t, decoded, "admin_emails")
}
