package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/odyssey-erp/accessctl/internal/rbac"
)

// Bootstrapper provisions the system roles and baseline grants.
type Bootstrapper interface {
	EnsureRoles(ctx context.Context) ([]rbac.RoleInfo, error)
	EnsureRolePermissions(ctx context.Context) error
}

// BootstrapCLI drives the bootstrap command.
type BootstrapCLI struct {
	bootstrapper Bootstrapper
}

// NewBootstrapCLI constructs the helper.
func NewBootstrapCLI(b Bootstrapper) *BootstrapCLI {
	return &BootstrapCLI{bootstrapper: b}
}

// BootstrapOptions defines the flags of the bootstrap command.
type BootstrapOptions struct {
	JSONOutput bool
	IO
}

type bootstrapRole struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	Created  bool   `json:"created"`
	Restored bool   `json:"restored"`
}

// BootstrapCommand ensures roles then grants and prints the role states.
func (c *BootstrapCLI) BootstrapCommand(ctx context.Context, opts BootstrapOptions) int {
	streams := opts.IO.withDefaults()
	roles, err := c.bootstrapper.EnsureRoles(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(streams.Stderr, "bootstrap: %v\n", err)
		return ExitFailure
	}
	if err := c.bootstrapper.EnsureRolePermissions(ctx); err != nil {
		_, _ = fmt.Fprintf(streams.Stderr, "bootstrap: %v\n", err)
		return ExitFailure
	}
	out := make([]bootstrapRole, 0, len(roles))
	for _, r := range roles {
		out = append(out, bootstrapRole{Name: r.Name, ID: r.ID.String(), Created: r.Created, Restored: r.Restored})
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(streams.Stdout).Encode(out); err != nil {
			_, _ = fmt.Fprintf(streams.Stderr, "bootstrap: encode json: %v\n", err)
			return ExitFailure
		}
		return ExitOK
	}
	for _, r := range out {
		state := "exists"
		switch {
		case r.Created:
			state = "created"
		case r.Restored:
			state = "restored"
		}
		_, _ = fmt.Fprintf(streams.Stdout, "%s %s (%s)\n", r.Name, state, r.ID)
	}
	return ExitOK
}
