package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Decider resolves one authorization decision.
type Decider interface {
	Decide(ctx context.Context, userID, permissionName string) (bool, error)
}

// CheckCLI answers ad-hoc permission questions.
type CheckCLI struct {
	decider Decider
}

// NewCheckCLI constructs the helper.
func NewCheckCLI(decider Decider) *CheckCLI {
	return &CheckCLI{decider: decider}
}

// CheckOptions defines the flags of the check command.
type CheckOptions struct {
	UserID     string
	Permission string
	JSONOutput bool
	IO
}

// CheckResult is the JSON form of a decision.
type CheckResult struct {
	UserID     string `json:"user_id"`
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

// CheckCommand prints the decision. Exit 0 when allowed, 3 when denied, 2 on
// missing flags and 1 when the store could not be read.
func (c *CheckCLI) CheckCommand(ctx context.Context, opts CheckOptions) int {
	streams := opts.IO.withDefaults()
	userID := strings.TrimSpace(opts.UserID)
	perm := strings.TrimSpace(opts.Permission)
	if userID == "" || perm == "" {
		_, _ = fmt.Fprintln(streams.Stderr, "check: --user and --permission are required")
		return ExitUsage
	}
	allowed, err := c.decider.Decide(ctx, userID, perm)
	if err != nil {
		_, _ = fmt.Fprintf(streams.Stderr, "check: %v\n", err)
		return ExitFailure
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(streams.Stdout).Encode(CheckResult{UserID: userID, Permission: perm, Allowed: allowed}); err != nil {
			_, _ = fmt.Fprintf(streams.Stderr, "check: encode json: %v\n", err)
			return ExitFailure
		}
	} else {
		verdict := "deny"
		if allowed {
			verdict = "allow"
		}
		_, _ = fmt.Fprintf(streams.Stdout, "%s %s %s\n", verdict, userID, perm)
	}
	if !allowed {
		return ExitDenied
	}
	return ExitOK
}
