package rbac

import "time"

// Repair step names, in execution order.
const (
	StepRestoreSuperAdmin       = "restore-super-admin"
	StepEnsureAdminMappings     = "ensure-admin-mappings"
	StepDanglingUserRoles       = "disable-dangling-user-roles"
	StepDanglingRolePermissions = "disable-dangling-role-permissions"
	StepBackfillDefaultRole     = "backfill-default-role"
)

// Outcome classifies a single repair finding.
type Outcome string

const (
	// OutcomeChanged means the record was (or, in dry-run, would be) written.
	OutcomeChanged Outcome = "changed"
	// OutcomeUnchanged means the target was already correct.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeSkipped means the target could not be found and was left alone.
	OutcomeSkipped Outcome = "skipped"
)

// Change is one finding of a repair step.
type Change struct {
	Target  string  `json:"target"`
	Outcome Outcome `json:"outcome"`
	Action  string  `json:"action,omitempty"`
	Detail  string  `json:"detail,omitempty"`
}

// StepReport collects the findings of one step.
type StepReport struct {
	Name    string   `json:"name"`
	Scanned int      `json:"scanned"`
	Changes []Change `json:"changes"`
}

// Count returns how many findings carry the outcome.
func (s StepReport) Count(outcome Outcome) int {
	n := 0
	for _, c := range s.Changes {
		if c.Outcome == outcome {
			n++
		}
	}
	return n
}

func (s *StepReport) add(target string, outcome Outcome, action, detail string) {
	s.Changes = append(s.Changes, Change{Target: target, Outcome: outcome, Action: action, Detail: detail})
}

// RoleTally counts active user-role assignments per role.
type RoleTally struct {
	Role  string `json:"role"`
	Count int    `json:"count"`
}

// Report is the structured result of a repair run.
type Report struct {
	DryRun     bool         `json:"dry_run"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Steps      []StepReport `json:"steps"`
	Tally      []RoleTally  `json:"tally"`
}

// Changed returns the number of changed findings across all steps.
func (r Report) Changed() int {
	n := 0
	for _, s := range r.Steps {
		n += s.Count(OutcomeChanged)
	}
	return n
}

// Step looks up a step by name.
func (r Report) Step(name string) (StepReport, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepReport{}, false
}

// TallyFor returns the tally count for a role name.
func (r Report) TallyFor(role string) int {
	for _, t := range r.Tally {
		if t.Role == role {
			return t.Count
		}
	}
	return 0
}
