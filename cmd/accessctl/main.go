package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/accessctl/cmd/accessctl/cli"
	"github.com/odyssey-erp/accessctl/internal/app"
	"github.com/odyssey-erp/accessctl/internal/platform/db"
	"github.com/odyssey-erp/accessctl/jobs"
	"github.com/odyssey-erp/accessctl/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	code := cli.ExitOK
	root := newRootCommand(&code, stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		return cli.ExitUsage
	}
	return code
}

// env is resolved lazily so --help works without configuration.
type env struct {
	cfg    *app.Config
	logger *slog.Logger
	deps   *deps
}

func (e *env) load(ctx context.Context) error {
	if e.deps != nil {
		return nil
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	e.cfg = cfg
	e.logger = app.NewLogger(cfg)
	d, err := openDeps(ctx, cfg, e.logger)
	if err != nil {
		return err
	}
	e.deps = d
	return nil
}

func (e *env) close() {
	if e.deps != nil {
		e.deps.close()
	}
}

func newRootCommand(code *int, stdout, stderr io.Writer) *cobra.Command {
	e := &env{}
	streams := cli.IO{Stdout: stdout, Stderr: stderr}

	// fail records a setup error and sets a fatal exit code.
	fail := func(err error) {
		_, _ = fmt.Fprintf(stderr, "accessctl: %v\n", err)
		*code = cli.ExitFailure
	}

	root := &cobra.Command{
		Use:           "accessctl",
		Short:         "Role-based access control core: authorization service and repair tooling",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			e.close()
		},
	}

	var jsonOut bool
	root.PersistentFlags().BoolVar(&jsonOut, "json", false, "print machine-readable JSON")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization HTTP API",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := e.load(cmd.Context()); err != nil {
				fail(err)
				return
			}
			if err := serve(cmd.Context(), e.deps); err != nil {
				fail(err)
			}
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := e.load(cmd.Context()); err != nil {
				fail(err)
				return
			}
			applied, err := db.Migrate(cmd.Context(), e.deps.pool, migrations.FS)
			if err != nil {
				fail(err)
				return
			}
			for _, name := range applied {
				_, _ = fmt.Fprintf(stdout, "applied %s\n", name)
			}
			if len(applied) == 0 {
				_, _ = fmt.Fprintln(stdout, "schema up to date")
			}
		},
	}

	bootstrapCmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Ensure system roles and the user role's baseline permissions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := e.load(cmd.Context()); err != nil {
				fail(err)
				return
			}
			*code = cli.NewBootstrapCLI(e.deps.bootstrapper()).BootstrapCommand(cmd.Context(), cli.BootstrapOptions{
				JSONOutput: jsonOut,
				IO:         streams,
			})
		},
	}

	var (
		dryRun          bool
		superAdminEmail string
		adminEmails     []string
	)
	repairCmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair RBAC assignments after partial failures or manual edits",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := e.load(cmd.Context()); err != nil {
				fail(err)
				return
			}
			if !cmd.Flags().Changed("super-admin-email") {
				superAdminEmail = e.cfg.RepairSuperAdminEmail
			}
			if !cmd.Flags().Changed("admin-emails") {
				adminEmails = e.cfg.RepairAdminEmails
			}
			*code = cli.NewRepairCLI(e.deps.repairer(cmd.Context())).RepairCommand(cmd.Context(), cli.RepairOptions{
				DryRun:          dryRun,
				SuperAdminEmail: superAdminEmail,
				AdminEmails:     adminEmails,
				JSONOutput:      jsonOut,
				IO:              streams,
			})
		},
	}
	repairCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	repairCmd.Flags().StringVar(&superAdminEmail, "super-admin-email", "", "email of the account that must hold super_admin (env REPAIR_SUPER_ADMIN_EMAIL)")
	repairCmd.Flags().StringSliceVar(&adminEmails, "admin-emails", nil, "comma-separated emails that must hold admin (env REPAIR_ADMIN_EMAILS)")

	var (
		checkUser string
		checkPerm string
	)
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a user holds a permission (exit 0 allow, 3 deny)",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := e.load(cmd.Context()); err != nil {
				fail(err)
				return
			}
			*code = cli.NewCheckCLI(e.deps.resolver()).CheckCommand(cmd.Context(), cli.CheckOptions{
				UserID:     checkUser,
				Permission: checkPerm,
				JSONOutput: jsonOut,
				IO:         streams,
			})
		},
	}
	checkCmd.Flags().StringVar(&checkUser, "user", "", "user id")
	checkCmd.Flags().StringVar(&checkPerm, "permission", "", "permission name, resource:action:scope")

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage background jobs",
	}
	var triggerDryRun bool
	triggerRepairCmd := &cobra.Command{
		Use:   "trigger-repair",
		Short: "Enqueue an rbac:repair task for the worker",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := app.LoadConfig()
			if err != nil {
				fail(err)
				return
			}
			jc, err := cli.NewJobsCLI(cfg.RedisAddr)
			if err != nil {
				fail(err)
				return
			}
			defer func() { _ = jc.Close() }()
			info, err := jc.TriggerRepair(cmd.Context(), jobs.RepairPayload{
				DryRun:          triggerDryRun,
				SuperAdminEmail: cfg.RepairSuperAdminEmail,
				AdminEmails:     cfg.RepairAdminEmails,
			})
			if errors.Is(err, jobs.ErrRepairQueued) {
				_, _ = fmt.Fprintln(stdout, "repair already queued")
				return
			}
			if err != nil {
				fail(err)
				return
			}
			_, _ = fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		},
	}
	triggerRepairCmd.Flags().BoolVar(&triggerDryRun, "dry-run", false, "enqueue a dry run")
	jobsCmd.AddCommand(triggerRepairCmd)

	root.AddCommand(serveCmd, migrateCmd, bootstrapCmd, repairCmd, checkCmd, jobsCmd)
	return root
}
