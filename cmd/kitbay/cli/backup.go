package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kitbay/kitbay/internal/config"
	"github.com/kitbay/kitbay/internal/export"
	"github.com/kitbay/kitbay/internal/jobs"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/storage"
	"github.com/kitbay/kitbay/internal/store"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore catalog backups",
		Long: `Backups are checksummed snapshots of one account's components, variants
and dependencies, written to the configured artifact storage.`,
	}

	cmd.AddCommand(newBackupCreateCmd())
	cmd.AddCommand(newBackupListCmd())
	cmd.AddCommand(newBackupRestoreCmd())

	return cmd
}

// withRunner opens the catalog and artifact storage and starts a job
// runner. The runner is drained before the catalog is closed.
func withRunner(ctx context.Context, fn func(st *store.Store, runner *jobs.Runner) error) error {
	return withStore(ctx, func(cfg *config.File, st *store.Store) error {
		stg, err := storage.Open(ctx, cfg.StorageConfig())
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		exports := service.NewExportService(st, export.NewDispatcher(), nil, nil)
		runner := jobs.New(st, exports, stg, nil, cfg.Jobs, nil)
		ferr := fn(st, runner)
		if err := runner.Close(ctx); err != nil && ferr == nil {
			ferr = err
		}
		return ferr
	})
}

// ---------- backup create ----------

func newBackupCreateCmd() *cobra.Command {
	var (
		email string
		label string
	)

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Back up an account's components",
		Example: `  kitbay backup create --email admin@example.com --label "before upgrade"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var id string
			err := withRunner(ctx, func(st *store.Store, runner *jobs.Runner) error {
				caller, err := principalFor(ctx, st, email)
				if err != nil {
					return err
				}
				b, err := runner.CreateBackup(ctx, caller, label)
				if err != nil {
					return err
				}
				id = b.ID
				return nil
			})
			if err != nil {
				return err
			}

			// The runner has drained; read back the final record.
			return withStore(ctx, func(cfg *config.File, st *store.Store) error {
				b, err := st.GetBackup(ctx, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Backup %s %s\n", b.ID, b.Status)
				if b.Error != "" {
					return fmt.Errorf("backup failed: %s", b.Error)
				}
				fmt.Fprintf(out, "  Label:      %s\n", b.Label)
				fmt.Fprintf(out, "  Components: %d\n", b.ComponentCount)
				fmt.Fprintf(out, "  Size:       %d bytes\n", b.SizeBytes)
				fmt.Fprintf(out, "  Checksum:   %s\n", b.Checksum)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account whose components are backed up (required)")
	cmd.Flags().StringVar(&label, "label", "", "Label for the backup (default: a timestamp)")
	cmd.MarkFlagRequired("email")

	return cmd
}

// ---------- backup list ----------

func newBackupListCmd() *cobra.Command {
	var (
		email      string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStore(ctx, func(cfg *config.File, st *store.Store) error {
				var owner string
				if email != "" {
					u, err := st.GetUserByEmail(ctx, email)
					if err != nil {
						return fmt.Errorf("user %q: %w", email, err)
					}
					owner = u.ID
				}
				backups, err := st.ListBackups(ctx, owner, limit, 0)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if wantJSON(out, jsonOutput) {
					return printJSON(out, backups)
				}
				if len(backups) == 0 {
					fmt.Fprintln(out, "No backups. Use 'kitbay backup create' to create one.")
					return nil
				}
				rows := make([][]string, len(backups))
				for i, b := range backups {
					rows[i] = []string{b.ID, b.Label, string(b.Status), strconv.Itoa(b.ComponentCount), b.CreatedAt.Format(time.RFC3339)}
				}
				return printTable(out, []string{"ID", "LABEL", "STATUS", "COMPONENTS", "CREATED"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Only list this account's backups")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of backups")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- backup restore ----------

func newBackupRestoreCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore a completed backup",
		Long: `Verify a backup's checksum and upsert its components into the catalog,
replacing their variants and dependencies. Restored components keep the
backup's owner.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withRunner(ctx, func(st *store.Store, runner *jobs.Runner) error {
				caller := operator
				if email != "" {
					var err error
					if caller, err = principalFor(ctx, st, email); err != nil {
						return err
					}
				}
				n, err := runner.RestoreBackup(ctx, caller, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored %d components from backup %s\n", n, args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Restore as this account (default: local operator)")

	return cmd
}
