package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kitbay/kitbay/internal/config"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke API keys used to authenticate against the Kitbay API with the X-API-Key header.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// withStore loads the configuration, opens the catalog and runs fn.
func withStore(ctx context.Context, fn func(cfg *config.File, st *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer st.Close()
	return fn(cfg, st)
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		email string
		label string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key acting as the given user. The raw key is shown once and cannot be retrieved again.",
		Example: `  kitbay key create --email ci@example.com --label "CI pipeline"
  kitbay key create --email admin@example.com --ttl 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStore(ctx, func(cfg *config.File, st *store.Store) error {
				u, err := st.GetUserByEmail(ctx, email)
				if err != nil {
					return fmt.Errorf("user %q: %w", email, err)
				}
				raw, key, err := service.NewAuthService(st, cfg.JWTSecret(), nil).CreateAPIKey(ctx, u.ID, label, ttl)
				if err != nil {
					return fmt.Errorf("create api key: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "API Key created:")
				fmt.Fprintln(out)
				fmt.Fprintf(out, "  Key:     %s\n", raw)
				fmt.Fprintf(out, "  Prefix:  %s\n", key.KeyPrefix)
				fmt.Fprintf(out, "  User:    %s\n", u.Email)
				if label != "" {
					fmt.Fprintf(out, "  Label:   %s\n", label)
				}
				if key.ExpiresAt != nil {
					fmt.Fprintf(out, "  Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account the key acts as (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Key lifetime (default: never expires)")
	cmd.MarkFlagRequired("email")

	return cmd
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		email      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStore(ctx, func(cfg *config.File, st *store.Store) error {
				var userID string
				if email != "" {
					u, err := st.GetUserByEmail(ctx, email)
					if err != nil {
						return fmt.Errorf("user %q: %w", email, err)
					}
					userID = u.ID
				}
				keys, err := st.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if wantJSON(out, jsonOutput) {
					return printJSON(out, keys)
				}
				if len(keys) == 0 {
					fmt.Fprintln(out, "No API keys. Use 'kitbay key create' to create one.")
					return nil
				}
				rows := make([][]string, len(keys))
				for i, k := range keys {
					active := "yes"
					if !k.IsActive {
						active = "no"
					}
					expires := "never"
					if k.ExpiresAt != nil {
						expires = k.ExpiresAt.Format(time.RFC3339)
					}
					rows[i] = []string{k.KeyPrefix, k.Label, active, expires}
				}
				return printTable(out, []string{"PREFIX", "LABEL", "ACTIVE", "EXPIRES"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Only list this account's keys")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStore(ctx, func(cfg *config.File, st *store.Store) error {
				err := st.RevokeAPIKeyByPrefix(ctx, args[0])
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no active API key found with prefix %q", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked API key with prefix %q\n", args[0])
				return nil
			})
		},
	}

	return cmd
}
