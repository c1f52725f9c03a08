package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kitbay/kitbay/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Kitbay configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default kitbay.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Set auth.jwt_secret (or KITBAY_AUTH_JWT_SECRET), then run 'kitbay serve'.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVarP(&path, "output", "o", "kitbay.yaml", "Path of the file to write")

	return cmd
}

// ---------- config show ----------

// secretKeys are masked by config show.
var secretKeys = []string{"auth.jwt_secret", "storage.secret_key", "database.dsn"}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			keys, err := cfg.Keys()
			if err != nil {
				return err
			}
			for k, v := range keys {
				if d, ok := v.(time.Duration); ok {
					keys[k] = d.String()
				}
			}
			for _, k := range secretKeys {
				if s, ok := keys[k].(string); ok && s != "" {
					keys[k] = mask(s)
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, keys)
			}

			if f := viper.ConfigFileUsed(); f != "" {
				fmt.Fprintf(out, "Config file: %s\n", f)
			} else {
				fmt.Fprintln(out, "Config file: (none found, using defaults)")
			}
			fmt.Fprintln(out)
			for _, k := range config.SortedKeys(keys) {
				fmt.Fprintf(out, "  %s: %v\n", k, keys[k])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// mask keeps the first four characters of a secret.
func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", 8)
}
