package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kitbay/kitbay/internal/config"
)

var (
	cfgFile    string
	envFile    string
	appVersion string // set by newRootCmd, reported by serve and the API document
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	appVersion = version
	cmd := &cobra.Command{
		Use:   "kitbay",
		Short: "Component marketplace backend",
		Long: `Kitbay: a catalog of UI components with search, authorization and export.

Kitbay stores components with their variants and dependencies, serves them
over a JSON API and an MCP server for AI agents, and exports them as React,
Vue, Angular, HTML, CSS, JSON, Figma or SVG artifacts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./kitbay.yaml or ~/.kitbay/kitbay.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite catalog and artifacts (default: ~/.kitbay)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newComponentCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// initConfig loads the optional .env file, registers every configuration
// key as a default so KITBAY_* variables reach it, then reads the config
// file if one exists.
func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	viper.Reset()
	keys, err := config.Default().Keys()
	if err != nil {
		return fmt.Errorf("config defaults: %w", err)
	}
	for k, v := range keys {
		viper.SetDefault(k, v)
	}
	if dataDir != "" {
		viper.Set("data_dir", dataDir)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("kitbay")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.kitbay")
	}

	viper.SetEnvPrefix("KITBAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}
