package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/marketcore/gatekeeper/cmd/cmdutil"
	"github.com/marketcore/gatekeeper/cmd/merchants"
	"github.com/marketcore/gatekeeper/cmd/realm"
	"github.com/marketcore/gatekeeper/cmd/users"
	"github.com/marketcore/gatekeeper/internal/config"
)

var (
	cfg        *config.Config
	logger     *logrus.Logger
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper identity and authorization service for the marketplace",
	Long: `Gatekeeper verifies Keycloak access tokens, enforces capability requirements
on marketplace routes, and keeps local user and merchant records in step with
the identity provider.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger = cmdutil.NewLogger(cfg)
		cmdutil.SetRuntime(cfg, logger)
		return nil
	},
}

func init() {
	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to a config file (yaml, json or toml)")
	flags.String("db-url", "", "Database connection URL (env: GATEKEEPER_DATABASE_URL)")
	flags.String("server-addr", "", "Server bind address (env: GATEKEEPER_SERVER_ADDR)")
	flags.String("keycloak-url", "", "Keycloak base URL used by the backend (env: GATEKEEPER_KEYCLOAK_URL)")
	flags.String("log-format", "", "Log output format, text or json (env: GATEKEEPER_LOG_FORMAT)")
	flags.Bool("debug", false, "Enable debug logging (env: GATEKEEPER_DEBUG)")

	bindFlag("database_url", "db-url")
	bindFlag("server_addr", "server-addr")
	bindFlag("keycloak.url", "keycloak-url")
	bindFlag("log_format", "log-format")
	bindFlag("debug", "debug")

	// Add subcommands
	rootCmd.AddCommand(users.UsersCmd)
	rootCmd.AddCommand(merchants.MerchantsCmd)
	rootCmd.AddCommand(realm.RealmCmd)
}

func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
