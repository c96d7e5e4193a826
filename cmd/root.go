package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/anthonygricco/openevidence-cli/internal/config"
	"github.com/anthonygricco/openevidence-cli/internal/observability"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "openevidence-cli",
	Short: "Ask OpenEvidence medical questions from the command line",
	Long: `openevidence-cli drives the OpenEvidence web application through a real
Chrome instance: authenticate once interactively, then submit questions
non-interactively and read the rendered answers.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			return err
		}

		var cfg config.Config
		if err := viper.Unmarshal(&cfg); err != nil {
			observability.InitializeLogger(config.LoggerConfig{
				Level: "info", Format: "console", ServiceName: "openevidence-cli",
			})
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}

		// --debug on any subcommand wins over the configured level.
		if f := cmd.Flags().Lookup("debug"); f != nil && f.Changed {
			cfg.Logger.Level = "debug"
			viper.Set("logger.level", "debug")
		}

		observability.InitializeLogger(cfg.Logger)
		return nil
	},
}

// Execute runs the root command with a signal-aware context. The process
// exits non-zero on any command failure; answer text goes to stdout, all
// diagnostics to stderr.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command failed", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initializeConfig layers defaults, the optional config file, and the
// environment (OPENEVIDENCE_ prefix) into the global viper instance.
func initializeConfig() error {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("OPENEVIDENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// loadConfig finalizes the configuration after command flags were bound.
func loadConfig() (*config.Config, error) {
	return config.NewFromViper(viper.GetViper())
}
