// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rtsm-probe/internal/config"
	"github.com/xkilldash9x/rtsm-probe/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// flagBindings maps command-line flags onto configuration keys. A flag only
// overrides the file and environment when it was set explicitly.
var flagBindings = map[string]string{
	"base-url":      "target.base_url",
	"workers":       "suite.workers",
	"retries":       "suite.retries",
	"artifacts-dir": "suite.artifacts_dir",
	"format":        "report.format",
	"output":        "report.output",
	"headless":      "browser.headless",
	"slow-mo":       "browser.slow_mo",
	"log-level":     "logger.level",
}

// dependencies are the external resources commands open. Tests replace them.
type dependencies struct {
	browsers browserProvider
	stores   storeProvider
}

type rootOptions struct {
	cfgFile string
	envFile string
}

// NewRootCommand builds the command tree with production dependencies.
func NewRootCommand() *cobra.Command {
	return newRootCommand(dependencies{
		browsers: NewBrowserProvider(),
		stores:   NewStoreProvider(),
	})
}

func newRootCommand(deps dependencies) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "rtsm-probe",
		Short:         "End-to-end checks for the Maven RTSM web application.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, opts); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "rtsm-probe"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "rtsm-probe"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting rtsm-probe", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(newRunCmd(deps))
	cmd.AddCommand(newScenariosCmd())
	cmd.AddCommand(newResultsCmd(deps.stores))
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the command tree with ctx, logging any failure.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// initializeConfig layers the config file, the dotenv file, the environment
// and explicitly set flags onto v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, opts *rootOptions) error {
	if opts.envFile != "" {
		if err := config.LoadDotEnv(opts.envFile); err != nil {
			return err
		}
	}

	if opts.cfgFile != "" {
		v.SetConfigFile(opts.cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	config.BindEnv(v)

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagBindings[f.Name]
		if !ok || !f.Changed || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	return bindErr
}

// getConfigFromContext returns the configuration stored by the root command.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}
