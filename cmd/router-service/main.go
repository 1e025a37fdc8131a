package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mailroute/internal/config"
	"mailroute/internal/logger"
	"mailroute/pkg/logging"
)

type rootOptions struct {
	configFile string
	logLevel   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "router-service",
		Short:         "Rule-based email routing",
		Long:          "Routes email records to output queues using prioritized CEL rules",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to config file (falls back to CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level")

	rootCmd.AddCommand(
		serveCmd(opts),
		processCmd(opts),
		healthCmd(opts),
		rulesCmd(opts),
		configCmd(),
	)
	return rootCmd
}

// load reads the configuration and builds a logger. format overrides
// logging.format when non-empty; CLI commands use "console".
func (o *rootOptions) load(format string) (*config.Config, *logger.SugaredLogger, error) {
	earlyLog := logging.NewEarlyLog()

	cfg, err := config.Load(o.configFile)
	if err != nil {
		earlyLog.Warn("Failed to load config: %v", err)
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if format == "" {
		format = cfg.Logging.Format
	}

	log, err := logger.New(cfg.Logging.Level, format)
	if err != nil {
		earlyLog.Warn("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the routing service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load("")
			if err != nil {
				return err
			}
			defer log.Sync()
			log.SetServiceName(cfg.Tracing.ServiceName)

			ctx := cmd.Context()
			log.InfowCtx(ctx, "Starting router service")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				_ = app.Shutdown(ctx)
				return err
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}
