package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/drblury/commentflow/internal/runtime/config"
	"github.com/drblury/commentflow/internal/runtime/logging"
)

// NewRootCmd builds the commentflow command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "commentflow",
		Short: "Asynchronous comment ingestion pipeline",
		Long: heredoc.Doc(`
			commentflow accepts comments over HTTP, queues them on RabbitMQ and
			persists them from a separate consumer process. Persisted comments
			are broadcast to realtime viewers.
		`),
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Config file path")
	_ = root.MarkPersistentFlagFilename("config", "yaml", "yml", "json", "toml")

	root.AddCommand(
		runCmd("api", "Serve the intake HTTP API", config.RoleAPI),
		runCmd("consumer", "Persist queued comments", config.RoleConsumer),
		runCmd("serve", "Run the intake API and the consumer in one process", config.RoleAll),
		migrateCmd(),
		dlqCmd(),
	)
	return root
}

// bootstrap loads the config named by --config and builds the logger it selects.
func bootstrap(cmd *cobra.Command) (*config.Config, logging.ServiceLogger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("getting config flag value: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	return cfg, log, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
