package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"libradesk/internal/config"
	"libradesk/internal/store"
	"libradesk/pkg/logger"
)

type rootOptions struct {
	envFiles []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "libradesk",
		Short:         "Library desk: books, members and the loan ledger",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "env files to load before the environment (default .env)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newHashPasswordCmd(),
		newAuditCmd(opts),
		newLoansCmd(),
	)
	return cmd
}

// setup loads config and builds the logger shared by the local commands.
func (o *rootOptions) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.envFiles...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.NewLogger(cfg.ServiceName, cfg.LogLevel), nil
}

// openStore connects to the configured database and brings the schema up to date.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*store.SQLStore, error) {
	st, err := store.Open(cfg.Database.Driver, cfg.Database.URL, store.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("connect to %s: %w", cfg.Database.Driver, err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
