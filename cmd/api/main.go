package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/apiforge-labs/testorder-backend/config"
	"github.com/apiforge-labs/testorder-backend/internal/auth"
	authmw "github.com/apiforge-labs/testorder-backend/internal/auth/middleware"
	"github.com/apiforge-labs/testorder-backend/internal/bootstrap"
	"github.com/apiforge-labs/testorder-backend/internal/db"
	"github.com/apiforge-labs/testorder-backend/internal/logging"
)

const serviceName = "testorder-backend"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "testorder-api",
		Short:         "Endpoint test ordering and approval service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())

	return root
}

func newServeCmd() *cobra.Command {
	var migrate bool
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logging.InitLogs(cfg.App.LogLevel, cfg.App.Environment)
			bootstrap.SetGinMode(cfg.App.Environment)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			database, err := db.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer database.Close()

			if migrate {
				applied, err := db.Migrate(ctx, database.Pool, log)
				if err != nil {
					return err
				}
				log.WithField("applied", applied).Info("migrations applied")
			}

			rdb, err := bootstrap.OpenRedis(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			if rdb != nil {
				defer rdb.Close()
			} else {
				log.Warn("REDIS_ADDR not set: gate cache and order event stream disabled")
			}

			deps := bootstrap.RouterDeps{
				ServiceName: serviceName,
				Config:      cfg,
				DB:          database,
				Redis:       rdb,
				Log:         log,
			}
			if cfg.Auth.Mode == config.AuthModeFirebase {
				client, err := auth.InitializeFirebase(ctx, cfg.Auth)
				if err != nil {
					return err
				}
				deps.Verifier = authmw.TokenVerifier(client)
			}

			srv := &http.Server{
				Addr:              ":" + cfg.Server.Port,
				Handler:           bootstrap.BuildRouter(deps),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.WithField("port", cfg.Server.Port).Info("listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down")
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second, "graceful shutdown timeout")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				migrations, err := db.Migrations()
				if err != nil {
					return err
				}
				for _, m := range migrations {
					fmt.Fprintln(cmd.OutOrStdout(), m.Version)
				}
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logging.InitLogs(cfg.App.LogLevel, cfg.App.Environment)

			database, err := db.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer database.Close()

			applied, err := db.Migrate(cmd.Context(), database.Pool, log)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				log.Info("database is up to date")
				return nil
			}
			log.WithField("applied", applied).Info("migrations applied")
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list embedded migrations without connecting")
	return cmd
}
