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

	"keypool/internal/httpapi"
	"keypool/internal/utils"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the console API, the usage writer and the periodic stats pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTPPort = port
			}
			logger := utils.NewLogger("server")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := httpapi.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := deps.Close(); err != nil {
					logger.Error("Shutdown incomplete", "error", err)
				}
			}()

			if cfg.Admin.BootstrapEmail != "" {
				if _, err := bootstrapAdmin(ctx, deps.AdminUsers, cfg.Admin.BootstrapEmail, cfg.Admin.BootstrapPassword); err != nil {
					return fmt.Errorf("bootstrap admin: %w", err)
				}
			}

			// background work outlives the signal context so Close can drain it
			deps.Start(context.WithoutCancel(ctx))

			server := &http.Server{
				Addr:         ":" + cfg.HTTPPort,
				Handler:      httpapi.NewRouter(deps),
				ReadTimeout:  cfg.ReadTimeout,
				WriteTimeout: cfg.WriteTimeout,
				IdleTimeout:  cfg.IdleTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Key pool listening", "addr", server.Addr, "db_driver", cfg.Database.Driver, "redis", cfg.Redis.Address != "")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
			case <-ctx.Done():
			}

			logger.Info("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Server forced to shutdown", "error", err)
			}
			logger.Info("Server exited")
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Override HTTP_PORT")
	return cmd
}
