package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/isdelr/safeback/internal/api"
	"github.com/isdelr/safeback/internal/auth"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the backup scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			go a.hub.Run()
			defer a.hub.Stop()

			if cfg.SchedulerEnabled {
				go a.scheduler.Run()
			} else {
				log.Info().Msg("Backup scheduler disabled")
			}

			router := api.NewRouter(api.Dependencies{
				Auth:           auth.NewAuthenticator(cfg.JWTSecret, cfg.MaintenanceSecret),
				Hub:            a.hub,
				Registry:       a.registry,
				Snapshots:      a.snapshots,
				Restores:       a.restores,
				Settings:       a.settings,
				Members:        a.members,
				Audit:          a.audit,
				Scheduler:      a.scheduler,
				AllowedOrigins: cfg.AllowedOrigins,
			})

			// Set up server
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Graceful shutdown
			errCh := make(chan error, 1)
			go func() {
				log.Info().Int("port", cfg.ServerPort).Msg("Server starting")
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-quit:
			case err := <-errCh:
				return fmt.Errorf("http server failed: %w", err)
			}
			log.Info().Msg("Shutting down server...")

			if cfg.SchedulerEnabled {
				a.scheduler.Stop()
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}

			log.Info().Msg("Server exiting")
			return nil
		},
	}
}
