package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"schulte-trainer/internal/auth"
	"schulte-trainer/internal/config"
	"schulte-trainer/internal/constants"
	fxmodules "schulte-trainer/internal/fx"
	"schulte-trainer/internal/middleware"
	"schulte-trainer/internal/server"
	syncpkg "schulte-trainer/internal/sync"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(run),
	).Run()
}

func run(
	lc fx.Lifecycle,
	controlServer *server.Server,
	orchestrator *syncpkg.Orchestrator,
	authManager *auth.Manager,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	// First login reconciles everything recorded while signed out. Fire and
	// forget: login never blocks on sync, the retry loop recovers failures.
	authManager.OnLogin(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), constants.RequestTimeout)
			defer cancel()
			orchestrator.BulkSync(ctx)
		}()
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := middleware.RequestID(logger)(c.Handler(controlServer.Routes()))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: handler,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			authManager.Start()
			orchestrator.Start()
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("control server starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("control server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			orchestrator.Stop()
			authManager.Stop()

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database")
			}

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}
			logger.Info().Msg("stopped gracefully")
			return nil
		},
	})
}
