package fx

import (
	"schulte-trainer/internal/api"
	"schulte-trainer/internal/auth"
	"schulte-trainer/internal/config"
	"schulte-trainer/internal/database"
	"schulte-trainer/internal/logger"
	"schulte-trainer/internal/repository"
	"schulte-trainer/internal/server"
	"schulte-trainer/internal/service"
	syncpkg "schulte-trainer/internal/sync"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// ProvideAPIClient wires the client and the auth manager to each other: the
// client reads credentials through the manager, the manager issues its auth
// calls through the client.
func ProvideAPIClient(cfg *config.Config, manager *auth.Manager, log zerolog.Logger) *api.Client {
	client := api.NewClient(api.Config{
		BaseURL:        cfg.APIBaseURL,
		GetAccessToken: manager.AccessToken,
		RefreshTokens:  manager.Refresh,
		OnUnauthorized: manager.HandleUnauthorized,
	}, log)
	manager.Bind(client)
	return client
}

func ProvideOrchestrator(engine *service.SyncService, sessions *repository.SessionRepository, manager *auth.Manager, cfg *config.Config, log zerolog.Logger) *syncpkg.Orchestrator {
	// Connectivity probing is platform-provided; nil means always online.
	return syncpkg.NewOrchestrator(engine, sessions, manager.IsAuthenticated, nil, cfg.SyncRetryInterval, log)
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewSessionRepository),
	fx.Provide(repository.NewProfileRepository),
	// auth + api client
	fx.Provide(auth.NewManager),
	fx.Provide(ProvideAPIClient),
	// svc
	fx.Provide(service.NewRecorderService),
	fx.Provide(service.NewSyncService),
	fx.Provide(service.NewSettingsService),
	fx.Provide(ProvideOrchestrator),
	// server
	fx.Provide(server.New),
)
