package constants

import "time"

const (
	SyncRetryInterval    = 1 * time.Minute
	TokenRefreshInterval = 1 * time.Minute
	TokenRefreshLeeway   = 2 * time.Minute
)

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
)

const (
	DBMaxOpenConns    = 10
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	MinGridSize = 4
	MaxGridSize = 10
	MinMaxTime  = 30
	MaxMaxTime  = 600

	// server-side cap on a single bulk sync request
	BulkSyncBatchLimit = 100
)

const (
	RecentSessionsLimit = 50
)
