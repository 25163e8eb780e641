package sync

import (
	"context"
	"sort"
	"sync"
	"time"

	"schulte-trainer/internal/constants"
	"schulte-trainer/internal/domain"
	"schulte-trainer/internal/repository"
	"schulte-trainer/internal/service"

	"github.com/rs/zerolog"
)

// OnlineFunc reports device connectivity. The platform supplies it; the
// orchestrator only consults it before periodic retries.
type OnlineFunc func() bool

// State is a point-in-time snapshot of sync progress for the UI. IsSyncing is
// advisory only; it does not serialize sync operations (the server-side
// idempotency key does the real work, see the engine).
type State struct {
	IsSyncing  bool              `json:"isSyncing"`
	LastSyncAt *time.Time        `json:"lastSyncAt"`
	Queue      []string          `json:"queue"`
	Errors     map[string]string `json:"errors"`
}

// Orchestrator aggregates sync state and owns the background retry loop:
// while authenticated and online, sync-failed sessions are retried on a
// fixed interval.
type Orchestrator struct {
	engine        *service.SyncService
	sessions      *repository.SessionRepository
	authenticated func() bool
	online        OnlineFunc
	interval      time.Duration
	logger        zerolog.Logger

	mu         sync.Mutex
	inFlight   int
	lastSyncAt *time.Time
	queue      map[string]struct{}
	errors     map[string]string

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewOrchestrator(engine *service.SyncService, sessions *repository.SessionRepository, authenticated func() bool, online OnlineFunc, interval time.Duration, logger zerolog.Logger) *Orchestrator {
	if interval <= 0 {
		interval = constants.SyncRetryInterval
	}
	if online == nil {
		online = func() bool { return true }
	}
	return &Orchestrator{
		engine:        engine,
		sessions:      sessions,
		authenticated: authenticated,
		online:        online,
		interval:      interval,
		logger:        logger,
		queue:         make(map[string]struct{}),
		errors:        make(map[string]string),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	queue := make([]string, 0, len(o.queue))
	for id := range o.queue {
		queue = append(queue, id)
	}
	sort.Strings(queue)

	errs := make(map[string]string, len(o.errors))
	for id, msg := range o.errors {
		errs[id] = msg
	}

	var last *time.Time
	if o.lastSyncAt != nil {
		t := *o.lastSyncAt
		last = &t
	}

	return State{
		IsSyncing:  o.inFlight > 0,
		LastSyncAt: last,
		Queue:      queue,
		Errors:     errs,
	}
}

func (o *Orchestrator) Enqueue(clientSessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue[clientSessionID] = struct{}{}
}

func (o *Orchestrator) ClearError(clientSessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.errors, clientSessionID)
}

// SyncSession runs a manual single-session sync, keyed by client session id.
// Unlike the bulk/retry wrappers it propagates the failure so UI callers can
// show it.
func (o *Orchestrator) SyncSession(ctx context.Context, clientSessionID string) error {
	session, err := o.sessions.GetByClientID(ctx, clientSessionID)
	if err != nil {
		return err
	}

	o.begin()
	defer o.end()

	if err := o.engine.SyncSession(ctx, session); err != nil {
		o.mu.Lock()
		o.errors[clientSessionID] = err.Error()
		o.mu.Unlock()
		return err
	}

	now := time.Now()
	o.mu.Lock()
	delete(o.queue, clientSessionID)
	delete(o.errors, clientSessionID)
	o.lastSyncAt = &now
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) BulkSync(ctx context.Context) service.SyncResult {
	o.begin()
	defer o.end()

	result := o.engine.BulkSync(ctx)
	o.record(result)
	return result
}

func (o *Orchestrator) RetryFailed(ctx context.Context) service.SyncResult {
	o.begin()
	defer o.end()

	result := o.engine.RetryFailed(ctx)
	o.record(result)
	return result
}

func (o *Orchestrator) record(result service.SyncResult) {
	now := time.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastSyncAt = &now
	for _, e := range result.Errors {
		o.errors[e.SessionID] = e.Error
	}
	if result.SyncedCount > 0 {
		// sessions the engine just marked synced no longer carry errors
		for id := range o.errors {
			if o.isSynced(id) {
				delete(o.errors, id)
				delete(o.queue, id)
			}
		}
	}
}

func (o *Orchestrator) isSynced(clientSessionID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
	defer cancel()
	session, err := o.sessions.GetByClientID(ctx, clientSessionID)
	if err != nil {
		return false
	}
	return session.SyncStatus == domain.SyncSynced
}

func (o *Orchestrator) begin() {
	o.mu.Lock()
	o.inFlight++
	o.mu.Unlock()
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.inFlight--
	o.mu.Unlock()
}

// Start launches the periodic retry loop. The tick is skipped while a sync is
// already in flight, while unauthenticated, and while offline.
func (o *Orchestrator) Start() {
	go func() {
		defer close(o.done)
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()

		o.logger.Info().Dur("interval", o.interval).Msg("sync retry loop started")
		for {
			select {
			case <-o.stop:
				o.logger.Info().Msg("sync retry loop stopped")
				return
			case <-ticker.C:
				o.tick()
			}
		}
	}()
}

func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
	<-o.done
}

func (o *Orchestrator) tick() {
	if !o.authenticated() {
		return
	}
	if !o.online() {
		o.logger.Debug().Msg("offline, skipping retry pass")
		return
	}
	o.mu.Lock()
	busy := o.inFlight > 0
	o.mu.Unlock()
	if busy {
		o.logger.Debug().Msg("sync in progress, skipping retry pass")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.RequestTimeout)
	defer cancel()
	o.RetryFailed(ctx)
}
