package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"schulte-trainer/internal/api"
	"schulte-trainer/internal/database"
	"schulte-trainer/internal/domain"
	"schulte-trainer/internal/repository"
	"schulte-trainer/internal/service"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type orchestratorFixture struct {
	orchestrator  *Orchestrator
	sessions      *repository.SessionRepository
	authenticated atomic.Bool
	online        atomic.Bool
	requests      atomic.Int32
}

func newFixture(t *testing.T, handler http.HandlerFunc, interval time.Duration) *orchestratorFixture {
	t.Helper()

	f := &orchestratorFixture{}
	f.authenticated.Store(true)
	f.online.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if handler != nil {
			handler(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client := api.NewClient(api.Config{
		BaseURL:        srv.URL,
		GetAccessToken: func() string { return "test-token" },
		RefreshTokens:  func(ctx context.Context) error { return nil },
	}, zerolog.Nop())

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(db, zerolog.Nop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	f.sessions = repository.NewSessionRepository(db, zerolog.Nop())
	engine := service.NewSyncService(client, f.sessions, zerolog.Nop())
	f.orchestrator = NewOrchestrator(engine, f.sessions,
		func() bool { return f.authenticated.Load() },
		func() bool { return f.online.Load() },
		interval, zerolog.Nop())
	return f
}

func (f *orchestratorFixture) insertFailed(t *testing.T, clientID, message string) {
	t.Helper()
	ctx := context.Background()
	started := time.Now().Add(-time.Minute)
	completed := time.Now()
	session := &domain.TrainingSession{
		ClientSessionID:  clientID,
		GridSize:         5,
		MaxTimeSeconds:   120,
		OrderMode:        domain.OrderAscending,
		Status:           domain.StatusCompleted,
		CompletionTimeMs: 45000,
		StartedAt:        started,
		CompletedAt:      &completed,
	}
	if _, err := f.sessions.Insert(ctx, session); err != nil {
		t.Fatal(err)
	}
	err := f.sessions.UpdateSyncStatus(ctx, clientID, domain.SyncFailed, &repository.SyncStatusUpdate{SyncError: message})
	if err != nil {
		t.Fatal(err)
	}
}

func createdResponse(w http.ResponseWriter, r *http.Request) {
	var payload api.SessionPayload
	json.NewDecoder(r.Body).Decode(&payload)
	json.NewEncoder(w).Encode(api.SessionResponse{
		ID:        "cloud-" + payload.ClientSessionID,
		CreatedAt: time.Now(),
	})
}

func TestSnapshotEmpty(t *testing.T) {
	f := newFixture(t, nil, time.Hour)

	state := f.orchestrator.Snapshot()
	if state.IsSyncing {
		t.Error("fresh orchestrator should not report syncing")
	}
	if state.LastSyncAt != nil {
		t.Error("fresh orchestrator has no last sync time")
	}
	if len(state.Queue) != 0 || len(state.Errors) != 0 {
		t.Errorf("state = %+v, want empty queue and errors", state)
	}
}

func TestEnqueueAndClearError(t *testing.T) {
	f := newFixture(t, nil, time.Hour)

	f.orchestrator.Enqueue("b")
	f.orchestrator.Enqueue("a")
	f.orchestrator.Enqueue("a")

	state := f.orchestrator.Snapshot()
	if !reflect.DeepEqual(state.Queue, []string{"a", "b"}) {
		t.Errorf("queue = %v, want [a b] deduplicated and sorted", state.Queue)
	}

	f.orchestrator.mu.Lock()
	f.orchestrator.errors["a"] = "boom"
	f.orchestrator.mu.Unlock()

	f.orchestrator.ClearError("a")
	if errs := f.orchestrator.Snapshot().Errors; len(errs) != 0 {
		t.Errorf("errors = %v, want cleared", errs)
	}
}

func TestSyncSessionUpdatesState(t *testing.T) {
	f := newFixture(t, createdResponse, time.Hour)
	ctx := context.Background()

	f.insertFailed(t, "s1", "old failure")
	f.orchestrator.Enqueue("s1")
	f.orchestrator.mu.Lock()
	f.orchestrator.errors["s1"] = "old failure"
	f.orchestrator.mu.Unlock()

	if err := f.orchestrator.SyncSession(ctx, "s1"); err != nil {
		t.Fatalf("SyncSession: %v", err)
	}

	state := f.orchestrator.Snapshot()
	if len(state.Queue) != 0 {
		t.Errorf("queue = %v, want drained", state.Queue)
	}
	if len(state.Errors) != 0 {
		t.Errorf("errors = %v, want cleared", state.Errors)
	}
	if state.LastSyncAt == nil {
		t.Error("last sync time should be set")
	}
}

func TestSyncSessionUnknownID(t *testing.T) {
	f := newFixture(t, createdResponse, time.Hour)

	err := f.orchestrator.SyncSession(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
	if f.requests.Load() != 0 {
		t.Error("unknown session must not reach the network")
	}
}

func TestSyncSessionFailureRecordsError(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom"}}`))
	}, time.Hour)
	ctx := context.Background()

	f.insertFailed(t, "s1", "old failure")

	if err := f.orchestrator.SyncSession(ctx, "s1"); err == nil {
		t.Fatal("expected error")
	}

	state := f.orchestrator.Snapshot()
	if _, ok := state.Errors["s1"]; !ok {
		t.Errorf("errors = %v, want entry for s1", state.Errors)
	}
}

func TestRetryFailedClearsResolvedErrors(t *testing.T) {
	f := newFixture(t, createdResponse, time.Hour)
	ctx := context.Background()

	f.insertFailed(t, "s1", "old failure")
	f.orchestrator.mu.Lock()
	f.orchestrator.errors["s1"] = "old failure"
	f.orchestrator.mu.Unlock()

	result := f.orchestrator.RetryFailed(ctx)
	if !result.Success || result.SyncedCount != 1 {
		t.Fatalf("result = %+v, want one synced", result)
	}

	state := f.orchestrator.Snapshot()
	if len(state.Errors) != 0 {
		t.Errorf("errors = %v, want cleared after successful retry", state.Errors)
	}
	if state.LastSyncAt == nil {
		t.Error("last sync time should be set")
	}
}

func TestTickSkipsWhenUnauthenticated(t *testing.T) {
	f := newFixture(t, createdResponse, time.Hour)
	f.insertFailed(t, "s1", "old failure")

	f.authenticated.Store(false)
	f.orchestrator.tick()
	if f.requests.Load() != 0 {
		t.Error("unauthenticated tick must not sync")
	}

	f.authenticated.Store(true)
	f.online.Store(false)
	f.orchestrator.tick()
	if f.requests.Load() != 0 {
		t.Error("offline tick must not sync")
	}

	f.online.Store(true)
	f.orchestrator.tick()
	if f.requests.Load() == 0 {
		t.Error("authenticated online tick should run the retry pass")
	}
}

func TestTickSkipsWhileBusy(t *testing.T) {
	f := newFixture(t, createdResponse, time.Hour)
	f.insertFailed(t, "s1", "old failure")

	f.orchestrator.begin()
	f.orchestrator.tick()
	f.orchestrator.end()
	if f.requests.Load() != 0 {
		t.Error("tick must skip while a sync is in flight")
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, createdResponse, time.Hour)

	f.orchestrator.Start()
	f.orchestrator.Stop()
	// Stop is idempotent
	f.orchestrator.Stop()
}
