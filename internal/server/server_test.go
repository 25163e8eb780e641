package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"schulte-trainer/internal/api"
	"schulte-trainer/internal/auth"
	"schulte-trainer/internal/database"
	"schulte-trainer/internal/repository"
	"schulte-trainer/internal/service"
	syncpkg "schulte-trainer/internal/sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// newTestServer wires the full local stack against a fake backend.
func newTestServer(t *testing.T, backend http.Handler) *httptest.Server {
	t.Helper()

	if backend == nil {
		backend = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unexpected backend call", http.StatusInternalServerError)
		})
	}
	backendSrv := httptest.NewServer(backend)
	t.Cleanup(backendSrv.Close)

	manager := auth.NewManager(zerolog.Nop())
	client := api.NewClient(api.Config{
		BaseURL:        backendSrv.URL,
		GetAccessToken: manager.AccessToken,
		RefreshTokens:  manager.Refresh,
		OnUnauthorized: manager.HandleUnauthorized,
	}, zerolog.Nop())
	manager.Bind(client)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(db, zerolog.Nop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	sessions := repository.NewSessionRepository(db, zerolog.Nop())
	profiles := repository.NewProfileRepository(db, zerolog.Nop())
	recorder := service.NewRecorderService(sessions, profiles, zerolog.Nop())
	settings := service.NewSettingsService(profiles, client, zerolog.Nop())
	engine := service.NewSyncService(client, sessions, zerolog.Nop())
	orchestrator := syncpkg.NewOrchestrator(engine, sessions, manager.IsAuthenticated, nil, time.Hour, zerolog.Nop())

	srv := httptest.NewServer(New(recorder, settings, orchestrator, manager, sessions, zerolog.Nop()).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func recordBody(clientID string) string {
	started := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	completed := started.Add(45 * time.Second)
	return `{
		"clientSessionId": "` + clientID + `",
		"gridSize": 5,
		"maxTimeSeconds": 120,
		"orderMode": "ascending",
		"status": "completed",
		"completionTimeMs": 45000,
		"mistakes": 1,
		"tapEvents": [{"cellIndex":0,"expectedValue":1,"tappedValue":1,"correct":true,"timestampMs":1200}],
		"startedAt": "` + started.Format(time.RFC3339) + `",
		"completedAt": "` + completed.Format(time.RFC3339) + `"
	}`
}

func TestRecordThenListSession(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/v1/sessions", recordBody("c1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("record status = %d, want 201", resp.StatusCode)
	}
	var created map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created["localId"] == "" || created["clientSessionId"] != "c1" {
		t.Errorf("created = %v", created)
	}

	listResp, err := http.Get(srv.URL + "/v1/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	var list struct {
		Data []sessionView `json:"data"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Data) != 1 {
		t.Fatalf("listed %d sessions, want 1", len(list.Data))
	}
	got := list.Data[0]
	if got.ClientSessionID != "c1" || got.SyncStatus != "local-only" || got.Accuracy != 100 {
		t.Errorf("session view = %+v", got)
	}

	// recorded session lands on the sync queue
	statusResp, err := http.Get(srv.URL + "/v1/sync/status")
	if err != nil {
		t.Fatal(err)
	}
	defer statusResp.Body.Close()
	var state syncpkg.State
	if err := json.NewDecoder(statusResp.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if len(state.Queue) != 1 || state.Queue[0] != "c1" {
		t.Errorf("queue = %v, want [c1]", state.Queue)
	}
}

func TestRecordRejectsInvalidSession(t *testing.T) {
	srv := newTestServer(t, nil)

	body := strings.Replace(recordBody("c1"), `"gridSize": 5`, `"gridSize": 3`, 1)
	resp := postJSON(t, srv.URL+"/v1/sessions", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var errBody struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatal(err)
	}
	if errBody.Error.Message == "" {
		t.Error("error body should carry a message")
	}
}

func TestDeleteSession(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/v1/sessions", recordBody("c1"))
	var created map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/sessions/"+created["localId"], nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", delResp.StatusCode)
	}

	again, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	again.Body.Close()
	if again.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", again.StatusCode)
	}
}

func TestSyncSessionNotFound(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/v1/sessions/nope/sync", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSyncSessionAgainstBackend(t *testing.T) {
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload api.SessionPayload
		json.NewDecoder(r.Body).Decode(&payload)
		if payload.OrderMode != "ASC" {
			t.Errorf("order mode on wire = %q, want ASC", payload.OrderMode)
		}
		json.NewEncoder(w).Encode(api.SessionResponse{ID: "cloud-1", CreatedAt: time.Now()})
	})
	srv := newTestServer(t, backend)

	postJSON(t, srv.URL+"/v1/sessions", recordBody("c1"))
	resp := postJSON(t, srv.URL+"/v1/sessions/c1/sync", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d, want 200", resp.StatusCode)
	}

	listResp, err := http.Get(srv.URL + "/v1/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	var list struct {
		Data []sessionView `json:"data"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if list.Data[0].SyncStatus != "synced" || list.Data[0].CloudID != "cloud-1" {
		t.Errorf("session = %+v, want synced with cloud-1", list.Data[0])
	}
}

func TestProfileAndPreferences(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/v1/profile")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var profile struct {
		ID          string `json:"id"`
		Preferences struct {
			Theme string `json:"theme"`
		} `json:"preferences"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		t.Fatal(err)
	}
	if profile.ID != "local" || profile.Preferences.Theme != "system" {
		t.Errorf("profile = %+v, want default local profile", profile)
	}

	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/v1/preferences",
		strings.NewReader(`{"theme":"dark","defaultGridSize":6,"defaultMaxTime":180}`))
	patchResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	patchResp.Body.Close()
	if patchResp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d, want 200", patchResp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/v1/profile")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if err := json.NewDecoder(resp2.Body).Decode(&profile); err != nil {
		t.Fatal(err)
	}
	if profile.Preferences.Theme != "dark" {
		t.Errorf("theme = %q, want dark", profile.Preferences.Theme)
	}
}

func TestLoginFailurePassesBackendStatus(t *testing.T) {
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid credentials"}}`))
	})
	srv := newTestServer(t, backend)

	resp := postJSON(t, srv.URL+"/v1/auth/login", `{"email":"a@b.c","password":"nope"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestBulkSyncEndpointEmpty(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/v1/sync", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var result service.SyncResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.SyncedCount != 0 {
		t.Errorf("result = %+v, want zero-count success", result)
	}
}
