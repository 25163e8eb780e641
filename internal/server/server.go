package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"schulte-trainer/internal/api"
	"schulte-trainer/internal/auth"
	"schulte-trainer/internal/constants"
	"schulte-trainer/internal/domain"
	"schulte-trainer/internal/repository"
	"schulte-trainer/internal/service"
	syncpkg "schulte-trainer/internal/sync"

	"github.com/rs/zerolog"
)

// Server is the local JSON control surface for the UI process: record
// sessions, browse history, manage the account session, and drive/observe
// sync.
type Server struct {
	recorder     *service.RecorderService
	settings     *service.SettingsService
	orchestrator *syncpkg.Orchestrator
	authManager  *auth.Manager
	sessions     *repository.SessionRepository
	logger       zerolog.Logger
}

func New(recorder *service.RecorderService, settings *service.SettingsService, orchestrator *syncpkg.Orchestrator, authManager *auth.Manager, sessions *repository.SessionRepository, logger zerolog.Logger) *Server {
	return &Server{
		recorder:     recorder,
		settings:     settings,
		orchestrator: orchestrator,
		authManager:  authManager,
		sessions:     sessions,
		logger:       logger,
	}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleRecordSession)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("DELETE /v1/sessions/{localID}", s.handleDeleteSession)
	mux.HandleFunc("POST /v1/sessions/{clientID}/sync", s.handleSyncSession)
	mux.HandleFunc("GET /v1/profile", s.handleGetProfile)
	mux.HandleFunc("PATCH /v1/preferences", s.handleUpdatePreferences)
	mux.HandleFunc("POST /v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /v1/auth/logout", s.handleLogout)
	mux.HandleFunc("POST /v1/sync", s.handleBulkSync)
	mux.HandleFunc("POST /v1/sync/retry", s.handleRetryFailed)
	mux.HandleFunc("GET /v1/sync/status", s.handleSyncStatus)
	return mux
}

type recordSessionRequest struct {
	ClientSessionID  string            `json:"clientSessionId"`
	GridSize         int               `json:"gridSize"`
	MaxTimeSeconds   int               `json:"maxTimeSeconds"`
	OrderMode        string            `json:"orderMode"`
	Status           string            `json:"status"`
	CompletionTimeMs int64             `json:"completionTimeMs"`
	Mistakes         int               `json:"mistakes"`
	TapEvents        []domain.TapEvent `json:"tapEvents"`
	StartedAt        time.Time         `json:"startedAt"`
	CompletedAt      *time.Time        `json:"completedAt"`
}

type sessionView struct {
	LocalID          string            `json:"localId"`
	ClientSessionID  string            `json:"clientSessionId"`
	GridSize         int               `json:"gridSize"`
	MaxTimeSeconds   int               `json:"maxTimeSeconds"`
	OrderMode        string            `json:"orderMode"`
	Status           string            `json:"status"`
	CompletionTimeMs int64             `json:"completionTimeMs"`
	Mistakes         int               `json:"mistakes"`
	Accuracy         int               `json:"accuracy"`
	TapEvents        []domain.TapEvent `json:"tapEvents"`
	StartedAt        time.Time         `json:"startedAt"`
	CompletedAt      *time.Time        `json:"completedAt"`
	SyncStatus       string            `json:"syncStatus"`
	CloudID          string            `json:"cloudId,omitempty"`
	SyncedAt         *time.Time        `json:"syncedAt,omitempty"`
	SyncError        string            `json:"syncError,omitempty"`
}

func toSessionView(s *domain.TrainingSession) sessionView {
	return sessionView{
		LocalID:          s.LocalID,
		ClientSessionID:  s.ClientSessionID,
		GridSize:         s.GridSize,
		MaxTimeSeconds:   s.MaxTimeSeconds,
		OrderMode:        string(s.OrderMode),
		Status:           string(s.Status),
		CompletionTimeMs: s.CompletionTimeMs,
		Mistakes:         s.Mistakes,
		Accuracy:         s.Accuracy,
		TapEvents:        s.TapEvents,
		StartedAt:        s.StartedAt,
		CompletedAt:      s.CompletedAt,
		SyncStatus:       string(s.SyncStatus),
		CloudID:          s.CloudID,
		SyncedAt:         s.SyncedAt,
		SyncError:        s.SyncError,
	}
}

func (s *Server) handleRecordSession(w http.ResponseWriter, r *http.Request) {
	var req recordSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session := &domain.TrainingSession{
		ClientSessionID:  req.ClientSessionID,
		GridSize:         req.GridSize,
		MaxTimeSeconds:   req.MaxTimeSeconds,
		OrderMode:        domain.OrderMode(req.OrderMode),
		Status:           domain.SessionStatus(req.Status),
		CompletionTimeMs: req.CompletionTimeMs,
		Mistakes:         req.Mistakes,
		TapEvents:        req.TapEvents,
		StartedAt:        req.StartedAt,
		CompletedAt:      req.CompletedAt,
	}

	localID, err := s.recorder.Record(r.Context(), session)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotTerminal) || errors.Is(err, service.ErrInvalidSession) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("failed to record session")
		writeError(w, http.StatusInternalServerError, "failed to record session")
		return
	}

	// sync happens opportunistically; recording never waits for it
	s.orchestrator.Enqueue(session.ClientSessionID)

	writeJSON(w, http.StatusCreated, map[string]string{
		"localId":         localID,
		"clientSessionId": session.ClientSessionID,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListRecent(r.Context(), constants.RecentSessionsLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list sessions")
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	views := make([]sessionView, len(sessions))
	for i := range sessions {
		views[i] = toSessionView(&sessions[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": views})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.sessions.Delete(r.Context(), r.PathValue("localID"))
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to delete session")
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncSession(w http.ResponseWriter, r *http.Request) {
	err := s.orchestrator.SyncSession(r.Context(), r.PathValue("clientID"))
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"synced": true})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.settings.Profile(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load profile")
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          profile.ID,
		"createdAt":   profile.CreatedAt,
		"preferences": profile.Preferences,
		"stats":       profile.Stats,
	})
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs domain.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.settings.UpdatePreferences(r.Context(), prefs, s.authManager.IsAuthenticated()); err != nil {
		s.logger.Error().Err(err).Msg("failed to update preferences")
		writeError(w, http.StatusInternalServerError, "failed to update preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.authManager.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":          user.ID,
		"email":       user.Email,
		"displayName": user.DisplayName,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.authManager.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBulkSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.BulkSync(r.Context()))
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.RetryFailed(r.Context()))
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.Snapshot())
}

func writeSyncError(w http.ResponseWriter, err error) {
	var apiErr *api.Error
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, api.ErrNetwork):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, api.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &apiErr):
		writeError(w, apiErr.Status, apiErr.Message)
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": message},
	})
}
