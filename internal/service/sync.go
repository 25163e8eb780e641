package service

import (
	"context"
	"fmt"
	"time"

	"schulte-trainer/internal/api"
	"schulte-trainer/internal/constants"
	"schulte-trainer/internal/domain"
	"schulte-trainer/internal/repository"

	"github.com/rs/zerolog"
)

// SessionError pairs a client session id with the failure that hit it.
type SessionError struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}

// SyncResult is the structured outcome of a bulk or retry pass. Bulk and
// retry never fail with an error; they always report through this.
type SyncResult struct {
	Success     bool           `json:"success"`
	SyncedCount int            `json:"syncedCount"`
	FailedCount int            `json:"failedCount"`
	Errors      []SessionError `json:"errors"`
}

// SyncService reconciles local session records with the remote service.
// Per-session sync status is mutated only here.
type SyncService struct {
	client   *api.Client
	sessions *repository.SessionRepository
	logger   zerolog.Logger
}

func NewSyncService(client *api.Client, sessions *repository.SessionRepository, logger zerolog.Logger) *SyncService {
	return &SyncService{client: client, sessions: sessions, logger: logger}
}

// SyncSession pushes one session. The server is idempotent on
// client_session_id, so repeating a sync of an already-known session is
// harmless. Unlike the bulk and retry paths this returns the failure to the
// caller, for UI-triggered manual syncs.
func (s *SyncService) SyncSession(ctx context.Context, session *domain.TrainingSession) error {
	if err := s.sessions.UpdateSyncStatus(ctx, session.ClientSessionID, domain.SyncSyncing, nil); err != nil {
		return err
	}

	resp, err := s.client.CreateSession(ctx, api.ToSessionPayload(session))
	if err != nil {
		if markErr := s.sessions.UpdateSyncStatus(ctx, session.ClientSessionID, domain.SyncFailed, &repository.SyncStatusUpdate{
			SyncError: err.Error(),
		}); markErr != nil {
			s.logger.Error().Err(markErr).Str("client_session_id", session.ClientSessionID).Msg("failed to mark session sync-failed")
		}
		return fmt.Errorf("failed to sync session %s: %w", session.ClientSessionID, err)
	}

	syncedAt := resp.CreatedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	if err := s.sessions.UpdateSyncStatus(ctx, session.ClientSessionID, domain.SyncSynced, &repository.SyncStatusUpdate{
		CloudID:    resp.ID,
		SyncedAt:   &syncedAt,
		ClearError: true,
	}); err != nil {
		return err
	}

	s.logger.Debug().
		Str("client_session_id", session.ClientSessionID).
		Str("cloud_id", resp.ID).
		Msg("session synced")
	return nil
}

// BulkSync submits every local-only and sync-failed session in batched
// requests. Intended for first-login reconciliation. An empty outstanding set
// is a zero-count success with no network call.
func (s *SyncService) BulkSync(ctx context.Context) SyncResult {
	result := SyncResult{Success: true, Errors: []SessionError{}}

	pending, err := s.sessions.ListUnsynced(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to collect unsynced sessions")
		result.Success = false
		return result
	}
	if len(pending) == 0 {
		return result
	}

	for _, session := range pending {
		if err := s.sessions.UpdateSyncStatus(ctx, session.ClientSessionID, domain.SyncSyncing, nil); err != nil {
			s.logger.Error().Err(err).Str("client_session_id", session.ClientSessionID).Msg("failed to mark session syncing")
		}
	}

	// The server caps one request at BulkSyncBatchLimit sessions.
	for start := 0; start < len(pending); start += constants.BulkSyncBatchLimit {
		end := start + constants.BulkSyncBatchLimit
		if end > len(pending) {
			end = len(pending)
		}
		s.submitBatch(ctx, pending[start:end], &result)
	}

	s.logger.Info().
		Int("synced", result.SyncedCount).
		Int("failed", result.FailedCount).
		Msg("bulk sync finished")
	return result
}

func (s *SyncService) submitBatch(ctx context.Context, batch []domain.TrainingSession, result *SyncResult) {
	payloads := make([]api.SessionPayload, len(batch))
	for i := range batch {
		payloads[i] = api.ToSessionPayload(&batch[i])
	}

	resp, err := s.client.BulkSyncSessions(ctx, payloads)
	if err != nil {
		// Request-level failure: every session in the batch failed the same way.
		for _, session := range batch {
			if markErr := s.sessions.UpdateSyncStatus(ctx, session.ClientSessionID, domain.SyncFailed, &repository.SyncStatusUpdate{
				SyncError: err.Error(),
			}); markErr != nil {
				s.logger.Error().Err(markErr).Str("client_session_id", session.ClientSessionID).Msg("failed to mark session sync-failed")
			}
			result.Errors = append(result.Errors, SessionError{SessionID: session.ClientSessionID, Error: err.Error()})
		}
		result.Success = false
		result.FailedCount += len(batch)
		s.logger.Warn().Err(err).Int("count", len(batch)).Msg("bulk sync request failed")
		return
	}

	if len(resp.Results) > 0 {
		s.applyAckedResults(ctx, batch, resp, result)
		return
	}

	// Count-only server response: synced and skipped both mean the remote has
	// the record, so the whole submitted batch is synced.
	now := time.Now()
	for _, session := range batch {
		if err := s.sessions.UpdateSyncStatus(ctx, session.ClientSessionID, domain.SyncSynced, &repository.SyncStatusUpdate{
			SyncedAt:   &now,
			ClearError: true,
		}); err != nil {
			s.logger.Error().Err(err).Str("client_session_id", session.ClientSessionID).Msg("failed to mark session synced")
		}
	}
	result.SyncedCount += resp.Synced + resp.Skipped
}

// applyAckedResults marks sessions synced only when the server acknowledged
// them by id. Submitted sessions missing from the acknowledgment list go back
// to sync-failed instead of being silently assumed synced.
func (s *SyncService) applyAckedResults(ctx context.Context, pending []domain.TrainingSession, resp *api.BulkSyncResponse, result *SyncResult) {
	acked := make(map[string]string, len(resp.Results))
	for _, ack := range resp.Results {
		acked[ack.ClientSessionID] = ack.ID
	}

	now := time.Now()
	for _, session := range pending {
		cloudID, ok := acked[session.ClientSessionID]
		if !ok {
			const msg = "session not acknowledged by server"
			if err := s.sessions.UpdateSyncStatus(ctx, session.ClientSessionID, domain.SyncFailed, &repository.SyncStatusUpdate{
				SyncError: msg,
			}); err != nil {
				s.logger.Error().Err(err).Str("client_session_id", session.ClientSessionID).Msg("failed to mark session sync-failed")
			}
			result.FailedCount++
			result.Errors = append(result.Errors, SessionError{SessionID: session.ClientSessionID, Error: msg})
			result.Success = false
			continue
		}

		if err := s.sessions.UpdateSyncStatus(ctx, session.ClientSessionID, domain.SyncSynced, &repository.SyncStatusUpdate{
			CloudID:    cloudID,
			SyncedAt:   &now,
			ClearError: true,
		}); err != nil {
			s.logger.Error().Err(err).Str("client_session_id", session.ClientSessionID).Msg("failed to mark session synced")
			continue
		}
		result.SyncedCount++
	}
}

// RetryFailed re-attempts every sync-failed session one by one. A single
// session's failure never aborts the pass.
func (s *SyncService) RetryFailed(ctx context.Context) SyncResult {
	result := SyncResult{Success: true, Errors: []SessionError{}}

	failed, err := s.sessions.ListFailed(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to collect sync-failed sessions")
		result.Success = false
		return result
	}

	for i := range failed {
		session := &failed[i]
		if err := s.SyncSession(ctx, session); err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, SessionError{SessionID: session.ClientSessionID, Error: err.Error()})
			continue
		}
		result.SyncedCount++
	}

	if result.FailedCount > 0 {
		result.Success = false
	}
	if result.SyncedCount > 0 || result.FailedCount > 0 {
		s.logger.Info().
			Int("synced", result.SyncedCount).
			Int("failed", result.FailedCount).
			Msg("retry pass finished")
	}
	return result
}
