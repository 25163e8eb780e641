package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"schulte-trainer/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// querier is the subset of *sql.DB / *sql.Tx the repositories need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SessionRepository struct {
	q      querier
	db     *sql.DB
	logger zerolog.Logger
}

func NewSessionRepository(sqlDB *sql.DB, logger zerolog.Logger) *SessionRepository {
	return &SessionRepository{
		q:      sqlDB,
		db:     sqlDB,
		logger: logger,
	}
}

// WithTx returns a copy of the repository bound to the transaction.
func (r *SessionRepository) WithTx(tx *sql.Tx) *SessionRepository {
	return &SessionRepository{
		q:      tx,
		db:     r.db,
		logger: r.logger,
	}
}

func (r *SessionRepository) DB() *sql.DB {
	return r.db
}

const sessionColumns = `local_id, client_session_id, grid_size, max_time, order_mode, status,
	completion_time_ms, mistakes, accuracy, tap_events, started_at, completed_at,
	sync_status, cloud_id, synced_at, sync_error, created_at`

// Insert stores a session and assigns its local id. The session always enters
// the store as local-only; sync status moves only through UpdateSyncStatus.
func (r *SessionRepository) Insert(ctx context.Context, session *domain.TrainingSession) (string, error) {
	localID, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate local id: %w", err)
	}

	tapEvents, err := json.Marshal(session.TapEvents)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tap events: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO sessions (local_id, client_session_id, grid_size, max_time, order_mode, status,
			completion_time_ms, mistakes, accuracy, tap_events, started_at, completed_at,
			sync_status, cloud_id, synced_at, sync_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', NULL, '', ?)`,
		localID,
		session.ClientSessionID,
		session.GridSize,
		session.MaxTimeSeconds,
		string(session.OrderMode),
		string(session.Status),
		session.CompletionTimeMs,
		session.Mistakes,
		session.Accuracy,
		string(tapEvents),
		session.StartedAt,
		nullTime(session.CompletedAt),
		string(domain.SyncLocalOnly),
		time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert session %s: %w", session.ClientSessionID, err)
	}

	session.LocalID = localID
	session.SyncStatus = domain.SyncLocalOnly
	return localID, nil
}

func (r *SessionRepository) GetByLocalID(ctx context.Context, localID string) (*domain.TrainingSession, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE local_id = ?`, localID)
	return scanSession(row)
}

func (r *SessionRepository) GetByClientID(ctx context.Context, clientSessionID string) (*domain.TrainingSession, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE client_session_id = ?`, clientSessionID)
	return scanSession(row)
}

func (r *SessionRepository) ListRecent(ctx context.Context, limit int) ([]domain.TrainingSession, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListUnsynced returns sessions the remote does not have yet
// (local-only or sync-failed).
func (r *SessionRepository) ListUnsynced(ctx context.Context) ([]domain.TrainingSession, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE sync_status IN (?, ?) ORDER BY started_at ASC`,
		string(domain.SyncLocalOnly), string(domain.SyncFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (r *SessionRepository) ListFailed(ctx context.Context) ([]domain.TrainingSession, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE sync_status = ? ORDER BY started_at ASC`,
		string(domain.SyncFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// CompletedTimes returns completion times of all completed sessions for a
// grid size and order mode, used for the O(n) average recomputation.
func (r *SessionRepository) CompletedTimes(ctx context.Context, gridSize int, mode domain.OrderMode) ([]int64, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT completion_time_ms FROM sessions
		 WHERE grid_size = ? AND order_mode = ? AND status = ?`,
		gridSize, string(mode), string(domain.StatusCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []int64
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

func (r *SessionRepository) Delete(ctx context.Context, localID string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM sessions WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", localID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SyncStatusUpdate carries the optional side effects of a sync attempt.
type SyncStatusUpdate struct {
	CloudID    string
	SyncedAt   *time.Time
	SyncError  string
	ClearError bool
}

// UpdateSyncStatus moves a session along the sync state machine, keyed by the
// client session id (the only correlation key the sync engine uses).
func (r *SessionRepository) UpdateSyncStatus(ctx context.Context, clientSessionID string, status domain.SyncStatus, update *SyncStatusUpdate) error {
	query := `UPDATE sessions SET sync_status = ?`
	args := []any{string(status)}

	if update != nil {
		if update.CloudID != "" {
			query += `, cloud_id = ?`
			args = append(args, update.CloudID)
		}
		if update.SyncedAt != nil {
			query += `, synced_at = ?`
			args = append(args, *update.SyncedAt)
		}
		if update.SyncError != "" {
			query += `, sync_error = ?`
			args = append(args, update.SyncError)
		} else if update.ClearError {
			query += `, sync_error = ''`
		}
	}

	query += ` WHERE client_session_id = ?`
	args = append(args, clientSessionID)

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update sync status for %s: %w", clientSessionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		r.logger.Warn().Str("client_session_id", clientSessionID).Msg("session not found for sync status update")
		return ErrNotFound
	}
	return nil
}

func scanSession(row *sql.Row) (*domain.TrainingSession, error) {
	var s domain.TrainingSession
	var tapEvents string
	var completedAt, syncedAt sql.NullTime
	var orderMode, status, syncStatus string

	err := row.Scan(
		&s.LocalID,
		&s.ClientSessionID,
		&s.GridSize,
		&s.MaxTimeSeconds,
		&orderMode,
		&status,
		&s.CompletionTimeMs,
		&s.Mistakes,
		&s.Accuracy,
		&tapEvents,
		&s.StartedAt,
		&completedAt,
		&syncStatus,
		&s.CloudID,
		&syncedAt,
		&s.SyncError,
		&s.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return finishSession(&s, tapEvents, completedAt, syncedAt, orderMode, status, syncStatus)
}

func scanSessions(rows *sql.Rows) ([]domain.TrainingSession, error) {
	sessions := []domain.TrainingSession{}
	for rows.Next() {
		var s domain.TrainingSession
		var tapEvents string
		var completedAt, syncedAt sql.NullTime
		var orderMode, status, syncStatus string

		err := rows.Scan(
			&s.LocalID,
			&s.ClientSessionID,
			&s.GridSize,
			&s.MaxTimeSeconds,
			&orderMode,
			&status,
			&s.CompletionTimeMs,
			&s.Mistakes,
			&s.Accuracy,
			&tapEvents,
			&s.StartedAt,
			&completedAt,
			&syncStatus,
			&s.CloudID,
			&syncedAt,
			&s.SyncError,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		out, err := finishSession(&s, tapEvents, completedAt, syncedAt, orderMode, status, syncStatus)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *out)
	}
	return sessions, rows.Err()
}

func finishSession(s *domain.TrainingSession, tapEvents string, completedAt, syncedAt sql.NullTime, orderMode, status, syncStatus string) (*domain.TrainingSession, error) {
	s.OrderMode = domain.OrderMode(orderMode)
	s.Status = domain.SessionStatus(status)
	s.SyncStatus = domain.SyncStatus(syncStatus)
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		s.SyncedAt = &t
	}
	if err := json.Unmarshal([]byte(tapEvents), &s.TapEvents); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tap events for %s: %w", s.ClientSessionID, err)
	}
	return s, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
