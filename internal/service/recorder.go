package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"schulte-trainer/internal/constants"
	"schulte-trainer/internal/domain"
	"schulte-trainer/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSessionNotTerminal rejects recording a session that is still running.
var ErrSessionNotTerminal = errors.New("session status must be terminal")

// ErrInvalidSession rejects malformed session input.
var ErrInvalidSession = errors.New("invalid session")

// RecorderService turns finished gameplay data into a stored session record
// and keeps the profile's aggregate stats current. It never talks to the
// network.
type RecorderService struct {
	sessions *repository.SessionRepository
	profiles *repository.ProfileRepository
	logger   zerolog.Logger

	// injected for streak tests
	now func() time.Time
}

func NewRecorderService(sessions *repository.SessionRepository, profiles *repository.ProfileRepository, logger zerolog.Logger) *RecorderService {
	return &RecorderService{
		sessions: sessions,
		profiles: profiles,
		logger:   logger,
		now:      time.Now,
	}
}

// Record validates and stores a finished session, then updates the aggregate
// stats. Insert and stats update commit in one transaction so a session is
// never observable without its stats contribution.
func (s *RecorderService) Record(ctx context.Context, session *domain.TrainingSession) (string, error) {
	if err := validateSession(session); err != nil {
		return "", err
	}

	if session.ClientSessionID == "" {
		session.ClientSessionID = uuid.New().String()
	}
	if len(session.TapEvents) > 0 {
		session.Accuracy = computeAccuracy(session.TapEvents)
	}

	tx, err := s.sessions.DB().BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sessionsTx := s.sessions.WithTx(tx)
	profilesTx := s.profiles.WithTx(tx)

	localID, err := sessionsTx.Insert(ctx, session)
	if err != nil {
		return "", err
	}

	profile, err := profilesTx.GetOrCreate(ctx)
	if err != nil {
		return "", err
	}

	stats, err := s.applyStats(ctx, sessionsTx, profile.Stats, session)
	if err != nil {
		return "", err
	}
	if err := profilesTx.UpdateStats(ctx, stats); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit session record: %w", err)
	}

	s.logger.Info().
		Str("local_id", localID).
		Str("client_session_id", session.ClientSessionID).
		Str("status", string(session.Status)).
		Int("grid_size", session.GridSize).
		Int64("completion_time_ms", session.CompletionTimeMs).
		Msg("session recorded")

	return localID, nil
}

func (s *RecorderService) applyStats(ctx context.Context, sessionsTx *repository.SessionRepository, stats domain.Stats, session *domain.TrainingSession) (domain.Stats, error) {
	now := s.now()
	previousPlayed := stats.LastPlayedAt

	stats.TotalSessions++
	stats.LastPlayedAt = &now

	if session.Status != domain.StatusCompleted {
		return stats, nil
	}

	stats.CompletedSessions++
	key := domain.StatsKey(session.GridSize, session.OrderMode)

	if best, ok := stats.BestTimes[key]; !ok || session.CompletionTimeMs < best {
		stats.BestTimes[key] = session.CompletionTimeMs
	}

	// O(n) average over all completed sessions for this key, including the
	// row inserted in this transaction.
	times, err := sessionsTx.CompletedTimes(ctx, session.GridSize, session.OrderMode)
	if err != nil {
		return stats, fmt.Errorf("failed to load completion times: %w", err)
	}
	if len(times) > 0 {
		var total int64
		for _, t := range times {
			total += t
		}
		stats.AvgTimes[key] = int64(math.Round(float64(total) / float64(len(times))))
	}

	switch {
	case previousPlayed != nil && sameDay(*previousPlayed, now):
		// already played today, streak unchanged
	case previousPlayed != nil && sameDay(*previousPlayed, now.AddDate(0, 0, -1)):
		stats.CurrentStreak++
		if stats.CurrentStreak > stats.LongestStreak {
			stats.LongestStreak = stats.CurrentStreak
		}
	default:
		stats.CurrentStreak = 1
		if stats.LongestStreak == 0 {
			stats.LongestStreak = 1
		}
	}

	return stats, nil
}

func validateSession(session *domain.TrainingSession) error {
	if !session.Status.Terminal() {
		return ErrSessionNotTerminal
	}
	if session.GridSize < constants.MinGridSize || session.GridSize > constants.MaxGridSize {
		return fmt.Errorf("%w: grid size %d out of range", ErrInvalidSession, session.GridSize)
	}
	if session.MaxTimeSeconds < constants.MinMaxTime || session.MaxTimeSeconds > constants.MaxMaxTime {
		return fmt.Errorf("%w: max time %d out of range", ErrInvalidSession, session.MaxTimeSeconds)
	}
	if session.OrderMode != domain.OrderAscending && session.OrderMode != domain.OrderDescending {
		return fmt.Errorf("%w: unknown order mode %q", ErrInvalidSession, session.OrderMode)
	}
	if session.StartedAt.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrInvalidSession)
	}
	return nil
}

func computeAccuracy(events []domain.TapEvent) int {
	correct := 0
	for _, e := range events {
		if e.Correct {
			correct++
		}
	}
	return int(math.Round(float64(correct) / float64(len(events)) * 100))
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}
