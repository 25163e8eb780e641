package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"schulte-trainer/internal/domain"

	"github.com/rs/zerolog"
)

// ProfileID is the key of the single local profile row.
const ProfileID = "local"

type ProfileRepository struct {
	q      querier
	db     *sql.DB
	logger zerolog.Logger
}

func NewProfileRepository(sqlDB *sql.DB, logger zerolog.Logger) *ProfileRepository {
	return &ProfileRepository{
		q:      sqlDB,
		db:     sqlDB,
		logger: logger,
	}
}

func (r *ProfileRepository) WithTx(tx *sql.Tx) *ProfileRepository {
	return &ProfileRepository{
		q:      tx,
		db:     r.db,
		logger: r.logger,
	}
}

// GetOrCreate returns the local profile, creating it with defaults on first
// access.
func (r *ProfileRepository) GetOrCreate(ctx context.Context) (*domain.UserProfile, error) {
	profile, err := r.get(ctx)
	if err == nil {
		return profile, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	profile = &domain.UserProfile{
		ID:          ProfileID,
		CreatedAt:   time.Now(),
		Preferences: domain.DefaultPreferences(),
		Stats:       domain.DefaultStats(),
	}

	prefs, err := json.Marshal(profile.Preferences)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preferences: %w", err)
	}
	stats, err := json.Marshal(profile.Stats)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stats: %w", err)
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO profile (id, created_at, preferences, stats) VALUES (?, ?, ?, ?)`,
		profile.ID, profile.CreatedAt, string(prefs), string(stats))
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	r.logger.Info().Msg("local profile created")
	return profile, nil
}

func (r *ProfileRepository) get(ctx context.Context) (*domain.UserProfile, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, created_at, preferences, stats FROM profile WHERE id = ?`, ProfileID)

	var profile domain.UserProfile
	var prefs, stats string
	err := row.Scan(&profile.ID, &profile.CreatedAt, &prefs, &stats)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(prefs), &profile.Preferences); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &profile.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
	}
	if profile.Stats.BestTimes == nil {
		profile.Stats.BestTimes = map[string]int64{}
	}
	if profile.Stats.AvgTimes == nil {
		profile.Stats.AvgTimes = map[string]int64{}
	}
	return &profile, nil
}

func (r *ProfileRepository) UpdatePreferences(ctx context.Context, prefs domain.Preferences) error {
	encoded, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	_, err = r.q.ExecContext(ctx,
		`UPDATE profile SET preferences = ? WHERE id = ?`, string(encoded), ProfileID)
	if err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	return nil
}

func (r *ProfileRepository) UpdateStats(ctx context.Context, stats domain.Stats) error {
	encoded, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	_, err = r.q.ExecContext(ctx,
		`UPDATE profile SET stats = ? WHERE id = ?`, string(encoded), ProfileID)
	if err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}
	return nil
}
