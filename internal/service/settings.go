package service

import (
	"context"

	"schulte-trainer/internal/api"
	"schulte-trainer/internal/domain"
	"schulte-trainer/internal/repository"

	"github.com/rs/zerolog"
)

// prefField describes where one local preference lands on the backend.
// Skip marks preferences that stay local (device-specific settings the
// backend has no column for).
type prefField struct {
	backendName string
	skip        bool
	value       func(p domain.Preferences) any
}

// prefMapping enumerates every local preference exactly once. Adding a field
// to domain.Preferences without extending this table is a bug the settings
// tests catch.
var prefMapping = map[string]prefField{
	"theme":           {backendName: "theme", value: func(p domain.Preferences) any { return p.Theme }},
	"defaultGridSize": {backendName: "default_grid_size", value: func(p domain.Preferences) any { return p.DefaultGridSize }},
	"defaultMaxTime":  {backendName: "default_max_time", value: func(p domain.Preferences) any { return p.DefaultMaxTime }},
	"showHints":       {backendName: "show_hints", value: func(p domain.Preferences) any { return p.ShowHints }},
	"showFixationDot": {backendName: "show_fixation_dot", value: func(p domain.Preferences) any { return p.ShowFixationDot }},
	"hapticFeedback":  {skip: true}, // device-local
	"soundEffects":    {skip: true}, // device-local
}

// SettingsService owns local preferences and their (one-way) push to the
// backend profile. Preference writes never depend on sync succeeding.
type SettingsService struct {
	profiles *repository.ProfileRepository
	client   *api.Client
	logger   zerolog.Logger
}

func NewSettingsService(profiles *repository.ProfileRepository, client *api.Client, logger zerolog.Logger) *SettingsService {
	return &SettingsService{profiles: profiles, client: client, logger: logger}
}

func (s *SettingsService) Profile(ctx context.Context) (*domain.UserProfile, error) {
	return s.profiles.GetOrCreate(ctx)
}

// UpdatePreferences stores the new preferences locally. When authenticated is
// true the syncable subset is pushed to the backend as well; a push failure
// is logged and swallowed, the local write stands.
func (s *SettingsService) UpdatePreferences(ctx context.Context, prefs domain.Preferences, authenticated bool) error {
	if err := s.profiles.UpdatePreferences(ctx, prefs); err != nil {
		return err
	}

	if !authenticated {
		return nil
	}

	fields := backendPrefFields(prefs)
	if len(fields) == 0 {
		return nil
	}
	if _, err := s.client.UpdatePreferences(ctx, fields); err != nil {
		s.logger.Warn().Err(err).Msg("failed to push preferences to backend")
	}
	return nil
}

func backendPrefFields(prefs domain.Preferences) map[string]any {
	fields := make(map[string]any)
	for _, field := range prefMapping {
		if field.skip {
			continue
		}
		fields[field.backendName] = field.value(prefs)
	}
	return fields
}
