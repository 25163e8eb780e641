package api

import (
	"time"

	"schulte-trainer/internal/domain"
)

type TapEventPayload struct {
	CellIndex     int   `json:"cell_index"`
	ExpectedValue int   `json:"expected_value"`
	TappedValue   int   `json:"tapped_value"`
	Correct       bool  `json:"correct"`
	TimestampMs   int64 `json:"timestamp_ms"`
}

type SessionPayload struct {
	ClientSessionID  string            `json:"client_session_id"`
	GridSize         int               `json:"grid_size"`
	MaxTime          int               `json:"max_time"`
	OrderMode        string            `json:"order_mode"`
	Status           string            `json:"status"`
	CompletionTimeMs int64             `json:"completion_time_ms"`
	Mistakes         int               `json:"mistakes"`
	Accuracy         int               `json:"accuracy"`
	TapEvents        []TapEventPayload `json:"tap_events"`
	StartedAt        time.Time         `json:"started_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// SessionResponse is the canonical server-side session record.
type SessionResponse struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	ClientSessionID  string     `json:"client_session_id"`
	GridSize         int        `json:"grid_size"`
	MaxTime          int        `json:"max_time"`
	OrderMode        string     `json:"order_mode"`
	Status           string     `json:"status"`
	CompletionTimeMs int64      `json:"completion_time_ms"`
	Mistakes         int        `json:"mistakes"`
	Accuracy         float64    `json:"accuracy"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

type BulkSyncRequest struct {
	Sessions []SessionPayload `json:"sessions"`
}

// BulkSyncAck correlates one accepted session with its server-side id.
type BulkSyncAck struct {
	ClientSessionID string `json:"client_session_id"`
	ID              string `json:"id"`
}

// BulkSyncResponse carries aggregate counts plus, on servers that support it,
// a per-session acknowledgment list. Results may be empty on older servers
// that only report counts.
type BulkSyncResponse struct {
	Synced  int           `json:"synced"`
	Skipped int           `json:"skipped"`
	Results []BulkSyncAck `json:"results"`
}

type ListSessionsResponse struct {
	Data []SessionResponse `json:"data"`
	Meta struct {
		Page       int `json:"page"`
		PerPage    int `json:"per_page"`
		Total      int `json:"total"`
		TotalPages int `json:"total_pages"`
	} `json:"meta"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type UserResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

type TokenResponse struct {
	AccessToken  string        `json:"access_token"`
	IDToken      string        `json:"id_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int           `json:"expires_in"`
	User         *UserResponse `json:"user,omitempty"`
}

// ToSessionPayload converts a local session record to its wire shape. The
// backend order mode vocabulary is ASC/DESC.
func ToSessionPayload(s *domain.TrainingSession) SessionPayload {
	events := make([]TapEventPayload, len(s.TapEvents))
	for i, e := range s.TapEvents {
		events[i] = TapEventPayload{
			CellIndex:     e.CellIndex,
			ExpectedValue: e.ExpectedValue,
			TappedValue:   e.TappedValue,
			Correct:       e.Correct,
			TimestampMs:   e.TimestampMs,
		}
	}

	orderMode := "ASC"
	if s.OrderMode == domain.OrderDescending {
		orderMode = "DESC"
	}

	return SessionPayload{
		ClientSessionID:  s.ClientSessionID,
		GridSize:         s.GridSize,
		MaxTime:          s.MaxTimeSeconds,
		OrderMode:        orderMode,
		Status:           string(s.Status),
		CompletionTimeMs: s.CompletionTimeMs,
		Mistakes:         s.Mistakes,
		Accuracy:         s.Accuracy,
		TapEvents:        events,
		StartedAt:        s.StartedAt,
		CompletedAt:      s.CompletedAt,
	}
}
