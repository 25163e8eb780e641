package domain

import (
	"fmt"
	"time"
)

type OrderMode string

const (
	OrderAscending  OrderMode = "ascending"
	OrderDescending OrderMode = "descending"
)

type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusTimeout    SessionStatus = "timeout"
	StatusAbandoned  SessionStatus = "abandoned"
)

// Terminal reports whether the status ends the session. A session is written
// to the store exactly once, with a terminal status.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusTimeout || s == StatusAbandoned
}

type SyncStatus string

const (
	SyncLocalOnly SyncStatus = "local-only"
	SyncSyncing   SyncStatus = "syncing"
	SyncSynced    SyncStatus = "synced"
	SyncFailed    SyncStatus = "sync-failed"
)

type TapEvent struct {
	CellIndex     int   `json:"cellIndex"`
	ExpectedValue int   `json:"expectedValue"`
	TappedValue   int   `json:"tappedValue"`
	Correct       bool  `json:"correct"`
	TimestampMs   int64 `json:"timestampMs"`
}

type TrainingSession struct {
	LocalID          string // surrogate key, assigned on insert
	ClientSessionID  string // idempotency key, assigned at game start
	GridSize         int
	MaxTimeSeconds   int
	OrderMode        OrderMode
	Status           SessionStatus
	CompletionTimeMs int64
	Mistakes         int
	Accuracy         int // 0-100
	TapEvents        []TapEvent
	StartedAt        time.Time
	CompletedAt      *time.Time

	SyncStatus SyncStatus
	CloudID    string
	SyncedAt   *time.Time
	SyncError  string

	CreatedAt time.Time
}

// StatsKey is the best/avg-times map key for a grid size and order mode.
func StatsKey(gridSize int, mode OrderMode) string {
	return fmt.Sprintf("%d-%s", gridSize, mode)
}

type Preferences struct {
	Theme           string `json:"theme"`
	HapticFeedback  bool   `json:"hapticFeedback"`
	SoundEffects    bool   `json:"soundEffects"`
	ShowHints       bool   `json:"showHints"`
	ShowFixationDot bool   `json:"showFixationDot"`
	DefaultGridSize int    `json:"defaultGridSize"`
	DefaultMaxTime  int    `json:"defaultMaxTime"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		Theme:           "system",
		HapticFeedback:  true,
		SoundEffects:    false,
		ShowHints:       false,
		ShowFixationDot: true,
		DefaultGridSize: 5,
		DefaultMaxTime:  120,
	}
}

type Stats struct {
	TotalSessions     int              `json:"totalSessions"`
	CompletedSessions int              `json:"completedSessions"`
	CurrentStreak     int              `json:"currentStreak"`
	LongestStreak     int              `json:"longestStreak"`
	LastPlayedAt      *time.Time       `json:"lastPlayedAt"`
	BestTimes         map[string]int64 `json:"bestTimes"`
	AvgTimes          map[string]int64 `json:"avgTimes"`
}

func DefaultStats() Stats {
	return Stats{
		BestTimes: map[string]int64{},
		AvgTimes:  map[string]int64{},
	}
}

// UserProfile is a local singleton keyed "local".
type UserProfile struct {
	ID          string
	CreatedAt   time.Time
	Preferences Preferences
	Stats       Stats
}
