// Package profile is the durable side of a player: identity, display
// preferences, and lifetime typing stats keyed by the browser's client id.
package profile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Profile is the durable record behind a client identifier. It survives
// reconnects; everything session-scoped lives on the in-memory Participant.
type Profile struct {
	ID             uuid.UUID       `json:"id"`
	ClientID       string          `json:"client_id"`
	Name           string          `json:"name"`
	Emoji          string          `json:"emoji"`
	BestWPM        int             `json:"best_wpm"`
	LatestWPM      int             `json:"latest_wpm"`
	GamesPlayed    int             `json:"games_played"`
	WordsCompleted int             `json:"words_completed"`
	Settings       json.RawMessage `json:"settings,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Store is what the coordinator needs from durable profile storage.
type Store interface {
	// FindOrCreate returns the profile for clientID, creating it with the
	// given defaults when none exists.
	FindOrCreate(ctx context.Context, clientID, name, emoji string) (*Profile, error)

	// UpdateProfile replaces the display name and emoji.
	UpdateProfile(ctx context.Context, clientID, name, emoji string) error

	// UpdateStats records a finished phrase: best/latest speed, games
	// played, and the completion counter.
	UpdateStats(ctx context.Context, clientID string, wpm int, completed bool) error

	// UpdateSettings replaces the opaque per-client settings document.
	UpdateSettings(ctx context.Context, clientID string, settings json.RawMessage) error
}
