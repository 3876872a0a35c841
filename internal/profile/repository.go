package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Repository implements Store on Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a Postgres-backed profile store.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id              UUID PRIMARY KEY,
	client_id       TEXT NOT NULL UNIQUE,
	name            TEXT NOT NULL,
	emoji           TEXT NOT NULL DEFAULT '👤',
	best_wpm        INTEGER NOT NULL DEFAULT 0,
	latest_wpm      INTEGER NOT NULL DEFAULT 0,
	games_played    INTEGER NOT NULL DEFAULT 0,
	words_completed INTEGER NOT NULL DEFAULT 0,
	settings        JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// EnsureSchema creates the profiles table when it does not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure profile schema: %w", err)
	}
	return nil
}

const selectProfile = `
SELECT id, client_id, name, emoji, best_wpm, latest_wpm, games_played, words_completed, settings, created_at, updated_at
FROM profiles WHERE client_id = $1`

// FindOrCreate returns the profile for clientID, inserting one with the given
// defaults when the client is new. The upsert tolerates a concurrent insert
// for the same client id.
func (r *Repository) FindOrCreate(ctx context.Context, clientID, name, emoji string) (*Profile, error) {
	p, err := r.scanProfile(r.db.QueryRowContext(ctx, selectProfile, clientID))
	if err == nil {
		return p, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to look up profile: %w", err)
	}

	const insert = `
INSERT INTO profiles (id, client_id, name, emoji)
VALUES ($1, $2, $3, $4)
ON CONFLICT (client_id) DO UPDATE SET client_id = EXCLUDED.client_id
RETURNING id, client_id, name, emoji, best_wpm, latest_wpm, games_played, words_completed, settings, created_at, updated_at`

	p, err = r.scanProfile(r.db.QueryRowContext(ctx, insert, uuid.New(), clientID, name, emoji))
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return p, nil
}

// UpdateProfile replaces the display name and emoji for clientID.
func (r *Repository) UpdateProfile(ctx context.Context, clientID, name, emoji string) error {
	const update = `
UPDATE profiles SET name = $2, emoji = $3, updated_at = now() WHERE client_id = $1`

	if _, err := r.db.ExecContext(ctx, update, clientID, name, emoji); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// UpdateStats folds one finished phrase into the lifetime counters. Best
// speed is monotone; latest speed always takes the submitted value.
func (r *Repository) UpdateStats(ctx context.Context, clientID string, wpm int, completed bool) error {
	const update = `
UPDATE profiles SET
	best_wpm        = GREATEST(best_wpm, $2),
	latest_wpm      = $2,
	games_played    = games_played + 1,
	words_completed = words_completed + CASE WHEN $3 THEN 1 ELSE 0 END,
	updated_at      = now()
WHERE client_id = $1`

	if _, err := r.db.ExecContext(ctx, update, clientID, wpm, completed); err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}
	return nil
}

// UpdateSettings replaces the opaque settings document for clientID.
func (r *Repository) UpdateSettings(ctx context.Context, clientID string, settings json.RawMessage) error {
	const update = `
UPDATE profiles SET settings = $2, updated_at = now() WHERE client_id = $1`

	raw := pqtype.NullRawMessage{RawMessage: settings, Valid: len(settings) > 0}
	if _, err := r.db.ExecContext(ctx, update, clientID, raw); err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	return nil
}

func (r *Repository) scanProfile(row *sql.Row) (*Profile, error) {
	var p Profile
	var settings pqtype.NullRawMessage
	err := row.Scan(
		&p.ID, &p.ClientID, &p.Name, &p.Emoji,
		&p.BestWPM, &p.LatestWPM, &p.GamesPlayed, &p.WordsCompleted,
		&settings, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if settings.Valid {
		p.Settings = settings.RawMessage
	}
	return &p, nil
}

var _ Store = (*Repository)(nil)
