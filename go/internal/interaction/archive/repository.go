// Package archive persists completed interactions to Postgres so campaign
// history survives the in-memory room store. Live rooms never touch the
// database; archival happens once, on the transition to Completed.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/mcdev12/tabletop/go/internal/interaction"
	"github.com/mcdev12/tabletop/go/internal/models"
	"github.com/mcdev12/tabletop/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

const createTable = `
CREATE TABLE IF NOT EXISTS interaction_archive (
    room_id       UUID PRIMARY KEY,
    dm_user_id    UUID NOT NULL,
    status        TEXT NOT NULL,
    round_count   INT NOT NULL,
    turn_count    INT NOT NULL,
    state         JSONB NOT NULL,
    started_at    TIMESTAMPTZ,
    completed_at  TIMESTAMPTZ NOT NULL,
    archived_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertArchive = `
INSERT INTO interaction_archive
    (room_id, dm_user_id, status, round_count, turn_count, state, started_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (room_id) DO UPDATE SET
    status = EXCLUDED.status,
    round_count = EXCLUDED.round_count,
    turn_count = EXCLUDED.turn_count,
    state = EXCLUDED.state,
    completed_at = EXCLUDED.completed_at,
    archived_at = now()`

const selectArchive = `
SELECT state, archived_at FROM interaction_archive WHERE room_id = $1`

const selectSummaries = `
SELECT room_id, dm_user_id, round_count, turn_count, started_at, completed_at, archived_at
FROM interaction_archive
ORDER BY completed_at DESC
LIMIT $1`

// Summary is one row of the archive listing, without the full state blob.
type Summary struct {
	RoomID      uuid.UUID  `json:"room_id"`
	DMUserID    uuid.UUID  `json:"dm_user_id"`
	RoundCount  int        `json:"round_count"`
	TurnCount   int        `json:"turn_count"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
	ArchivedAt  time.Time  `json:"archived_at"`
}

// Repository stores and retrieves archived interactions.
type Repository struct {
	db *sql.DB
}

// NewRepository opens the archive store and ensures its schema exists.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure archive schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close releases the connection pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

// ArchiveInteraction writes the final state of a completed room. Re-archiving
// the same room overwrites the previous row, so retries are safe.
func (r *Repository) ArchiveInteraction(ctx context.Context, st *models.GameState) error {
	if st.Status != models.InteractionStatusCompleted {
		return interaction.NewError(interaction.KindInvalidTransition, "room %s is not completed", st.RoomID)
	}

	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode archived state: %w", err)
	}
	state := pqtype.NullRawMessage{RawMessage: blob, Valid: true}

	var started *time.Time
	if len(st.TurnHistory) > 0 {
		started = &st.TurnHistory[0].StartedAt
	}

	_, err = r.db.ExecContext(ctx, insertArchive,
		st.RoomID,
		st.DMUserID,
		string(st.Status),
		st.RoundNumber,
		len(st.TurnHistory),
		state,
		sqlutil.ToSqlTime(started),
		st.LastModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("archive room %s: %w", st.RoomID, err)
	}

	log.Info().
		Str("room_id", st.RoomID.String()).
		Int("turns", len(st.TurnHistory)).
		Int("rounds", st.RoundNumber).
		Msg("interaction archived")
	return nil
}

// GetArchivedInteraction loads the full archived state for a room.
func (r *Repository) GetArchivedInteraction(ctx context.Context, roomID uuid.UUID) (*models.GameState, time.Time, error) {
	var state pqtype.NullRawMessage
	var archivedAt time.Time

	err := r.db.QueryRowContext(ctx, selectArchive, roomID).Scan(&state, &archivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, interaction.NewError(interaction.KindNotFound, "no archive for room %s", roomID)
		}
		return nil, time.Time{}, fmt.Errorf("load archive for room %s: %w", roomID, err)
	}
	if !state.Valid {
		return nil, time.Time{}, fmt.Errorf("archive for room %s has no state", roomID)
	}

	var st models.GameState
	if err := json.Unmarshal(state.RawMessage, &st); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode archived state for room %s: %w", roomID, err)
	}
	return &st, archivedAt, nil
}

// ListArchived returns recent archive summaries, newest first.
func (r *Repository) ListArchived(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, selectSummaries, limit)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var started sql.NullTime
		if err := rows.Scan(&s.RoomID, &s.DMUserID, &s.RoundCount, &s.TurnCount, &started, &s.CompletedAt, &s.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		s.StartedAt = sqlutil.FromSqlTime(started)
		out = append(out, s)
	}
	return out, rows.Err()
}
