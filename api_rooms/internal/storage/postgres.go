// Package storage persists permanent room configuration in PostgreSQL.
// Temporary rooms live only in memory and the durable snapshot store.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"roomdeck/pkg/bus"
	"roomdeck/pkg/database"
	"roomdeck/pkg/models"
)

//go:embed schema.sql
var schema string

// RoomStore implements the room configuration store on PostgreSQL. Room
// names are stored normalized; uniqueness is enforced case-insensitively
// by the schema (a unique index on lower(name)).
type RoomStore struct {
	db database.PostgresConn
}

func NewRoomStore(db database.PostgresConn) *RoomStore {
	return &RoomStore{db: db}
}

// EnsureSchema applies the rooms table schema. Statements are idempotent.
func (s *RoomStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// GetRoomByName returns the saved configuration, or models.ErrRoomNotFound
// when no such room exists.
func (s *RoomStore) GetRoomByName(ctx context.Context, name string) (*models.RoomOptions, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, title, description, visibility, queue_mode, owner_id, grants
		FROM rooms
		WHERE lower(name) = lower($1)`,
		name)

	var (
		opts      models.RoomOptions
		owner     sql.NullString
		grantsRaw []byte
	)
	err := row.Scan(&opts.Name, &opts.Title, &opts.Description, &opts.Visibility, &opts.QueueMode, &owner, &grantsRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query room: %w", err)
	}

	opts.Owner = owner.String
	if len(grantsRaw) > 0 {
		if err := json.Unmarshal(grantsRaw, &opts.Grants); err != nil {
			return nil, fmt.Errorf("decode grants: %w", err)
		}
	}
	return &opts, nil
}

func (s *RoomStore) IsRoomNameTaken(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM rooms WHERE lower(name) = lower($1))`,
		name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check room name: %w", err)
	}
	return exists, nil
}

// SaveRoom inserts or updates a room's configuration. The unique index on
// lower(name) turns a concurrent duplicate insert into ErrRoomNameTaken.
func (s *RoomStore) SaveRoom(ctx context.Context, opts models.RoomOptions) error {
	grantsRaw, err := json.Marshal(opts.Grants)
	if err != nil {
		return fmt.Errorf("encode grants: %w", err)
	}
	var owner sql.NullString
	if opts.Owner != "" {
		owner = sql.NullString{String: opts.Owner, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rooms (name, title, description, visibility, queue_mode, owner_id, grants, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (name) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			visibility = EXCLUDED.visibility,
			queue_mode = EXCLUDED.queue_mode,
			grants = EXCLUDED.grants,
			updated_at = now()`,
		bus.NormalizeRoomName(opts.Name), opts.Title, opts.Description,
		string(opts.Visibility), string(opts.QueueMode), owner, grantsRaw)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrRoomNameTaken
		}
		return fmt.Errorf("save room: %w", err)
	}
	return nil
}

func (s *RoomStore) DeleteRoom(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE lower(name) = lower($1)`, name)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrRoomNotFound
	}
	return nil
}

// isUniqueViolation matches the postgres unique_violation sqlstate.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
