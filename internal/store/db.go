package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"questboard/internal/model"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB opens a Postgres connection, pings it and creates the session table.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{Client: db}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Migrate creates the session table when it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS portal_sessions (
			id          TEXT PRIMARY KEY,
			cookies     JSONB NOT NULL DEFAULT '[]',
			user_json   JSONB,
			expires_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_portal_sessions_expiry ON portal_sessions(expires_at);
	`)
	return err
}

// PostgresSessions persists records in the portal_sessions table.
type PostgresSessions struct {
	db *sql.DB
}

// NewPostgresSessions builds a session store on db.
func NewPostgresSessions(db *sql.DB) *PostgresSessions {
	return &PostgresSessions{db: db}
}

// Get returns a live record.
func (s *PostgresSessions) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cookies, user_json, expires_at
		FROM portal_sessions
		WHERE id = $1 AND expires_at > NOW()
	`, id)
	var (
		rec         Record
		cookiesJSON []byte
		userJSON    []byte
	)
	if err := row.Scan(&rec.ID, &cookiesJSON, &userJSON, &rec.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	if err := json.Unmarshal(cookiesJSON, &rec.Cookies); err != nil {
		return Record{}, fmt.Errorf("decode cookies: %w", err)
	}
	if len(userJSON) > 0 {
		var u model.User
		if err := json.Unmarshal(userJSON, &u); err != nil {
			return Record{}, fmt.Errorf("decode user: %w", err)
		}
		rec.User = &u
	}
	return rec, nil
}

// Put upserts rec.
func (s *PostgresSessions) Put(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("session id required")
	}
	if rec.Cookies == nil {
		rec.Cookies = []Cookie{}
	}
	cookiesJSON, err := json.Marshal(rec.Cookies)
	if err != nil {
		return err
	}
	var userJSON any
	if rec.User != nil {
		raw, err := json.Marshal(rec.User)
		if err != nil {
			return err
		}
		userJSON = raw
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO portal_sessions (id, cookies, user_json, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET cookies = EXCLUDED.cookies, user_json = EXCLUDED.user_json,
		    expires_at = EXCLUDED.expires_at, updated_at = NOW()
	`, rec.ID, cookiesJSON, userJSON, rec.ExpiresAt)
	return err
}

// Delete removes a record.
func (s *PostgresSessions) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM portal_sessions WHERE id = $1`, id)
	return err
}

// PurgeExpired deletes expired records and returns how many went.
func (s *PostgresSessions) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM portal_sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
