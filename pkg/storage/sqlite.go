package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
)

type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

var _ Repository = (*SQLite)(nil)

func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+"_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db, log: logger}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS elements (
			seq integer primary key autoincrement,
			id text not null unique,
			session_id text not null,
			user_id text not null default '',
			kind text not null default '',
			body text not null
		)`,
		`CREATE INDEX IF NOT EXISTS elements_by_session ON elements (session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS maps (
			session_id text not null primary key,
			lat real not null,
			lng real not null,
			zoom real not null
		)`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	s.log.Info("Ensured initial tables exist")
	return nil
}

func (s *SQLite) ListElements(ctx context.Context, sessionID string) ([]canvas.Element, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, body FROM elements WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query elements: %w", err)
	}
	defer rows.Close()
	d := &rowDecoder{log: s.log, elements: []canvas.Element{}}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		d.add(id, body)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read elements: %w", err)
	}
	return d.elements, nil
}

func (s *SQLite) UpsertElement(ctx context.Context, sessionID, userID string, e canvas.Element) error {
	body, err := encodeElement(e)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO elements (id, session_id, user_id, kind, body) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET kind = excluded.kind, body = excluded.body`,
		e.ID, sessionID, userID, e.Kind.String(), body,
	); err != nil {
		return fmt.Errorf("failed to upsert element %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLite) PatchElement(ctx context.Context, id string, p canvas.Patch) (canvas.Element, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return canvas.Element{}, fmt.Errorf("failed to begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var body string
	if err := tx.QueryRowContext(ctx, `SELECT body FROM elements WHERE id = ?`, id).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return canvas.Element{}, fmt.Errorf("element %s: %w", id, ErrNotFound)
		}
		return canvas.Element{}, fmt.Errorf("failed to read element %s: %w", id, err)
	}
	merged, out, err := mergeElement(id, body, p)
	if err != nil {
		return canvas.Element{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE elements SET body = ? WHERE id = ?`, out, id); err != nil {
		return canvas.Element{}, fmt.Errorf("failed to update element %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return canvas.Element{}, fmt.Errorf("failed to commit: %w", err)
	}
	return merged, nil
}

func (s *SQLite) DeleteElement(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM elements WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete element %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) GetMap(ctx context.Context, sessionID string) (MapMeta, error) {
	var m MapMeta
	err := s.db.QueryRowContext(ctx, `SELECT lat, lng, zoom FROM maps WHERE session_id = ?`, sessionID).
		Scan(&m.Center.Lat, &m.Center.Lng, &m.ZoomLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("map %s: %w", sessionID, ErrNotFound)
	} else if err != nil {
		return m, fmt.Errorf("failed to read map %s: %w", sessionID, err)
	}
	return m, nil
}

func (s *SQLite) PutMap(ctx context.Context, sessionID string, m MapMeta) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO maps (session_id, lat, lng, zoom) VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET lat = excluded.lat, lng = excluded.lng, zoom = excluded.zoom`,
		sessionID, m.Center.Lat, m.Center.Lng, m.ZoomLevel,
	); err != nil {
		return fmt.Errorf("failed to write map %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
