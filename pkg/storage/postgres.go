package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
)

type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

var _ Repository = (*Postgres)(nil)

func OpenPostgres(ctx context.Context, url string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	p := &Postgres{pool: pool, log: logger}
	if err := p.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) init(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS elements (
			seq bigserial primary key,
			id text not null unique,
			session_id text not null,
			user_id text not null default '',
			kind text not null default '',
			body text not null
		)`,
		`CREATE INDEX IF NOT EXISTS elements_by_session ON elements (session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS maps (
			session_id text not null primary key,
			lat double precision not null,
			lng double precision not null,
			zoom double precision not null
		)`,
	} {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	p.log.Info("Ensured initial tables exist")
	return nil
}

func (p *Postgres) ListElements(ctx context.Context, sessionID string) ([]canvas.Element, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, body FROM elements WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query elements: %w", err)
	}
	defer rows.Close()
	d := &rowDecoder{log: p.log, elements: []canvas.Element{}}
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

func (p *Postgres) UpsertElement(ctx context.Context, sessionID, userID string, e canvas.Element) error {
	body, err := encodeElement(e)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO elements (id, session_id, user_id, kind, body) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET kind = excluded.kind, body = excluded.body`,
		e.ID, sessionID, userID, e.Kind.String(), body,
	); err != nil {
		return fmt.Errorf("failed to upsert element %s: %w", e.ID, err)
	}
	return nil
}

func (p *Postgres) PatchElement(ctx context.Context, id string, patch canvas.Patch) (canvas.Element, error) {
	var merged canvas.Element
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var body string
		if err := tx.QueryRow(ctx, `SELECT body FROM elements WHERE id = $1 FOR UPDATE`, id).Scan(&body); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("element %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("failed to read element %s: %w", id, err)
		}
		e, out, err := mergeElement(id, body, patch)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE elements SET body = $1 WHERE id = $2`, out, id); err != nil {
			return fmt.Errorf("failed to update element %s: %w", id, err)
		}
		merged = e
		return nil
	})
	if err != nil {
		return canvas.Element{}, err
	}
	return merged, nil
}

func (p *Postgres) DeleteElement(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM elements WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete element %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) GetMap(ctx context.Context, sessionID string) (MapMeta, error) {
	var m MapMeta
	err := p.pool.QueryRow(ctx, `SELECT lat, lng, zoom FROM maps WHERE session_id = $1`, sessionID).
		Scan(&m.Center.Lat, &m.Center.Lng, &m.ZoomLevel)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, fmt.Errorf("map %s: %w", sessionID, ErrNotFound)
	} else if err != nil {
		return m, fmt.Errorf("failed to read map %s: %w", sessionID, err)
	}
	return m, nil
}

func (p *Postgres) PutMap(ctx context.Context, sessionID string, m MapMeta) error {
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO maps (session_id, lat, lng, zoom) VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET lat = excluded.lat, lng = excluded.lng, zoom = excluded.zoom`,
		sessionID, m.Center.Lat, m.Center.Lng, m.ZoomLevel,
	); err != nil {
		return fmt.Errorf("failed to write map %s: %w", sessionID, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
