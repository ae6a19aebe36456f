// Package storage is the durable record of a session's elements and map
// viewport. It backs the persistence API; clients never talk to it directly.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
)

var ErrNotFound = errors.New("not found")

// MapMeta is the last known viewport of a session.
type MapMeta struct {
	Center    canvas.Point `json:"center"`
	ZoomLevel float64      `json:"zoomLevel"`
}

// Repository is implemented by SQLite and Postgres. Every write is idempotent
// by element id.
type Repository interface {
	// ListElements returns a session's elements in insertion order.
	ListElements(ctx context.Context, sessionID string) ([]canvas.Element, error)
	// UpsertElement creates the element or replaces its content, keeping its
	// original position and owner.
	UpsertElement(ctx context.Context, sessionID, userID string, e canvas.Element) error
	// PatchElement merges p into the stored element and returns the result.
	PatchElement(ctx context.Context, id string, p canvas.Patch) (canvas.Element, error)
	// DeleteElement removes the element. Deleting a missing element is not an
	// error.
	DeleteElement(ctx context.Context, id string) error
	GetMap(ctx context.Context, sessionID string) (MapMeta, error)
	PutMap(ctx context.Context, sessionID string, m MapMeta) error
	Close() error
}

// Open connects to the named driver: "sqlite3" takes a file path, "postgres"
// takes a connection url.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch driver {
	case "sqlite3", "sqlite":
		return OpenSQLite(ctx, dsn, logger)
	case "postgres", "pgx":
		return OpenPostgres(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// DriverFor guesses the driver from a dsn.
func DriverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite3"
}

func encodeElement(e canvas.Element) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode element %s: %w", e.ID, err)
	}
	return string(raw), nil
}

func decodeElement(body string) (canvas.Element, error) {
	var e canvas.Element
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return e, fmt.Errorf("failed to decode element: %w", err)
	}
	if err := e.Validate(); err != nil {
		return e, err
	}
	return e, nil
}

func mergeElement(id, body string, p canvas.Patch) (canvas.Element, string, error) {
	e, err := decodeElement(body)
	if err != nil {
		return e, "", fmt.Errorf("stored element %s: %w", id, err)
	}
	merged, err := p.Merge(e)
	if err != nil {
		return e, "", err
	}
	out, err := encodeElement(merged)
	if err != nil {
		return e, "", err
	}
	return merged, out, nil
}

// rowDecoder turns stored bodies into elements, skipping rows that can no
// longer be read.
type rowDecoder struct {
	log      *slog.Logger
	elements []canvas.Element
}

func (d *rowDecoder) add(id, body string) {
	e, err := decodeElement(body)
	if err != nil {
		d.log.Warn("skipping unreadable element", "id", id, "err", err)
		return
	}
	d.elements = append(d.elements, e)
}
