package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabin-acharya/atlas-map/pkg/canvas"
)

func openSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "atlas.sqlite3"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRepository(t *testing.T) {
	testRepository(t, func(t *testing.T) Repository { return openSQLite(t) })
}

func TestPostgresRepository(t *testing.T) {
	url := os.Getenv("ATLAS_TEST_POSTGRES")
	if url == "" {
		t.Skip("ATLAS_TEST_POSTGRES not set")
	}
	testRepository(t, func(t *testing.T) Repository {
		p, err := OpenPostgres(context.Background(), url, nil)
		require.NoError(t, err)
		_, err = p.pool.Exec(context.Background(), `TRUNCATE elements, maps`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = p.Close() })
		return p
	})
}

func testRepository(t *testing.T, open func(t *testing.T) Repository) {
	ctx := context.Background()
	marker := canvas.Element{ID: "marker_1", Kind: canvas.Marker, Coords: []canvas.Point{{Lat: 18.52, Lng: 73.86}}}
	line := canvas.Element{ID: "polyline_1", Kind: canvas.Polyline, Coords: []canvas.Point{{Lat: 1}, {Lat: 2}}}

	t.Run("list keeps insertion order across upserts", func(t *testing.T) {
		r := open(t)
		require.NoError(t, r.UpsertElement(ctx, "s1", "alice", marker))
		require.NoError(t, r.UpsertElement(ctx, "s1", "alice", line))
		require.NoError(t, r.UpsertElement(ctx, "s2", "bob", canvas.Element{ID: "marker_2", Kind: canvas.Marker, Coords: []canvas.Point{{}}}))

		moved := marker.Clone()
		moved.Coords = []canvas.Point{{Lat: 5, Lng: 5}}
		require.NoError(t, r.UpsertElement(ctx, "s1", "alice", moved))

		got, err := r.ListElements(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []canvas.Element{moved, line}, got)
	})

	t.Run("empty session lists nothing", func(t *testing.T) {
		r := open(t)
		got, err := r.ListElements(ctx, "nobody")
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("rejects malformed elements", func(t *testing.T) {
		r := open(t)
		err := r.UpsertElement(ctx, "s1", "alice", canvas.Element{ID: "polygon_1", Kind: canvas.Polygon})
		assert.ErrorIs(t, err, canvas.ErrMalformed)
	})

	t.Run("patch merges only the given fields", func(t *testing.T) {
		r := open(t)
		label := "hello"
		note := canvas.Element{ID: "text_1", Kind: canvas.Text, Coords: []canvas.Point{{Lat: 1}}, Text: &label}
		require.NoError(t, r.UpsertElement(ctx, "s1", "alice", note))

		changed := "bye"
		got, err := r.PatchElement(ctx, "text_1", canvas.Patch{Text: &changed})
		require.NoError(t, err)
		assert.Equal(t, "bye", *got.Text)
		assert.Equal(t, note.Coords, got.Coords)

		list, err := r.ListElements(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, got, list[0])
	})

	t.Run("patch of a missing element", func(t *testing.T) {
		r := open(t)
		_, err := r.PatchElement(ctx, "marker_9", canvas.Patch{Coords: []canvas.Point{{}}})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("patch that breaks arity is rejected", func(t *testing.T) {
		r := open(t)
		require.NoError(t, r.UpsertElement(ctx, "s1", "alice", line))
		_, err := r.PatchElement(ctx, "polyline_1", canvas.Patch{Coords: []canvas.Point{{}}})
		assert.ErrorIs(t, err, canvas.ErrMalformed)

		list, err := r.ListElements(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []canvas.Element{line}, list)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		r := open(t)
		require.NoError(t, r.UpsertElement(ctx, "s1", "alice", marker))
		require.NoError(t, r.DeleteElement(ctx, "marker_1"))
		require.NoError(t, r.DeleteElement(ctx, "marker_1"))
		list, err := r.ListElements(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("map metadata", func(t *testing.T) {
		r := open(t)
		_, err := r.GetMap(ctx, "s1")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, r.PutMap(ctx, "s1", MapMeta{Center: canvas.Point{Lat: 1, Lng: 2}, ZoomLevel: 10}))
		require.NoError(t, r.PutMap(ctx, "s1", MapMeta{Center: canvas.Point{Lat: 3, Lng: 4}, ZoomLevel: 12}))
		m, err := r.GetMap(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, MapMeta{Center: canvas.Point{Lat: 3, Lng: 4}, ZoomLevel: 12}, m)
	})
}

func TestSQLiteReadsLegacyRows(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO elements (id, session_id, body) VALUES
		('polygon_old', 's1', '{"id":"polygon_old","coords":[{"lat":0,"lng":0},{"lat":1,"lng":0},{"lat":1,"lng":1}]}'),
		('broken', 's1', '{"id":"broken"}'),
		('marker_old', 's1', '{"id":"marker_old","coords":{"lat":2,"lng":3}}')`)
	require.NoError(t, err)

	got, err := s.ListElements(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, canvas.Polygon, got[0].Kind)
	assert.Len(t, got[0].Coords, 3)
	assert.Equal(t, canvas.Marker, got[1].Kind)
	assert.Equal(t, canvas.Point{Lat: 2, Lng: 3}, got[1].Position())
}

func TestDriverFor(t *testing.T) {
	assert.Equal(t, "postgres", DriverFor("postgres://u:p@localhost/atlas"))
	assert.Equal(t, "postgres", DriverFor("postgresql://localhost/atlas"))
	assert.Equal(t, "sqlite3", DriverFor("atlas.sqlite3"))
}
