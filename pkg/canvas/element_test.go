package canvas

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementJSONShape(t *testing.T) {
	t.Run("point kind encodes coords as object", func(t *testing.T) {
		raw, err := json.Marshal(marker("marker_1", 10, 20))
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"marker_1","kind":"marker","coords":{"lat":10,"lng":20}}`, string(raw))
	})

	t.Run("multi point kind encodes coords as array", func(t *testing.T) {
		raw, err := json.Marshal(Element{ID: "polygon_1", Kind: Polygon, Coords: []Point{{Lat: 1, Lng: 2}, {Lat: 3, Lng: 4}}})
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"polygon_1","kind":"polygon","coords":[{"lat":1,"lng":2},{"lat":3,"lng":4}]}`, string(raw))
	})

	t.Run("image carries url and size", func(t *testing.T) {
		e := Element{ID: "image_1", Kind: Image, Coords: []Point{{Lat: 1, Lng: 1}}, Image: &ImageRef{URL: "blob:x", Size: Size{Width: 2, Height: 1}}}
		raw, err := json.Marshal(e)
		require.NoError(t, err)

		var back Element
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, e, back)
	})
}

func TestElementUnmarshalLegacyRow(t *testing.T) {
	var e Element
	require.NoError(t, json.Unmarshal([]byte(`{"id":"text_1700000000000","coords":{"lat":1,"lng":2},"text":""}`), &e))
	assert.Equal(t, Text, e.Kind)
	require.NotNil(t, e.Text)
	assert.Equal(t, "", *e.Text)
	assert.NoError(t, e.Validate())

	err := json.Unmarshal([]byte(`{"id":"nokind","coords":{"lat":1,"lng":2}}`), &e)
	assert.Error(t, err)
}

func TestNewIDIsPrefixedAndUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := NewID(Freehand)
		require.True(t, strings.HasPrefix(id, "freehand_"))
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		k, err := KindFromID(id)
		require.NoError(t, err)
		assert.Equal(t, Freehand, k)
	}
}

func TestNewElementText(t *testing.T) {
	e := NewElement(Text, Point{Lat: 1, Lng: 1})
	require.NotNil(t, e.Text)
	assert.Equal(t, "", *e.Text)
	assert.NoError(t, e.Validate())
}

func TestPatchJSON(t *testing.T) {
	raw, err := json.Marshal(Patch{Coords: []Point{{Lat: 1, Lng: 2}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"coords":{"lat":1,"lng":2}}`, string(raw))

	var p Patch
	require.NoError(t, json.Unmarshal([]byte(`{"text":"hi"}`), &p))
	assert.Nil(t, p.Coords)
	require.NotNil(t, p.Text)
	assert.Equal(t, "hi", *p.Text)
}
