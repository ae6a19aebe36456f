package canvas

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind discriminates element variants. It is set once when an element is
// created and carried explicitly from then on.
type Kind uint8

const (
	KindUnknown Kind = iota
	Marker
	Polyline
	Polygon
	Freehand
	Text
	Image
)

var kindNames = [...]string{
	KindUnknown: "",
	Marker:      "marker",
	Polyline:    "polyline",
	Polygon:     "polygon",
	Freehand:    "freehand",
	Text:        "text",
	Image:       "image",
}

// Kinds lists every valid kind.
var Kinds = []Kind{Marker, Polyline, Polygon, Freehand, Text, Image}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Valid() bool {
	return k > KindUnknown && int(k) < len(kindNames)
}

// MultiPoint reports whether the kind holds an ordered point sequence rather
// than a single position.
func (k Kind) MultiPoint() bool {
	return k == Polyline || k == Polygon || k == Freehand
}

// MinPoints is the smallest coords length a well-formed element of this kind has.
func (k Kind) MinPoints() int {
	if k.MultiPoint() {
		return 2
	}
	return 1
}

// Prefix is the id prefix for elements of this kind.
func (k Kind) Prefix() string {
	return k.String() + "_"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*k = KindUnknown
		return nil
	}
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if kindNames[k] == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown element kind %q", s)
}

// KindFromID recovers the kind from an id prefix. Only used for rows written
// before the kind was stored alongside the element.
func KindFromID(id string) (Kind, error) {
	prefix, _, ok := strings.Cut(id, "_")
	if !ok {
		return KindUnknown, fmt.Errorf("id %q has no kind prefix", id)
	}
	return ParseKind(prefix)
}

// NewID returns a fresh element id for the kind. The discriminator is a
// UUIDv7: time ordered with a random tail, so concurrent gestures on one or
// many clients do not collide.
func NewID(k Kind) string {
	return k.Prefix() + uuid.Must(uuid.NewV7()).String()
}
