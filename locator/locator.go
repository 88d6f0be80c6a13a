// Package locator defines the typed addressing scheme for locally stored
// catalog resources.
//
// A Locator is a small tagged union: a resource kind plus one of three
// shapes (whole collection, collection filtered by parent, single item).
// Locators round-trip through a plain string form so UI state can be
// persisted between runs:
//
//	content://cineshelf/movie        Collection(Item)
//	content://cineshelf/movie/7      SingleItem(Item, 7)
//	content://cineshelf/trailer/42   CollectionFilteredByParent(Trailer, 42)
package locator

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	Scheme    = "content"
	Authority = "cineshelf"

	prefix = Scheme + "://" + Authority + "/"
)

// Kind is one of the three resource kinds the store knows about.
type Kind int

const (
	Item Kind = iota + 1
	Trailer
	Review
)

// Path returns the path segment used in the string form.
func (k Kind) Path() string {
	switch k {
	case Item:
		return "movie"
	case Trailer:
		return "trailer"
	case Review:
		return "review"
	default:
		return "unknown"
	}
}

func (k Kind) String() string {
	switch k {
	case Item:
		return "item"
	case Trailer:
		return "trailer"
	case Review:
		return "review"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func kindFromPath(p string) (Kind, bool) {
	switch p {
	case "movie":
		return Item, true
	case "trailer":
		return Trailer, true
	case "review":
		return Review, true
	}
	return 0, false
}

// Shape discriminates the Locator variants.
type Shape int

const (
	ShapeCollection Shape = iota + 1
	ShapeFilteredByParent
	ShapeSingle
)

func (s Shape) String() string {
	switch s {
	case ShapeCollection:
		return "collection"
	case ShapeFilteredByParent:
		return "filtered_by_parent"
	case ShapeSingle:
		return "single"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Locator addresses a resource in the local store. The zero value is not a
// valid locator.
type Locator struct {
	Shape Shape
	Kind  Kind
	// ID is the row id for ShapeSingle and the parent's external id for
	// ShapeFilteredByParent. Unused for ShapeCollection.
	ID int64
}

// Collection addresses every row of kind.
func Collection(kind Kind) Locator {
	return Locator{Shape: ShapeCollection, Kind: kind}
}

// CollectionFilteredByParent addresses the children of one catalog item.
func CollectionFilteredByParent(kind Kind, parentID int64) Locator {
	return Locator{Shape: ShapeFilteredByParent, Kind: kind, ID: parentID}
}

// SingleItem addresses one row by id.
func SingleItem(kind Kind, id int64) Locator {
	return Locator{Shape: ShapeSingle, Kind: kind, ID: id}
}

// Favorites is the well-known locator of the locally persisted catalog.
func Favorites() Locator {
	return Collection(Item)
}

// IsZero reports whether l is the zero Locator.
func (l Locator) IsZero() bool {
	return l == Locator{}
}

// Collection returns the collection locator of the same kind.
func (l Locator) Collection() Locator {
	return Collection(l.Kind)
}

// String renders the persisted string form. Shapes that have no string form
// (for example SingleItem(Trailer, n), which would collide with the
// parent-filtered trailer form) are rendered with a fragment so they never
// parse back into a different locator.
func (l Locator) String() string {
	switch l.Shape {
	case ShapeCollection:
		return prefix + l.Kind.Path()
	case ShapeSingle:
		if l.Kind == Item {
			return prefix + l.Kind.Path() + "/" + strconv.FormatInt(l.ID, 10)
		}
	case ShapeFilteredByParent:
		if l.Kind == Trailer || l.Kind == Review {
			return prefix + l.Kind.Path() + "/" + strconv.FormatInt(l.ID, 10)
		}
	}
	return fmt.Sprintf("%s%s/%d#%s", prefix, l.Kind.Path(), l.ID, l.Shape)
}

// ParseError is returned by Parse for strings that are not locators.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("locator: cannot parse %q: %s", e.Input, e.Reason)
}

// Parse converts the string form back into a Locator.
func Parse(s string) (Locator, error) {
	if !strings.HasPrefix(s, prefix) {
		return Locator{}, &ParseError{Input: s, Reason: "expected prefix " + prefix}
	}

	segments := strings.Split(strings.TrimPrefix(s, prefix), "/")
	kind, ok := kindFromPath(segments[0])
	if !ok {
		return Locator{}, &ParseError{Input: s, Reason: "unknown kind " + strconv.Quote(segments[0])}
	}

	switch len(segments) {
	case 1:
		return Collection(kind), nil
	case 2:
		id, err := strconv.ParseInt(segments[1], 10, 64)
		if err != nil || id < 0 {
			return Locator{}, &ParseError{Input: s, Reason: "id must be a non-negative integer"}
		}
		if kind == Item {
			return SingleItem(kind, id), nil
		}
		return CollectionFilteredByParent(kind, id), nil
	default:
		return Locator{}, &ParseError{Input: s, Reason: "too many path segments"}
	}
}

// MustParse is like Parse but panics on error. Intended for constants.
func MustParse(s string) Locator {
	l, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return l
}
