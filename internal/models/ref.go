package models

import "strings"

// AssetsCollection is the only collection hanging off the synthetic root.
const AssetsCollection = "assets"

// AnyRef is implemented by ObjectRef and CollectionRef.
type AnyRef interface {
	Segments() []string
	Key() string
}

// CollectionRef points at a named collection. A nil Parent means the collection
// hangs off the root (only "assets" does).
type CollectionRef struct {
	ID     string     `json:"id"`
	Parent *ObjectRef `json:"parent,omitempty"`
}

// ObjectRef points at a single object by id inside its parent collection.
type ObjectRef struct {
	ID               string        `json:"id"`
	ParentCollection CollectionRef `json:"parent_collection"`
}

// AssetRef returns the reference of a top-level asset.
func AssetRef(assetID string) ObjectRef {
	return ObjectRef{ID: assetID, ParentCollection: CollectionRef{ID: AssetsCollection}}
}

// Collection returns a reference to a sub-collection of this object.
func (r ObjectRef) Collection(name string) CollectionRef {
	parent := r
	return CollectionRef{ID: name, Parent: &parent}
}

// Object returns a reference to a member of this collection.
func (r CollectionRef) Object(id string) ObjectRef {
	return ObjectRef{ID: id, ParentCollection: r}
}

// Segments returns the path from the root, e.g. [assets chat1 message_groups g1].
func (r CollectionRef) Segments() []string {
	var segments []string
	if r.Parent != nil {
		segments = r.Parent.Segments()
	}
	return append(segments, r.ID)
}

func (r ObjectRef) Segments() []string {
	return append(r.ParentCollection.Segments(), r.ID)
}

// Key is the canonical identity of a reference. Two references are equal when
// their keys are equal; the lock table and subscriptions are keyed by it.
func (r CollectionRef) Key() string { return strings.Join(r.Segments(), "/") }

func (r ObjectRef) Key() string { return strings.Join(r.Segments(), "/") }

func (r CollectionRef) String() string { return r.Key() }

func (r ObjectRef) String() string { return r.Key() }

// Equal compares by segment sequence.
func (r ObjectRef) Equal(other ObjectRef) bool { return r.Key() == other.Key() }

// AssetID returns the id of the top-level asset this reference lives under,
// or "" when the reference does not point into the assets collection.
func AssetID(ref AnyRef) string {
	segments := ref.Segments()
	if len(segments) < 2 || segments[0] != AssetsCollection {
		return ""
	}
	return segments[1]
}

// RefFromSegments rebuilds a reference from its path. An even number of
// segments yields an ObjectRef, an odd number a CollectionRef.
func RefFromSegments(segments []string) AnyRef {
	var (
		parent *ObjectRef
		col    CollectionRef
	)
	last := len(segments) - 1
	for i, segment := range segments {
		if i%2 == 0 {
			col = CollectionRef{ID: segment, Parent: parent}
			if i == last {
				return col
			}
			continue
		}
		obj := col.Object(segment)
		if i == last {
			return obj
		}
		parent = &obj
	}
	return nil
}

// AncestorKeys lists the keys of every prefix of the reference, shortest first,
// including the reference itself.
func AncestorKeys(ref AnyRef) []string {
	segments := ref.Segments()
	keys := make([]string, 0, len(segments))
	for i := 1; i <= len(segments); i++ {
		keys = append(keys, strings.Join(segments[:i], "/"))
	}
	return keys
}
