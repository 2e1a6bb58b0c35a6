package models

import "encoding/json"

// MutationType names a kind of change to the asset tree.
type MutationType string

const (
	MutationCreateObject         MutationType = "create_object"
	MutationDeleteObject         MutationType = "delete_object"
	MutationSetValue             MutationType = "set_value"
	MutationAppendToString       MutationType = "append_to_string"
	MutationInsertIntoCollection MutationType = "insert_into_collection"
	MutationRemoveFromCollection MutationType = "remove_from_collection"
)

// Mutation describes a single change. Ref always names the object the change is
// about: the new object for creates and inserts, the removed object for deletes
// and removals, the edited object otherwise.
type Mutation struct {
	Type MutationType `json:"type"`
	Ref  ObjectRef    `json:"ref"`

	// set_value, append_to_string
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`

	// create_object, insert_into_collection
	ObjectType ObjectKind      `json:"object_type,omitempty"`
	Object     json.RawMessage `json:"object,omitempty"`
	Index      *int            `json:"index,omitempty"`
}

// NewSetValue builds a set_value mutation, encoding value as JSON.
func NewSetValue(ref ObjectRef, key string, value any) (Mutation, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Mutation{}, err
	}
	return Mutation{Type: MutationSetValue, Ref: ref, Key: key, Value: raw}, nil
}

// NewAppendToString builds an append_to_string mutation.
func NewAppendToString(ref ObjectRef, key, delta string) Mutation {
	raw, _ := json.Marshal(delta)
	return Mutation{Type: MutationAppendToString, Ref: ref, Key: key, Value: raw}
}

// NewCreateObject builds a create_object mutation for obj placed at ref.
func NewCreateObject(ref ObjectRef, obj Object) (Mutation, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return Mutation{}, err
	}
	return Mutation{Type: MutationCreateObject, Ref: ref, ObjectType: obj.Kind(), Object: raw}, nil
}
