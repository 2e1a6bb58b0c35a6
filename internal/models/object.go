package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownField      = errors.New("unknown field")
	ErrNotAString        = errors.New("field is not a string")
	ErrWrongObjectType   = errors.New("object type does not fit collection")
	ErrDuplicateID       = errors.New("object id already present in collection")
	ErrUnknownObjectType = errors.New("unknown object type")
)

// ObjectKind names a storable entity. Asset kinds share their values with AssetType.
type ObjectKind string

const (
	KindAgent        ObjectKind = "agent"
	KindMaterial     ObjectKind = "material"
	KindChat         ObjectKind = "chat"
	KindUserProfile  ObjectKind = "user"
	KindMessageGroup ObjectKind = "message_group"
	KindMessage      ObjectKind = "message"
	KindToolCall     ObjectKind = "tool_call"
)

// Object is any node of the asset tree.
type Object interface {
	ObjectID() string
	SetObjectID(id string)
	Kind() ObjectKind
	LockOwner() string
	SetLockOwner(lockID string)
	fields() map[string]field
}

// BaseObject carries the fields every object shares. LockID holds the id of the
// session currently holding a write lock on the object.
type BaseObject struct {
	ID     string `json:"id"`
	LockID string `json:"lock_id,omitempty"`
}

func (b *BaseObject) ObjectID() string { return b.ID }

func (b *BaseObject) SetObjectID(id string) { b.ID = id }

func (b *BaseObject) LockOwner() string { return b.LockID }

func (b *BaseObject) SetLockOwner(lockID string) { b.LockID = lockID }

// Collection is a live, ordered view over a slice of objects owned by a parent.
type Collection interface {
	Len() int
	Get(id string) Object
	Objects() []Object
	// Insert places obj at index; a negative or out of range index appends.
	Insert(obj Object, index int) error
	Remove(id string) bool
}

type sliceCollection[T Object] struct {
	items *[]T
}

func (c sliceCollection[T]) Len() int { return len(*c.items) }

func (c sliceCollection[T]) Get(id string) Object {
	for _, item := range *c.items {
		if item.ObjectID() == id {
			return item
		}
	}
	return nil
}

func (c sliceCollection[T]) Objects() []Object {
	out := make([]Object, 0, len(*c.items))
	for _, item := range *c.items {
		out = append(out, item)
	}
	return out
}

func (c sliceCollection[T]) Insert(obj Object, index int) error {
	item, ok := obj.(T)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWrongObjectType, obj.Kind())
	}
	if c.Get(obj.ObjectID()) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateID, obj.ObjectID())
	}
	items := *c.items
	if index < 0 || index >= len(items) {
		*c.items = append(items, item)
		return nil
	}
	items = append(items, item)
	copy(items[index+1:], items[index:])
	items[index] = item
	*c.items = items
	return nil
}

func (c sliceCollection[T]) Remove(id string) bool {
	items := *c.items
	for i, item := range items {
		if item.ObjectID() == id {
			*c.items = append(items[:i], items[i+1:]...)
			return true
		}
	}
	return false
}

// collectionSchema lists, per object kind, the fields that are traversable
// sub-collections.
var collectionSchema = map[ObjectKind]map[string]func(Object) Collection{
	KindChat: {
		"message_groups": func(o Object) Collection {
			chat := o.(*Asset).ChatData
			if chat == nil {
				return nil
			}
			return sliceCollection[*MessageGroup]{items: &chat.MessageGroups}
		},
	},
	KindMessageGroup: {
		"messages": func(o Object) Collection {
			return sliceCollection[*Message]{items: &o.(*MessageGroup).Messages}
		},
	},
	KindMessage: {
		"tool_calls": func(o Object) Collection {
			return sliceCollection[*ToolCall]{items: &o.(*Message).ToolCalls}
		},
	},
}

// SubCollection returns the named sub-collection of obj, or nil when the kind
// has no such collection.
func SubCollection(obj Object, name string) Collection {
	accessor, ok := collectionSchema[obj.Kind()][name]
	if !ok {
		return nil
	}
	return accessor(obj)
}

// SubCollectionNames returns the traversable collections of a kind.
func SubCollectionNames(kind ObjectKind) []string {
	names := make([]string, 0, len(collectionSchema[kind]))
	for name := range collectionSchema[kind] {
		names = append(names, name)
	}
	return names
}

// CollectionKind is the kind of object a sub-collection holds.
func CollectionKind(name string) (ObjectKind, bool) {
	switch name {
	case "message_groups":
		return KindMessageGroup, true
	case "messages":
		return KindMessage, true
	case "tool_calls":
		return KindToolCall, true
	}
	return "", false
}

type field struct {
	set  func(raw json.RawMessage) error
	text *string
}

func valueField[T any](dst *T) field {
	return field{set: func(raw json.RawMessage) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		*dst = v
		return nil
	}}
}

func textField(dst *string) field {
	f := valueField(dst)
	f.text = dst
	return f
}

// SetValue assigns a JSON value to a named field of obj.
func SetValue(obj Object, key string, value json.RawMessage) error {
	f, ok := obj.fields()[key]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, obj.Kind(), key)
	}
	if err := f.set(value); err != nil {
		return fmt.Errorf("set %s.%s: %w", obj.Kind(), key, err)
	}
	if hook, ok := obj.(interface{ afterSet(key string) }); ok {
		hook.afterSet(key)
	}
	return nil
}

// AppendToString appends delta to a string field of obj.
func AppendToString(obj Object, key, delta string) error {
	f, ok := obj.fields()[key]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, obj.Kind(), key)
	}
	if f.text == nil {
		return fmt.Errorf("%w: %s.%s", ErrNotAString, obj.Kind(), key)
	}
	*f.text += delta
	return nil
}

var objectFactories = map[ObjectKind]func() Object{
	KindAgent:        func() Object { return &Asset{Type: AssetAgent} },
	KindMaterial:     func() Object { return &Asset{Type: AssetMaterial} },
	KindChat:         func() Object { return &Asset{Type: AssetChat} },
	KindUserProfile:  func() Object { return &Asset{Type: AssetUser} },
	KindMessageGroup: func() Object { return &MessageGroup{} },
	KindMessage:      func() Object { return &Message{} },
	KindToolCall:     func() Object { return &ToolCall{} },
}

// DecodeObject builds an object of the given kind from its JSON form.
func DecodeObject(kind ObjectKind, raw json.RawMessage) (Object, error) {
	factory, ok := objectFactories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownObjectType, kind)
	}
	obj := factory()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, obj); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
	}
	if asset, ok := obj.(*Asset); ok {
		asset.Type = AssetType(kind)
		asset.Normalize()
	}
	if n, ok := obj.(interface{ normalize() }); ok {
		n.normalize()
	}
	return obj, nil
}
