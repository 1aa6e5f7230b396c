package model

import (
	"fmt"
	"path"
	"strings"
)

// Kind distinguishes collections from data items.
type Kind int

const (
	KindUnknown Kind = iota
	KindCollection
	KindItem
)

func (k Kind) String() string {
	switch k {
	case KindCollection:
		return "collection"
	case KindItem:
		return "item"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "collection":
		return KindCollection, nil
	case "item":
		return KindItem, nil
	}
	return KindUnknown, fmt.Errorf("unknown object kind %q", s)
}

// Object is one entry of a source inventory.
type Object struct {
	Path  string
	Kind  Kind
	Owner Identity
	Size  int64
}

// IsCollection reports whether the object is a collection.
func (o Object) IsCollection() bool { return o.Kind == KindCollection }

// Parent returns the path of the enclosing collection.
func (o Object) Parent() string { return Parent(o.Path) }

// Name returns the last path component.
func (o Object) Name() string { return path.Base(o.Path) }

// Parent returns the enclosing collection of an absolute logical path.
func Parent(p string) string {
	return path.Dir(p)
}

// Join appends a name to a collection path.
func Join(coll, name string) string {
	return path.Join(coll, name)
}

// Clean normalizes a logical path, dropping trailing slashes.
func Clean(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

// Within reports whether p equals root or lies beneath it.
func Within(p, root string) bool {
	if p == root {
		return true
	}
	if root == "/" {
		return strings.HasPrefix(p, "/")
	}
	return strings.HasPrefix(p, root+"/")
}

// Stat is what an endpoint knows about one object.
type Stat struct {
	Kind  Kind
	Size  int64
	Owner Identity
}
