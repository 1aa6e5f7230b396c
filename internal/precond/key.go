package precond

import (
	"fmt"
	"strings"
)

// Kind is the condition a Key names.
type Kind int

const (
	// ObjectExists: the destination object has been created.
	ObjectExists Kind = iota + 1
	// AdminAccess: the elevated identity holds own access on the destination object.
	AdminAccess
	// MetadataCopied: the object's metadata has been copied.
	MetadataCopied
	// Republished: the publication state of a collection has been handled.
	Republished
)

var kindNames = map[Kind]string{
	ObjectExists:   "exists",
	AdminAccess:    "admin",
	MetadataCopied: "metadata",
	Republished:    "republished",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Key identifies one condition on one object path.
type Key struct {
	Kind Kind
	Path string
}

// Exists returns the ObjectExists key for path.
func Exists(path string) Key { return Key{Kind: ObjectExists, Path: path} }

// Admin returns the AdminAccess key for path.
func Admin(path string) Key { return Key{Kind: AdminAccess, Path: path} }

// Metadata returns the MetadataCopied key for path.
func Metadata(path string) Key { return Key{Kind: MetadataCopied, Path: path} }

// Republish returns the Republished key for path.
func Republish(path string) Key { return Key{Kind: Republished, Path: path} }

// String serializes the key into its canonical `kind:path` form.
func (k Key) String() string {
	var sb strings.Builder
	sb.WriteString(k.Kind.String())
	sb.WriteRune(':')
	sb.WriteString(k.Path)
	return sb.String()
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k.Kind == 0 && k.Path == ""
}
