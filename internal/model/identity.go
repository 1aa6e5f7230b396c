package model

import (
	"fmt"
	"strings"
)

// Identity is an acting principal: a user name qualified by its zone.
// Two identities are equal iff both fields match.
type Identity struct {
	Name string
	Zone string
}

// NewIdentity builds an Identity.
func NewIdentity(name, zone string) Identity {
	return Identity{Name: name, Zone: zone}
}

// String renders the identity as `name#zone`.
func (i Identity) String() string {
	return i.Name + "#" + i.Zone
}

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool {
	return i.Name == "" && i.Zone == ""
}

// InZone returns the same user name presented in another zone.
func (i Identity) InZone(zone string) Identity {
	return Identity{Name: i.Name, Zone: zone}
}

// ParseIdentity parses the `name#zone` form produced by String.
func ParseIdentity(s string) (Identity, error) {
	name, zone, ok := strings.Cut(s, "#")
	if !ok || name == "" || zone == "" {
		return Identity{}, fmt.Errorf("invalid identity %q: expected name#zone", s)
	}
	return Identity{Name: name, Zone: zone}, nil
}
