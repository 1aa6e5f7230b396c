package model

import "fmt"

// AccessLevel is an ordered permission level: a higher level implies the lower ones.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessRead
	AccessWrite
	AccessOwn
)

func (a AccessLevel) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessOwn:
		return "own"
	default:
		return "null"
	}
}

// Allows reports whether a grant at level a satisfies a request for want.
func (a AccessLevel) Allows(want AccessLevel) bool {
	return a >= want
}

// ParseAccessLevel is the inverse of AccessLevel.String.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch s {
	case "null", "none", "":
		return AccessNone, nil
	case "read":
		return AccessRead, nil
	case "write":
		return AccessWrite, nil
	case "own":
		return AccessOwn, nil
	}
	return AccessNone, fmt.Errorf("unknown access level %q", s)
}

// AVU is one attribute-value-unit metadata triple.
type AVU struct {
	Attribute string
	Value     string
	Unit      string
}
