package precond

import (
	"fmt"
	"strings"
)

// Parse creates a Key from its canonical string representation.
func Parse(raw string) (Key, error) {
	if raw == "" {
		return Key{}, fmt.Errorf("key cannot be empty")
	}

	name, path, ok := strings.Cut(raw, ":")
	if !ok {
		return Key{}, fmt.Errorf("invalid key format: %q", raw)
	}
	if !strings.HasPrefix(path, "/") {
		return Key{}, fmt.Errorf("key path must be absolute: %q", path)
	}

	for kind, kindName := range kindNames {
		if kindName == name {
			return Key{Kind: kind, Path: path}, nil
		}
	}
	return Key{}, fmt.Errorf("unknown condition kind: %q", name)
}
