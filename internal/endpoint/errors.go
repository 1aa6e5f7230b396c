package endpoint

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrAuthentication = errors.New("authentication failed")
	ErrAlreadyExists  = errors.New("object already exists")
	ErrNotCollection  = errors.New("not a collection")
	ErrPermission     = errors.New("permission denied")
	ErrClosed         = errors.New("session closed")
)

// CodeAlreadyPresent is the status an endpoint reports when a metadata
// triple is already attached to the object.
const CodeAlreadyPresent = -806000

// ProtocolError is a nonzero status returned by an endpoint call.
type ProtocolError struct {
	Op   string
	Path string
	Code int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s %s: endpoint status %d", e.Op, e.Path, e.Code)
}

// HasCode reports whether err carries a ProtocolError with the given code.
func HasCode(err error, code int) bool {
	var perr *ProtocolError
	return errors.As(err, &perr) && perr.Code == code
}

// TransferError is a content copy that failed mid-stream (Err is set) or
// completed with the wrong byte count.
type TransferError struct {
	Path     string
	Expected int64
	Actual   int64
	Err      error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer of %s failed: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("transfer of %s: size mismatch, expected %d bytes, got %d", e.Path, e.Expected, e.Actual)
}

func (e *TransferError) Unwrap() error { return e.Err }

// SizeMismatch reports whether the transfer completed with a wrong size.
func (e *TransferError) SizeMismatch() bool { return e.Err == nil }
