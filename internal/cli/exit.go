package cli

import (
	"errors"
	"fmt"

	"github.com/vk/treepump/internal/app"
)

// Exit codes of the treepump command.
const (
	ExitOK               = 0
	ExitUsage            = 1 // bad arguments, configuration or an interrupted run
	ExitSourceLogin      = 2
	ExitDestinationLogin = 3
	ExitResume           = 4
	ExitMissingObject    = 5
	ExitNotCollection    = 6
	ExitPolicy           = 7
	ExitLocalZone        = 8
	ExitAccess           = 9
	ExitInventory        = 10
)

var stageCodes = map[app.Stage]int{
	app.StageConfig:           ExitUsage,
	app.StageSourceLogin:      ExitSourceLogin,
	app.StageDestinationLogin: ExitDestinationLogin,
	app.StageResume:           ExitResume,
	app.StageMissingObject:    ExitMissingObject,
	app.StageNotCollection:    ExitNotCollection,
	app.StagePolicy:           ExitPolicy,
	app.StageLocalZone:        ExitLocalZone,
	app.StageAccess:           ExitAccess,
	app.StageInventory:        ExitInventory,
}

// ExitError is an error that carries the process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// *ExitError map to ExitUsage.
func GetExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitUsage
}

// exitError classifies an application error.
func exitError(err error) *ExitError {
	var pe *app.PreflightError
	if !errors.As(err, &pe) {
		return WrapExitError(ExitUsage, "migration failed", err)
	}
	code, ok := stageCodes[pe.Stage]
	if !ok {
		code = ExitUsage
	}
	if pe.Stage == app.StageConfig {
		return WrapExitError(code, "invalid configuration", pe.Err)
	}
	return WrapExitError(code, "preflight failed", err)
}
