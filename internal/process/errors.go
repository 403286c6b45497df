package process

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Start on a running manager.
var ErrAlreadyRunning = errors.New("process: already running")

// RecoverableError is implemented by errors that know whether a restart
// can help.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether a restart may fix err. Errors that do not
// implement RecoverableError are assumed recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// ExitError describes a child that exited with a status code.
type ExitError struct {
	Name  string
	Code  int
	Fatal bool
	Err   error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process %s exited with code %d", e.Name, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// IsRecoverable implements RecoverableError.
func (e *ExitError) IsRecoverable() bool { return !e.Fatal }
