// Package herrors defines the error taxonomy shared across hal9999's
// components. Each kind is a sentinel wrapped with context via fmt.Errorf's
// %w verb so callers can still errors.Is/errors.As against the sentinel.
package herrors

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig indicates missing or invalid configuration at startup.
	ErrConfig = errors.New("config error")

	// ErrProvider indicates the underlying provider backend failed.
	ErrProvider = errors.New("provider error")

	// ErrProviderNotFound indicates the provider reports the instance absent.
	ErrProviderNotFound = errors.New("provider: instance not found")

	// ErrCapacity indicates every configured slot is at maxPoolSize.
	ErrCapacity = errors.New("pool at capacity")

	// ErrTimeout indicates an SSH op, wait-for-ready, or agent run exceeded
	// its budget.
	ErrTimeout = errors.New("timeout")

	// ErrSetup indicates a non-timeout failure in clone/install/branch-setup.
	ErrSetup = errors.New("setup error")

	// ErrRemoteLaunch indicates the wrapper upload or detached launch failed.
	ErrRemoteLaunch = errors.New("remote launch error")

	// ErrStaleTask indicates a task's heartbeat gap exceeded STALE_TASK_MAX.
	ErrStaleTask = errors.New("stale task")

	// ErrRowNotFound indicates the store expected a row that is gone.
	ErrRowNotFound = errors.New("row not found")
)

// Wrap attaches a sentinel kind to a formatted message while keeping both
// the kind and the message inspectable via errors.Is/errors.Unwrap.
func Wrap(kind error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }
