// Package ferrors declares the stable, named error taxonomy shared by every
// backend variant and the transfer engine. Errors are identified by a
// sentinel or a typed value, never by type-switching on an anonymous struct,
// so that callers can use errors.Is / errors.As across package boundaries.
package ferrors

import "fmt"

// Sentinel errors used with errors.Is. Backends and the transfer engine wrap
// these with github.com/pkg/errors to add context before returning them.
var (
	// ErrNotConnected is returned for any backend operation attempted before
	// Open() or after Close().
	ErrNotConnected = fmt.Errorf("backend: not connected")
	// ErrNotFound is returned when a required path is absent.
	ErrNotFound = fmt.Errorf("backend: not found")
	// ErrAlreadyExists is returned when a creation collides with an existing path.
	ErrAlreadyExists = fmt.Errorf("backend: already exists")
	// ErrNotSupported is returned when an operation isn't implemented for a
	// given backend/OS pair (for example, rmdir on a Windows SSH backend).
	ErrNotSupported = fmt.Errorf("backend: not supported")
	// ErrTransferUnsupported is returned when no direct transfer path exists
	// between two backend types.
	ErrTransferUnsupported = fmt.Errorf("transfer: unsupported backend pair")
	// ErrAuthFailed is an SSH authentication failure.
	ErrAuthFailed = fmt.Errorf("ssh: authentication failed")
	// ErrHostUnreachable is an SSH dial failure.
	ErrHostUnreachable = fmt.Errorf("ssh: host unreachable")
	// ErrChannelError is an SSH channel-level failure during an exec or SFTP operation.
	ErrChannelError = fmt.Errorf("ssh: channel error")
	// ErrInvalidArchive is returned when an archive path doesn't carry the
	// expected .zip extension.
	ErrInvalidArchive = fmt.Errorf("archive: invalid archive path")
)

// CommandFailedError wraps a non-zero exit status, for callers that choose to
// turn one into an error. No code in this module constructs it: by default a
// non-zero exit status is surfaced as the third return value of
// Backend.ExecCommand, and the error-raise observer reports non-empty stderr
// through its own Err field as a plain error, not as this type.
type CommandFailedError struct {
	Command    string
	ExitStatus int
	Stderr     []string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("command failed with exit status %d: %s", e.ExitStatus, e.Command)
}

// TransferError wraps an underlying transport or filesystem error with the
// source/destination identities, without changing its errors.Is behavior.
type TransferError struct {
	From   string
	To     string
	Reason error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer from %q to %q failed: %v", e.From, e.To, e.Reason)
}

func (e *TransferError) Unwrap() error {
	return e.Reason
}
