package binder

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured Binder error with context and errno
// mapping, matching the errno surface the ioctl layer reports back.
type Error struct {
	Op     string     // Operation that failed (e.g., "FREEZE", "get_node")
	PID    int32      // Process pid the error originates from (0 if n/a)
	Handle uint32     // Handle involved, if any
	Code   ErrorCode  // High-level error category
	Errno  syscall.Errno
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.PID != 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", e.PID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("binder: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("binder: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Inner }

// Is supports comparing against a bare ErrorCode-keyed sentinel as well as
// another *Error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode is the high-level error taxonomy exposed by the ioctl surface,
// one entry per errno spec.md §7 names as a possible return value.
type ErrorCode string

const (
	CodeInvalidArgument  ErrorCode = "invalid argument"        // EINVAL
	CodePermissionDenied ErrorCode = "permission denied"       // EPERM
	CodeNotFound         ErrorCode = "not found"                // ENOENT
	CodeNoSuchProcess    ErrorCode = "no such process"          // ESRCH
	CodeTryAgain         ErrorCode = "resource temporarily unavailable" // EAGAIN
	CodeInterrupted      ErrorCode = "interrupted system call"  // ERESTARTSYS at the kernel level, EINTR once it crosses back to userspace
	CodeOutOfMemory      ErrorCode = "out of memory"            // ENOMEM
	CodeInternal         ErrorCode = "internal error"
)

// Error constructors

// NewError creates a structured error carrying only a code and message.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrnoError creates a structured error from a concrete errno, deriving
// its message and code from the errno itself.
func NewErrnoError(op string, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: codeForErrno(errno), Errno: errno, Msg: errno.Error()}
}

// NewProcessError creates a process-scoped error.
func NewProcessError(op string, pid int32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, PID: pid, Code: code, Msg: msg}
}

// WrapError wraps an existing error with Binder operation context.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if be, ok := inner.(*Error); ok {
		return &Error{Op: op, PID: be.PID, Handle: be.Handle, Code: be.Code, Errno: be.Errno, Msg: be.Msg, Inner: be.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Code: codeForErrno(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Code: CodeInternal, Msg: inner.Error(), Inner: inner}
}

func codeForErrno(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EINVAL:
		return CodeInvalidArgument
	case syscall.EPERM:
		return CodePermissionDenied
	case syscall.ENOENT:
		return CodeNotFound
	case syscall.ESRCH:
		return CodeNoSuchProcess
	case syscall.EAGAIN:
		return CodeTryAgain
	case syscall.EINTR:
		return CodeInterrupted
	case syscall.ENOMEM:
		return CodeOutOfMemory
	default:
		return CodeInternal
	}
}

// errnoForCode is the reverse mapping, used when an operation needs to
// report a syscall.Errno to a caller that only has an ErrorCode on hand
// (e.g. Ioctl's return path).
func errnoForCode(code ErrorCode) syscall.Errno {
	switch code {
	case CodeInvalidArgument:
		return syscall.EINVAL
	case CodePermissionDenied:
		return syscall.EPERM
	case CodeNotFound:
		return syscall.ENOENT
	case CodeNoSuchProcess:
		return syscall.ESRCH
	case CodeTryAgain:
		return syscall.EAGAIN
	case CodeInterrupted:
		return syscall.EINTR
	case CodeOutOfMemory:
		return syscall.ENOMEM
	default:
		return syscall.EIO
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Errno == errno
	}
	return false
}
