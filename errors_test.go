package binder

import (
	"errors"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("get_node", CodeInvalidArgument, "cookie mismatch")

	if err.Op != "get_node" {
		t.Errorf("Expected Op=get_node, got %s", err.Op)
	}
	if err.Code != CodeInvalidArgument {
		t.Errorf("Expected Code=CodeInvalidArgument, got %s", err.Code)
	}

	expected := "binder: cookie mismatch (op=get_node)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestNewErrnoError(t *testing.T) {
	err := NewErrnoError("freeze", syscall.EAGAIN)

	if err.Errno != syscall.EAGAIN {
		t.Errorf("Expected Errno=EAGAIN, got %v", err.Errno)
	}
	if err.Code != CodeTryAgain {
		t.Errorf("Expected Code=CodeTryAgain, got %s", err.Code)
	}
}

func TestNewProcessError(t *testing.T) {
	err := NewProcessError("set_context_mgr", 123, CodeInvalidArgument, "already registered")

	if err.PID != 123 {
		t.Errorf("Expected PID=123, got %d", err.PID)
	}

	expected := "binder: already registered (op=set_context_mgr)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestWrapError(t *testing.T) {
	inner := syscall.ENOENT
	err := WrapError("release", inner)

	if err.Code != CodeNotFound {
		t.Errorf("Expected Code=CodeNotFound, got %s", err.Code)
	}
	if err.Errno != syscall.ENOENT {
		t.Errorf("Expected Errno=ENOENT, got %v", err.Errno)
	}
	if !errors.Is(err, inner) {
		t.Error("Expected wrapped error to satisfy errors.Is for ENOENT")
	}
}

func TestWrapErrorPreservesStructuredError(t *testing.T) {
	inner := NewError("get_node", CodeInvalidArgument, "cookie mismatch")
	err := WrapError("inc_ref_done", inner)

	if err.Code != CodeInvalidArgument {
		t.Errorf("Expected wrapped Code to carry through, got %s", err.Code)
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("freeze", CodeTryAgain, "timed out")

	if !IsCode(err, CodeTryAgain) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, CodeInternal) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, CodeTryAgain) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestIsErrno(t *testing.T) {
	err := NewErrnoError("buffer_alloc", syscall.ENOMEM)

	if !IsErrno(err, syscall.ENOMEM) {
		t.Error("IsErrno should return true for matching errno")
	}
	if IsErrno(err, syscall.EPERM) {
		t.Error("IsErrno should return false for non-matching errno")
	}
	if IsErrno(nil, syscall.ENOMEM) {
		t.Error("IsErrno should return false for nil error")
	}
}

func TestErrnoMapping(t *testing.T) {
	testCases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.EINVAL, CodeInvalidArgument},
		{syscall.EPERM, CodePermissionDenied},
		{syscall.ENOENT, CodeNotFound},
		{syscall.ESRCH, CodeNoSuchProcess},
		{syscall.EAGAIN, CodeTryAgain},
		{syscall.EINTR, CodeInterrupted},
		{syscall.ENOMEM, CodeOutOfMemory},
	}

	for _, tc := range testCases {
		code := codeForErrno(tc.errno)
		if code != tc.expected {
			t.Errorf("codeForErrno(%v) = %s, want %s", tc.errno, code, tc.expected)
		}
	}
}

func TestErrnoForCodeRoundTrip(t *testing.T) {
	codes := []ErrorCode{
		CodeInvalidArgument, CodePermissionDenied, CodeNotFound,
		CodeNoSuchProcess, CodeTryAgain, CodeInterrupted, CodeOutOfMemory,
	}
	for _, code := range codes {
		errno := errnoForCode(code)
		if codeForErrno(errno) != code {
			t.Errorf("round trip through errno broke for %s (got errno %v back to %s)", code, errno, codeForErrno(errno))
		}
	}
}
