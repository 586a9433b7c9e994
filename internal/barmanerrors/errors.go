/*
Copyright The CloudNativePG Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package barmanerrors defines the stable error taxonomy shared by every
// component, so callers can branch on kind with errors.As instead of
// matching message strings.
package barmanerrors

import "fmt"

// Kind is one of the stable error categories of the error-handling design.
type Kind string

// The stable kinds. Each value is the kind's own name.
const (
	KindConfigError        Kind = "ConfigError"
	KindLockBusy           Kind = "LockBusy"
	KindNotFound           Kind = "NotFound"
	KindCatalogCorrupt     Kind = "CatalogCorrupt"
	KindConnectionError    Kind = "ConnectionError"
	KindCopyFailed         Kind = "CopyFailed"
	KindChecksumMismatch   Kind = "ChecksumMismatch"
	KindProtocolError      Kind = "ProtocolError"
	KindRetentionViolation Kind = "RetentionViolation"
	KindHookAbortContinue  Kind = "HookAbortContinue"
	KindHookAbortStop      Kind = "HookAbortStop"
	KindTimeout            Kind = "Timeout"
	KindCancelled          Kind = "Cancelled"
	KindUnsupported        Kind = "Unsupported"
	KindFatalInternal      Kind = "FatalInternal"
)

// Error is the concrete type every component-level error should wrap itself
// in before it crosses a package boundary.
type Error struct {
	Kind    Kind
	Server  string
	Backup  string
	WAL     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error carrying the same Kind, so callers
// can do errors.Is(err, &barmanerrors.Error{Kind: barmanerrors.KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an Error of the given kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NotFound builds a KindNotFound error naming what was missing.
func NotFound(server, what string) *Error {
	return &Error{Kind: KindNotFound, Server: server, Message: what + " not found"}
}

// LockBusy builds a KindLockBusy error describing the current holder.
func LockBusy(server, op, holder string) *Error {
	return &Error{
		Kind:    KindLockBusy,
		Server:  server,
		Message: fmt.Sprintf("lock %q is held by %s", op, holder),
	}
}

// CopyFailed wraps a copy-level failure, recording whether it is transient
// (and thus eligible for retry) or persistent.
type CopyFailed struct {
	Transient bool
	Path      string
	Err       error
}

func (e *CopyFailed) Error() string {
	kind := "persistent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("CopyFailed(%s): %s: %v", kind, e.Path, e.Err)
}

func (e *CopyFailed) Unwrap() error { return e.Err }

// HookExitCode classifies a hook script's exit code per the retry protocol.
type HookExitCode int

const (
	// HookSuccess is the hook terminal success exit code.
	HookSuccess HookExitCode = 0
	// HookAbortContinue (62) is a soft abort: the outer operation continues.
	HookAbortContinue HookExitCode = 62
	// HookAbortStop (63) is a hard abort: the outer operation is stopped.
	HookAbortStop HookExitCode = 63
)

// ClassifyHookExit maps an exit code (after retry budget exhaustion) to the
// kind the caller should escalate it as, per the pre/post asymmetry in the
// error-handling design: non-terminal codes behave like ABORT_STOP for `pre`
// hooks and like ABORT_CONTINUE for `post` hooks.
func ClassifyHookExit(code int, isPre bool) Kind {
	switch HookExitCode(code) {
	case HookSuccess:
		return ""
	case HookAbortContinue:
		return KindHookAbortContinue
	case HookAbortStop:
		return KindHookAbortStop
	default:
		if isPre {
			return KindHookAbortStop
		}
		return KindHookAbortContinue
	}
}
