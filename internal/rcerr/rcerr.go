// Package rcerr classifies errors into the taxonomy of spec §7: NotFound,
// Configuration, Transient, ScriptFailure and Fatal. Callers that need to
// branch on the category (the CLI's exit-code mapping, the driver's
// best-effort continuation) use errors.As against *Error; everyone else can
// keep treating it as a plain error.
package rcerr

import (
	"errors"
	"fmt"
)

// Kind is the error category from spec §7.
type Kind int

const (
	// KindNotFound covers a missing service, runlevel, state marker or
	// cache entry. Never fatal: callers fall back to a negative result.
	KindNotFound Kind = iota
	// KindConfiguration covers an unresolvable virtual, a need-cycle, or a
	// non-executable script. Ordering proceeds with the offending
	// edge/service dropped; the error is surfaced as a diagnostic.
	KindConfiguration
	// KindTransient covers a directory write that failed and should be
	// retried a bounded number of times before surfacing as a failure.
	KindTransient
	// KindScriptFailure covers a non-zero exit from a service script's
	// start/stop verb.
	KindScriptFailure
	// KindFatal covers out-of-memory, a corrupt cache that cannot be
	// rebuilt, or permission denied on the state root. There is no silent
	// continuation from a fatal error.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindConfiguration:
		return "configuration"
	case KindTransient:
		return "transient"
	case KindScriptFailure:
		return "script-failure"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified error carrying the subject it occurred on (a
// service name, runlevel name, or path) alongside its kind.
type Error struct {
	Kind    Kind
	Subject string
	Err     error
}

func (e *Error) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Kind, e.Subject, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound builds a KindNotFound error.
func NotFound(subject string, err error) *Error {
	return &Error{Kind: KindNotFound, Subject: subject, Err: err}
}

// Configuration builds a KindConfiguration error.
func Configuration(subject string, err error) *Error {
	return &Error{Kind: KindConfiguration, Subject: subject, Err: err}
}

// Transient builds a KindTransient error.
func Transient(subject string, err error) *Error {
	return &Error{Kind: KindTransient, Subject: subject, Err: err}
}

// ScriptFailure builds a KindScriptFailure error.
func ScriptFailure(subject string, err error) *Error {
	return &Error{Kind: KindScriptFailure, Subject: subject, Err: err}
}

// Fatal builds a KindFatal error.
func Fatal(subject string, err error) *Error {
	return &Error{Kind: KindFatal, Subject: subject, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
