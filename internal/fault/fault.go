// Package fault classifies errors into the kinds the pipeline executor and
// the HTTP surface act on. A kind decides whether an operation is retried,
// absorbed with a safe default, or propagated as job failure.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the failure class of an error.
type Kind string

const (
	// KindValidation marks bad caller input. Never retried.
	KindValidation Kind = "validation"
	// KindCredential marks a missing or rejected model API key.
	KindCredential Kind = "credential"
	// KindTransient marks failures worth retrying: network errors, external
	// rate limiting, 5xx responses, tool errors without a permanent indicator.
	KindTransient Kind = "transient"
	// KindDegradable marks failures a stage absorbs with a safe default.
	KindDegradable Kind = "degradable"
	// KindFatal marks failures that terminate the job.
	KindFatal Kind = "fatal"
	// KindCanceled marks cancellation by the caller or shutdown.
	KindCanceled Kind = "canceled"
)

// Error is an error tagged with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err returns nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the classification of err. Context cancellation maps to
// KindCanceled, a deadline to KindTransient, and unclassified errors to
// KindFatal so that unknown failures never loop in retry.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindFatal
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsCanceled reports whether err represents cancellation.
func IsCanceled(err error) bool {
	return KindOf(err) == KindCanceled
}
