package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfig     Kind = "config"
	KindValidation Kind = "validation"
	KindTransfer   Kind = "transfer"
	KindTransform  Kind = "transform"
	KindNotify     Kind = "notify"
	KindInternal   Kind = "internal"
)

// Error is the single error type surfaced by the pipeline. Op names the step that
// failed (download, upload, transform, forward...), Message is safe to show to users.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Op != "":
		return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
	case e.Message != "":
		return e.Message
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind) + " error"
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	Config = func(msg string) *Error {
		return &Error{Kind: KindConfig, Message: msg}
	}
	Validation = func(msg string) *Error {
		return &Error{Kind: KindValidation, Message: msg}
	}
	Transfer = func(op string, err error) *Error {
		return &Error{Kind: KindTransfer, Op: op, Err: err}
	}
	Transform = func(diagnostic string, err error) *Error {
		return &Error{Kind: KindTransform, Op: "transform", Message: diagnostic, Err: err}
	}
	Notify = func(op string, err error) *Error {
		return &Error{Kind: KindNotify, Op: op, Err: err}
	}
	Internal = func(err error) *Error {
		return &Error{Kind: KindInternal, Op: "internal", Err: err}
	}
)

// KindOf reports the kind of the first *Error in err's chain, or KindInternal for
// anything unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Terminal reports whether an error of this kind ends a job in the failed state.
func Terminal(k Kind) bool {
	switch k {
	case KindValidation, KindTransfer, KindTransform, KindInternal:
		return true
	}
	return false
}
