// Package apperr defines the error kinds shared by the wallet, payment and
// booking packages. Domain errors wrap one of the kinds so callers can
// branch on the category with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidMethod     = errors.New("invalid payment method")
	ErrInvalidInput      = errors.New("invalid input")
	ErrForbidden         = errors.New("forbidden")
	ErrTransient         = errors.New("temporary storage failure, retry the request")
)

// Error is a domain error tagged with a kind.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// New returns an error that matches itself and kind under errors.Is.
func New(kind error, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return &transientError{err: err}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return ErrTransient.Error() + ": " + e.err.Error()
}

func (e *transientError) Unwrap() []error {
	return []error{ErrTransient, e.err}
}

// KindOf returns the kind err belongs to, or nil for unclassified errors.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrNotFound,
		ErrInvalidState,
		ErrConflict,
		ErrInsufficientFunds,
		ErrInvalidAmount,
		ErrInvalidMethod,
		ErrInvalidInput,
		ErrForbidden,
		ErrTransient,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
