package services

import (
	"errors"
	"fmt"

	"github.com/bizzylink/apiserver/internal/store"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrInvalidToken       = errors.New("invalid token")
)

// Error is a failure whose Message can be shown to the client. It unwraps to
// its kind, one of the sentinels above or store.ErrNotFound.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func invalid(format string, args ...any) error {
	return &Error{Kind: ErrInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return &Error{Kind: store.ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// notFoundAs replaces a store.ErrNotFound with a descriptive not-found error
// and passes other errors through.
func notFoundAs(err error, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound("%s", message)
	}
	return err
}
