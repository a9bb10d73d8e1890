package chat

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the controller.
type Kind string

const (
	// KindAuth is a credential or session resolution failure. Callers fail closed.
	KindAuth Kind = "auth"
	// KindFetch is a list or history load failure. State degrades to empty.
	KindFetch Kind = "fetch"
	// KindWrite is an insert or update failure. Input is preserved.
	KindWrite Kind = "write"
	// KindSubscription is a realtime feed failure. Prior state is kept.
	KindSubscription Kind = "subscription"
)

var (
	// ErrNoSession indicates no authenticated identity could be resolved.
	ErrNoSession = errors.New("chat: no session")
	// ErrNoContact indicates an operation that needs an open conversation.
	ErrNoContact = errors.New("chat: no contact selected")
	// ErrEmptyMessage indicates a draft that is empty after trimming.
	ErrEmptyMessage = errors.New("chat: message is empty")
	// ErrNotMounted indicates the controller has not resolved an identity yet.
	ErrNotMounted = errors.New("chat: not mounted")
)

// Error is a classified failure from one controller operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var chatErr *Error
	return errors.As(err, &chatErr) && chatErr.Kind == kind
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
