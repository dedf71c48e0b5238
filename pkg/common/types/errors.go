package types

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

type ErrorKind string

const (
	KindInvalidAmount       ErrorKind = "invalid_amount"
	KindInsufficientFunds   ErrorKind = "insufficient_funds"
	KindUnknownRecipient    ErrorKind = "unknown_recipient"
	KindRoomAlreadyOpen     ErrorKind = "room_already_open"
	KindNoActiveRoom        ErrorKind = "no_active_room"
	KindNotOwner            ErrorKind = "not_owner"
	KindNotAdmin            ErrorKind = "not_admin"
	KindTooFewParticipants  ErrorKind = "too_few_participants"
	KindTooManyParticipants ErrorKind = "too_many_participants"
	KindDrawInProgress      ErrorKind = "draw_in_progress"
	KindStoreUnavailable    ErrorKind = "store_unavailable"
	KindInvariantViolation  ErrorKind = "invariant_violation"
	KindRateLimited         ErrorKind = "rate_limited"
	KindInvalidRequest      ErrorKind = "invalid_request"
)

// Error is a domain failure. Message is safe to show to the user; Err carries
// the internal cause and is only logged.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidAmount       = &Error{Kind: KindInvalidAmount}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds}
	ErrUnknownRecipient    = &Error{Kind: KindUnknownRecipient}
	ErrRoomAlreadyOpen     = &Error{Kind: KindRoomAlreadyOpen}
	ErrNoActiveRoom        = &Error{Kind: KindNoActiveRoom}
	ErrNotOwner            = &Error{Kind: KindNotOwner}
	ErrNotAdmin            = &Error{Kind: KindNotAdmin}
	ErrTooFewParticipants  = &Error{Kind: KindTooFewParticipants}
	ErrTooManyParticipants = &Error{Kind: KindTooManyParticipants}
	ErrDrawInProgress      = &Error{Kind: KindDrawInProgress}
	ErrStoreUnavailable    = &Error{Kind: KindStoreUnavailable}
	ErrInvariantViolation  = &Error{Kind: KindInvariantViolation}
	ErrRateLimited         = &Error{Kind: KindRateLimited}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
)

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an internal cause to a user-facing failure.
func Wrap(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the same call may succeed if repeated unchanged.
func Retryable(err error) bool {
	return KindOf(err) == KindStoreUnavailable
}

// UserMessage returns text fit for the presentation layer. Unknown errors
// never leak their raw text.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if e != nil {
		return strings.ReplaceAll(string(e.Kind), "_", " ")
	}
	return "something went wrong, please try again later"
}

type MultiError struct {
	mu     sync.Mutex
	Errors []error
}

func (m *MultiError) Error() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (m *MultiError) Add(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, err)
}

func (m *MultiError) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Errors) == 0
}

// Unwrap lets errors.Is and errors.As see every collected error.
func (m *MultiError) Unwrap() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.Errors...)
}

// ErrOrNil returns m when it holds at least one error.
func (m *MultiError) ErrOrNil() error {
	if m.IsEmpty() {
		return nil
	}
	return m
}
