package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for the API layer
type Kind string

const (
	KindBadRequest Kind = "BAD_REQUEST"
	KindNotFound   Kind = "NOT_FOUND"
	KindStorage    Kind = "STORAGE_ERROR"
	KindInternal   Kind = "INTERNAL"
)

// Common errors, matched with errors.Is against any *Error of the same kind
var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("record not found")
	ErrStorage    = errors.New("storage backend failure")
	ErrInternal   = errors.New("internal error")
	ErrCacheMiss  = errors.New("cache miss")
)

// Error is the typed failure returned by the file lifecycle
type Error struct {
	Kind    Kind           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrNotFound) match without caring about the message
func (e *Error) Is(target error) bool {
	switch target {
	case ErrBadRequest:
		return e.Kind == KindBadRequest
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrStorage:
		return e.Kind == KindStorage
	case ErrInternal:
		return e.Kind == KindInternal
	}
	return false
}

// WithDetail sets a single detail and returns the receiver
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause attaches the underlying error and returns the receiver
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func NewBadRequest(message string) *Error {
	return &Error{Kind: KindBadRequest, Message: message}
}

// NewFileNotFound reports that no live record exists for id
func NewFileNotFound(id string) *Error {
	return (&Error{Kind: KindNotFound, Message: "file not found: " + id}).WithDetail("fileId", id)
}

func NewStorageError(message string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: message, Cause: cause}
}

func NewInternal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to KindInternal
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
