package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/vango-dev/katai/pkg/cache"
	"github.com/vango-dev/katai/pkg/query"
	"github.com/vango-dev/katai/pkg/store"
)

// Category represents the type of error.
type Category string

const (
	CategoryStore  Category = "store"
	CategoryCache  Category = "cache"
	CategoryConfig Category = "config"
	CategoryServer Category = "server"
	CategoryQuery  Category = "query"
	CategoryCLI    Category = "cli"
)

// Error is a structured error with a code, a hint and an optional cause.
type Error struct {
	// Code is a unique error identifier (e.g., "K001").
	Code string

	// Category is the error type.
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// WithSuggestion adds a fix suggestion to the error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *Error) WithDetail(d string) *Error {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	return e
}

// New creates an Error from a registered code.
func New(code string) *Error {
	template, ok := registry[code]
	if !ok {
		return &Error{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &Error{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
	}
}

// Newf creates an Error with a formatted message and no code.
func Newf(category Category, format string, args ...any) *Error {
	return &Error{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps err with the given code unless it already is an *Error.
func FromError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(code).Wrap(err)
}

// Classify maps a library error to its registered code. Unknown errors are
// wrapped as K079.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}

	var knf *store.KeyNotFoundError
	switch {
	case stderrors.Is(err, store.ErrDuplicateStore):
		return New("K001").Wrap(err)
	case stderrors.Is(err, store.ErrMissingName):
		return New("K002").Wrap(err)
	case stderrors.Is(err, store.ErrMissingState):
		return New("K003").Wrap(err)
	case stderrors.As(err, &knf):
		out := New("K004").Wrap(err)
		if knf.Suggestion != "" {
			out.WithSuggestion(fmt.Sprintf("Did you mean %q?", knf.Suggestion))
		}
		return out
	case stderrors.Is(err, store.ErrMissingCacheAdapter):
		return New("K005").Wrap(err)
	case stderrors.Is(err, store.ErrStoreNotFound):
		return New("K006").Wrap(err)
	case stderrors.Is(err, store.ErrInvalidName):
		return New("K007").Wrap(err)
	case stderrors.Is(err, store.ErrInvalidPath):
		return New("K008").Wrap(err)
	case stderrors.Is(err, cache.ErrMissingAdapter):
		return New("K020").Wrap(err)
	case stderrors.Is(err, cache.ErrAdapterClosed), stderrors.Is(err, cache.ErrControllerClosed):
		return New("K021").Wrap(err)
	}

	var qe *query.Error
	if stderrors.As(err, &qe) || stderrors.Is(err, query.ErrEmptyExpression) {
		return New("K061").Wrap(err)
	}
	return New("K079").Wrap(err)
}
