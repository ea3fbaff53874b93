package clientsecret

import (
	"net/http"
	"strings"
)

// ErrorType classifies an error message.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeToken      ErrorType = "token"
	ErrorTypeAPI        ErrorType = "api"
	ErrorTypeAmbiguous  ErrorType = "ambiguous"
	ErrorTypePolicy     ErrorType = "policy"
)

// ErrorMessage is a single business error.
type ErrorMessage struct {
	Text       string
	HTTPStatus int
	Type       ErrorType
}

// ErrorResult accumulates error messages. The zero value is valid and empty.
type ErrorResult struct {
	Errors []ErrorMessage
}

// Add appends a message. Blank messages are ignored.
func (r *ErrorResult) Add(msg ErrorMessage) {
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	if msg.HTTPStatus == 0 {
		msg.HTTPStatus = http.StatusBadRequest
	}
	r.Errors = append(r.Errors, msg)
}

// AddAll appends every message of other.
func (r *ErrorResult) AddAll(other *ErrorResult) {
	if other == nil {
		return
	}
	for _, msg := range other.Errors {
		r.Add(msg)
	}
}

// IsValid is true when no errors were added.
func (r *ErrorResult) IsValid() bool {
	return r == nil || len(r.Errors) == 0
}

// Messages returns the message texts in insertion order.
func (r *ErrorResult) Messages() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.Errors))
	for i, msg := range r.Errors {
		out[i] = msg.Text
	}
	return out
}

func (r *ErrorResult) Error() string {
	return strings.Join(r.Messages(), "; ")
}

// Result is either a value or an ErrorResult.
type Result[T any] struct {
	value T
	err   *ErrorResult
}

// Ok wraps a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Fail wraps errors. A nil or empty ErrorResult still yields a failed result.
func Fail[T any](errs *ErrorResult) Result[T] {
	if errs == nil {
		errs = &ErrorResult{}
	}
	return Result[T]{err: errs}
}

func (r Result[T]) IsOk() bool           { return r.err == nil }
func (r Result[T]) Value() T             { return r.value }
func (r Result[T]) Errors() *ErrorResult { return r.err }
