package cserror

import (
	"net/http"

	"github.com/pkg/errors"
)

// Tags rendered in API errors.
const (
	TagInvalidEvent = "invalid-event"
	TagInvalidAuth  = "invalid-auth"
	TagNotFound     = "not-found"
	TagInvalidQuery = "invalid-parameters"
)

type (
	// An Error represents the error format that can be rendered by chestsync server.
	Error struct {
		HTTPCode   int `json:"-"`
		FieldError err `json:"error"`
	}

	err struct {
		Tag     string `json:"tag,omitempty"`
		Message string `json:"message"`
	}
)

// StatusCode returns the HTTP status code.
func StatusCode(err error) int {
	var cserr *Error
	if errors.As(err, &cserr) && cserr.HTTPCode != 0 {
		return cserr.HTTPCode
	}
	return http.StatusInternalServerError
}

// New returns a new Error with the given message.
func New(message string) *Error {
	return &Error{FieldError: err{Message: message}}
}

// NewWithTagCode returns a new Error with the given code, tag and message.
func NewWithTagCode(code int, tag, message string) *Error {
	return &Error{HTTPCode: code, FieldError: err{Tag: tag, Message: message}}
}

// Validation returns a rejected event error.
func Validation(message string) *Error {
	return NewWithTagCode(http.StatusUnprocessableEntity, TagInvalidEvent, message)
}

// BadRequest returns an invalid query parameters error.
func BadRequest(message string) *Error {
	return NewWithTagCode(http.StatusBadRequest, TagInvalidQuery, message)
}

// NotFound returns a not found error.
func NotFound(message string) *Error {
	return NewWithTagCode(http.StatusNotFound, TagNotFound, message)
}

// Unauthorized returns an authentication error.
func Unauthorized(message string) *Error {
	return NewWithTagCode(http.StatusUnauthorized, TagInvalidAuth, message)
}

// IsValidation returns true if err is a rejected event error.
func IsValidation(err error) bool {
	var cserr *Error
	return errors.As(err, &cserr) && cserr.FieldError.Tag == TagInvalidEvent
}

// IsNotFound returns true if err is a not found error.
func IsNotFound(err error) bool {
	var cserr *Error
	return errors.As(err, &cserr) && cserr.HTTPCode == http.StatusNotFound
}

// Tag returns the error tag.
func (e *Error) Tag() string {
	return e.FieldError.Tag
}

// Error implements error interface.
func (e *Error) Error() string {
	return e.FieldError.Message
}
