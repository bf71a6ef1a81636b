package errcodes

import (
	"net/http"
)

type Error struct {
	HTTPCode int
	Message  string
	Code     string
}

func (err *Error) Error() string {
	return err.Message
}

func (err *Error) As(target interface{}) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	te.HTTPCode = err.HTTPCode
	te.Message = err.Message
	te.Code = err.Code
	return true
}

func (err *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.HTTPCode == err.HTTPCode &&
		te.Message == err.Message &&
		te.Code == err.Code
}

// NotFound returns a 404 error with a message indicating the given resource.
func NotFound(resource string) error {
	return &Error{
		http.StatusNotFound,
		resource + " not found.",
		"not_found",
	}
}

// BadRequest returns a 400 error with the given message.
func BadRequest(message string) error {
	return &Error{
		http.StatusBadRequest,
		message,
		"bad_request",
	}
}

// UnsupportedMediaType returns a 415 error for request bodies that aren't a
// content type we can bind.
func UnsupportedMediaType() error {
	return &Error{
		http.StatusUnsupportedMediaType,
		"Unsupported Media Type.",
		"unsupported_media_type",
	}
}

// UnprocessableEntity returns a 422 error with the given validation message.
func UnprocessableEntity(message string) error {
	return &Error{
		http.StatusUnprocessableEntity,
		message,
		"unprocessable_entity",
	}
}

// MalformedPayload returns a 400 error for request bodies that could not be
// decoded at all.
func MalformedPayload() error {
	return &Error{
		http.StatusBadRequest,
		"Malformed request payload.",
		"malformed_payload",
	}
}

// EmptyRequestBody returns a 400 error for requests that require a body but
// didn't send one.
func EmptyRequestBody() error {
	return &Error{
		http.StatusBadRequest,
		"A request body is required.",
		"empty_request_body",
	}
}

// UnknownParameter returns a 400 error naming a parameter we don't accept.
func UnknownParameter(param string) error {
	return &Error{
		http.StatusBadRequest,
		"Unknown parameter: " + param + ".",
		"unknown_parameter",
	}
}

// ValidationError returns a 422 error with the given message.
func ValidationError(message string) error {
	return &Error{
		http.StatusUnprocessableEntity,
		message,
		"validation_error",
	}
}

// ValidationTypeError returns a 400 error with the given message.
func ValidationTypeError(message string) error {
	return &Error{
		http.StatusBadRequest,
		message,
		"validation_type_error",
	}
}
