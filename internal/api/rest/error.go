package rest

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"encoding/json"
	"fmt"
	"net/http"

	validator "github.com/go-playground/validator/v10"
)

// Error codes. Codes are invariant and are intended to be consumed
// programmatically; the HTTP status carried alongside is what handlers
// write to the wire.
const (
	ErrorCodeBadRequest         = "BadRequest"
	ErrorCodeForbidden          = "Forbidden"
	ErrorCodeNotFound           = "NotFound"
	ErrorCodeConflict           = "Conflict"
	ErrorCodeMultiStatus        = "MultiStatus"
	ErrorCodeTooManyRequests    = "TooManyRequests"
	ErrorCodeInternalError      = "InternalServerError"
	ErrorCodeNotImplemented     = "NotImplemented"
	ErrorCodeServiceUnavailable = "ServiceUnavailable"
)

// Error is the structured error every handler and service returns across
// package boundaries. It doubles as the JSON response body.
type Error struct {
	// The HTTP status code
	StatusCode int `json:"-"`

	// The response body to be converted to JSON
	*ErrorBody `json:"error,omitempty"`
}

func (err *Error) Error() string {
	var body string

	if err.ErrorBody != nil {
		body = ": " + err.ErrorBody.String()
	}

	return fmt.Sprintf("%d%s", err.StatusCode, body)
}

// ErrorBody is the serialized part of an Error.
type ErrorBody struct {
	// An identifier for the error.
	Code string `json:"code,omitempty"`

	// A message describing the error, suitable for display.
	Message string `json:"message,omitempty"`

	// The target of the particular error, e.g. a field or a resource name.
	Target string `json:"target,omitempty"`

	// Additional details about the error.
	Details []ErrorBody `json:"details,omitempty"`
}

func (body *ErrorBody) String() string {
	out := fmt.Sprintf("%s: ", body.Code)
	if len(body.Target) > 0 {
		out += fmt.Sprintf("%s: ", body.Target)
	}
	out += body.Message

	if len(body.Details) > 0 {
		out += " Details: "
		for i, innerErr := range body.Details {
			out += innerErr.String()
			if i < len(body.Details)-1 {
				out += ", "
			}
		}
	}

	return out
}

// NewError returns a new Error.
func NewError(statusCode int, code, target, format string, a ...any) *Error {
	return &Error{
		StatusCode: statusCode,
		ErrorBody: &ErrorBody{
			Code:    code,
			Message: fmt.Sprintf(format, a...),
			Target:  target,
		},
	}
}

func NewBadRequestError(target, format string, a ...any) *Error {
	return NewError(http.StatusBadRequest, ErrorCodeBadRequest, target, format, a...)
}

func NewForbiddenError(target, format string, a ...any) *Error {
	return NewError(http.StatusForbidden, ErrorCodeForbidden, target, format, a...)
}

func NewNotFoundError(target, format string, a ...any) *Error {
	return NewError(http.StatusNotFound, ErrorCodeNotFound, target, format, a...)
}

func NewConflictError(target, format string, a ...any) *Error {
	return NewError(http.StatusConflict, ErrorCodeConflict, target, format, a...)
}

func NewServiceUnavailableError(target, format string, a ...any) *Error {
	return NewError(http.StatusServiceUnavailable, ErrorCodeServiceUnavailable, target, format, a...)
}

func NewNotImplementedError(target, format string, a ...any) *Error {
	return NewError(http.StatusNotImplemented, ErrorCodeNotImplemented, target, format, a...)
}

// NewThrottledError maps backend throughput exhaustion to 429 so callers
// can retry without data loss.
func NewThrottledError() *Error {
	return NewError(http.StatusTooManyRequests, ErrorCodeTooManyRequests, "",
		"The request rate is too high. Retry the request after a short delay.")
}

// NewInternalServerError hides the cause from the caller; the cause is
// expected to be logged at the point of failure.
func NewInternalServerError() *Error {
	return NewError(http.StatusInternalServerError, ErrorCodeInternalError, "",
		"Internal server error.")
}

// IsError reports whether err is (or wraps) a *Error and returns it.
func IsError(err error) (*Error, bool) {
	restErr, ok := err.(*Error)
	return restErr, ok
}

// WriteError constructs and writes an Error to the given ResponseWriter.
func WriteError(w http.ResponseWriter, statusCode int, code, target, format string, a ...any) {
	WriteRESTError(w, NewError(statusCode, code, target, format, a...))
}

// WriteRESTError writes an Error to the given ResponseWriter.
func WriteRESTError(w http.ResponseWriter, err *Error) {
	w.Header()["Content-Type"] = []string{"application/json"}
	w.WriteHeader(err.StatusCode)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "    ")
	_ = encoder.Encode(err)
}

// WriteInternalServerError writes an internal server error to the given
// ResponseWriter.
func WriteInternalServerError(w http.ResponseWriter) {
	WriteRESTError(w, NewInternalServerError())
}

// WriteUnmarshalError writes an appropriate Error for JSON unmarshaling or
// request validation failures.
func WriteUnmarshalError(err error, w http.ResponseWriter) {
	switch err := err.(type) {
	case *json.UnmarshalTypeError:
		WriteError(
			w, http.StatusBadRequest,
			ErrorCodeBadRequest,
			err.Field,
			"%s", err.Error())
	case validator.ValidationErrors:
		restError := NewError(
			http.StatusBadRequest,
			ErrorCodeBadRequest, "",
			"Content validation failed on one or more fields")
		restError.ErrorBody.Details = make([]ErrorBody, len(err))
		for index, fieldErr := range err {
			message := fmt.Sprintf("Invalid value '%v' for field '%s'", fieldErr.Value(), fieldErr.Field())
			switch fieldErr.Tag() {
			case "required":
				message = fmt.Sprintf("Missing required field '%s'", fieldErr.Field())
			case "cloud":
				message += " (must be one of: AWS, AZURE, GOOGLE, KUBERNETES)"
			case "oneof":
				message += fmt.Sprintf(" (must be one of: %s)", fieldErr.Param())
			}
			restError.Details[index] = ErrorBody{
				Code:    ErrorCodeBadRequest,
				Message: message,
				Target:  fieldErr.Field(),
			}
		}
		WriteRESTError(w, restError)
	default:
		WriteError(
			w, http.StatusBadRequest,
			ErrorCodeBadRequest,
			"", "%s", err.Error())
	}
}
