package errutil

import (
	"errors"
	"fmt"
	"strings"
)

// Detail points a validation failure at one request field.
type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Field builds a Detail with a formatted message.
func Field(name, format string, args ...any) Detail {
	return Detail{Field: name, Message: fmt.Sprintf(format, args...)}
}

type BaseError struct {
	Code    CoreStatus `json:"code"`
	Message string     `json:"message"`
	Details []Detail   `json:"details,omitempty"`
	Err     error      `json:"-"`
}

// Body is the JSON envelope written for failed API calls.
type Body struct {
	Error BaseError `json:"error"`
}

func (e BaseError) Status() CoreStatus {
	return e.Code
}

// JSON returns the response envelope with the cause folded into the message.
func (e BaseError) JSON() Body {
	out := e
	out.Message = e.messageWithErr()
	return Body{Error: out}
}

func (e BaseError) Unwrap() error {
	return e.Err
}

func (e BaseError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.messageWithErr())
	if len(e.Details) == 0 {
		return msg
	}

	fields := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		fields = append(fields, d.Field+": "+d.Message)
	}
	return msg + " (" + strings.Join(fields, "; ") + ")"
}

func (e BaseError) messageWithErr() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

type Option func(*BaseError)

func WithDetails(details ...Detail) Option {
	return func(be *BaseError) { be.Details = append(be.Details, details...) }
}

func newWithErr(code CoreStatus, message string, err error, opts []Option) error {
	be := BaseError{Code: code, Message: message, Err: err}
	for _, opt := range opts {
		opt(&be)
	}
	return be
}

// FromError unwraps the first BaseError in err's chain, or wraps err under
// the status StatusOf reports for it.
func FromError(err error) BaseError {
	var be BaseError
	if errors.As(err, &be) {
		return be
	}
	return BaseError{Code: StatusOf(err), Message: err.Error()}
}

func NotFound(msg string, err error, options ...Option) error {
	return newWithErr(StatusNotFound, msg, err, options)
}

func UnprocessableEntity(msg string, err error, options ...Option) error {
	return newWithErr(StatusUnprocessableEntity, msg, err, options)
}

func Conflict(msg string, err error, options ...Option) error {
	return newWithErr(StatusConflict, msg, err, options)
}

func BadRequest(msg string, err error, options ...Option) error {
	return newWithErr(StatusBadRequest, msg, err, options)
}

func ValidationFailed(msg string, err error, options ...Option) error {
	return newWithErr(StatusValidationFailed, msg, err, options)
}
