package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so handlers can map it to an HTTP status without
// inspecting error strings.
type Kind string

const (
	InvalidUpload         Kind = "InvalidUpload"
	AuthMissing           Kind = "AuthMissing"
	AuthExpired           Kind = "AuthExpired"
	Forbidden             Kind = "Forbidden"
	NotFound              Kind = "NotFound"
	ModelNotFound         Kind = "ModelNotFound"
	ModelIncompatible     Kind = "ModelIncompatible"
	NoCompatibleModel     Kind = "NoCompatibleModel"
	ImageDecodeFailed     Kind = "ImageDecodeFailed"
	ShapeMismatch         Kind = "ShapeMismatch"
	ModelLoadFailed       Kind = "ModelLoadFailed"
	InferenceFailed       Kind = "InferenceFailed"
	InferenceTimeout      Kind = "InferenceTimeout"
	InvalidTransition     Kind = "InvalidTransition"
	MixedModelPredictions Kind = "MixedModelPredictions"
	Internal              Kind = "Internal"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf walks the error chain and returns the first Kind found, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Status maps a Kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case InvalidUpload, ModelNotFound, ModelIncompatible:
		return http.StatusBadRequest
	case AuthMissing, AuthExpired:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidTransition:
		return http.StatusConflict
	case NoCompatibleModel, ImageDecodeFailed, ShapeMismatch:
		return http.StatusUnprocessableEntity
	case InferenceTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
