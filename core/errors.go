package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind is the machine-checkable failure kind carried as the text code of
// every connector error envelope.
type ErrorKind string

const (
	ErrorKindNotFound             ErrorKind = "CONNECTOR_NOT_FOUND"
	ErrorKindValidation           ErrorKind = "CONNECTOR_VALIDATION"
	ErrorKindDuplicate            ErrorKind = "CONNECTOR_DUPLICATE"
	ErrorKindConstruction         ErrorKind = "CONNECTOR_CONSTRUCTION"
	ErrorKindUnsupportedOperation ErrorKind = "CONNECTOR_UNSUPPORTED_OPERATION"
	ErrorKindInvalidState         ErrorKind = "CONNECTOR_INVALID_STATE"
	ErrorKindNotImplemented       ErrorKind = "CONNECTOR_NOT_IMPLEMENTED"
	ErrorKindExecution            ErrorKind = "CONNECTOR_EXECUTION_FAILED"
	ErrorKindCancelled            ErrorKind = "CONNECTOR_CANCELLED"
	ErrorKindInternal             ErrorKind = "CONNECTOR_INTERNAL"
)

func (k ErrorKind) String() string {
	return string(k)
}

func (k ErrorKind) category() goerrors.Category {
	switch k {
	case ErrorKindNotFound:
		return goerrors.CategoryNotFound
	case ErrorKindValidation, ErrorKindDuplicate:
		return goerrors.CategoryValidation
	case ErrorKindConstruction, ErrorKindExecution:
		return goerrors.CategoryExternal
	case ErrorKindUnsupportedOperation, ErrorKindNotImplemented, ErrorKindCancelled:
		return goerrors.CategoryOperation
	case ErrorKindInvalidState:
		return goerrors.CategoryConflict
	default:
		return goerrors.CategoryInternal
	}
}

func (k ErrorKind) httpStatus() int {
	switch k {
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindValidation, ErrorKindDuplicate:
		return http.StatusBadRequest
	case ErrorKindUnsupportedOperation:
		return http.StatusUnprocessableEntity
	case ErrorKindInvalidState:
		return http.StatusConflict
	case ErrorKindNotImplemented:
		return http.StatusNotImplemented
	case ErrorKindConstruction, ErrorKindExecution:
		return http.StatusBadGateway
	case ErrorKindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// NewError builds a connector error envelope of the given kind.
func NewError(kind ErrorKind, message string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, kind.category()).
		WithCode(kind.httpStatus()).
		WithTextCode(kind.String())
	if len(metadata) > 0 {
		err.WithMetadata(copyAnyMap(metadata))
	}
	return err
}

// WrapError attaches source as the cause of a connector error envelope.
// The cause chain stays intact, so errors.As still reaches wrapped values.
// Metadata and field errors of an inner envelope carry over; metadata wins
// on conflicts.
func WrapError(source error, kind ErrorKind, message string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return NewError(kind, message, metadata)
	}
	merged := map[string]any{}
	var inner *goerrors.Error
	if goerrors.As(source, &inner) && inner != nil {
		for key, value := range inner.Metadata {
			merged[key] = value
		}
	}
	for key, value := range metadata {
		merged[key] = value
	}
	err := NewError(kind, message, merged)
	err.Source = source
	if inner != nil && len(inner.ValidationErrors) > 0 {
		err.ValidationErrors = append(goerrors.ValidationErrors(nil), inner.ValidationErrors...)
	}
	return err
}

// NewFieldError is a Validation error naming the offending field. scope
// prefixes the message, e.g. "command".
func NewFieldError(scope, field, message string) *goerrors.Error {
	return goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{Field: field, Message: message}).
		WithCode(ErrorKindValidation.httpStatus()).
		WithTextCode(ErrorKindValidation.String()).
		WithSeverity(goerrors.SeverityError)
}

// KindOf reports the connector error kind of err. Errors that were not
// produced by this package report ErrorKindInternal, context errors report
// ErrorKindCancelled.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		if kind := ErrorKind(strings.TrimSpace(rich.TextCode)); kind.known() {
			return kind
		}
	}
	if isContextError(err) {
		return ErrorKindCancelled
	}
	return ErrorKindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func (k ErrorKind) known() bool {
	switch k {
	case ErrorKindNotFound,
		ErrorKindValidation,
		ErrorKindDuplicate,
		ErrorKindConstruction,
		ErrorKindUnsupportedOperation,
		ErrorKindInvalidState,
		ErrorKindNotImplemented,
		ErrorKindExecution,
		ErrorKindCancelled,
		ErrorKindInternal:
		return true
	default:
		return false
	}
}

// hasKind reports whether err already carries a connector envelope.
func hasKind(err error) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich != nil && ErrorKind(rich.TextCode).known()
}

// ensureKind converts arbitrary errors into connector envelopes, keeping
// existing envelopes untouched and falling back to fallback for foreign errors.
func ensureKind(err error, fallback ErrorKind, message string, metadata map[string]any) error {
	if err == nil {
		return nil
	}
	if hasKind(err) {
		return err
	}
	if isContextError(err) {
		return WrapError(err, ErrorKindCancelled, message+": "+err.Error(), metadata)
	}
	return WrapError(err, fallback, message+": "+err.Error(), metadata)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// MetadataOf returns a copy of the metadata attached to err's envelope.
func MetadataOf(err error) map[string]any {
	return errorMetadata(err)
}

func errorMetadata(err error) map[string]any {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		return copyAnyMap(rich.Metadata)
	}
	return map[string]any{}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich
	}
	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	if mapped == nil {
		return NewError(ErrorKindInternal, err.Error(), nil)
	}
	if strings.TrimSpace(mapped.TextCode) == "" {
		mapped.TextCode = ErrorKindInternal.String()
	}
	return mapped
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
