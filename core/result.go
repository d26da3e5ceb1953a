package core

import "fmt"

// Result is the success/failure envelope returned by every resolution and
// execution entry point. Exactly one of value or err is populated; the zero
// Result is a failure.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

func Success[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

// Failure wraps err. A nil err still yields a failure so that a failed path
// can never be read back as a value.
func Failure[T any](err error) Result[T] {
	if err == nil {
		err = NewError(ErrorKindInternal, "core: failure result without error", nil)
	}
	return Result[T]{err: err}
}

func (r Result[T]) Ok() bool {
	return r.ok
}

// Value returns the success value and true, or the zero value and false.
func (r Result[T]) Value() (T, bool) {
	if !r.ok {
		var zero T
		return zero, false
	}
	return r.value, true
}

func (r Result[T]) Err() error {
	if r.ok {
		return nil
	}
	if r.err == nil {
		return NewError(ErrorKindInvalidState, "core: empty result", nil)
	}
	return r.err
}

// Kind returns the failure kind, or "" for a success.
func (r Result[T]) Kind() ErrorKind {
	if r.ok {
		return ""
	}
	return KindOf(r.Err())
}

// Unwrap returns the value/error pair for callers that prefer Go's error
// return convention.
func (r Result[T]) Unwrap() (T, error) {
	if !r.ok {
		var zero T
		return zero, r.Err()
	}
	return r.value, nil
}

// MustValue returns the value and panics on failure. Intended for tests and
// bootstrap code.
func (r Result[T]) MustValue() T {
	value, err := r.Unwrap()
	if err != nil {
		panic(err)
	}
	return value
}

// MapResult transforms a successful value, propagating failures untouched.
func MapResult[T any, R any](r Result[T], fn func(T) (R, error)) Result[R] {
	value, err := r.Unwrap()
	if err != nil {
		return Failure[R](err)
	}
	if fn == nil {
		return Failure[R](NewError(ErrorKindInternal, "core: result mapper is nil", nil))
	}
	mapped, err := fn(value)
	if err != nil {
		return Failure[R](ensureKind(err, ErrorKindInternal, "core: result mapping failed", nil))
	}
	return Success(mapped)
}

// ResultAs narrows an untyped result to T. A success value of another type is
// reported as a validation failure.
func ResultAs[T any](r Result[any]) Result[T] {
	value, err := r.Unwrap()
	if err != nil {
		return Failure[T](err)
	}
	if value == nil {
		var zero T
		if isNilable[T]() {
			return Success(zero)
		}
		return Failure[T](NewError(
			ErrorKindValidation,
			fmt.Sprintf("core: expected result of type %T, got nil", zero),
			nil,
		))
	}
	typed, ok := value.(T)
	if !ok {
		var zero T
		return Failure[T](NewError(
			ErrorKindValidation,
			fmt.Sprintf("core: expected result of type %T, got %T", zero, value),
			map[string]any{"actual_type": fmt.Sprintf("%T", value)},
		))
	}
	return Success(typed)
}

// isNilable reports whether T is an interface type.
func isNilable[T any]() bool {
	var zero T
	return any(zero) == nil
}
