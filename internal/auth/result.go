// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

// Status identifies the variant of a Result.
type Status int

// Result variants.
// The zero Status is StatusUnknownFailure so that a zero Result never reads
// as a success.
const (
	StatusUnknownFailure Status = iota
	StatusSuccess
	StatusInvalid
	StatusConflict
	StatusNotFound
	StatusUnauthorized
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalid:
		return "invalid"
	case StatusConflict:
		return "conflict"
	case StatusNotFound:
		return "not_found"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusUnknownFailure:
		return "unknown_failure"
	default:
		return "unknown"
	}
}

// Result is the outcome of a business operation. A successful Result carries
// a value; every other variant carries only a human-readable message.
// The zero value is an UnknownFailure with no message; use the constructors.
type Result[T any] struct {
	status  Status
	value   T
	message string
}

// Success returns a successful Result holding v.
func Success[T any](v T) Result[T] {
	return Result[T]{status: StatusSuccess, value: v}
}

// Invalid returns a Result for a rejected request.
func Invalid[T any](message string) Result[T] {
	return Result[T]{status: StatusInvalid, message: message}
}

// Conflict returns a Result for a uniqueness violation.
func Conflict[T any](message string) Result[T] {
	return Result[T]{status: StatusConflict, message: message}
}

// NotFound returns a Result for a lookup that found nothing.
func NotFound[T any](message string) Result[T] {
	return Result[T]{status: StatusNotFound, message: message}
}

// Unauthorized returns a Result for failed authentication.
func Unauthorized[T any](message string) Result[T] {
	return Result[T]{status: StatusUnauthorized, message: message}
}

// UnknownFailure returns a Result for an unclassified failure. The message
// must not carry internal detail.
func UnknownFailure[T any](message string) Result[T] {
	return Result[T]{status: StatusUnknownFailure, message: message}
}

// Status returns the variant.
func (r Result[T]) Status() Status { return r.status }

// OK reports whether r is a success.
func (r Result[T]) OK() bool { return r.status == StatusSuccess }

// Value returns the payload and true for a success, or the zero value and
// false otherwise.
func (r Result[T]) Value() (T, bool) {
	if r.status != StatusSuccess {
		var zero T
		return zero, false
	}
	return r.value, true
}

// Message returns the message of a non-success Result.
func (r Result[T]) Message() string { return r.message }
