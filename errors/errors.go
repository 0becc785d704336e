package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrWorkerPanic  = fmt.Errorf("worker panic")
	ErrEmptyWords   = fmt.Errorf("no words have been found")
	ErrInvalidToken = fmt.Errorf("invalid or expired token")

	ErrUnauthenticated = fmt.Errorf("unauthenticated")
	ErrForbidden       = fmt.Errorf("forbidden")
	ErrNotFound        = fmt.Errorf("not found")
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrPersistence     = fmt.Errorf("persistence failure")

	ErrMalformedEvent = fmt.Errorf("malformed event")
	ErrUnknownEvent   = fmt.Errorf("unknown event")
	ErrRateLimited    = fmt.Errorf("rate limited")
	ErrAlreadyExists  = fmt.Errorf("already exists")
	ErrSameUser       = fmt.Errorf("a thread needs two distinct participants")
	ErrSlowConsumer   = fmt.Errorf("outbound queue full")
	ErrConnClosed     = fmt.Errorf("connection closed")
)

// Reasons sent back to a client in an error event.
const (
	ReasonUnauthenticated = "unauthenticated"
	ReasonForbidden       = "forbidden"
	ReasonBadRequest      = "bad_request"
	ReasonRateLimited     = "rate_limited"
	ReasonInternal        = "internal_error"
)

// Reason maps an error to the short machine-readable code a client receives.
// NotFound is reported as forbidden so that non-members cannot probe for rooms.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, ErrUnauthenticated), stderrors.Is(err, ErrInvalidToken):
		return ReasonUnauthenticated
	case stderrors.Is(err, ErrForbidden), stderrors.Is(err, ErrNotFound):
		return ReasonForbidden
	case stderrors.Is(err, ErrMalformedEvent), stderrors.Is(err, ErrUnknownEvent), stderrors.Is(err, ErrInvalidInput):
		return ReasonBadRequest
	case stderrors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	default:
		return ReasonInternal
	}
}

// IsMembershipRejection reports whether err comes from the membership gate
// (unknown room or caller not a member).
func IsMembershipRejection(err error) bool {
	return stderrors.Is(err, ErrForbidden) || stderrors.Is(err, ErrNotFound)
}

// Is is re-exported so callers importing this package do not also need the
// standard library one.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is re-exported for the same reason as Is.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
