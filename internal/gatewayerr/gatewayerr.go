// Package gatewayerr classifies errors into the gateway's error taxonomy so
// call sites can decide how to react without string-matching error text.
package gatewayerr

import (
	"errors"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Category is one bucket of the gateway's error taxonomy.
type Category int

const (
	// CategoryUnknown is the fallback when no rule below matched.
	CategoryUnknown Category = iota
	// CategoryClientProtocol is a malformed or invalid client frame.
	CategoryClientProtocol
	// CategoryAuth is a token rejected by the auth service.
	CategoryAuth
	// CategoryTransient is a retryable infrastructure failure (timeout, connection reset).
	CategoryTransient
	// CategoryCircuitOpen is a call short-circuited by an open breaker.
	CategoryCircuitOpen
	// CategoryBusinessFailure is a well-formed request the downstream service rejected.
	CategoryBusinessFailure
	// CategoryInternal is a bug surfaced as a panic or invariant violation.
	CategoryInternal
	// CategoryOverload is a locally-observed capacity limit (mailbox full, rate limited).
	CategoryOverload
)

// Classify maps an error returned from an RPC client into a Category.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return CategoryCircuitOpen
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return CategoryTransient
		case codes.Unauthenticated, codes.PermissionDenied:
			return CategoryAuth
		case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists, codes.FailedPrecondition:
			return CategoryBusinessFailure
		}
	}
	return CategoryUnknown
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	c := Classify(err)
	return c == CategoryTransient || c == CategoryCircuitOpen
}

// IsBusinessFailure reports whether err reflects a well-formed request the
// downstream service legitimately rejected (not retryable).
func IsBusinessFailure(err error) bool {
	return Classify(err) == CategoryBusinessFailure
}
