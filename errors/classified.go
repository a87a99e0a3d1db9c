package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind is the machine-readable category of a failure. It drives retry and
// propagation: only Network and Server failures are retried by the next tick.
type Kind string

const (
	KindNetwork       Kind = "NETWORK"
	KindRateLimited   Kind = "RATE_LIMITED"
	KindValidation    Kind = "VALIDATION"
	KindAuthorization Kind = "AUTHORIZATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindServer        Kind = "SERVER"
)

// ClassifiedError carries a Kind, a human-readable message and the transport
// status code it was derived from (0 when no response was received).
type ClassifiedError struct {
	Kind    Kind
	Message string
	Code    int
	Err     error
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

func New(kind Kind, code int, message string) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code int, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Code: code, Message: err.Error(), Err: err}
}

func Network(err error) *ClassifiedError {
	return Wrap(KindNetwork, 0, err)
}

func Validation(err error) *ClassifiedError {
	return Wrap(KindValidation, http.StatusBadRequest, err)
}

func NotFound(err error) *ClassifiedError {
	return Wrap(KindNotFound, http.StatusNotFound, err)
}

func RateLimited(err error) *ClassifiedError {
	return Wrap(KindRateLimited, http.StatusTooManyRequests, err)
}

func Authorization(err error) *ClassifiedError {
	return Wrap(KindAuthorization, http.StatusForbidden, err)
}

func Server(err error) *ClassifiedError {
	return Wrap(KindServer, http.StatusInternalServerError, err)
}

// Classify normalises any error into a ClassifiedError. Errors that are
// already classified are returned as is.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Network(err)
	}
	if grpcErr, ok := FromGRPCError(err); ok {
		return grpcErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Network(err)
	}
	return Server(err)
}

// FromStatusCode classifies a transport status code returned by the remote API.
func FromStatusCode(code int, message string) *ClassifiedError {
	return &ClassifiedError{Kind: kindForStatus(code), Code: code, Message: message}
}

func kindForStatus(code int) Kind {
	switch {
	case code == 0:
		return KindNetwork
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity, code == http.StatusConflict:
		return KindValidation
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindAuthorization
	case code == http.StatusNotFound, code == http.StatusGone:
		return KindNotFound
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout, code == http.StatusBadGateway,
		code == http.StatusServiceUnavailable, code == http.StatusGatewayTimeout:
		return KindNetwork
	case code >= 500:
		return KindServer
	default:
		return KindValidation
	}
}

// KindOf returns the kind of a classified error, or the kind Classify would assign.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable is true for failures the next scheduled tick may recover from.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindServer:
		return true
	default:
		return false
	}
}

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
