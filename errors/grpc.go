package errors

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FromGRPCError classifies an error carrying a gRPC status.
// ok is false when err holds no gRPC status.
func FromGRPCError(err error) (*ClassifiedError, bool) {
	var grpcStatus interface{ GRPCStatus() *status.Status }
	if !errors.As(err, &grpcStatus) {
		return nil, false
	}
	st := grpcStatus.GRPCStatus()
	kind, code := fromGRPCCode(st.Code())
	return &ClassifiedError{Kind: kind, Code: code, Message: st.Message(), Err: err}, true
}

func fromGRPCCode(c codes.Code) (Kind, int) {
	switch c {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange, codes.AlreadyExists:
		return KindValidation, http.StatusBadRequest
	case codes.Unauthenticated:
		return KindAuthorization, http.StatusUnauthorized
	case codes.PermissionDenied:
		return KindAuthorization, http.StatusForbidden
	case codes.NotFound:
		return KindNotFound, http.StatusNotFound
	case codes.ResourceExhausted:
		return KindRateLimited, http.StatusTooManyRequests
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return KindNetwork, 0
	default:
		return KindServer, http.StatusInternalServerError
	}
}

// MapToGRPCError converts an error into a gRPC status error for transports.
func MapToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	classified := Classify(err)
	return status.Error(toGRPCCode(classified.Kind), classified.Message)
}

func toGRPCCode(kind Kind) codes.Code {
	switch kind {
	case KindValidation:
		return codes.InvalidArgument
	case KindAuthorization:
		return codes.PermissionDenied
	case KindNotFound:
		return codes.NotFound
	case KindRateLimited:
		return codes.ResourceExhausted
	case KindNetwork:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
