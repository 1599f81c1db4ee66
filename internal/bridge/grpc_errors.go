package bridge

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/meshgraph/core"
	"github.com/signalsfoundry/meshgraph/internal/analytics"
	"github.com/signalsfoundry/meshgraph/internal/dispatch"
	"github.com/signalsfoundry/meshgraph/internal/supervisor"
	"github.com/signalsfoundry/meshgraph/internal/transport"
	"github.com/signalsfoundry/meshgraph/kb"
)

// ErrInvalidRequest is used for requests missing required fields.
var ErrInvalidRequest = errors.New("invalid request")

// ToStatusError maps session errors onto gRPC status codes for bridge
// clients.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var connErr *supervisor.ConnectionError
	switch {
	case errors.Is(err, kb.ErrDeviceNotFound):
		return status.Error(codes.NotFound, kb.ErrDeviceNotFound.Error())

	case errors.Is(err, kb.ErrDeviceExists):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, dispatch.ErrMalformedPacket):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrGraphNotInitialized),
		errors.Is(err, analytics.ErrStateNotInitialized):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.As(err, &connErr),
		errors.Is(err, transport.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
