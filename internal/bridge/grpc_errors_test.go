package bridge

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/meshgraph/core"
	"github.com/signalsfoundry/meshgraph/internal/analytics"
	"github.com/signalsfoundry/meshgraph/internal/dispatch"
	"github.com/signalsfoundry/meshgraph/internal/supervisor"
	"github.com/signalsfoundry/meshgraph/internal/transport"
	"github.com/signalsfoundry/meshgraph/kb"
)

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "device not found", err: fmt.Errorf("drop x: %w", kb.ErrDeviceNotFound), code: codes.NotFound},
		{name: "device exists", err: fmt.Errorf("connect x: %w", kb.ErrDeviceExists), code: codes.AlreadyExists},
		{name: "invalid request", err: fmt.Errorf("%w: address is required", ErrInvalidRequest), code: codes.InvalidArgument},
		{name: "rejected write", err: fmt.Errorf("send x: %w", &dispatch.Error{Kind: "text_message", Err: dispatch.ErrMalformedPacket}), code: codes.InvalidArgument},
		{name: "write on lost connection", err: &supervisor.ConnectionError{Key: "radio", Err: transport.ErrClosed}, code: codes.Unavailable},
		{name: "graph not initialized", err: core.ErrGraphNotInitialized, code: codes.FailedPrecondition},
		{name: "analytics not initialized", err: analytics.ErrStateNotInitialized, code: codes.FailedPrecondition},
		{name: "connection error", err: &supervisor.ConnectionError{Key: "radio", Err: errors.New("refused")}, code: codes.Unavailable},
		{name: "transport closed", err: transport.ErrClosed, code: codes.Unavailable},
		{name: "algorithm error", err: &analytics.AlgorithmError{Algorithm: analytics.AlgorithmMinCut, Err: errors.New("boom")}, code: codes.Internal},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}

			if got == nil {
				t.Fatalf("ToStatusError(%v) = nil, want error", tc.err)
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}

func TestToStatusErrorKeepsMessage(t *testing.T) {
	err := ToStatusError(fmt.Errorf("drop radio: %w", kb.ErrDeviceNotFound))
	if got := status.Convert(err).Message(); got != "drop radio: device not connected" {
		t.Fatalf("message = %q", got)
	}
}
