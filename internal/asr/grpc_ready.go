package asr

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/status"

	"github.com/rbright/recital/internal/recognition"
)

// waitForReady blocks until the connection is Ready or the context ends.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}

// classifyStatus maps gRPC status codes onto recognizer error kinds.
func classifyStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.PermissionDenied, codes.Unauthenticated:
		return recognition.NewError(recognition.ErrorPermissionDenied, err)
	case codes.Unimplemented, codes.FailedPrecondition:
		return recognition.NewError(recognition.ErrorServiceUnavailable, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return recognition.NewError(recognition.ErrorNetwork, err)
	case codes.Canceled:
		return recognition.NewError(recognition.ErrorAborted, err)
	case codes.OK:
		return nil
	default:
		return err
	}
}
